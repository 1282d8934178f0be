// Package main is a command line client for the silkworm dashboard API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"silkworm-dashboard/internal/models"
)

const (
	flagServer     = "server"
	flagConfidence = "confidence"
	flagUser       = "user"
	flagPassword   = "password"
	flagLimit      = "limit"
	flagCapture    = "capture"
)

func main() {
	app := &cli.App{
		Name:  "silkworm",
		Usage: "analyze silkworm images with a running dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagServer,
				Value:   "http://localhost:8080",
				Usage:   "dashboard base URL",
				EnvVars: []string{"SILKWORM_SERVER"},
			},
			&cli.StringFlag{
				Name:  flagUser,
				Value: "admin",
				Usage: "basic auth user, when the dashboard is password protected",
			},
			&cli.StringFlag{
				Name:    flagPassword,
				Usage:   "basic auth password",
				EnvVars: []string{"SILKWORM_PASSWORD"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "health",
				Usage:  "show dashboard and detector health",
				Action: healthAction,
			},
			{
				Name:      "detect",
				Usage:     "upload images and print the detection summary",
				ArgsUsage: "<image> [image...]",
				Flags: []cli.Flag{
					&cli.Float64Flag{
						Name:  flagConfidence,
						Value: 0.5,
						Usage: "minimum detection confidence (0.1 to 1.0)",
					},
					&cli.BoolFlag{
						Name:  flagCapture,
						Usage: "send a single image as a webcam capture",
					},
				},
				Action: detectAction,
			},
			{
				Name:  "history",
				Usage: "list recently analyzed batches",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  flagLimit,
						Value: 20,
						Usage: "number of batches to list",
					},
				},
				Action: historyAction,
			},
			{
				Name:   "metrics",
				Usage:  "print server counters",
				Action: metricsAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type apiClient struct {
	base     string
	user     string
	password string
	http     *http.Client
}

func newAPIClient(c *cli.Context) (*apiClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &apiClient{
		base:     c.String(flagServer),
		user:     c.String(flagUser),
		password: c.String(flagPassword),
		http:     &http.Client{Jar: jar, Timeout: 5 * time.Minute},
	}, nil
}

func (a *apiClient) do(req *http.Request, out interface{}) error {
	if a.password != "" {
		req.SetBasicAuth(a.user, a.password)
	}
	resp, err := a.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr models.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			return errors.Errorf("%s (status %d, %s)", apiErr.Error, resp.StatusCode, apiErr.Code)
		}
		return errors.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.Unmarshal(body, out), "decode response")
}

func (a *apiClient) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, a.base+path, nil)
	if err != nil {
		return err
	}
	return a.do(req, out)
}

func (a *apiClient) upload(path, field string, files []string, confidence float64) (*models.StateResponse, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range files {
		data, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		part, err := mw.CreateFormFile(field, filepath.Base(name))
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(data); err != nil {
			return nil, err
		}
	}
	if err := mw.WriteField(flagConfidence, strconv.FormatFloat(confidence, 'f', -1, 64)); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost, a.base+path, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var state models.StateResponse
	if err := a.do(req, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func healthAction(c *cli.Context) error {
	client, err := newAPIClient(c)
	if err != nil {
		return err
	}
	var health models.HealthStatus
	if err := client.get("/api/health", &health); err != nil {
		return err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"Status", "Detector", "Sessions", "Clients", "History"})
	t.AppendRow(table.Row{health.Status, health.Detector, health.ActiveSessions, health.ActiveClients, health.HistoryEnabled})
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

func detectAction(c *cli.Context) error {
	files := c.Args().Slice()
	if len(files) == 0 {
		return errors.New("at least one image is required")
	}
	client, err := newAPIClient(c)
	if err != nil {
		return err
	}

	path, field := "/api/batches", "images"
	if c.Bool(flagCapture) {
		if len(files) != 1 {
			return errors.New("a capture takes exactly one image")
		}
		path, field = "/api/capture", "image"
	}
	state, err := client.upload(path, field, files, c.Float64(flagConfidence))
	if err != nil {
		return err
	}

	fmt.Fprintln(c.App.Writer, renderImages(state))
	fmt.Fprintln(c.App.Writer, renderStatistics(state))
	if state.Selected != nil {
		fmt.Fprintln(c.App.Writer, renderDetections(state.Selected))
	}
	return nil
}

func historyAction(c *cli.Context) error {
	client, err := newAPIClient(c)
	if err != nil {
		return err
	}
	var runs []models.BatchRun
	if err := client.get(fmt.Sprintf("/api/history?limit=%d", c.Int(flagLimit)), &runs); err != nil {
		return err
	}

	t := table.NewWriter()
	t.AppendHeader(table.Row{"ID", "When", "Images", "Detected", "Healthy", "Diseased", "Rate"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.ID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.ImageCount,
			r.TotalDetected,
			r.TotalHealthy,
			r.TotalDiseased,
			fmt.Sprintf("%d%%", r.HealthRatePercent),
		})
	}
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

func metricsAction(c *cli.Context) error {
	client, err := newAPIClient(c)
	if err != nil {
		return err
	}
	var snapshot map[string]interface{}
	if err := client.get("/api/metrics", &snapshot); err != nil {
		return err
	}
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Metric", "Value"})
	for k, v := range snapshot {
		t.AppendRow(table.Row{k, v})
	}
	t.SortBy([]table.SortBy{{Name: "Metric", Mode: table.Asc}})
	fmt.Fprintln(c.App.Writer, t.Render())
	return nil
}

func renderImages(state *models.StateResponse) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "File", "Detections", "Healthy", "Diseased"})
	for _, img := range state.Images {
		marker := ""
		if img.Index == state.Batch.SelectedIndex {
			marker = "*"
		}
		t.AppendRow(table.Row{fmt.Sprintf("%d%s", img.Index, marker), img.Filename, img.Detections, img.Healthy, img.Diseased})
	}
	return t.Render()
}

func renderStatistics(state *models.StateResponse) string {
	s := state.Statistics
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Detected", "Healthy", "Diseased", "Unclassified", "Health rate", "Level"})
	t.AppendRow(table.Row{
		s.TotalDetected,
		s.TotalHealthy,
		s.TotalDiseased,
		s.TotalUnclassified,
		fmt.Sprintf("%d%%", s.HealthRatePercent),
		state.HealthLevel,
	})
	return t.Render()
}

func renderDetections(sel *models.SelectedImage) string {
	t := table.NewWriter()
	t.SetTitle(sel.Filename)
	t.AppendHeader(table.Row{"Label", "Confidence", "Health", "Box"})
	for _, d := range sel.Detections {
		t.AppendRow(table.Row{d.Label, fmt.Sprintf("%.2f", d.Confidence), d.Health, fmt.Sprint(d.Box)})
	}
	return t.Render()
}
