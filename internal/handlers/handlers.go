package handlers

import (
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"silkworm-dashboard/internal/aggregator"
	"silkworm-dashboard/internal/imageutil"
	"silkworm-dashboard/internal/models"
	"silkworm-dashboard/internal/services"
	"silkworm-dashboard/internal/session"
)

const (
	sessionCookie   = "silkworm_session"
	multipartMemory = 32 << 20
	imageQuality    = 90
)

var allowedExtensions = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// HistoryRecorder persists committed batches.
type HistoryRecorder interface {
	RecordBatch(ctx context.Context, sessionID string, confidence float64, b aggregator.Batch) (models.BatchRun, error)
	Recent(ctx context.Context, limit int) ([]models.BatchRun, error)
	Images(ctx context.Context, runID string) ([]models.BatchImage, error)
}

// HealthSource reports detector availability.
type HealthSource interface {
	Healthy() bool
}

// Options configure the HTTP API.
type Options struct {
	MaxUploadBytes  int64
	MaxImages       int
	RateLimitPerMin int
	// Index is the dashboard page served at "/".
	Index []byte
}

// Server is the dashboard HTTP API.
type Server struct {
	agg      *aggregator.Aggregator
	sessions *session.Store
	hub      *Hub
	metrics  *services.Metrics
	history  HistoryRecorder
	health   HealthSource
	limiter  *rate.Limiter
	opts     Options
	logger   *zap.SugaredLogger
}

// NewServer wires the API. history and health may be nil.
func NewServer(
	agg *aggregator.Aggregator,
	sessions *session.Store,
	hub *Hub,
	metrics *services.Metrics,
	history HistoryRecorder,
	health HealthSource,
	opts Options,
	logger *zap.SugaredLogger,
) *Server {
	if opts.MaxImages <= 0 {
		opts.MaxImages = 64
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 50 << 20
	}
	if opts.RateLimitPerMin <= 0 {
		opts.RateLimitPerMin = 120
	}
	perMinute := rate.Every(time.Minute / time.Duration(opts.RateLimitPerMin))
	return &Server{
		agg:      agg,
		sessions: sessions,
		hub:      hub,
		metrics:  metrics,
		history:  history,
		health:   health,
		limiter:  rate.NewLimiter(perMinute, opts.RateLimitPerMin),
		opts:     opts,
		logger:   logger,
	}
}

// Routes returns the handler for every dashboard endpoint.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /ws", s.withSession(s.handleWebSocket))

	mux.HandleFunc("GET /api/state", s.withSession(s.handleState))
	mux.HandleFunc("POST /api/batches", s.withSession(s.handleBatch))
	mux.HandleFunc("POST /api/capture", s.withSession(s.handleCapture))
	mux.HandleFunc("POST /api/select", s.withSession(s.handleSelect))
	mux.HandleFunc("DELETE /api/batch", s.withSession(s.handleClear))
	mux.HandleFunc("PUT /api/settings", s.withSession(s.handleSettings))
	mux.HandleFunc("GET /api/images/{index}/{kind}", s.withSession(s.handleImage))

	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("GET /api/history/{id}", s.handleHistoryRun)
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	return mux
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *session.Session)

// withSession resolves the session cookie, creating a session on first contact.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(sessionCookie); err == nil {
			id = c.Value
		}
		sess, created := s.sessions.GetOrCreate(id)
		if created {
			http.SetCookie(w, &http.Cookie{
				Name:     sessionCookie,
				Value:    sess.ID,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		next(w, r, sess)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(s.opts.Index)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.hub.Serve(w, r, sess.ID)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	writeJSON(w, http.StatusOK, buildState(sess.ID, sess.State()))
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many detection requests", "RATE_LIMITED")
		return
	}
	form, err := s.parseMultipart(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_UPLOAD")
		return
	}
	images, err := s.readImages(form.File["images"])
	if errors.Is(err, aggregator.ErrNoImages) {
		writeError(w, http.StatusBadRequest, err.Error(), "NO_IMAGES")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_UPLOAD")
		return
	}

	events := []aggregator.Event{aggregator.DetectRequested{Images: images}}
	if v := form.Value["confidence"]; len(v) > 0 && v[0] != "" {
		threshold, err := strconv.ParseFloat(v[0], 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "confidence must be a number", "BAD_CONFIDENCE")
			return
		}
		events = append([]aggregator.Event{aggregator.ThresholdChanged{Threshold: threshold}}, events...)
	}
	s.runDetection(w, r, sess, events...)
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if !s.limiter.Allow() {
		writeError(w, http.StatusTooManyRequests, "too many detection requests", "RATE_LIMITED")
		return
	}
	form, err := s.parseMultipart(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_UPLOAD")
		return
	}
	files := form.File["image"]
	if len(files) != 1 {
		writeError(w, http.StatusBadRequest, "exactly one image is required", "BAD_UPLOAD")
		return
	}
	data, err := readFile(files[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "BAD_UPLOAD")
		return
	}
	s.runDetection(w, r, sess, aggregator.CaptureRequested{Image: aggregator.Source{Data: data}})
}

// runDetection applies events in order and commits only if all succeed.
func (s *Server) runDetection(w http.ResponseWriter, r *http.Request, sess *session.Session, events ...aggregator.Event) {
	progress := func(p aggregator.Progress) {
		s.hub.Publish(sess.ID, WebSocketMessage{
			Type: MsgProgress,
			Payload: models.ProgressPayload{
				Done:     p.Done,
				Total:    p.Total,
				Fraction: p.Fraction(),
				Filename: p.Filename,
			},
		})
	}

	// A batch runs to completion even if the browser goes away.
	ctx := context.WithoutCancel(r.Context())
	start := time.Now()
	state, err := sess.Do(func(state aggregator.SessionState) (aggregator.SessionState, error) {
		var err error
		for _, ev := range events {
			if state, err = s.agg.Apply(ctx, state, ev, progress); err != nil {
				return state, err
			}
		}
		return state, nil
	})
	if err != nil {
		s.logger.Warnw("detection failed", "session", sess.ID, "error", err)
		s.hub.Publish(sess.ID, WebSocketMessage{Type: MsgBatchFailed, Payload: map[string]string{"error": err.Error()}})
		status, code := errorStatus(err)
		writeError(w, status, err.Error(), code)
		return
	}

	s.logger.Infow("detection complete", "session", sess.ID, "images", state.CurrentBatch.Len(), "took", time.Since(start))
	s.recordHistory(ctx, sess.ID, state)
	s.hub.Publish(sess.ID, WebSocketMessage{Type: MsgBatchComplete, Payload: aggregator.ComputeStatistics(state.CurrentBatch)})
	writeJSON(w, http.StatusOK, buildState(sess.ID, state))
}

func (s *Server) recordHistory(ctx context.Context, sessionID string, state aggregator.SessionState) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	run, err := s.history.RecordBatch(ctx, sessionID, state.ConfidenceThreshold, state.CurrentBatch)
	if err != nil {
		s.logger.Warnw("could not record batch history", "session", sessionID, "error", err)
		return
	}
	s.logger.Debugw("batch recorded", "run", run.ID)
}

func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req models.SelectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "BAD_REQUEST")
		return
	}
	s.apply(w, r, sess, aggregator.ImageSelected{Index: req.Index})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	s.apply(w, r, sess, aggregator.SourceCleared{})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	var req models.SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", "BAD_REQUEST")
		return
	}
	s.apply(w, r, sess, aggregator.ThresholdChanged{Threshold: req.Confidence})
}

func (s *Server) apply(w http.ResponseWriter, r *http.Request, sess *session.Session, ev aggregator.Event) {
	state, err := sess.Do(func(state aggregator.SessionState) (aggregator.SessionState, error) {
		return s.agg.Apply(r.Context(), state, ev, nil)
	})
	if err != nil {
		status, code := errorStatus(err)
		writeError(w, status, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, buildState(sess.ID, state))
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer", "BAD_REQUEST")
		return
	}
	result, ok := sess.State().CurrentBatch.Result(index)
	if !ok {
		writeError(w, http.StatusNotFound, "no image at this index", "NOT_FOUND")
		return
	}

	var data []byte
	switch r.PathValue("kind") {
	case "original":
		data, err = imageutil.EncodeJPEG(result.Source, imageQuality)
	case "annotated":
		data, err = imageutil.EncodeJPEG(result.Annotated, imageQuality)
	case "thumbnail":
		data, err = imageutil.EncodeJPEG(imageutil.Thumbnail(result.Source), imageQuality)
	default:
		writeError(w, http.StatusNotFound, "unknown image kind", "NOT_FOUND")
		return
	}
	if err != nil {
		s.logger.Errorw("could not encode image", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled", "HISTORY_DISABLED")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	runs, err := s.history.Recent(ctx, limit)
	if err != nil {
		s.logger.Errorw("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	if runs == nil {
		runs = []models.BatchRun{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleHistoryRun(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is disabled", "HISTORY_DISABLED")
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id", "BAD_REQUEST")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	images, err := s.history.Images(ctx, id.String())
	if err != nil {
		s.logger.Errorw("history query failed", "run", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error", "")
		return
	}
	if len(images) == 0 {
		writeError(w, http.StatusNotFound, "no such batch run", "NOT_FOUND")
		return
	}
	writeJSON(w, http.StatusOK, images)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	detector := s.health == nil || s.health.Healthy()
	status := "healthy"
	if !detector {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, models.HealthStatus{
		Status:         status,
		Detector:       detector,
		ActiveSessions: s.sessions.Len(),
		ActiveClients:  s.hub.Count(),
		HistoryEnabled: s.history != nil,
		Timestamp:      time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snapshot := s.metrics.Snapshot()
	snapshot["active_sessions"] = s.sessions.Len()
	snapshot["timestamp"] = time.Now().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		return nil, errors.Wrap(err, "invalid multipart upload")
	}
	return r.MultipartForm, nil
}

func (s *Server) readImages(files []*multipart.FileHeader) ([]aggregator.Source, error) {
	if len(files) == 0 {
		return nil, aggregator.ErrNoImages
	}
	if len(files) > s.opts.MaxImages {
		return nil, errors.Errorf("at most %d images per batch", s.opts.MaxImages)
	}
	images := make([]aggregator.Source, 0, len(files))
	for _, fh := range files {
		if !allowedExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
			return nil, errors.Errorf("%s: only jpg, jpeg and png files are supported", fh.Filename)
		}
		data, err := readFile(fh)
		if err != nil {
			return nil, err
		}
		images = append(images, aggregator.Source{Filename: fh.Filename, Data: data})
	}
	return images, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", fh.Filename)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", fh.Filename)
	}
	return data, nil
}

// errorStatus maps aggregator errors onto HTTP status codes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, aggregator.ErrImageDecode):
		return http.StatusUnprocessableEntity, "IMAGE_DECODE_FAILURE"
	case errors.Is(err, aggregator.ErrDetectorFailed):
		return http.StatusBadGateway, "DETECTOR_FAILURE"
	case errors.Is(err, aggregator.ErrNoImages):
		return http.StatusBadRequest, "NO_IMAGES"
	case errors.Is(err, aggregator.ErrInvalidThreshold):
		return http.StatusBadRequest, "BAD_CONFIDENCE"
	default:
		return http.StatusInternalServerError, ""
	}
}

func buildState(sessionID string, state aggregator.SessionState) models.StateResponse {
	b := state.CurrentBatch
	stats := aggregator.ComputeStatistics(b)
	resp := models.StateResponse{
		SessionID:   sessionID,
		Confidence:  state.ConfidenceThreshold,
		Batch:       models.BatchInfo{Count: b.Len(), SelectedIndex: b.SelectedIndex()},
		Statistics:  stats,
		HealthLevel: stats.Level(),
		Images:      make([]models.ImageSummary, 0, b.Len()),
	}
	for i, r := range b.Results() {
		rs := r.Statistics()
		resp.Images = append(resp.Images, models.ImageSummary{
			Index:      i,
			Filename:   r.Filename,
			Detections: rs.TotalDetected,
			Healthy:    rs.TotalHealthy,
			Diseased:   rs.TotalDiseased,
		})
	}
	if r, ok := b.Selected(); ok {
		resp.Selected = &models.SelectedImage{
			Index:      b.SelectedIndex(),
			Filename:   r.Filename,
			Detections: models.NewDetections(r.Detections),
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, models.ErrorResponse{
		Error:     msg,
		Timestamp: time.Now().Unix(),
		Code:      code,
	})
}
