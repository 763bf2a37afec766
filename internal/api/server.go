package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"recruiting-ai-queue/internal/apperr"
	"recruiting-ai-queue/internal/config"
	"recruiting-ai-queue/internal/jobs"
	"recruiting-ai-queue/internal/models"
	"recruiting-ai-queue/internal/ratelimit"
	"recruiting-ai-queue/internal/telemetry"
)

const maxBodyBytes = 2 << 20

var validate = validator.New()

// Server wires HTTP handlers for the AI job API.
type Server struct {
	cfg      config.Config
	manager  *jobs.Manager
	limiter  *ratelimit.FixedWindow
	log      zerolog.Logger
	handlers map[models.Kind]kindHandlers
}

// kindHandlers are the payload-typed endpoints of one job kind.
type kindHandlers struct {
	async http.HandlerFunc
	sync  http.HandlerFunc
}

// New constructs the API server. limiter may be nil to disable rate limiting.
func New(cfg config.Config, manager *jobs.Manager, limiter *ratelimit.FixedWindow, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		manager: manager,
		limiter: limiter,
		log:     logger,
	}
	s.handlers = map[models.Kind]kindHandlers{
		models.KindCVAnalysis:         typedHandlers(s, manager.CVAnalysis),
		models.KindJobRequirements:    typedHandlers(s, manager.JobRequirements),
		models.KindInterviewAnalysis:  typedHandlers(s, manager.InterviewAnalysis),
		models.KindQuestionGeneration: typedHandlers(s, manager.QuestionGeneration),
	}
	return s
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.accessLog)
	r.Use(s.recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/ai", func(r chi.Router) {
		r.Use(s.limit(ratelimit.ClassGeneral))
		r.Get("/queues/stats", s.handleStats)
		r.Post("/queues/cleanup", s.handleCleanup)

		r.Route("/{kind}", func(r chi.Router) {
			r.Use(s.resolveKind)
			r.With(s.limit(ratelimit.ClassAI)).Post("/async", s.handleAsync)
			r.With(s.limit(ratelimit.ClassAI)).Post("/sync", s.handleSync)
			r.Get("/jobs", s.handleList)
			r.Get("/jobs/{jobId}/status", s.handleStatus)
		})
	})
	return r
}

type asyncResponse struct {
	Success       bool          `json:"success"`
	JobID         string        `json:"jobId"`
	Status        models.Status `json:"status"`
	EstimatedTime int           `json:"estimatedTime"`
	PollURL       string        `json:"pollUrl"`
}

type syncResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

func typedHandlers[T, R any](s *Server, svc *jobs.Service[T, R]) kindHandlers {
	return kindHandlers{
		async: func(w http.ResponseWriter, r *http.Request) {
			var payload T
			if err := decodeBody(r, &payload); err != nil {
				s.writeError(w, r, err)
				return
			}
			if err := svc.Validate(payload); err != nil {
				s.writeError(w, r, err)
				return
			}
			id, err := svc.Enqueue(r.Context(), payload, jobs.EnqueueOptions{UserID: s.userID(r)})
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusAccepted, asyncResponse{
				Success:       true,
				JobID:         id,
				Status:        models.StatusPending,
				EstimatedTime: int(math.Ceil(svc.Estimate(payload).Seconds())),
				PollURL:       fmt.Sprintf("/api/ai/%s/jobs/%s/status", svc.Kind(), id),
			})
		},
		sync: func(w http.ResponseWriter, r *http.Request) {
			var payload T
			if err := decodeBody(r, &payload); err != nil {
				s.writeError(w, r, err)
				return
			}
			result, err := svc.RunSync(r.Context(), payload)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, syncResponse{Success: true, Data: result})
		},
	}
}

func (s *Server) handleAsync(w http.ResponseWriter, r *http.Request) {
	s.handlers[kindFrom(r.Context())].async(w, r)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	s.handlers[kindFrom(r.Context())].sync(w, r)
}

type statusResponse struct {
	Success     bool            `json:"success"`
	JobID       string          `json:"jobId"`
	Status      models.Status   `json:"status"`
	Progress    int             `json:"progress"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	ErrorCode   string          `json:"errorCode,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	CreatedAt   time.Time       `json:"createdAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	q, _ := s.manager.Queue(kindFrom(r.Context()))
	id := chi.URLParam(r, "jobId")
	job, err := q.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if job == nil {
		s.writeError(w, r, apperr.JobNotFound(id))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Success:     true,
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    jobs.Progress(*job, time.Now()),
		Result:      job.Result,
		Error:       job.Error,
		ErrorCode:   job.ErrorCode,
		Attempts:    job.Attempts,
		MaxAttempts: job.MaxAttempts,
		CreatedAt:   job.CreatedAt,
		StartedAt:   job.StartedAt,
		FinishedAt:  job.FinishedAt,
	})
}

type jobSummary struct {
	JobID      string        `json:"jobId"`
	Status     models.Status `json:"status"`
	UserID     string        `json:"userId,omitempty"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
	FinishedAt *time.Time    `json:"finishedAt,omitempty"`
}

// handleList returns recent jobs of the kind in one status, failed by default.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	status, limit, err := parseListQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q, _ := s.manager.Queue(kindFrom(r.Context()))
	found, err := q.ListByStatus(r.Context(), status, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items := make([]jobSummary, 0, len(found))
	for _, j := range found {
		items = append(items, jobSummary{
			JobID:      j.ID,
			Status:     j.Status,
			UserID:     j.UserID,
			Attempts:   j.Attempts,
			Error:      j.Error,
			CreatedAt:  j.CreatedAt,
			UpdatedAt:  j.UpdatedAt,
			FinishedAt: j.FinishedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": status, "jobs": items})
}

func parseListQuery(r *http.Request) (models.Status, int, error) {
	q := r.URL.Query()
	status := models.StatusFailed
	if v := strings.TrimSpace(q.Get("status")); v != "" {
		status = models.Status(v)
		if !status.Valid() {
			return "", 0, apperr.Validation("status", "must be one of: pending, processing, completed, failed")
		}
	}
	limit := 50
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return "", 0, apperr.Validation("limit", "must be an integer")
		}
		if err := validate.Var(n, "min=1,max=100"); err != nil {
			return "", 0, apperr.Validation("limit", "must be between 1 and 100")
		}
		limit = n
	}
	return status, limit, nil
}

type queueStats struct {
	models.QueueStats
	Total int64 `json:"total"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.manager.Stats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]queueStats, 0, len(stats))
	for _, st := range stats {
		out = append(out, queueStats{QueueStats: st, Total: st.Total()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "queues": out})
}

type cleanupRequest struct {
	MaxAgeHours float64 `json:"maxAgeHours" validate:"omitempty,gt=0,lte=8760"`
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if err := validate.Struct(req); err != nil {
		s.writeError(w, r, apperr.Validation("maxAgeHours", "must be greater than 0 and at most 8760"))
		return
	}
	maxAge := s.cfg.Queue.CleanupMaxAge
	if req.MaxAgeHours > 0 {
		maxAge = time.Duration(req.MaxAgeHours * float64(time.Hour))
	}

	removed, err := s.manager.Cleanup(r.Context(), maxAge)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	total := 0
	for _, n := range removed {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": removed, "total": total})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.manager.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(s.cfg.TrustedUserHeader))
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.InvalidJSON(errors.New("request body is empty"))
		}
		return apperr.InvalidJSON(err)
	}
	return nil
}
