package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/JakeFAU/questwatch/internal/metrics"
	"github.com/JakeFAU/questwatch/internal/pipeline"
	"github.com/JakeFAU/questwatch/internal/quest"
)

// BatchHandler is the dedup-then-notify step the ingest route feeds.
type BatchHandler interface {
	Handle(ctx context.Context, region, source string, records []quest.Quest, deliver bool) (pipeline.Outcome, error)
}

// Options configure the server.
type Options struct {
	Token        string
	MaxBodyBytes int64
	// OnFatal is called once per request that hit a storage failure. The
	// process owner decides how to shut down.
	OnFatal func(error)
}

// Server wires HTTP handlers to the shared batch handler.
type Server struct {
	router  chi.Router
	handler BatchHandler
	opts    Options
	ids     quest.IDGenerator
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(handler BatchHandler, ids quest.IDGenerator, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	if opts.OnFatal == nil {
		opts.OnFatal = func(error) {}
	}
	s := &Server{
		handler: handler,
		opts:    opts,
		ids:     ids,
		logger:  logger,
	}
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.With(s.bearerAuth).Post("/ingest", s.ingest)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestRequest struct {
	Region string         `json:"region"`
	Quests *[]quest.Quest `json:"quests"`
	Source string         `json:"source"`
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With(zap.String("request_id", requestID(r.Context())))

	batch, err := s.decodeBatch(w, r)
	if err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		metrics.ObserveIngest("malformed")
		logger.Warn("rejected ingest batch", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}

	// The batch is finished even if the agent disconnects; keys written to the
	// seen-set must reach the sinks.
	out, err := s.handler.Handle(context.WithoutCancel(r.Context()), batch.Region, batch.Source, batch.Quests, true)
	if err != nil {
		metrics.ObserveIngest("error")
		logger.Error("ingest processing failed",
			zap.String("region", batch.Region),
			zap.String("source", batch.Source),
			zap.Error(err),
		)
		if quest.IsFatal(err) {
			s.opts.OnFatal(err)
		}
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}
	if out.DeliveryErr != nil {
		logger.Warn("ingest deliveries failed", zap.Int("failed", out.Failed), zap.Error(out.DeliveryErr))
	}

	accepted := len(out.Accepted)
	result := quest.IngestResult{Accepted: accepted, Deduped: len(batch.Quests) - accepted}
	metrics.ObserveIngest("ok")
	logger.Info("ingest batch processed",
		zap.String("region", batch.Region),
		zap.String("source", batch.Source),
		zap.Int("quests", len(batch.Quests)),
		zap.Int("accepted", result.Accepted),
		zap.Int("deduped", result.Deduped),
	)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) decodeBatch(w http.ResponseWriter, r *http.Request) (quest.IngestBatch, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return quest.IngestBatch{}, err
		}
		return quest.IngestBatch{}, &quest.MalformedRequestError{Reason: "invalid JSON"}
	}
	region := strings.TrimSpace(req.Region)
	if region == "" {
		return quest.IngestBatch{}, &quest.MalformedRequestError{Reason: "region is required"}
	}
	if req.Quests == nil {
		return quest.IngestBatch{}, &quest.MalformedRequestError{Reason: "quests is required"}
	}
	quests := *req.Quests
	for i := range quests {
		if strings.TrimSpace(quests[i].ID) == "" {
			return quest.IngestBatch{}, &quest.MalformedRequestError{Reason: fmt.Sprintf("quests[%d]: id is required", i)}
		}
		quests[i].Category = quest.ParseRewardCategory(string(quests[i].Category))
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "ingest"
	}
	return quest.IngestBatch{Region: region, Quests: quests, Source: source}, nil
}

func (s *Server) bearerAuth(next http.Handler) http.Handler {
	expected := []byte(s.opts.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || len(expected) == 0 || subtle.ConstantTimeCompare([]byte(token), expected) != 1 {
			metrics.ObserveIngest("unauthorized")
			authErr := &quest.AuthError{Scope: quest.AuthScopeIngest, Err: errors.New("missing or invalid bearer token")}
			s.logger.Warn("rejected ingest request",
				zap.String("request_id", requestID(r.Context())),
				zap.String("remote", r.RemoteAddr),
				zap.Error(authErr),
			)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" && s.ids != nil {
			id, err := s.ids.NewID()
			if err != nil {
				s.logger.Warn("generate request id", zap.Error(err))
			}
			reqID = id
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.logger.Debug("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
