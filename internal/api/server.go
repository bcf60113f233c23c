package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/contact-form/internal/auth"
	"github.com/JakeFAU/contact-form/internal/metrics"
	"github.com/JakeFAU/contact-form/internal/pipeline"
)

// Public routes.
const (
	TokenPath  = "/contact_form_jwt"
	SubmitPath = "/contact_form_put"
)

const defaultMaxBodyBytes = 64 * 1024

var (
	tokenMethods  = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	submitMethods = []string{http.MethodPut, http.MethodPost, http.MethodOptions}
)

// TokenIssuer mints IP-bound bearer tokens.
type TokenIssuer interface {
	Issue(ip string) (string, error)
}

// Submitter runs a submission to a terminal outcome.
type Submitter interface {
	Handle(ctx context.Context, req pipeline.Request) pipeline.Outcome
}

// IDGenerator produces request identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Limiter admits or rejects a request for a client key.
type Limiter interface {
	Allow(key string) bool
}

// Options wires a Server. Limiter and Ready are optional.
//
// The Limiter is keyed on the transport peer address. With TrustForwardedFor
// set it is keyed on the last X-Forwarded-For hop instead.
type Options struct {
	Issuer            TokenIssuer
	Submitter         Submitter
	IDs               IDGenerator
	Limiter           Limiter
	TrustForwardedFor bool
	Ready             func(ctx context.Context) error
	Logger            *zap.Logger
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
}

// Server wires HTTP handlers to the token issuer and submission pipeline.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	metrics.Init()
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &Server{opts: opts, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	// Preflights bypass the limiter.
	token := r.With(corsMiddleware(tokenMethods))
	token.Options(TokenPath, preflight)
	limitedToken := token.With(s.rateLimitMiddleware)
	limitedToken.Get(TokenPath, s.issueToken)
	limitedToken.Post(TokenPath, s.issueToken)

	submit := r.With(corsMiddleware(submitMethods))
	submit.Options(SubmitPath, s.submit)
	limitedSubmit := submit.With(s.rateLimitMiddleware)
	limitedSubmit.Put(SubmitPath, s.submit)
	limitedSubmit.Post(SubmitPath, s.submit)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Ready != nil {
		if err := s.opts.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			s.writeError(w, http.StatusServiceUnavailable, "not_ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) issueToken(w http.ResponseWriter, r *http.Request) {
	ip := auth.ClientIP(r)
	token, err := s.opts.Issuer.Issue(ip)
	if err != nil {
		s.logger.Error("token signing failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.Error(err),
		)
		s.writeError(w, http.StatusInternalServerError, pipeline.KindInternal.String())
		return
	}
	metrics.ObserveTokenIssued()
	s.writeJSON(w, http.StatusOK, map[string]string{"jwt": token})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var body []byte
	if r.Method != http.MethodOptions {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				s.writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large")
				return
			}
			s.writeError(w, http.StatusBadRequest, pipeline.KindBadRequest.String())
			return
		}
	}

	out := s.opts.Submitter.Handle(r.Context(), pipeline.Request{
		RequestID:     requestIDFrom(r.Context()),
		Method:        r.Method,
		Authorization: r.Header.Get("Authorization"),
		ForwardedFor:  r.Header.Get("X-Forwarded-For"),
		RemoteAddr:    r.RemoteAddr,
		Origin:        r.Header.Get("Origin"),
		Body:          body,
	})

	switch {
	case out.Err != nil:
		s.writeError(w, out.Err.Kind.HTTPStatus(), out.Err.Kind.String())
	case r.Method == http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func preflight(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func corsMiddleware(methods []string) func(http.Handler) http.Handler {
	allowed := strings.Join(methods, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			} else {
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", allowed)
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	if s.opts.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.opts.Limiter.Allow(s.limitKey(r)) {
			metrics.ObserveRateLimited(r.URL.Path)
			s.writeError(w, http.StatusTooManyRequests, "rate_limited")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitKey(r *http.Request) string {
	if s.opts.TrustForwardedFor {
		return auth.ProxiedIPFrom(r.Header.Get("X-Forwarded-For"), r.RemoteAddr)
	}
	return auth.PeerIP(r.RemoteAddr)
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" && s.opts.IDs != nil {
			id, err := s.opts.IDs.NewID()
			if err != nil {
				s.logger.Warn("request id generation failed", zap.Error(err))
			}
			reqID = id
		}
		if reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestIDFrom(r.Context())),
					zap.Any("panic", rec),
				)
				s.writeError(w, http.StatusInternalServerError, pipeline.KindInternal.String())
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"timeout"}`)
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, kind string) {
	s.writeJSON(w, status, map[string]string{"error": kind})
}
