package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type requestIDKey struct{}

// requestID returns the ID the middleware attached to ctx.
func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// corsMiddleware adds CORS headers, tags the request with an ID and records
// request metrics.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next(rw, r)
		duration := time.Since(start)

		if s.metrics != nil {
			s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), duration)
		}
		s.logger.Debug("HTTP request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.statusCode,
			"client", getClientIP(r),
			"duration", duration)
	}
}

// rateLimitMiddleware counts each request as one run of ContentLength bytes
// against the client's limits.
func (s *Server) rateLimitMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter == nil {
			next(w, r)
			return
		}
		size := r.ContentLength
		if size < 0 {
			size = 0
		}
		if err := s.checkRateLimit(getClientIP(r), size); err != nil {
			s.handleRateLimitError(w, err)
			return
		}
		next(w, r)
	}
}

// checkRateLimit records a run for client. Refusals are counted.
func (s *Server) checkRateLimit(client string, size int64) error {
	if s.rateLimiter == nil {
		return nil
	}
	err := s.rateLimiter.Allow(client, size)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RateLimitHits.WithLabelValues(limitType(err)).Inc()
		}
		s.logger.Warn("Rate limit hit", "client", client, "error", err)
	}
	return err
}

// handleRateLimitError writes a 429 describing the exceeded limit.
func (s *Server) handleRateLimitError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	var response map[string]any
	var rate *RateLimitError
	var quota *QuotaExceededError
	switch {
	case errors.As(err, &rate):
		w.Header().Set("X-RateLimit-Type", rate.Type)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rate.Limit))
		w.Header().Set("Retry-After", fmt.Sprintf("%.0f", rate.RetryAfter.Seconds()))
		response = map[string]any{
			"error":       "rate_limit_exceeded",
			"type":        rate.Type,
			"limit":       rate.Limit,
			"retry_after": rate.RetryAfter.Seconds(),
			"message":     rate.Error(),
		}
	case errors.As(err, &quota):
		w.Header().Set("X-Quota-Type", quota.Type)
		w.Header().Set("X-Quota-Limit", strconv.FormatInt(quota.Limit, 10))
		w.Header().Set("X-Quota-Used", strconv.FormatInt(quota.Used, 10))
		w.Header().Set("X-Quota-Resets", quota.Resets.UTC().Format(http.TimeFormat))
		response = map[string]any{
			"error":   "quota_exceeded",
			"type":    quota.Type,
			"limit":   quota.Limit,
			"used":    quota.Used,
			"resets":  quota.Resets.Format(time.RFC3339),
			"message": quota.Error(),
		}
	default:
		response = map[string]any{"error": "rate_limit_exceeded", "message": err.Error()}
	}
	w.WriteHeader(http.StatusTooManyRequests)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error("Failed to encode rate limit response", "error", err)
	}
}

func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// getClientIP extracts the client IP address from the request.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
