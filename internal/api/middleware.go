package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/org/authguard/internal/auth"
	"github.com/org/authguard/internal/credential"
	"github.com/org/authguard/pkg/models"
	"github.com/rs/zerolog/log"
)

// requestIDMiddleware attaches a UUID request ID to each request.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authMiddleware validates the X-Guard-Token header, attaches the session to
// the request context, and tags the context with the requesting device so
// require-auth credential reads can evaluate step-up recency.
func authMiddleware(sessions *auth.SessionService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			plaintext := r.Header.Get("X-Guard-Token")
			if plaintext == "" {
				writeError(w, http.StatusUnauthorized, "missing X-Guard-Token header")
				return
			}
			session, err := sessions.Validate(r.Context(), plaintext)
			if err != nil {
				writeError(w, http.StatusForbidden, err.Error())
				return
			}
			ctx := withSession(r.Context(), session)
			ctx = credential.WithRequestor(ctx, session.DeviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// auditMiddleware records every request + response code to the audit log.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

func auditMiddleware(auditor AuditRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rr := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rr, r)

			deviceID := ""
			if session := sessionFromCtx(r.Context()); session != nil {
				deviceID = session.DeviceID
			}

			auditor.Record(r.Context(), &models.AuditEvent{
				RequestID:      requestIDFromCtx(r.Context()),
				EventType:      models.AuditHTTPRequest,
				DeviceID:       deviceID,
				Action:         r.Method + " " + r.URL.Path,
				ResponseCode:   rr.statusCode,
				ResponseTimeMs: time.Since(start).Milliseconds(),
				ClientIP:       clientIP(r),
			})
		})
	}
}

// rateLimiter is a simple per-IP token bucket rate limiter.
type rateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    int // requests per second
	burst   int
}

type bucket struct {
	tokens    float64
	lastCheck time.Time
}

func newRateLimiter(rps, burst int) *rateLimiter {
	return &rateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rps,
		burst:   burst,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastCheck: time.Now()}
		rl.buckets[ip] = b
	}
	now := time.Now()
	elapsed := now.Sub(b.lastCheck).Seconds()
	b.tokens += elapsed * float64(rl.rate)
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastCheck = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.allow(ip) {
			log.Warn().Str("ip", ip).Msg("rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
