package httpapi

import (
	"context"
	"crypto/subtle"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/monitoring"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/session"
)

// accessLog logs one line per request and records the HTTP metrics.
func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		took := time.Since(start)
		monitoring.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		monitoring.HTTPDuration.WithLabelValues(route).Observe(took.Seconds())

		ev := log.Info()
		if status >= 500 {
			ev = log.Error()
		}
		ev.Str("method", r.Method).
			Str("route", route).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Str("request_id", middleware.GetReqID(r.Context())).
			Dur("took", took).
			Msg("HTTP request")
	})
}

// ipLimiter keeps one token bucket per client address. Idle buckets expire.
type ipLimiter struct {
	limit rate.Limit
	burst int
	cache *cache.Cache
}

func newIPLimiter(perSecond float64, burst int) *ipLimiter {
	if burst < 1 {
		burst = 1
	}
	return &ipLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		cache: cache.New(10*time.Minute, 5*time.Minute),
	}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	if v, ok := l.cache.Get(ip); ok {
		return v.(*rate.Limiter)
	}
	lim := rate.NewLimiter(l.limit, l.burst)
	if err := l.cache.Add(ip, lim, cache.DefaultExpiration); err != nil {
		// lost the race to another request from the same address
		if v, ok := l.cache.Get(ip); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

func (l *ipLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		lim := l.get(ip)
		if !lim.Allow() {
			retry := 1
			if l.limit > 0 {
				retry = int(math.Ceil(1 / float64(l.limit)))
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			log.Warn().Str("client_ip", ip).Str("path", r.URL.Path).Msg("Rate limit exceeded")
			writeError(w, r, http.StatusTooManyRequests, "rate_limited", "")
			return
		}
		// keep active clients' buckets alive
		l.cache.Set(ip, lim, cache.DefaultExpiration)
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// requireAdminKey guards the operator routes with the master key. An empty
// key closes them.
func requireAdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get("X-Admin-Key")
			if key == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				log.Warn().Str("client_ip", clientIP(r)).Str("path", r.URL.Path).Msg("Admin key rejected")
				writeUnauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type claimsKey struct{}

// requireSession verifies the bearer session token and stores its claims on
// the request context.
func requireSession(issuer *session.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				writeUnauthorized(w, r)
				return
			}
			claims, err := issuer.Verify(strings.TrimSpace(token))
			if err != nil {
				log.Debug().Err(err).Msg("Session rejected")
				writeUnauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func claimsFrom(ctx context.Context) *session.Claims {
	c, _ := ctx.Value(claimsKey{}).(*session.Claims)
	return c
}
