package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/koustreak/sqlexplorer/internal/api"
	"github.com/koustreak/sqlexplorer/internal/logger"
)

// accessLog writes one zerolog event per request and hands handlers a
// logger tagged with the request id.
func accessLog(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			reqID := chimw.GetReqID(r.Context())
			defer func() {
				log.Request(r, ww.Status(), ww.BytesWritten(), time.Since(start), reqID)
			}()
			ctx := log.With().Str("request_id", reqID).Logger().WithContext(r.Context())
			next.ServeHTTP(ww, r.WithContext(ctx))
		})
	}
}

// requireToken rejects requests without "Authorization: token <token>".
func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "token ")
			if !ok || got != token {
				writeJSON(w, http.StatusUnauthorized, api.ErrorEnvelope("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientLimiter tracks a per-client limiter and when it was last used.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	rps   rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientLimiter
	swept   time.Time
}

func (s *limiterSet) get(ip string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.swept) > 5*time.Minute {
		for k, cl := range s.clients {
			if now.Sub(cl.lastSeen) > 10*time.Minute {
				delete(s.clients, k)
			}
		}
		s.swept = now
	}

	cl, ok := s.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(s.rps, s.burst)}
		s.clients[ip] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// rateLimit enforces a per-client token bucket and answers 429 when it is
// empty. Clients are keyed by RemoteAddr, which RealIP has already
// rewritten when a proxy header is present.
func rateLimit(rps float64, burst int) func(http.Handler) http.Handler {
	if burst <= 0 {
		burst = 1
	}
	set := &limiterSet{rps: rate.Limit(rps), burst: burst, clients: make(map[string]*clientLimiter)}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := set.get(clientIP(r), time.Now())

			res := lim.Reserve()
			if !res.OK() {
				writeJSON(w, http.StatusTooManyRequests, api.ErrorEnvelope("rate limit exceeded"))
				return
			}
			if delay := res.Delay(); delay > 0 {
				res.Cancel()
				w.Header().Set("Retry-After", strconv.Itoa(int(delay.Seconds())+1))
				writeJSON(w, http.StatusTooManyRequests, api.ErrorEnvelope("rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
