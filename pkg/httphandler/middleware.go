package httphandler

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	// Packages
	httpresponse "github.com/mutablelogic/go-server/pkg/httpresponse"
	cors "github.com/rs/cors"
	zerolog "github.com/rs/zerolog"
	rate "golang.org/x/time/rate"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

type HTTPMiddlewareFuncs []func(http.HandlerFunc) http.HandlerFunc

// RateLimiter keeps a token bucket per client address
type RateLimiter struct {
	sync.Mutex
	limit  rate.Limit
	burst  int
	maxAge time.Duration
	store  map[string]*limiterEntry

	// Peers whose forwarding headers are believed
	proxies []netip.Prefix
}

type limiterEntry struct {
	limiter *rate.Limiter
	updated time.Time
}

// statusWriter records the response status for the request log
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

///////////////////////////////////////////////////////////////////////////////
// LIFECYCLE

// NewRateLimiter returns a limiter allowing reqPerSec requests per second
// per client, with bursts of up to burst requests.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:  rate.Limit(reqPerSec),
		burst:  burst,
		maxAge: 10 * time.Minute,
		store:  make(map[string]*limiterEntry),
	}
}

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// Wrap applies the middleware so that the first in the list runs first
func (w HTTPMiddlewareFuncs) Wrap(handler http.HandlerFunc) http.HandlerFunc {
	if len(w) == 0 {
		return handler
	}
	for i := len(w) - 1; i >= 0; i-- {
		handler = w[i](handler)
	}
	return handler
}

// Logger writes one structured log line per request
func Logger(log zerolog.Logger) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next(sw, r)

			var evt *zerolog.Event
			switch {
			case sw.status >= http.StatusInternalServerError:
				evt = log.Error()
			case sw.status >= http.StatusBadRequest:
				evt = log.Warn()
			default:
				evt = log.Info()
			}
			evt = evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", sw.status).
				Int64("bytes", sw.bytes).
				Dur("duration", time.Since(start)).
				Str("ip", remoteIP(r))
			if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
				evt = evt.Str("forwarded_for", fwd)
			}
			if ua := r.Header.Get("User-Agent"); ua != "" {
				evt = evt.Str("user_agent", ua)
			}
			evt.Msg("http_request")
		}
	}
}

// CORS allows cross-origin requests from the given origins, or from any
// origin when none are given
func CORS(origins ...string) func(http.HandlerFunc) http.HandlerFunc {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Cache-Control", "Last-Event-ID"},
		ExposedHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:         86400,
	})
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			c.ServeHTTP(w, r, next)
		}
	}
}

// TrustProxies sets the addresses or CIDR ranges of reverse proxies whose
// X-Forwarded-For and X-Real-IP headers identify the client. Headers from
// any other peer are ignored.
func (l *RateLimiter) TrustProxies(proxies ...string) error {
	prefixes := make([]netip.Prefix, 0, len(proxies))
	for _, proxy := range proxies {
		if proxy = strings.TrimSpace(proxy); proxy == "" {
			continue
		}
		if strings.Contains(proxy, "/") {
			prefix, err := netip.ParsePrefix(proxy)
			if err != nil {
				return err
			}
			prefixes = append(prefixes, prefix.Masked())
		} else if addr, err := netip.ParseAddr(proxy); err != nil {
			return err
		} else {
			addr = addr.Unmap()
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	l.Lock()
	defer l.Unlock()
	l.proxies = prefixes
	return nil
}

// Middleware rejects requests beyond the rate with 429 Too Many Requests
func (l *RateLimiter) Middleware() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !l.get(clientIP(r, l.proxies)).Allow() {
				w.Header().Set("Retry-After", "1")
				_ = httpresponse.Error(w, httpresponse.Err(http.StatusTooManyRequests).With("Too many requests"))
				return
			}
			next(w, r)
		}
	}
}

///////////////////////////////////////////////////////////////////////////////
// PRIVATE METHODS

func (l *RateLimiter) get(key string) *rate.Limiter {
	l.Lock()
	defer l.Unlock()

	now := time.Now()
	if entry, exists := l.store[key]; exists {
		entry.updated = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.store[key] = &limiterEntry{limiter: limiter, updated: now}

	// Drop idle clients
	for k, entry := range l.store {
		if now.Sub(entry.updated) > l.maxAge {
			delete(l.store, k)
		}
	}
	return limiter
}

// remoteIP returns the address of the connected peer
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// clientIP returns the peer address, or when the peer is a trusted proxy,
// the nearest untrusted address in X-Forwarded-For, then X-Real-IP.
func clientIP(r *http.Request, proxies []netip.Prefix) string {
	peer := remoteIP(r)
	if !trusted(peer, proxies) {
		return peer
	}
	if hops := r.Header.Values("X-Forwarded-For"); len(hops) > 0 {
		addrs := strings.Split(strings.Join(hops, ","), ",")
		for i := len(addrs) - 1; i >= 0; i-- {
			if addr := strings.TrimSpace(addrs[i]); addr != "" && !trusted(addr, proxies) {
				return addr
			}
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return peer
}

func trusted(ip string, proxies []netip.Prefix) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range proxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

///////////////////////////////////////////////////////////////////////////////
// RESPONSE WRITER

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(data []byte) (int, error) {
	n, err := w.ResponseWriter.Write(data)
	w.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
