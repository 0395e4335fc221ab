// Package api provides HTTP middleware for the optiontree server.
package api

import (
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"optiontree/auth"
	"optiontree/registry"
)

// WithDefaults wraps a handler with standard middleware.
func WithDefaults(h http.Handler, logger *slog.Logger, timeout time.Duration) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return LoggingMiddleware(logger)(
		TimeoutMiddleware(
			CompressMiddleware(h),
			timeout,
		),
	)
}

// LoggingMiddleware logs every request once it completes.
func LoggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(lw, r)
			level := slog.LevelInfo
			if lw.status >= 500 {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", lw.status,
				"duration", time.Since(start))
		})
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

// TimeoutMiddleware adds a timeout to requests.
func TimeoutMiddleware(next http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(next, timeout, "request timeout")
}

// CompressMiddleware decodes zstd or gzip request bodies and compresses
// responses, preferring zstd when the client accepts it.
func CompressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch strings.ToLower(r.Header.Get("Content-Encoding")) {
		case "zstd":
			zr, err := zstd.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid zstd body", http.StatusBadRequest)
				return
			}
			defer zr.Close()
			r.Body = io.NopCloser(zr)
			r.Header.Del("Content-Encoding")
		case "gzip":
			gr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			defer gr.Close()
			r.Body = io.NopCloser(gr)
			r.Header.Del("Content-Encoding")
		}

		encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
		if encoding == "" {
			next.ServeHTTP(w, r)
			return
		}
		cw := &compressResponseWriter{ResponseWriter: w, encoding: encoding}
		defer cw.Close()
		next.ServeHTTP(cw, r)
	})
}

func negotiateEncoding(accept string) string {
	accept = strings.ToLower(accept)
	switch {
	case strings.Contains(accept, "zstd"):
		return "zstd"
	case strings.Contains(accept, "gzip"):
		return "gzip"
	}
	return ""
}

// compressResponseWriter starts compressing on the first body write, so
// bodiless responses such as 304 stay untouched.
type compressResponseWriter struct {
	http.ResponseWriter
	encoding    string
	wroteHeader bool
	bodyless    bool
	w           io.WriteCloser
}

func (cw *compressResponseWriter) WriteHeader(status int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true
	cw.bodyless = status == http.StatusNoContent || status == http.StatusNotModified || status < 200
	if !cw.bodyless {
		h := cw.Header()
		h.Set("Content-Encoding", cw.encoding)
		h.Add("Vary", "Accept-Encoding")
		h.Del("Content-Length")
	}
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *compressResponseWriter) Write(p []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.bodyless {
		return cw.ResponseWriter.Write(p)
	}
	if cw.w == nil {
		if cw.encoding == "zstd" {
			zw, err := zstd.NewWriter(cw.ResponseWriter)
			if err != nil {
				return 0, err
			}
			cw.w = zw
		} else {
			cw.w = gzip.NewWriter(cw.ResponseWriter)
		}
	}
	return cw.w.Write(p)
}

func (cw *compressResponseWriter) Close() error {
	if cw.w == nil {
		return nil
	}
	return cw.w.Close()
}

// Context keys for request-scoped values.
type ctxKey int

const (
	missionKey ctxKey = iota
	missionNameKey
	claimsKey
)

// WithAuth validates bearer tokens when tokens is non-nil and stores the
// claims in the request context.
func WithAuth(tokens *auth.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractBearerToken(r.Header.Get("Authorization"))
			if token == "" {
				writeError(w, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}
			claims, err := tokens.Validate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid bearer token", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey, claims)))
		})
	}
}

// RequireAdmin admits admin tokens or a request carrying the configured admin
// key in X-Admin-Key. With neither auth nor an admin key configured every
// request is admitted.
func RequireAdmin(tokens *auth.TokenService, adminKeyHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if tokens == nil && adminKeyHash == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKeyHash != "" && auth.CheckAdminKey(r.Header.Get("X-Admin-Key"), adminKeyHash) {
				next.ServeHTTP(w, r)
				return
			}
			if tokens != nil {
				if token := auth.ExtractBearerToken(r.Header.Get("Authorization")); token != "" {
					claims, err := tokens.Validate(token)
					if err == nil && claims.Admin {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			writeError(w, http.StatusForbidden, "admin access required", nil)
		})
	}
}

// WithMission resolves the {mission} path value to an open registry handle.
func WithMission(reg *registry.Registry, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mission := r.PathValue("mission")
			if mission == "" {
				writeError(w, http.StatusBadRequest, "mission required", nil)
				return
			}

			if claims := ClaimsFrom(r.Context()); claims != nil {
				if !claims.AllowsMission(mission) {
					writeError(w, http.StatusForbidden, "mission not allowed", auth.ErrForbidden)
					return
				}
				if claims.ReadOnly && r.Method != http.MethodGet && r.Method != http.MethodHead {
					writeError(w, http.StatusForbidden, "token is read-only", auth.ErrForbidden)
					return
				}
			}

			h, err := reg.Acquire(r.Context(), mission)
			if err != nil {
				writeRegistryError(w, logger, err)
				return
			}
			defer reg.Release(h)

			ctx := context.WithValue(r.Context(), missionKey, h)
			ctx = context.WithValue(ctx, missionNameKey, mission)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MissionFrom returns the mission handle from request context.
func MissionFrom(ctx context.Context) *registry.Handle {
	if v := ctx.Value(missionKey); v != nil {
		return v.(*registry.Handle)
	}
	return nil
}

// MissionNameFrom returns the mission name from request context.
func MissionNameFrom(ctx context.Context) string {
	if v := ctx.Value(missionNameKey); v != nil {
		return v.(string)
	}
	return ""
}

// ClaimsFrom returns the validated token claims, or nil when auth is off.
func ClaimsFrom(ctx context.Context) *auth.Claims {
	if v := ctx.Value(claimsKey); v != nil {
		return v.(*auth.Claims)
	}
	return nil
}
