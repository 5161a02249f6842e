package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/containr/signup/internal/handler"
)

// DefaultBodyLimit caps parsed request bodies.
const DefaultBodyLimit = 100 << 10

const (
	allowOriginHeader      = "Access-Control-Allow-Origin"
	allowCredentialsHeader = "Access-Control-Allow-Credentials"
	allowMethodsHeader     = "Access-Control-Allow-Methods"
	allowHeadersHeader     = "Access-Control-Allow-Headers"
	requestMethodHeader    = "Access-Control-Request-Method"
	requestHeadersHeader   = "Access-Control-Request-Headers"
	maxAgeHeader           = "Access-Control-Max-Age"
)

// DefaultCorsMethods are the methods advertised on preflight responses.
var DefaultCorsMethods = []string{"GET", "HEAD", "PUT", "PATCH", "POST", "DELETE"}

// Cors allows cross-origin requests from a single origin.
type Cors struct {
	Origin           string
	AllowCredentials bool
	AllowMethods     []string
	MaxAge           time.Duration
}

// Middleware sets the CORS headers and answers preflight requests.
func (c *Cors) Middleware(next http.Handler) http.Handler {
	methods := c.AllowMethods
	if len(methods) == 0 {
		methods = DefaultCorsMethods
	}
	allowMethods := strings.Join(methods, ",")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set(allowOriginHeader, c.Origin)
		h.Add("Vary", "Origin")
		if c.AllowCredentials {
			h.Set(allowCredentialsHeader, "true")
		}

		if r.Method != http.MethodOptions || r.Header.Get(requestMethodHeader) == "" {
			next.ServeHTTP(w, r)
			return
		}

		h.Set(allowMethodsHeader, allowMethods)
		if reqHeaders := r.Header.Get(requestHeadersHeader); reqHeaders != "" {
			h.Set(allowHeadersHeader, reqHeaders)
			h.Add("Vary", requestHeadersHeader)
		}
		if c.MaxAge > 0 {
			h.Set(maxAgeHeader, strconv.Itoa(int(c.MaxAge.Seconds())))
		}
		h.Set("Content-Length", "0")
		w.WriteHeader(http.StatusNoContent)
	})
}

type jsonBodyKey struct{}

// JSONBody returns the request body parsed by BodyParser, if it was JSON.
func JSONBody(ctx context.Context) (any, bool) {
	v, ok := ctx.Value(jsonBodyKey{}).(jsonValue)
	return v.v, ok
}

type jsonValue struct{ v any }

// BodyParser reads JSON and URL-encoded request bodies before routing. A JSON
// body is available through JSONBody and a form body through r.PostForm.
// Malformed bodies are rejected with 400 and oversized ones with 413.
func BodyParser(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			switch {
			case mediaType == "application/json" || strings.HasSuffix(mediaType, "+json"):
				data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
				if err != nil {
					bodyError(w, err)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(data))
				if len(bytes.TrimSpace(data)) == 0 {
					break
				}
				var v any
				if err := json.Unmarshal(data, &v); err != nil {
					handler.WriteError(w, http.StatusBadRequest, "invalid JSON body")
					return
				}
				r = r.WithContext(context.WithValue(r.Context(), jsonBodyKey{}, jsonValue{v}))
			case mediaType == "application/x-www-form-urlencoded":
				r.Body = http.MaxBytesReader(w, r.Body, limit)
				if err := r.ParseForm(); err != nil {
					bodyError(w, err)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bodyError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		handler.WriteError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	handler.WriteError(w, http.StatusBadRequest, "invalid request body")
}

// requestLogger logs one line per request with the chi request id.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			logger.LogAttrs(r.Context(), slog.LevelInfo, "request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", sw.status),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
