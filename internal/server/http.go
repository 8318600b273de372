package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zarvd/jwks-test-issuer/internal/jwks"
	"github.com/zarvd/jwks-test-issuer/internal/key"
	"github.com/zarvd/jwks-test-issuer/internal/metrics"
	"github.com/zarvd/jwks-test-issuer/internal/token"
)

const (
	detailNoKeys           = "No keys available"
	detailMethodNotAllowed = "Method Not Allowed"
	detailNotFound         = "Not Found"
)

// HTTPServer serves the key set and token issuance routes.
type HTTPServer struct {
	logger    *slog.Logger
	store     *key.Store
	generator *key.Generator
	publisher *jwks.Publisher
	issuer    *token.Issuer
	metrics   *metrics.Metrics
}

func NewHTTPServer(
	logger *slog.Logger,
	store *key.Store,
	generator *key.Generator,
	publisher *jwks.Publisher,
	issuer *token.Issuer,
	m *metrics.Metrics,
) *HTTPServer {
	return &HTTPServer{
		logger:    logger.With(slog.String("component", "http")),
		store:     store,
		generator: generator,
		publisher: publisher,
		issuer:    issuer,
		metrics:   m,
	}
}

var routeMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodOptions,
}

// Handler builds the router. Wrong methods on known routes are rejected by
// the router before any handler runs.
func (svr *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(svr.observe)
	r.Use(middleware.Recoverer)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeDetail(w, http.StatusNotFound, detailNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		if allowed := allowedMethods(r, req.URL.Path); len(allowed) > 0 {
			w.Header().Set("Allow", strings.Join(allowed, ", "))
		}
		writeDetail(w, http.StatusMethodNotAllowed, detailMethodNotAllowed)
	})

	r.Get("/jwks", svr.getJWKS)
	r.Get("/.well-known/jwks.json", svr.getJWKS)
	r.Post("/auth", svr.postAuth)
	r.Post("/keys", svr.postKeys)
	r.Get("/healthz", svr.getHealthz)
	if svr.metrics != nil {
		r.Method(http.MethodGet, "/metrics", svr.metrics.Handler())
	}
	return r
}

// allowedMethods lists the methods routes has a handler for at path.
func allowedMethods(routes chi.Routes, path string) []string {
	var rv []string
	for _, method := range routeMethods {
		if routes.Match(chi.NewRouteContext(), method, path) {
			rv = append(rv, method)
		}
	}
	return rv
}

func (svr *HTTPServer) getJWKS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, svr.publisher.Publish())
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (svr *HTTPServer) postAuth(w http.ResponseWriter, r *http.Request) {
	expired, err := parseExpired(r)
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	signed, err := svr.issuer.Issue(r.Context(), expired)
	switch {
	case errors.Is(err, token.ErrNoKeysAvailable):
		writeDetail(w, http.StatusInternalServerError, detailNoKeys)
		return
	case err != nil:
		svr.logger.Error("failed to issue token", slog.Any("error", err))
		writeDetail(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Token: signed})
}

type keyResponse struct {
	KeyID     string    `json:"kid"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (svr *HTTPServer) postKeys(w http.ResponseWriter, r *http.Request) {
	keyID, err := svr.generator.Generate(r.Context())
	if err != nil {
		svr.logger.Error("failed to generate key", slog.Any("error", err))
		writeDetail(w, http.StatusInternalServerError, "failed to generate key")
		return
	}

	k, ok := svr.store.Get(keyID)
	if !ok {
		// swept between insertion and lookup, only possible with a tiny TTL
		writeDetail(w, http.StatusInternalServerError, "generated key already expired")
		return
	}
	writeJSON(w, http.StatusCreated, keyResponse{KeyID: k.ID, ExpiresAt: k.ExpiresAt.UTC()})
}

type healthResponse struct {
	Status string `json:"status"`
	Keys   int    `json:"keys"`
}

func (svr *HTTPServer) getHealthz(w http.ResponseWriter, r *http.Request) {
	svr.store.Sweep()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Keys: svr.store.Len()})
}

var errInvalidExpired = errors.New("expired: input should be a valid boolean")

// parseExpired reads the optional "expired" query flag. An absent flag is
// false; a present one must carry a boolean, so a bare "?expired" is invalid.
func parseExpired(r *http.Request) (bool, error) {
	values, ok := r.URL.Query()["expired"]
	if !ok || len(values) == 0 {
		return false, nil
	}

	v := strings.ToLower(strings.TrimSpace(values[0]))
	switch v {
	case "":
		return false, errInvalidExpired
	case "yes", "on", "y":
		return true, nil
	case "no", "off", "n":
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, errInvalidExpired
	}
	return b, nil
}

func (svr *HTTPServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		if svr.metrics != nil {
			svr.metrics.ObserveRequest(r.Method, route, status, elapsed)
		}
		svr.logger.Info("served request",
			slog.String("request-id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("elapsed", elapsed),
		)
	})
}

type detailResponse struct {
	Detail string `json:"detail"`
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, detailResponse{Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
