package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leonardcser/jsonstate/internal/logger"
	"github.com/leonardcser/jsonstate/internal/state"
)

// Headers carrying the tenant context of an HTTP request.
const (
	HeaderEnv    = "X-State-Env"
	HeaderTenant = "X-State-Tenant"
	HeaderTeam   = "X-State-Team"
	HeaderUser   = "X-State-User"
)

const maxBodyBytes = 8 << 20

// NewHTTPRouter exposes store over HTTP:
//
//	GET    /v1/state?prefix=&key=&path=       200 document, 404 absent
//	PUT    /v1/state?prefix=&key=&path=&ttl=  204, body is the JSON value
//	DELETE /v1/state?prefix=&key=             {"deleted":bool}
//	DELETE /v1/state/prefix?prefix=           {"deleted":n}
func NewHTTPRouter(store state.Store) http.Handler {
	h := &httpHandler{store: store}
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: logger.Printer("HTTP"), NoColor: true}))
	r.Use(middleware.Recoverer)
	r.Get("/v1/state", h.get)
	r.Put("/v1/state", h.set)
	r.Delete("/v1/state", h.delete)
	r.Delete("/v1/state/prefix", h.deletePrefix)
	return r
}

type httpHandler struct {
	store state.Store
}

func tenantFrom(r *http.Request) state.TenantCtx {
	return state.TenantCtx{
		Env:    r.Header.Get(HeaderEnv),
		Tenant: r.Header.Get(HeaderTenant),
		Team:   r.Header.Get(HeaderTeam),
		User:   r.Header.Get(HeaderUser),
	}
}

func (h *httpHandler) get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := state.ParsePath(q.Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	doc, found, err := h.store.Get(r.Context(), tenantFrom(r), q.Get("prefix"), q.Get("key"), p)
	if err != nil {
		writeError(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (h *httpHandler) set(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p, err := state.ParsePath(q.Get("path"))
	if err != nil {
		writeError(w, err)
		return
	}
	ttl, err := parseTTL(q.Get("ttl"))
	if err != nil {
		writeError(w, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, state.InvalidInput("read body: %v", err))
		return
	}
	if err := h.store.Set(r.Context(), tenantFrom(r), q.Get("prefix"), q.Get("key"), p, body, ttl); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *httpHandler) delete(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	deleted, err := h.store.Delete(r.Context(), tenantFrom(r), q.Get("prefix"), q.Get("key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (h *httpHandler) deletePrefix(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.store.DeleteByPrefix(r.Context(), tenantFrom(r), r.URL.Query().Get("prefix"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"deleted": deleted})
}

// parseTTL reads the ttl query parameter. Absent or negative keeps the
// current expiry; values above state.MaxTTL are rejected.
func parseTTL(s string) (state.TTL, error) {
	if s == "" {
		return state.KeepTTL, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, state.InvalidInput("ttl %q is not an integer", s)
	}
	if n < 0 {
		return state.KeepTTL, nil
	}
	ttl := state.TTL(n)
	if err := ttl.Validate(); err != nil {
		return 0, err
	}
	return ttl, nil
}

// StatusFor maps a store error onto an HTTP status code.
func StatusFor(err error) int {
	switch state.CodeOf(err) {
	case state.CodeInvalidInput:
		return http.StatusBadRequest
	case state.CodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, StatusFor(err), map[string]string{
		"code":  string(state.CodeOf(err)),
		"error": state.Message(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
