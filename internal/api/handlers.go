// Package api exposes the broker over HTTP: the session lifecycle facade,
// the transparent proxy route, and the git bundle exchange.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/credvault/credvault/internal/gitbundle"
	"github.com/credvault/credvault/internal/proxy"
	"github.com/credvault/credvault/internal/registry"
	"github.com/credvault/credvault/internal/session"
)

// GitService is the pseudo-service granting access to the bundle exchange.
// It has no credential record and cannot be proxied.
const GitService = "git"

// maxBundleUpload caps the in-memory portion of a push-bundle upload.
const maxBundleUpload = 32 << 20

// BundleExchanger is the bundle exchange as the HTTP layer sees it.
// *gitbundle.Exchange implements it; tests substitute stubs.
type BundleExchanger interface {
	Fetch(ctx context.Context, repoURL, branch string, dst io.Writer) (int64, error)
	Push(ctx context.Context, p gitbundle.PushParams) (*gitbundle.PushResult, error)
}

// Handlers holds the HTTP handlers and their injected dependencies.
type Handlers struct {
	sessions    *session.Store
	registry    *registry.Registry
	forwarder   *proxy.Forwarder
	exchange    BundleExchanger
	legacyKey   string
	externalURL string
	defaultTTL  time.Duration
	log         *zap.Logger
}

// HandlersConfig wires a Handlers instance.
type HandlersConfig struct {
	Sessions    *session.Store
	Registry    *registry.Registry
	Forwarder   *proxy.Forwarder
	Exchange    BundleExchanger
	LegacyKey   string
	ExternalURL string
	DefaultTTL  time.Duration
	Logger      *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(cfg HandlersConfig) *Handlers {
	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Handlers{
		sessions:    cfg.Sessions,
		registry:    cfg.Registry,
		forwarder:   cfg.Forwarder,
		exchange:    cfg.Exchange,
		legacyKey:   cfg.LegacyKey,
		externalURL: cfg.ExternalURL,
		defaultTTL:  ttl,
		log:         cfg.Logger,
	}
}

// HealthHandler handles GET /health. No auth: exposes only service names and
// a session count.
func (h *Handlers) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		Services:       h.serviceNames(),
		ActiveSessions: h.sessions.ActiveCount(),
		Timestamp:      time.Now().UTC(),
	})
}

// CreateSessionHandler handles POST /sessions. Called only by the trusted
// tool front end; minting sessions needs no auth of its own.
func (h *Handlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Services) == 0 {
		writeError(w, http.StatusBadRequest, "services list is required")
		return
	}

	var unknown []string
	for _, svc := range req.Services {
		if svc != GitService && !h.registry.Has(svc) {
			unknown = append(unknown, svc)
		}
	}
	if len(unknown) > 0 {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unknown services: %v (available: %v)", unknown, h.serviceNames()))
		return
	}

	ttl := h.defaultTTL
	if req.TTLMinutes != 0 {
		if req.TTLMinutes < 0 {
			writeError(w, http.StatusBadRequest, "ttl_minutes must be positive")
			return
		}
		ttl = time.Duration(req.TTLMinutes) * time.Minute
	}

	sess, err := h.sessions.Create(req.Services, ttl)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.log.Info("session created",
		zap.Strings("services", sess.Services),
		zap.Duration("ttl", ttl),
	)

	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		Token:            sess.Token,
		ProxyURL:         h.proxyBaseURL(r),
		ExpiresInMinutes: int(ttl / time.Minute),
		Services:         sess.Services,
	})
}

// RevokeSessionHandler handles DELETE /sessions/{token}. Idempotent:
// revoking an unknown token succeeds, so callers cannot probe which tokens
// exist.
func (h *Handlers) RevokeSessionHandler(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	h.sessions.Revoke(token)
	h.log.Info("session revoked")
	writeJSON(w, http.StatusOK, RevokeSessionResponse{Status: "revoked"})
}

// ListServicesHandler handles GET /services.
func (h *Handlers) ListServicesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ServiceListResponse{Services: h.serviceNames()})
}

// ProxyHandler handles ANY /proxy/{service}/*. Auth first, then service
// resolution, then transparent relay.
func (h *Handlers) ProxyHandler(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	rest := chi.URLParam(r, "*")

	if service == GitService {
		writeError(w, http.StatusBadRequest,
			"git is not a proxy service; use /git/fetch-bundle or /git/push-bundle")
		return
	}

	if err := h.authorize(r, service); err != nil {
		h.writeAuthError(w, err)
		return
	}

	if err := h.forwarder.Forward(w, r, service, rest); err != nil {
		switch {
		case errors.Is(err, registry.ErrUnknownService):
			writeError(w, http.StatusNotFound, "unknown service: "+service)
		case errors.Is(err, proxy.ErrUpstreamUnreachable):
			writeError(w, http.StatusBadGateway, "upstream unreachable")
		default:
			h.log.Error("forwarding failed", zap.String("service", service), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "proxy error")
		}
	}
}

// FetchBundleHandler handles POST /git/fetch-bundle and streams the bundle
// artifact back as an octet stream.
func (h *Handlers) FetchBundleHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, GitService); err != nil {
		h.writeAuthError(w, err)
		return
	}

	var req FetchBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoURL == "" {
		writeError(w, http.StatusBadRequest, "repo_url is required")
		return
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	name := gitbundle.RepoName(req.RepoURL)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name+".bundle"))

	n, err := h.exchange.Fetch(r.Context(), req.RepoURL, branch, w)
	if err != nil {
		if n > 0 {
			// Bytes are already on the wire; the transfer is simply broken.
			h.log.Warn("bundle stream interrupted", zap.Error(err))
			return
		}
		w.Header().Del("Content-Disposition")
		h.writeGitError(w, err)
	}
}

// PushBundleHandler handles POST /git/push-bundle (multipart form).
func (h *Handlers) PushBundleHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.authorize(r, GitService); err != nil {
		h.writeAuthError(w, err)
		return
	}

	if err := r.ParseMultipartForm(maxBundleUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	repoURL := r.FormValue("repo_url")
	branch := r.FormValue("branch")
	if repoURL == "" || branch == "" {
		writeError(w, http.StatusBadRequest, "repo_url and branch are required")
		return
	}

	bundle, _, err := r.FormFile("bundle")
	if err != nil {
		writeError(w, http.StatusBadRequest, "bundle file is required")
		return
	}
	defer bundle.Close()

	result, err := h.exchange.Push(r.Context(), gitbundle.PushParams{
		RepoURL:      repoURL,
		Branch:       branch,
		Bundle:       bundle,
		CreateReview: r.FormValue("create_pr") == "true",
		ReviewTitle:  r.FormValue("pr_title"),
		ReviewBody:   r.FormValue("pr_body"),
	})
	if err != nil {
		h.writeGitError(w, err)
		return
	}

	resp := PushBundleResponse{
		Status: "success",
		Branch: result.Branch,
		Pushed: true,
	}
	if result.Review != nil {
		created := result.Review.Created
		resp.PRCreated = &created
		if created {
			resp.PRURL = result.Review.URL
		} else {
			resp.ManualPRURL = result.Review.URL
			resp.PRMessage = result.Review.Note
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeAuthError maps an authorize failure onto the generic 401/403 pair.
func (h *Handlers) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, errForbidden) {
		writeError(w, http.StatusForbidden, errForbidden.Error())
		return
	}
	writeError(w, http.StatusUnauthorized, errUnauthorized.Error())
}

// writeGitError maps bundle exchange failures onto stable status codes.
// Upstream stderr stays in the logs; responses carry only the short reason.
func (h *Handlers) writeGitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gitbundle.ErrInvalidBundle):
		writeError(w, http.StatusBadRequest, "invalid bundle")
	case errors.Is(err, gitbundle.ErrBundleApply):
		writeError(w, http.StatusConflict, "bundle does not apply to the current base")
	case errors.Is(err, gitbundle.ErrPushRejected):
		writeError(w, http.StatusConflict, "push rejected by remote")
	case errors.Is(err, gitbundle.ErrCloneFailed):
		writeError(w, http.StatusNotFound, "clone failed: repository or branch not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "git operation timed out")
	default:
		h.log.Error("bundle exchange failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "git operation failed")
	}
}

// serviceNames returns the registered services plus the git pseudo-service.
func (h *Handlers) serviceNames() []string {
	services := h.registry.Services()
	services = append(services, GitService)
	sort.Strings(services)
	return services
}

// proxyBaseURL derives the URL callers should target, preferring the
// configured external URL over the request's own host.
func (h *Handlers) proxyBaseURL(r *http.Request) string {
	if h.externalURL != "" {
		return h.externalURL
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// Helper functions

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  status,
	})
}
