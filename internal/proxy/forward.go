// Package proxy implements the transparent forwarding engine: it relays an
// already-authorized inbound request to an upstream service with the
// service's credential injected, and streams the response back.
package proxy

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/credvault/credvault/internal/registry"
)

// ErrUpstreamUnreachable wraps network, DNS, and timeout failures reaching
// the upstream. Never retried here: forwarded requests may carry side effects.
var ErrUpstreamUnreachable = errors.New("upstream unreachable")

// DefaultTimeout bounds one upstream round trip when no timeout is configured.
const DefaultTimeout = 30 * time.Second

// Forwarder relays requests to registered upstream services. It is the only
// component that dereferences a service name into its secret, and it does so
// only for the duration of a single call.
type Forwarder struct {
	registry *registry.Registry
	client   *http.Client
	log      *zap.Logger
}

// NewForwarder creates a forwarding engine over the given registry.
func NewForwarder(reg *registry.Registry, timeout time.Duration, log *zap.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Forwarder{
		registry: reg,
		client: &http.Client{
			Timeout: timeout,
			// Relay redirects to the caller instead of following them.
			CheckRedirect: func(_ *http.Request, _ []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: log,
	}
}

// Forward relays r to service, appending path and the original query string
// to the service's base URL. It returns an error only before any response
// bytes have been written: registry.ErrUnknownService for unregistered
// services and ErrUpstreamUnreachable for network failures. Once the
// upstream responds, the status, headers, and body are streamed verbatim
// (minus hop-by-hop headers) and Forward returns nil.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, service, path string) error {
	cred, err := f.registry.Resolve(service)
	if err != nil {
		return err
	}

	target := buildTargetURL(cred.BaseURL, path, r.URL.RawQuery)

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target, r.Body)
	if err != nil {
		return fmt.Errorf("failed to build upstream request: %w", err)
	}

	copyRequestHeaders(outReq.Header, r.Header)
	injectCredential(outReq, cred)

	f.log.Info("forwarding request",
		zap.String("service", service),
		zap.String("method", r.Method),
		zap.String("path", path),
	)

	resp, err := f.client.Do(outReq)
	if err != nil {
		f.log.Warn("upstream call failed",
			zap.String("service", service),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	copyResponseHeaders(w.Header(), resp.Header, cred.Secret)
	w.WriteHeader(resp.StatusCode)

	// Stream rather than buffer so large bodies stay bounded in memory.
	if _, err := io.Copy(w, resp.Body); err != nil {
		f.log.Warn("relay interrupted mid-body",
			zap.String("service", service),
			zap.Error(err),
		)
	}
	return nil
}

// buildTargetURL joins the service base URL with the requested path and
// carries the original query string over unmodified.
func buildTargetURL(base *url.URL, path, rawQuery string) string {
	target := strings.TrimRight(base.String(), "/")
	if path != "" {
		target += "/" + strings.TrimLeft(path, "/")
	}
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// injectCredential applies the service's auth strategy to the outgoing
// request. The switch is exhaustive over registry.StrategyKind; records with
// any other kind never survive registry validation.
func injectCredential(req *http.Request, cred *registry.Credential) {
	switch cred.Strategy.Kind {
	case registry.StrategyBearer:
		req.Header.Set("Authorization", "Bearer "+cred.Secret)
	case registry.StrategyHeader:
		req.Header.Set(cred.Strategy.Param, cred.Secret)
	case registry.StrategyQuery:
		encoded := cred.Strategy.Param + "=" + url.QueryEscape(cred.Secret)
		if req.URL.RawQuery == "" {
			req.URL.RawQuery = encoded
		} else {
			req.URL.RawQuery += "&" + encoded
		}
	}
}
