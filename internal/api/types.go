package api

import "time"

// CreateSessionRequest is the body for POST /sessions.
type CreateSessionRequest struct {
	Services   []string `json:"services"`
	TTLMinutes int      `json:"ttl_minutes,omitempty"`
}

// CreateSessionResponse is the body for a created session. The proxy URL
// tells the caller where to send proxied requests with the token attached.
type CreateSessionResponse struct {
	Token            string   `json:"token"`
	ProxyURL         string   `json:"proxy_url"`
	ExpiresInMinutes int      `json:"expires_in_minutes"`
	Services         []string `json:"services"`
}

// RevokeSessionResponse is the body for DELETE /sessions/{token}.
type RevokeSessionResponse struct {
	Status string `json:"status"`
}

// ServiceListResponse is the body for GET /services.
type ServiceListResponse struct {
	Services []string `json:"services"`
}

// HealthResponse is the body for GET /health.
type HealthResponse struct {
	Status         string    `json:"status"`
	Services       []string  `json:"services"`
	ActiveSessions int       `json:"active_sessions"`
	Timestamp      time.Time `json:"timestamp"`
}

// FetchBundleRequest is the body for POST /git/fetch-bundle.
type FetchBundleRequest struct {
	RepoURL string `json:"repo_url"`
	Branch  string `json:"branch,omitempty"`
}

// PushBundleResponse is the body for POST /git/push-bundle. PRCreated is
// present only when a review was requested, so partial success (pushed but
// no review) is distinguishable from full success.
type PushBundleResponse struct {
	Status      string `json:"status"`
	Branch      string `json:"branch"`
	Pushed      bool   `json:"pushed"`
	PRCreated   *bool  `json:"pr_created,omitempty"`
	PRURL       string `json:"pr_url,omitempty"`
	ManualPRURL string `json:"manual_pr_url,omitempty"`
	PRMessage   string `json:"pr_message,omitempty"`
}

// ErrorResponse is the standard error body: a stable status code plus a
// short machine-readable reason. Internal details stay in the logs.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
