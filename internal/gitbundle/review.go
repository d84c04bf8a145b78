package gitbundle

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ReviewParams describes a requested review (pull request) for a pushed branch.
type ReviewParams struct {
	RepoURL string
	Branch  string
	Title   string
	Body    string
}

// ReviewResult reports whether a review was created. When the hosting CLI is
// unavailable or fails, Created is false and URL/Note carry a manually
// constructed fallback so the push itself still succeeds.
type ReviewResult struct {
	Created bool
	URL     string
	Note    string
}

// ReviewCreator is the capability for creating a hosting-side review.
// Implementations must degrade gracefully: a failed review never fails the
// push it follows.
type ReviewCreator interface {
	CreateReview(ctx context.Context, repoDir string, p ReviewParams) ReviewResult
}

// CLIReviewer creates reviews through the GitHub CLI. If gh is not on PATH
// the reviewer stays usable and always returns the manual-URL fallback.
type CLIReviewer struct {
	ghPath  string
	timeout time.Duration
}

// NewCLIReviewer probes for the gh binary. Available reports whether it was
// found; callers typically log the outcome at startup and proceed either way.
func NewCLIReviewer(timeout time.Duration) (*CLIReviewer, bool) {
	path, err := exec.LookPath("gh")
	if err != nil {
		return &CLIReviewer{timeout: timeout}, false
	}
	return &CLIReviewer{ghPath: path, timeout: timeout}, true
}

// CreateReview runs `gh pr create` in the pushed repository clone.
func (c *CLIReviewer) CreateReview(ctx context.Context, repoDir string, p ReviewParams) ReviewResult {
	manual := manualReviewURL(p.RepoURL, p.Branch)

	if c.ghPath == "" {
		return ReviewResult{
			URL:  manual,
			Note: "hosting CLI not available; create the review manually",
		}
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	title := p.Title
	if title == "" {
		title = fmt.Sprintf("Changes from %s", p.Branch)
	}
	body := p.Body
	if body == "" {
		body = "Automated review request"
	}

	cmd := exec.CommandContext(ctx, c.ghPath, "pr", "create",
		"--title", title,
		"--body", body,
		"--head", p.Branch,
	)
	cmd.Dir = repoDir

	out, err := cmd.Output()
	if err != nil {
		return ReviewResult{
			URL:  manual,
			Note: "review creation failed; create the review manually",
		}
	}
	return ReviewResult{
		Created: true,
		URL:     strings.TrimSpace(string(out)),
	}
}

// NoopReviewer never creates a review; it exists for tests and for
// deployments with review creation disabled.
type NoopReviewer struct{}

// CreateReview returns the manual fallback without any side effect.
func (NoopReviewer) CreateReview(_ context.Context, _ string, p ReviewParams) ReviewResult {
	return ReviewResult{
		URL:  manualReviewURL(p.RepoURL, p.Branch),
		Note: "review creation disabled",
	}
}

// manualReviewURL builds the hosting platform's compare URL for a branch.
// Best effort: an unparseable repo URL yields an empty string.
func manualReviewURL(repoURL, branch string) string {
	trimmed := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) < 2 {
		return ""
	}
	owner := parts[len(parts)-2]
	repo := parts[len(parts)-1]
	if owner == "" || repo == "" {
		return ""
	}
	return fmt.Sprintf("https://github.com/%s/%s/pull/new/%s", owner, repo, branch)
}
