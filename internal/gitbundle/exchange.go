// Package gitbundle moves git history across the trust boundary as
// self-contained bundle artifacts instead of giving callers direct remote
// access. Every operation runs inside a private temporary workspace that is
// released on every exit path.
package gitbundle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	// ErrCloneFailed means the remote was unreachable or the requested
	// branch does not exist.
	ErrCloneFailed = errors.New("clone failed")
	// ErrInvalidBundle means the supplied artifact is not a well-formed
	// git bundle. Detected before any application is attempted.
	ErrInvalidBundle = errors.New("invalid bundle")
	// ErrBundleApply means a well-formed bundle does not apply cleanly to
	// the fetched base.
	ErrBundleApply = errors.New("bundle does not apply")
	// ErrPushRejected means the remote refused the push (non-fast-forward,
	// auth failure, protected branch).
	ErrPushRejected = errors.New("push rejected")
)

// Options configures the exchange.
type Options struct {
	// WorkDir is the parent directory for per-call workspaces. Empty means
	// the system temp directory.
	WorkDir string
	// CloneDepth shallows fetch-side clones when positive. Push always
	// clones full history so bundles apply against a complete base.
	CloneDepth int
}

// Exchange implements the fetch-bundle and push-bundle operations.
type Exchange struct {
	git     *Runner
	reviews ReviewCreator
	opts    Options
	log     *zap.Logger
}

// NewExchange wires the exchange over a git runner and a review capability.
func NewExchange(git *Runner, reviews ReviewCreator, opts Options, log *zap.Logger) *Exchange {
	if reviews == nil {
		reviews = NoopReviewer{}
	}
	return &Exchange{git: git, reviews: reviews, opts: opts, log: log}
}

// PushParams carries one push-bundle request.
type PushParams struct {
	RepoURL      string
	Branch       string
	Bundle       io.Reader
	CreateReview bool
	ReviewTitle  string
	ReviewBody   string
}

// PushResult distinguishes full success (review created) from partial
// success (pushed, review left to the caller).
type PushResult struct {
	Branch string
	Review *ReviewResult
}

// Fetch clones repoURL, bundles the requested branch's history, and streams
// the artifact into dst. The workspace is removed before Fetch returns,
// on success and on every failure path.
func (e *Exchange) Fetch(ctx context.Context, repoURL, branch string, dst io.Writer) (int64, error) {
	ws, err := newWorkspace(e.opts.WorkDir)
	if err != nil {
		return 0, err
	}
	defer ws.release(e.log)

	repoDir := ws.path("repo")
	args := []string{"clone", "--branch", branch, "--single-branch"}
	if e.opts.CloneDepth > 0 {
		args = append(args, "--depth", strconv.Itoa(e.opts.CloneDepth))
	}
	args = append(args, repoURL, repoDir)

	res, err := e.git.Run(ctx, ws.root, args...)
	if err != nil {
		return 0, err
	}
	if !res.Ok() {
		e.log.Warn("clone failed",
			zap.String("repo", RepoName(repoURL)),
			zap.String("branch", branch),
			zap.String("stderr", res.Stderr),
		)
		return 0, fmt.Errorf("%w: %s %s", ErrCloneFailed, RepoName(repoURL), branch)
	}

	bundlePath := ws.path("repo.bundle")
	res, err = e.git.Run(ctx, repoDir, "bundle", "create", bundlePath, branch)
	if err != nil {
		return 0, err
	}
	if !res.Ok() {
		e.log.Error("bundle creation failed", zap.String("stderr", res.Stderr))
		return 0, fmt.Errorf("%w: bundle creation failed", ErrCloneFailed)
	}

	f, err := os.Open(bundlePath)
	if err != nil {
		return 0, fmt.Errorf("failed to open bundle: %w", err)
	}
	defer f.Close()

	e.log.Info("bundle created",
		zap.String("repo", RepoName(repoURL)),
		zap.String("branch", branch),
	)
	return io.Copy(dst, f)
}

// Push materializes a fresh clone of repoURL, verifies and applies the
// supplied bundle into branch, and pushes the branch to the remote. An
// optional review request is a graceful-degradation side effect: its
// failure never fails the push. The workspace is removed on every path.
func (e *Exchange) Push(ctx context.Context, p PushParams) (*PushResult, error) {
	ws, err := newWorkspace(e.opts.WorkDir)
	if err != nil {
		return nil, err
	}
	defer ws.release(e.log)

	bundlePath := ws.path("incoming.bundle")
	if err := saveBundle(bundlePath, p.Bundle); err != nil {
		return nil, err
	}

	repoDir := ws.path("repo")
	res, err := e.git.Run(ctx, ws.root, "clone", p.RepoURL, repoDir)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		e.log.Warn("clone failed",
			zap.String("repo", RepoName(p.RepoURL)),
			zap.String("stderr", res.Stderr),
		)
		return nil, fmt.Errorf("%w: %s", ErrCloneFailed, RepoName(p.RepoURL))
	}

	// Validate before any application is attempted; malformed input must
	// never leave a partially applied state. Verification runs inside the
	// fresh clone because prerequisite commits are checked against it: a
	// well-formed bundle whose base is absent fails here as an apply
	// error, a malformed file as an invalid bundle.
	res, err = e.git.Run(ctx, repoDir, "bundle", "verify", bundlePath)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		e.log.Warn("bundle verification failed", zap.String("stderr", res.Stderr))
		if strings.Contains(res.Stderr, "prerequisite") {
			return nil, fmt.Errorf("%w: missing prerequisite commits", ErrBundleApply)
		}
		return nil, fmt.Errorf("%w: verification failed", ErrInvalidBundle)
	}

	refspec := p.Branch + ":" + p.Branch
	res, err = e.git.Run(ctx, repoDir, "fetch", bundlePath, refspec)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		e.log.Warn("bundle apply failed",
			zap.String("branch", p.Branch),
			zap.String("stderr", res.Stderr),
		)
		return nil, fmt.Errorf("%w: branch %s", ErrBundleApply, p.Branch)
	}

	res, err = e.git.Run(ctx, repoDir, "push", "origin", refspec)
	if err != nil {
		return nil, err
	}
	if !res.Ok() {
		e.log.Warn("push rejected",
			zap.String("repo", RepoName(p.RepoURL)),
			zap.String("branch", p.Branch),
			zap.String("stderr", res.Stderr),
		)
		return nil, fmt.Errorf("%w: branch %s", ErrPushRejected, p.Branch)
	}

	e.log.Info("branch pushed",
		zap.String("repo", RepoName(p.RepoURL)),
		zap.String("branch", p.Branch),
	)

	result := &PushResult{Branch: p.Branch}
	if p.CreateReview {
		review := e.reviews.CreateReview(ctx, repoDir, ReviewParams{
			RepoURL: p.RepoURL,
			Branch:  p.Branch,
			Title:   p.ReviewTitle,
			Body:    p.ReviewBody,
		})
		result.Review = &review
	}
	return result, nil
}

// RepoName extracts a repository's short name from its URL, for filenames
// and log fields.
func RepoName(repoURL string) string {
	trimmed := strings.TrimRight(repoURL, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "repo"
	}
	return trimmed
}

func saveBundle(path string, r io.Reader) error {
	f, err := os.OpenFile(filepath.Clean(path), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create bundle file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return fmt.Errorf("failed to save bundle: %w", err)
	}
	return nil
}
