package gitbundle

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	r, err := NewRunner(30 * time.Second)
	if err != nil {
		t.Skip("git not installed")
	}
	return r
}

// git runs a git command in dir and fails the test on a non-zero exit.
func git(t *testing.T, r *Runner, dir string, args ...string) string {
	t.Helper()
	res, err := r.Run(context.Background(), dir, args...)
	require.NoError(t, err)
	require.True(t, res.Ok(), "git %v: %s", args, res.Stderr)
	return strings.TrimSpace(res.Stdout)
}

// commit makes one commit in dir with a deterministic identity.
func commit(t *testing.T, r *Runner, dir, file, content, msg string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0o644))
	git(t, r, dir, "add", file)
	git(t, r, dir,
		"-c", "user.email=test@example.com",
		"-c", "user.name=Test",
		"commit", "-m", msg)
}

// initOrigin creates a bare origin with one commit on main and returns the
// origin path plus a working clone.
func initOrigin(t *testing.T, r *Runner) (origin, work string) {
	t.Helper()
	base := t.TempDir()
	origin = filepath.Join(base, "origin.git")
	work = filepath.Join(base, "work")

	git(t, r, base, "init", "--bare", "--initial-branch=main", origin)
	git(t, r, base, "clone", origin, work)
	git(t, r, work, "checkout", "-b", "main")
	commit(t, r, work, "README.md", "hello\n", "initial commit")
	git(t, r, work, "push", "origin", "main")
	return origin, work
}

func newTestExchange(t *testing.T, r *Runner) (*Exchange, string) {
	t.Helper()
	workDir := t.TempDir()
	ex := NewExchange(r, NoopReviewer{}, Options{WorkDir: workDir}, zap.NewNop())
	return ex, workDir
}

// assertNoWorkspaceLeft verifies every per-call workspace was released.
func assertNoWorkspaceLeft(t *testing.T, workDir string) {
	t.Helper()
	entries, err := os.ReadDir(workDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace directories left behind")
}

func TestFetch(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, workDir := newTestExchange(t, r)

	var buf bytes.Buffer
	n, err := ex.Fetch(context.Background(), origin, "main", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)
	assert.NotZero(t, buf.Len())

	// The artifact must be a valid bundle. Older git (< 2.48) requires a
	// repository to run `bundle verify`, so init an empty one.
	verifyDir := t.TempDir()
	git(t, r, verifyDir, "init", "--quiet")
	bundlePath := filepath.Join(verifyDir, "fetched.bundle")
	require.NoError(t, os.WriteFile(bundlePath, buf.Bytes(), 0o600))
	res, err := r.Run(context.Background(), verifyDir, "bundle", "verify", bundlePath)
	require.NoError(t, err)
	assert.True(t, res.Ok(), res.Stderr)

	assertNoWorkspaceLeft(t, workDir)
}

func TestFetch_UnknownBranch(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, workDir := newTestExchange(t, r)

	var buf bytes.Buffer
	_, err := ex.Fetch(context.Background(), origin, "does-not-exist", &buf)
	assert.ErrorIs(t, err, ErrCloneFailed)
	assert.Zero(t, buf.Len())
	assertNoWorkspaceLeft(t, workDir)
}

func TestFetch_UnreachableRemote(t *testing.T) {
	r := newTestRunner(t)
	ex, workDir := newTestExchange(t, r)

	var buf bytes.Buffer
	_, err := ex.Fetch(context.Background(), filepath.Join(t.TempDir(), "nope"), "main", &buf)
	assert.ErrorIs(t, err, ErrCloneFailed)
	assertNoWorkspaceLeft(t, workDir)
}

// makeBranchBundle prepares a client-side bundle: a new branch with one
// commit on top of origin's main, bundled the way a caller would upload it.
func makeBranchBundle(t *testing.T, r *Runner, origin, branch, file string) []byte {
	t.Helper()
	client := filepath.Join(t.TempDir(), "client")
	git(t, r, t.TempDir(), "clone", origin, client)
	git(t, r, client, "checkout", "-b", branch)
	commit(t, r, client, file, "change\n", "client change")

	bundlePath := filepath.Join(t.TempDir(), branch+".bundle")
	git(t, r, client, "bundle", "create", bundlePath, branch)
	data, err := os.ReadFile(bundlePath)
	require.NoError(t, err)
	return data
}

func TestPush_RoundTrip(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, workDir := newTestExchange(t, r)

	bundle := makeBranchBundle(t, r, origin, "feature", "change.txt")

	result, err := ex.Push(context.Background(), PushParams{
		RepoURL: origin,
		Branch:  "feature",
		Bundle:  bytes.NewReader(bundle),
	})
	require.NoError(t, err)
	assert.Equal(t, "feature", result.Branch)
	assert.Nil(t, result.Review)

	// The remote now has exactly the bundled branch.
	out := git(t, r, origin, "rev-parse", "--verify", "refs/heads/feature")
	assert.NotEmpty(t, out)

	assertNoWorkspaceLeft(t, workDir)
}

func TestPush_WithReviewDegradesGracefully(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, _ := newTestExchange(t, r)

	bundle := makeBranchBundle(t, r, origin, "feature-pr", "pr.txt")

	result, err := ex.Push(context.Background(), PushParams{
		RepoURL:      origin,
		Branch:       "feature-pr",
		Bundle:       bytes.NewReader(bundle),
		CreateReview: true,
		ReviewTitle:  "my change",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Review)
	assert.False(t, result.Review.Created)
	assert.NotEmpty(t, result.Review.Note)
}

func TestPush_InvalidBundle(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, workDir := newTestExchange(t, r)

	_, err := ex.Push(context.Background(), PushParams{
		RepoURL: origin,
		Branch:  "feature",
		Bundle:  strings.NewReader("this is not a git bundle"),
	})
	assert.ErrorIs(t, err, ErrInvalidBundle)
	assertNoWorkspaceLeft(t, workDir)

	// Nothing was applied: the remote has no feature branch.
	res, runErr := r.Run(context.Background(), origin, "rev-parse", "--verify", "refs/heads/feature")
	require.NoError(t, runErr)
	assert.False(t, res.Ok())
}

func TestPush_BundleDoesNotApply(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, workDir := newTestExchange(t, r)

	// An incremental bundle from an unrelated repository: its prerequisite
	// commits do not exist in the fetched base.
	unrelated := filepath.Join(t.TempDir(), "unrelated")
	git(t, r, t.TempDir(), "init", "--initial-branch=feature", unrelated)
	commit(t, r, unrelated, "a.txt", "a\n", "base")
	base := git(t, r, unrelated, "rev-parse", "HEAD")
	commit(t, r, unrelated, "b.txt", "b\n", "tip")
	bundlePath := filepath.Join(t.TempDir(), "partial.bundle")
	git(t, r, unrelated, "bundle", "create", bundlePath, base+"..feature")
	data, readErr := os.ReadFile(bundlePath)
	require.NoError(t, readErr)

	_, err := ex.Push(context.Background(), PushParams{
		RepoURL: origin,
		Branch:  "feature",
		Bundle:  bytes.NewReader(data),
	})
	assert.ErrorIs(t, err, ErrBundleApply)

	// Remote left unmodified, workspace removed.
	res, runErr := r.Run(context.Background(), origin, "rev-parse", "--verify", "refs/heads/feature")
	require.NoError(t, runErr)
	assert.False(t, res.Ok())
	assertNoWorkspaceLeft(t, workDir)
}

func TestPush_NonFastForwardRejected(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, workDir := newTestExchange(t, r)

	// Land a first version of the branch.
	first := makeBranchBundle(t, r, origin, "feature", "a.txt")
	_, err := ex.Push(context.Background(), PushParams{
		RepoURL: origin,
		Branch:  "feature",
		Bundle:  bytes.NewReader(first),
	})
	require.NoError(t, err)
	before := git(t, r, origin, "rev-parse", "refs/heads/feature")

	// A second bundle built without the first one's commit diverges; the
	// remote refuses the non-fast-forward push.
	diverged := makeBranchBundle(t, r, origin, "feature", "b.txt")
	_, err = ex.Push(context.Background(), PushParams{
		RepoURL: origin,
		Branch:  "feature",
		Bundle:  bytes.NewReader(diverged),
	})
	assert.ErrorIs(t, err, ErrPushRejected)

	after := git(t, r, origin, "rev-parse", "refs/heads/feature")
	assert.Equal(t, before, after)
	assertNoWorkspaceLeft(t, workDir)
}

func TestPush_RejectedByRemote(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, workDir := newTestExchange(t, r)

	// A pre-receive hook that refuses everything.
	hookDir := filepath.Join(origin, "hooks")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	hook := filepath.Join(hookDir, "pre-receive")
	require.NoError(t, os.WriteFile(hook, []byte("#!/bin/sh\nexit 1\n"), 0o755))

	bundle := makeBranchBundle(t, r, origin, "feature", "c.txt")
	_, err := ex.Push(context.Background(), PushParams{
		RepoURL: origin,
		Branch:  "feature",
		Bundle:  bytes.NewReader(bundle),
	})
	assert.ErrorIs(t, err, ErrPushRejected)
	assertNoWorkspaceLeft(t, workDir)
}

func TestFetch_CancelledContext(t *testing.T) {
	r := newTestRunner(t)
	origin, _ := initOrigin(t, r)
	ex, workDir := newTestExchange(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	_, err := ex.Fetch(ctx, origin, "main", &buf)
	assert.Error(t, err)
	assertNoWorkspaceLeft(t, workDir)
}

func TestRepoName(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://github.com/user/repo.git", "repo"},
		{"https://github.com/user/repo", "repo"},
		{"https://github.com/user/repo/", "repo"},
		{"git@github.com:user/repo.git", "repo"},
		{"", "repo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RepoName(tt.url), "url %q", tt.url)
	}
}
