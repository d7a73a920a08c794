// Copyright (c) 2025 Open Swarm Contributors
//
// This software is released under the MIT License.
// See LICENSE file in the repository for details.

// Package worktree creates and removes the per-cell Git worktrees that
// back a cell's filesystem checkout.
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"time"

	"github.com/bitfield/script"
)

var validIdentifier = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)

func isValidIdentifier(s string) bool {
	return s != "" && validIdentifier.MatchString(s)
}

// TimingFunc reports the duration of an intra-phase step.
type TimingFunc func(step string, d time.Duration, metadata map[string]any)

// CreateOptions configures CreateWorktree.
type CreateOptions struct {
	// TemplateID identifies the template whose IncludeCopy patterns, if
	// any, are copied into the new worktree.
	TemplateID string
	// IncludeCopy lists glob patterns (relative to the repo root) of
	// files the template wants copied into every new worktree
	// (e.g. local env files that are gitignored but required to run).
	IncludeCopy []string
	// Force wipes a prior path/branch before creating, making the call
	// idempotent across provisioning retries.
	Force bool
	// OnTimingEvent, if set, is invoked once per intra-phase step.
	OnTimingEvent TimingFunc
}

// Result is the outcome of a successful CreateWorktree call.
type Result struct {
	Path       string
	Branch     string
	BaseCommit string
}

// Manager creates and removes Git worktrees rooted under cellsRoot, all
// branched off repoDir.
type Manager struct {
	repoDir   string
	cellsRoot string
}

// NewManager creates a Manager. repoDir is the primary checkout whose
// HEAD worktrees are branched from; cellsRoot is the directory under
// which every cell's worktree is placed at cellsRoot/<cellID>.
func NewManager(repoDir, cellsRoot string) *Manager {
	return &Manager{repoDir: repoDir, cellsRoot: cellsRoot}
}

// Path returns the deterministic worktree path for a cell, without
// creating anything. The Provisioning Engine reserves this path before
// the worktree exists so the cell row can be inserted first.
func (m *Manager) Path(cellID string) string {
	return filepath.Join(m.cellsRoot, cellID)
}

// Branch returns the deterministic branch name for a cell.
func (m *Manager) Branch(cellID string) string {
	return "cell-" + cellID
}

func (m *Manager) emit(fn TimingFunc, step string, start time.Time, metadata map[string]any) {
	if fn == nil {
		return
	}
	fn(step, time.Since(start), metadata)
}

// CreateWorktree creates (or, with Force, re-creates) the worktree for a
// cell. It is safe to call twice with Force=true for the same cellID:
// the second call wipes and rebuilds instead of failing on
// branch_exists/worktree_exists.
func (m *Manager) CreateWorktree(ctx context.Context, cellID string, opts CreateOptions) (*Result, error) {
	if !isValidIdentifier(cellID) {
		return nil, newErr(KindFilesystem, cellID, "", "invalid cell id", nil)
	}
	if _, err := exec.LookPath("git"); err != nil {
		return nil, newErr(KindGitMissing, cellID, "", "git binary not found on PATH", err)
	}

	path := m.Path(cellID)
	branch := m.Branch(cellID)

	if opts.Force {
		_ = m.forceWipe(ctx, cellID, path, branch)
	}

	if err := os.MkdirAll(m.cellsRoot, 0o750); err != nil {
		return nil, newErr(KindFilesystem, cellID, path, "failed to create cells root", err)
	}

	if _, err := os.Stat(path); err == nil && !opts.Force {
		return nil, newErr(KindWorktreeExists, cellID, path, "worktree path already exists", nil)
	}

	start := time.Now()
	baseCommit, err := m.resolveHead(ctx)
	m.emit(opts.OnTimingEvent, "resolve_head", start, nil)
	if err != nil {
		return nil, newErr(KindHeadResolutionFail, cellID, path, "failed to resolve HEAD", err)
	}

	start = time.Now()
	if err := m.addWorktree(ctx, path, branch, baseCommit); err != nil {
		m.emit(opts.OnTimingEvent, "create_worktree", start, map[string]any{"status": "error"})
		return nil, classifyAddError(cellID, path, err)
	}
	m.emit(opts.OnTimingEvent, "create_worktree", start, map[string]any{"status": "ok"})

	if len(opts.IncludeCopy) > 0 {
		start = time.Now()
		err := m.copyIncludes(path, opts.IncludeCopy)
		m.emit(opts.OnTimingEvent, "copy_includes", start, map[string]any{
			"patterns": opts.IncludeCopy,
		})
		if err != nil {
			return nil, newErr(KindFilesystem, cellID, path, "failed to copy template include patterns", err)
		}
	}

	return &Result{Path: path, Branch: branch, BaseCommit: baseCommit}, nil
}

func (m *Manager) resolveHead(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = m.repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git rev-parse HEAD: %w: %s", err, string(out))
	}
	commit := string(out)
	for len(commit) > 0 && (commit[len(commit)-1] == '\n' || commit[len(commit)-1] == '\r') {
		commit = commit[:len(commit)-1]
	}
	return commit, nil
}

// addWorktree uses "-B" (not "-b") so a retry that hits an already-created
// branch from a prior, partially-failed attempt reuses it instead of
// erroring with "branch already exists" — required for invariant 3's
// idempotent resume/retry semantics.
func (m *Manager) addWorktree(ctx context.Context, path, branch, baseCommit string) error {
	cmd := exec.CommandContext(ctx, "git", "worktree", "add", "-B", branch, path, baseCommit)
	cmd.Dir = m.repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(out))
	}
	return nil
}

func classifyAddError(cellID, path string, err error) *Error {
	// git's own diagnostics are the only signal we have post-hoc; this is
	// a best-effort classification, not a parse of git's stable API.
	msg := err.Error()
	switch {
	case containsAny(msg, "already exists"):
		return newErr(KindWorktreeExists, cellID, path, msg, err)
	case containsAny(msg, "is already used by worktree"):
		return newErr(KindBranchExists, cellID, path, msg, err)
	case containsAny(msg, "already registered"):
		return newErr(KindPathInUse, cellID, path, msg, err)
	default:
		return newErr(KindFilesystem, cellID, path, msg, err)
	}
}

func containsAny(haystack string, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

// copyIncludes copies every file matching each glob pattern (resolved
// against the repo root) into the same relative path inside the new
// worktree, used for template-tracked files (local env, generated
// config) that Git itself does not carry into a worktree.
func (m *Manager) copyIncludes(worktreePath string, patterns []string) error {
	for _, pattern := range patterns {
		matches, err := script.ListFiles(filepath.Join(m.repoDir, pattern)).Slice()
		if err != nil {
			return fmt.Errorf("copy include pattern %q: %w", pattern, err)
		}
		for _, src := range matches {
			rel, _ := filepath.Rel(m.repoDir, src)
			dst := filepath.Join(worktreePath, rel)
			if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
				return fmt.Errorf("copy include pattern %q: %w", pattern, err)
			}
			if out, err := exec.Command("cp", src, dst).CombinedOutput(); err != nil {
				return fmt.Errorf("copy include pattern %q: %w: %s", pattern, err, out)
			}
		}
	}
	return nil
}

// RemoveWorktree removes a cell's worktree. It is best-effort: structural
// Git failures are returned so the caller can fall back to a recursive
// filesystem removal (invariant 7).
func (m *Manager) RemoveWorktree(ctx context.Context, cellID string) error {
	path := m.Path(cellID)
	cmd := exec.CommandContext(ctx, "git", "worktree", "remove", path, "--force")
	cmd.Dir = m.repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		return newErr(KindFilesystem, cellID, path, string(out), err)
	}
	return nil
}

// forceWipe removes a stale path/branch left over from a previous failed
// attempt before recreating; errors are ignored since the subsequent
// create will surface anything that still matters.
func (m *Manager) forceWipe(ctx context.Context, cellID, path, branch string) error {
	_ = m.RemoveWorktree(ctx, cellID)
	_ = os.RemoveAll(path)
	cmd := exec.CommandContext(ctx, "git", "branch", "-D", branch)
	cmd.Dir = m.repoDir
	_, _ = cmd.CombinedOutput()
	prune := exec.CommandContext(ctx, "git", "worktree", "prune")
	prune.Dir = m.repoDir
	_, _ = prune.CombinedOutput()
	return nil
}

// Diff returns the diff of cellID's working tree against its base commit
// (committed and uncommitted changes to tracked files). Untracked files
// do not appear in it.
func (m *Manager) Diff(ctx context.Context, cellID, baseCommit string) (string, error) {
	path := m.Path(cellID)
	cmd := exec.CommandContext(ctx, "git", "diff", baseCommit, "--", ".")
	cmd.Dir = path
	out, err := cmd.Output()
	if err != nil {
		return "", newErr(KindFilesystem, cellID, path, string(out), err)
	}
	return string(out), nil
}

// RemoveFilesystemFallback recursively deletes a worktree path directly,
// used when RemoveWorktree fails with a structural Git error (invariant 7).
func RemoveFilesystemFallback(path string) error {
	if path == "" || path == "/" {
		return fmt.Errorf("refusing to remove unsafe path %q", path)
	}
	return os.RemoveAll(path)
}
