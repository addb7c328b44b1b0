// Package git snapshots the maildir root, which may be a git repository, so
// every run and every mail client session becomes one commit.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// ErrDirty is returned when the repository has uncommitted changes before a
// run starts.
var ErrDirty = errors.New("git repository not clean, refusing to update mail")

// Repo runs git commands inside one working tree.
type Repo struct {
	Dir    string
	logger *slog.Logger
}

func Open(dir string, logger *slog.Logger) *Repo {
	return &Repo{Dir: dir, logger: logger}
}

func (r *Repo) IsClean(ctx context.Context) (bool, error) {
	out, err := r.output(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(out)) == 0, nil
}

// RequireClean returns ErrDirty unless the working tree is clean.
func (r *Repo) RequireClean(ctx context.Context) error {
	clean, err := r.IsClean(ctx)
	if err != nil {
		return err
	}
	if !clean {
		return ErrDirty
	}
	return nil
}

func (r *Repo) Add(ctx context.Context) error {
	return r.run(ctx, "add", ".")
}

func (r *Repo) Commit(ctx context.Context, message string) error {
	return r.run(ctx, "commit", "--quiet", "-m", message)
}

func (r *Repo) Pull(ctx context.Context) error {
	return r.run(ctx, "pull", "--quiet")
}

func (r *Repo) Push(ctx context.Context) error {
	return r.run(ctx, "push", "--quiet")
}

// Snapshot commits every change under message. It reports whether a commit
// was made.
func (r *Repo) Snapshot(ctx context.Context, message string) (bool, error) {
	clean, err := r.IsClean(ctx)
	if err != nil || clean {
		return false, err
	}
	if err := r.Add(ctx); err != nil {
		return false, err
	}
	if err := r.Commit(ctx, message); err != nil {
		return false, err
	}
	if r.logger != nil {
		r.logger.Info("committed mail changes", "dir", r.Dir, "message", message)
	}
	return true, nil
}

func (r *Repo) run(ctx context.Context, args ...string) error {
	_, err := r.output(ctx, args...)
	return err
}

func (r *Repo) output(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if r.logger != nil {
		r.logger.Debug("running git", "dir", r.Dir, "args", args)
	}
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("git %s: %w: %s", args[0], err, msg)
		}
		return nil, fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.Bytes(), nil
}
