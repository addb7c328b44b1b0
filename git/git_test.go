package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

func newRepo(t *testing.T) *Repo {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_AUTHOR_NAME", "mailsort")
	t.Setenv("GIT_AUTHOR_EMAIL", "mailsort@example.org")
	t.Setenv("GIT_COMMITTER_NAME", "mailsort")
	t.Setenv("GIT_COMMITTER_EMAIL", "mailsort@example.org")
	t.Setenv("GIT_CONFIG_GLOBAL", os.DevNull)

	dir := t.TempDir()
	cmd := exec.Command("git", "init", "--quiet")
	cmd.Dir = dir
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("git init: %v: %s", err, out)
	}
	return Open(dir, nil)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)

	if err := repo.RequireClean(ctx); err != nil {
		t.Fatalf("fresh repository must be clean: %v", err)
	}
	committed, err := repo.Snapshot(ctx, "update")
	if err != nil || committed {
		t.Fatalf("Snapshot() on clean tree = %v, %v", committed, err)
	}

	if err := os.WriteFile(filepath.Join(repo.Dir, "1700000000.00000.mbox:2,"), []byte("mail"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := repo.RequireClean(ctx); !errors.Is(err, ErrDirty) {
		t.Fatalf("RequireClean() = %v, want ErrDirty", err)
	}

	committed, err = repo.Snapshot(ctx, "update")
	if err != nil || !committed {
		t.Fatalf("Snapshot() = %v, %v", committed, err)
	}
	if clean, err := repo.IsClean(ctx); err != nil || !clean {
		t.Fatalf("IsClean() after snapshot = %v, %v", clean, err)
	}
}

func TestPushWithoutRemoteFails(t *testing.T) {
	repo := newRepo(t)
	if err := repo.Push(context.Background()); err == nil {
		t.Fatal("expected push without a remote to fail")
	}
}

func TestOutsideRepository(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	t.Setenv("GIT_CEILING_DIRECTORIES", os.TempDir())
	repo := Open(t.TempDir(), nil)
	if _, err := repo.IsClean(context.Background()); err == nil {
		t.Fatal("expected status outside a repository to fail")
	}
}
