// Package pool writes imported messages into the maildir of new mail that
// the sorting engine reads from.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dhcgn/mailsort/model"
	"github.com/dhcgn/mailsort/runner"
	"github.com/dhcgn/mailsort/stats"
	"github.com/dhcgn/mailsort/store"
)

var ErrMissingMessageID = errors.New("message id is empty")

type Options struct {
	// Dir is the pool maildir. It is created when missing.
	Dir string
	// Now stamps the file names of one import; defaults to time.Now.
	Now func() time.Time
}

// Writer is the last import stage. Every message becomes one file named
// {unix seconds}.{sequence}.mbox in the cur area of the pool.
type Writer struct {
	dir    store.Maildir
	runner *runner.Runner
	writes <-chan model.RawMessage
	logger *slog.Logger

	stamp int64
	count int
}

func NewWriter(opts Options, r *runner.Runner, logger *slog.Logger) (*Writer, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("pool directory is empty")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	dir := store.Maildir{Name: "new", Path: opts.Dir}
	if err := dir.Init(); err != nil {
		return nil, err
	}

	w := &Writer{
		dir:    dir,
		runner: r,
		writes: r.Writes(),
		logger: logger,
		stamp:  now().Unix(),
	}
	r.AddStage("pool", w.run)
	return w, nil
}

// Dir returns the pool maildir.
func (w *Writer) Dir() store.Maildir {
	return w.dir
}

func (w *Writer) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-w.writes:
			if !ok {
				return nil
			}
			if msg.ID == "" {
				w.runner.EmitEvent(stats.Event{Stage: stats.StagePool, Type: stats.EventTypeError, Err: ErrMissingMessageID})
				return ErrMissingMessageID
			}

			path, err := w.write(msg)
			if err != nil {
				err = fmt.Errorf("write message %s: %w", msg.ID, err)
				w.runner.EmitEvent(stats.Event{Stage: stats.StagePool, Type: stats.EventTypeError, MessageID: msg.ID, Err: err})
				return err
			}

			w.runner.EmitEvent(stats.Event{Stage: stats.StagePool, Type: stats.EventTypeWritten, MessageID: msg.ID, Size: msg.Size})
			if w.logger != nil {
				w.logger.Debug("wrote new message", "messageID", msg.ID, "path", path, "hash", msg.Hash)
			}
		}
	}
}

// write stores msg in tmp and renames it into cur once it is complete.
func (w *Writer) write(msg model.RawMessage) (string, error) {
	id := fmt.Sprintf("%010d.%05d.mbox", w.stamp, w.count)
	w.count++

	tmp := filepath.Join(w.dir.Path, "tmp", id)
	if err := writeSynced(tmp, msg.Raw); err != nil {
		_ = os.Remove(tmp)
		return "", err
	}
	dst := filepath.Join(w.dir.Path, "cur", store.Filename(id, ""))
	if err := os.Rename(tmp, dst); err != nil {
		return "", fmt.Errorf("commit %s: %w", dst, err)
	}
	return dst, nil
}

func writeSynced(path string, data []byte) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// NewTemp creates an empty pool below the system temp directory. cleanup
// removes it with everything left inside.
func NewTemp() (dir string, cleanup func() error, err error) {
	dir, err = os.MkdirTemp("", "mailsort-new-")
	if err != nil {
		return "", nil, fmt.Errorf("create pool: %w", err)
	}
	return dir, func() error { return os.RemoveAll(dir) }, nil
}
