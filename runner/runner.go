// Package runner wires the import stages: a producer splits the mbox, the
// bridge drops repeated content, and a writer stores each message in the
// pool of new mail.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mailsort/model"
	"github.com/dhcgn/mailsort/state"
	"github.com/dhcgn/mailsort/stats"
)

var ErrMessageIDMissing = errors.New("mbox message missing id")

type StageFunc func(context.Context) error

type Runner struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	writes   chan model.RawMessage
	events   chan stats.Event

	tracker state.Tracker

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce sync.Once
	closeWritesOnce  sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

// New returns a runner whose stages stop when ctx is cancelled or any stage
// fails.
func New(ctx context.Context, logger *slog.Logger) *Runner {
	ctx, cancel := context.WithCancel(ctx)

	r := &Runner{
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		writes:   make(chan model.RawMessage, 32),
		events:   make(chan stats.Event, 128),
		tracker:  state.NewMemoryTracker(),
	}

	r.AddStage("bridge", r.bridge)
	return r
}

func (r *Runner) Logger() *slog.Logger {
	return r.logger
}

func (r *Runner) Context() context.Context {
	return r.ctx
}

func (r *Runner) Tracker() state.Tracker {
	return r.tracker
}

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

// Writes yields the messages that passed the bridge, in mbox order.
func (r *Runner) Writes() <-chan model.RawMessage {
	return r.writes
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start waits for every stage and stats subscriber and returns the first
// failure.
func (r *Runner) Start() error {
	r.since = time.Now()

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()
	duration := time.Since(r.since)
	if err != nil {
		r.logError("import failed", "duration", duration, "err", err)
		return err
	}

	r.logInfo("import completed", "duration", duration, "unique", r.tracker.Snapshot().Processed)
	return nil
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeWrites()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeError, Err: envelope.Err})
				r.fail(fmt.Errorf("mbox envelope: %w", envelope.Err))
				continue
			}
			if envelope.Filtered {
				r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeFiltered})
				continue
			}

			msg := envelope.Message
			r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeScanned, MessageID: msg.ID})

			if msg.ID == "" {
				r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeError, Err: ErrMessageIDMissing})
				r.fail(ErrMessageIDMissing)
				continue
			}

			if !r.tracker.MarkProcessed(msg.Hash, msg.ID) {
				r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeDuplicate, MessageID: msg.ID})
				r.logDebug("skipping repeated message", "messageID", msg.ID, "hash", msg.Hash)
				continue
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.writes <- msg:
				r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeEnqueued, MessageID: msg.ID})
			}
		}
	}
}

func (r *Runner) closeWrites() {
	r.closeWritesOnce.Do(func() {
		close(r.writes)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
		r.cancel()
	}
	r.errMu.Unlock()
}

func (r *Runner) logInfo(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Info(msg, args...)
	}
}

func (r *Runner) logError(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Error(msg, args...)
	}
}

func (r *Runner) logDebug(msg string, args ...any) {
	if r.logger != nil {
		r.logger.Debug(msg, args...)
	}
}
