package stats

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

type Stage string

const (
	StageMbox Stage = "mbox"
	StagePool Stage = "pool"
)

type EventType string

const (
	EventTypeScanned   EventType = "scanned"
	EventTypeFiltered  EventType = "filtered"
	EventTypeEnqueued  EventType = "enqueued"
	EventTypeWritten   EventType = "written"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeError     EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Size      int64
	Err       error
	Detail    string
}

// Summary counts the events of one import.
type Summary struct {
	Scanned    int
	Filtered   int
	Enqueued   int
	Written    int
	Duplicates int
	Errors     int
	Bytes      int64
	LastError  error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"filtered", s.Filtered,
		"enqueued", s.Enqueued,
		"written", s.Written,
		"duplicates", s.Duplicates,
		"errors", s.Errors,
		"size", humanize.Bytes(uint64(s.Bytes)),
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeEnqueued:
		c.summary.Enqueued++
	case EventTypeWritten:
		c.summary.Written++
		c.summary.Bytes += evt.Size
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

// Reporter logs the import summary once the event stream closes.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("import stats stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("import summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Count is one entry of a frequency table.
type Count struct {
	Key   string
	Value int
}

// Top returns the entries of m by descending count, ties by key, at most
// limit of them. A negative limit returns all entries.
func Top(m map[string]int, limit int) []Count {
	pairs := make([]Count, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Count{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}
