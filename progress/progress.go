package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"

	"github.com/dhcgn/mailsort/assort"
	"github.com/dhcgn/mailsort/stats"
)

// Bar shows how far the mbox import has come.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar. It is only drawn at the info log level.
func New(total int, logLevel string) *Bar {
	bar := &Bar{
		total:   total,
		enabled: logLevel == "info" && total > 0,
	}

	if bar.enabled {
		pterm.Info.Printf("Messages in mbox: %d\n", total)
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Importing messages").
			Start()
		bar.pb = pb
	}

	return bar
}

// Update advances the bar for every message read from the mbox.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned:
		b.pb.Increment()
		if evt.MessageID != "" {
			displayID := evt.MessageID
			if len(displayID) > 40 {
				displayID = displayID[:37] + "..."
			}
			b.pb.UpdateTitle("Importing: " + displayID)
		}
	case stats.EventTypeFiltered:
		b.pb.Increment()
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}
	_, _ = b.pb.Stop()
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	defer b.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

func (b *Bar) Enabled() bool {
	return b.enabled
}

// Reporter prints the import and sorting summaries as terminal sections
// while the bar is in use; otherwise they only go to the log.
type Reporter struct {
	bar     *Bar
	logger  *slog.Logger
	started time.Time
}

func NewReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *Reporter {
	reporter := &Reporter{bar: bar, logger: logger, started: time.Now()}
	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
	}
	return reporter
}

// PrintImport prints the counters of a finished import.
func (r *Reporter) PrintImport(s stats.Summary) {
	if r == nil || r.bar == nil || !r.bar.enabled {
		return
	}
	pterm.Println()
	pterm.DefaultSection.Println("Import")
	pterm.Info.Printf("Duration: %v\n", time.Since(r.started).Round(time.Millisecond))
	pterm.Info.Printf("Scanned: %d\n", s.Scanned)
	pterm.Info.Printf("Filtered: %d\n", s.Filtered)
	pterm.Info.Printf("Written: %d (%s)\n", s.Written, humanize.Bytes(uint64(s.Bytes)))
	pterm.Info.Printf("Repeated (skipped): %d\n", s.Duplicates)
	if s.LastError != nil {
		pterm.Error.Printf("Last error: %v\n", s.LastError)
	}
}

// PrintPlan prints where the new mail went.
func (r *Reporter) PrintPlan(s assort.Summary) {
	if r == nil || r.bar == nil || !r.bar.enabled {
		return
	}
	pterm.Println()
	pterm.DefaultSection.Println("Sorted")
	for _, c := range stats.Top(s.Filed, -1) {
		pterm.Info.Printf("%s: %d\n", c.Key, c.Value)
	}
	for _, c := range stats.Top(s.Dropped, -1) {
		pterm.Warning.Printf("deleted (%s): %d\n", c.Key, c.Value)
	}
	pterm.Info.Printf("Marked read: %d, flagged: %d\n", s.Read, s.Flagged)
}
