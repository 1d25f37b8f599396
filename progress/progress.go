package progress

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-contacts/stats"
)

// Enabled reports whether progress output makes sense: info logging on an
// interactive terminal.
func Enabled(logLevel string, out *os.File) bool {
	if logLevel != "info" || out == nil {
		return false
	}
	fd := out.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Bar manages a progress bar over the messages of the input archives.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	total   int
	current int
	mu      sync.Mutex
	enabled bool
}

// New creates a progress bar for total messages. A disabled bar ignores
// every call.
func New(total int, enabled bool) *Bar {
	bar := &Bar{total: total, enabled: enabled && total > 0}

	if bar.enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Extracting contacts").
			Start()
		bar.pb = pb

		pterm.Info.Printf("Messages in archives: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Update advances the bar for every message leaving the decoder.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeScanned, stats.EventTypeDecodeError, stats.EventTypeDuplicate:
		if b.current >= b.total {
			return
		}
		b.current++
		b.pb.Increment()

		if evt.MessageID != "" {
			displayID := evt.MessageID
			if len(displayID) > 40 {
				displayID = displayID[:37] + "..."
			}
			b.pb.UpdateTitle("Extracting: " + displayID)
		}
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
	b.pb.Stop()
}

// Subscriber is a stats subscriber updating the bar.
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

// Reporter wraps a stats collector with the optional bar and prints the
// final summary.
type Reporter struct {
	bar       *Bar
	collector *stats.Collector
	started   time.Time
}

// NewReporter subscribes the bar, when enabled, and a collector to stream.
func NewReporter(stream stats.EventStream, bar *Bar) *Reporter {
	reporter := &Reporter{
		bar:       bar,
		collector: stats.NewCollector(),
		started:   time.Now(),
	}

	if bar != nil && bar.enabled {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
	}
	stream.SubscribeStats("progress-stats", func(ctx context.Context, events <-chan stats.Event) error {
		reporter.collector.Run(ctx, events)
		return nil
	})

	return reporter
}

// Summary returns the counts collected so far.
func (r *Reporter) Summary() stats.Summary {
	return r.collector.Snapshot()
}

// Print writes the summary. Recovered per-message problems are listed apart
// from the error that aborted the run, if any.
func (r *Reporter) Print(summary stats.Summary, runErr error) {
	pterm.Println()
	pterm.DefaultSection.Println("Summary")
	pterm.Info.Printf("Duration: %v\n", time.Since(r.started).Round(time.Millisecond))
	pterm.Info.Printf("Messages scanned: %d\n", summary.Scanned)
	pterm.Info.Printf("Duplicates (skipped): %d\n", summary.Duplicates)
	pterm.Info.Printf("Candidates: %d\n", summary.Candidates)
	pterm.Info.Printf("Without contact: %d\n", summary.NoMatch)
	pterm.Info.Printf("Records: %d\n", summary.Records)
	pterm.Info.Printf("Merged groups: %d\n", summary.MergedGroups)
	pterm.Info.Printf("Rows written: %d\n", summary.RowsWritten)

	pterm.DefaultSection.Println("Recovered")
	pterm.Info.Printf("Undecodable messages: %d\n", summary.DecodeErrors)
	pterm.Info.Printf("Charset fallbacks: %d\n", summary.Recovered)
	pterm.Info.Printf("Rejected fields: %d\n", summary.Rejected)
	if summary.LastDecodeError != nil {
		pterm.Warning.Printf("Last decode error: %v\n", summary.LastDecodeError)
	}

	if runErr != nil {
		pterm.DefaultSection.Println("Aborted")
		pterm.Error.Printf("%v\n", runErr)
		return
	}
	pterm.Success.Println("Roster written")
}
