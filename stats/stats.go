package stats

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageMbox    Stage = "mbox"
	StageExtract Stage = "extract"
)

type EventType string

const (
	EventTypeScanned     EventType = "scanned"
	EventTypeDecodeError EventType = "decode_error"
	EventTypeRecovered   EventType = "recovered"
	EventTypeDuplicate   EventType = "duplicate"
	EventTypeNoMatch     EventType = "no_match"
	EventTypeCandidate   EventType = "candidate"
	EventTypeRejected    EventType = "rejected"
	EventTypeError       EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	MessageID string
	Err       error
	Detail    string
}

// Summary counts what happened during a run. Decode errors and rejected
// fields are recovered locally; Errors counts failures that aborted a stage.
type Summary struct {
	Scanned         int
	DecodeErrors    int
	Recovered       int
	Duplicates      int
	NoMatch         int
	Candidates      int
	Rejected        int
	Errors          int
	LastDecodeError error
	LastError       error

	// Filled in after extraction by the deduplication and write steps.
	Records       int
	MergedGroups  int
	RowsWritten   int
	InputContacts int
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"scanned", s.Scanned,
		"decodeErrors", s.DecodeErrors,
		"recovered", s.Recovered,
		"duplicates", s.Duplicates,
		"noMatch", s.NoMatch,
		"candidates", s.Candidates,
		"rejected", s.Rejected,
		"errors", s.Errors,
	}
	if s.LastDecodeError != nil {
		attrs = append(attrs, "lastDecodeError", s.LastDecodeError.Error())
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

// Apply folds one event into the summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeDecodeError:
		c.summary.DecodeErrors++
		if evt.Err != nil {
			c.summary.LastDecodeError = evt.Err
		}
	case EventTypeRecovered:
		c.summary.Recovered++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeNoMatch:
		c.summary.NoMatch++
	case EventTypeCandidate:
		c.summary.Candidates++
	case EventTypeRejected:
		c.summary.Rejected++
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
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("extraction stats", attrs...)
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

// Top returns the limit most frequent entries of m, ties ordered by key.
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
