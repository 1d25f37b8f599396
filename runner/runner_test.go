package runner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/stats"
)

func feed(envelopes ...model.Envelope) func(*Runner) StageFunc {
	return func(r *Runner) StageFunc {
		return func(ctx context.Context) error {
			defer r.CloseMailbox()
			for _, env := range envelopes {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case r.MailboxWriter() <- env:
				}
			}
			return nil
		}
	}
}

func collect(r *Runner) *[]model.Message {
	var got []model.Message
	r.AddStage("collect", func(ctx context.Context) error {
		for msg := range r.Messages() {
			got = append(got, msg)
		}
		return nil
	})
	return &got
}

func TestBridgeSkipsErrorsAndDuplicates(t *testing.T) {
	r := New(nil)
	r.AddStage("feed", feed(
		model.Envelope{Message: model.Message{ID: "<a@x>", Index: 0}},
		model.Envelope{Err: errors.New("broken header")},
		model.Envelope{Message: model.Message{ID: "<a@x>", Index: 2}},
		model.Envelope{Message: model.Message{Hash: "h1", Index: 3, Recovered: true}},
		model.Envelope{Message: model.Message{Hash: "h1", Index: 4}},
		model.Envelope{Message: model.Message{Index: 5}},
	)(r))
	got := collect(r)
	reporter := stats.NewReporter(r, nil)

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if len(*got) != 3 {
		t.Fatalf("got %d messages, want 3", len(*got))
	}
	for i, want := range []int{0, 3, 5} {
		if (*got)[i].Index != want {
			t.Errorf("message %d has index %d, want %d", i, (*got)[i].Index, want)
		}
	}

	summary := reporter.Summary()
	if summary.Scanned != 3 || summary.DecodeErrors != 1 || summary.Duplicates != 2 || summary.Recovered != 1 {
		t.Errorf("unexpected summary: %+v", summary)
	}
}

func TestEverySubscriberSeesEveryEvent(t *testing.T) {
	r := New(nil)
	r.AddStage("feed", feed(
		model.Envelope{Message: model.Message{ID: "<a@x>"}},
		model.Envelope{Message: model.Message{ID: "<b@x>"}},
	)(r))
	collect(r)

	var mu sync.Mutex
	counts := map[string]int{}
	for _, name := range []string{"one", "two"} {
		name := name
		r.SubscribeStats(name, func(ctx context.Context, events <-chan stats.Event) error {
			for range events {
				mu.Lock()
				counts[name]++
				mu.Unlock()
			}
			return nil
		})
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if counts["one"] != 2 || counts["two"] != 2 {
		t.Errorf("counts = %v, want 2 events each", counts)
	}
}

func TestStageErrorCancelsRun(t *testing.T) {
	r := New(nil)
	boom := errors.New("boom")

	r.AddStage("feed", func(ctx context.Context) error {
		defer r.CloseMailbox()
		<-ctx.Done()
		return ctx.Err()
	})
	r.AddStage("failing", func(ctx context.Context) error {
		return boom
	})

	err := r.Start()
	if !errors.Is(err, boom) {
		t.Fatalf("Start error = %v, want %v", err, boom)
	}
}

func TestAbort(t *testing.T) {
	r := New(nil)
	cause := errors.New("stop")
	r.AddStage("feed", func(ctx context.Context) error {
		defer r.CloseMailbox()
		r.Abort(cause)
		<-ctx.Done()
		return nil
	})

	if err := r.Start(); !errors.Is(err, cause) {
		t.Fatalf("Start error = %v, want %v", err, cause)
	}
}

func TestEmitWithoutSubscribers(t *testing.T) {
	r := New(nil)
	r.EmitEvent(stats.Event{Type: stats.EventTypeScanned})
	r.AddStage("feed", feed()(r))
	if err := r.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
}
