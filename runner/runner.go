package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/stats"
)

type StageFunc func(context.Context) error

type stage struct {
	name string
	fn   StageFunc
}

// Runner wires the archive producer to the extraction stage. The bridge
// stage counts envelopes, absorbs per-message decode errors and drops
// messages already seen in an earlier archive.
type Runner struct {
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	messages chan model.Envelope
	decoded  chan model.Message

	subsMu sync.Mutex
	subs   []chan stats.Event

	stages []stage

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeMailboxOnce sync.Once
	closeDecodedOnce sync.Once
	closeEventsOnce  sync.Once
	since            time.Time
}

func New(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	r := &Runner{
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		messages: make(chan model.Envelope, 32),
		decoded:  make(chan model.Message, 32),
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

func (r *Runner) MailboxWriter() chan<- model.Envelope {
	return r.messages
}

func (r *Runner) CloseMailbox() {
	r.closeMailboxOnce.Do(func() {
		close(r.messages)
	})
}

// Messages delivers successfully decoded, not yet seen messages.
func (r *Runner) Messages() <-chan model.Message {
	return r.decoded
}

// EmitEvent delivers evt to every stats subscriber. Without subscribers the
// event is dropped.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subsMu.Lock()
	subs := r.subs
	r.subsMu.Unlock()

	for _, ch := range subs {
		select {
		case <-r.ctx.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats registers a consumer receiving its own copy of every event.
// Subscribers must be registered before Start.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subsMu.Lock()
	r.subs = append(r.subs, ch)
	r.subsMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

// AddStage registers a stage. Stages run once Start is called, so every
// stats subscriber sees every event.
func (r *Runner) AddStage(name string, fn StageFunc) {
	r.stages = append(r.stages, stage{name: name, fn: fn})
}

// Start runs the registered stages, blocks until every stage has finished
// and returns the first stage error, if any.
func (r *Runner) Start() error {
	r.since = time.Now()

	for _, s := range r.stages {
		r.workWG.Add(1)
		go func(s stage) {
			defer r.workWG.Done()
			if err := s.fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.fail(fmt.Errorf("%s stage: %w", s.name, err))
			}
		}(s)
	}

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	r.cancel()

	r.errMu.Lock()
	err := r.err
	r.errMu.Unlock()

	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("extraction failed", "duration", duration, "err", err)
		return err
	}

	r.logger.Info("extraction completed", "duration", duration)
	return nil
}

// Abort cancels the run with err.
func (r *Runner) Abort(err error) {
	r.fail(err)
}

func (r *Runner) bridge(ctx context.Context) error {
	defer r.closeDecoded()
	seen := make(map[string]struct{})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-r.messages:
			if !ok {
				return nil
			}

			if envelope.Err != nil {
				r.logger.Warn("message skipped", "err", envelope.Err)
				r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeDecodeError, Err: envelope.Err})
				continue
			}

			msg := envelope.Message
			key := msg.ID
			if key == "" {
				key = msg.Hash
			}
			if key != "" {
				if _, dup := seen[key]; dup {
					r.logger.Debug("duplicate message skipped", "messageID", msg.Ref())
					r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeDuplicate, MessageID: msg.Ref()})
					continue
				}
				seen[key] = struct{}{}
			}

			r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeScanned, MessageID: msg.Ref()})
			if msg.Recovered {
				r.EmitEvent(stats.Event{Stage: stats.StageMbox, Type: stats.EventTypeRecovered, MessageID: msg.Ref()})
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case r.decoded <- msg:
			}
		}
	}
}

func (r *Runner) closeDecoded() {
	r.closeDecodedOnce.Do(func() {
		close(r.decoded)
	})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subsMu.Lock()
		defer r.subsMu.Unlock()
		for _, ch := range r.subs {
			close(ch)
		}
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
