package extract

import (
	"context"
	"log/slog"

	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/normalize"
	"github.com/dhcgn/mbox-contacts/roster"
	"github.com/dhcgn/mbox-contacts/runner"
	"github.com/dhcgn/mbox-contacts/stats"
)

// Stage consumes decoded messages from the runner and fills a store with
// normalized contacts. The store belongs to the stage until the runner has
// finished.
type Stage struct {
	ext    *Extractor
	runner *runner.Runner
	logger *slog.Logger
	store  *roster.Store
}

func NewStage(ext *Extractor, r *runner.Runner, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Stage{
		ext:    ext,
		runner: r,
		logger: logger,
		store:  roster.NewStore(),
	}
	r.AddStage("extract", s.run)
	return s
}

func (s *Stage) Store() *roster.Store {
	return s.store
}

func (s *Stage) run(ctx context.Context) error {
	messages := s.runner.Messages()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				s.logger.Debug("extraction finished", "records", s.store.Len())
				return nil
			}
			s.handle(msg)
		}
	}
}

func (s *Stage) handle(msg model.Message) {
	ref := msg.Ref()
	res := s.ext.Extract(msg)
	if len(res.Candidates) == 0 {
		s.logger.Debug("no contact found", "messageID", ref)
		s.runner.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeNoMatch, MessageID: ref})
		return
	}

	for _, cand := range res.Candidates {
		contact, rejected := normalize.Contact(cand)
		for _, r := range rejected {
			s.logger.Debug("field rejected", "messageID", ref, "source", cand.Source, "err", r)
			s.runner.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeRejected, MessageID: ref, Err: r, Detail: string(r.Kind)})
		}
		if !s.store.Add(contact) {
			continue
		}
		s.runner.EmitEvent(stats.Event{Stage: stats.StageExtract, Type: stats.EventTypeCandidate, MessageID: ref, Detail: string(cand.Source)})
	}
}
