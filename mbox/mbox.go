package mbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mbox-contacts/filter"
	"github.com/dhcgn/mbox-contacts/model"
	"github.com/dhcgn/mbox-contacts/runner"
)

type Options struct {
	Path           string
	DefaultCharset string
	Filter         *filter.Filter
}

// Reader streams decoded messages from one archive. Every call to Stream
// starts again from the beginning of the file.
type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	return &fileReader{
		path:    path,
		logger:  logger,
		filter:  opts.Filter,
		decoder: textDecoder{defaultCharset: opts.DefaultCharset},
	}, nil
}

type fileReader struct {
	path    string
	logger  *slog.Logger
	filter  *filter.Filter
	decoder textDecoder
}

func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	return f.each(ctx, func(env model.Envelope) error {
		return emitEnvelope(ctx, out, env)
	})
}

// each walks the archive and hands every message or per-message decode error
// to fn. Only archive-level failures are returned.
func (f *fileReader) each(ctx context.Context, fn func(model.Envelope) error) error {
	file, err := os.Open(f.path)
	if err != nil {
		return &ArchiveUnreadableError{Path: f.path, Err: err}
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	var offset int64

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &ArchiveUnreadableError{Path: f.path, Err: fmt.Errorf("message %d: %w", idx, err)}
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return &ArchiveUnreadableError{Path: f.path, Err: fmt.Errorf("message %d read: %w", idx, err)}
		}
		start := offset
		offset += int64(len(raw))

		if !f.filter.Allows(raw) {
			if f.logger != nil {
				f.logger.Debug("message filtered", "path", f.path, "index", idx)
			}
			continue
		}

		msg, err := decodeMessage(raw, f.decoder)
		if err != nil {
			decodeErr := &MessageDecodeError{Archive: f.path, Index: idx, Offset: start, Err: err}
			if f.logger != nil {
				f.logger.Warn("message decode failed", "path", f.path, "index", idx, "offset", start, "err", err)
			}
			if err := fn(model.Envelope{Err: decodeErr}); err != nil {
				return err
			}
			continue
		}

		msg.Index = idx
		msg.Archive = f.path
		if msg.Recovered && f.logger != nil {
			f.logger.Debug("message decoded with charset fallback", "path", f.path, "index", idx, "charset", msg.Charset)
		}

		if err := fn(model.Envelope{Message: msg}); err != nil {
			return err
		}
	}
}

func emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

// Producer feeds the runner mailbox from one or more archives, in order.
type Producer struct {
	readers []Reader
	runner  *runner.Runner
}

func NewProducer(paths []string, opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no mbox archives given")
	}

	producer := &Producer{runner: r}
	for _, path := range paths {
		readerOpts := opts
		readerOpts.Path = path
		reader, err := NewReader(readerOpts, logger)
		if err != nil {
			return nil, err
		}
		producer.readers = append(producer.readers, reader)
	}

	r.AddStage("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	for _, reader := range p.readers {
		if err := reader.Stream(ctx, p.runner.MailboxWriter()); err != nil {
			return err
		}
	}
	return nil
}

// Read iterates an archive synchronously, calling fn for each decoded message
// or decode error.
func Read(ctx context.Context, opts Options, fn func(model.Envelope) error) error {
	reader, err := NewReader(opts, nil)
	if err != nil {
		return err
	}
	return reader.(*fileReader).each(ctx, fn)
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, &ArchiveUnreadableError{Path: path, Err: err}
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	count := 0
	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return 0, &ArchiveUnreadableError{Path: path, Err: err}
		}

		// Consume the message without parsing; a short read still counts.
		_, _ = io.Copy(io.Discard, msgReader)
		count++
	}
}
