package mbox

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	mboxlib "github.com/emersion/go-mbox"
	"github.com/klauspost/compress/gzip"
	"lukechampine.com/blake3"

	"github.com/dhcgn/mailsort/keyword"
	"github.com/dhcgn/mailsort/model"
	"github.com/dhcgn/mailsort/runner"
	"github.com/dhcgn/mailsort/store"
)

var ErrMessageIDMissing = errors.New("mbox message missing Message-Id header")

type Options struct {
	Path   string
	Filter keyword.FilterOptions
}

type Reader interface {
	Stream(ctx context.Context, out chan<- model.Envelope) error
}

func NewReader(opts Options, logger *slog.Logger) (Reader, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}

	filter, err := keyword.NewFilter(opts.Filter)
	if err != nil {
		return nil, err
	}

	return &fileReader{path: path, logger: logger, filter: filter}, nil
}

type fileReader struct {
	path   string
	logger *slog.Logger
	filter *keyword.Filter
}

func (f *fileReader) Stream(ctx context.Context, out chan<- model.Envelope) error {
	file, err := Open(f.path)
	if err != nil {
		return err
	}
	defer file.Close()
	reader := mboxlib.NewReader(file)

	for idx := 0; ; idx++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return f.emitError(ctx, out, fmt.Errorf("message %d: %w", idx, err))
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			return f.emitError(ctx, out, fmt.Errorf("message %d read: %w", idx, err))
		}

		if !f.filter.Allows(keyword.SplitRawMessage(raw)) {
			if err := f.emitEnvelope(ctx, out, model.Envelope{Filtered: true}); err != nil {
				return err
			}
			continue
		}

		msg, err := parseMail(raw)
		if err != nil {
			if errors.Is(err, ErrMessageIDMissing) {
				err = fmt.Errorf("message %d: %w", idx, err)
			} else {
				err = fmt.Errorf("message %d parse: %w", idx, err)
			}
			return f.emitError(ctx, out, err)
		}

		if err := f.emitEnvelope(ctx, out, model.Envelope{Message: msg}); err != nil {
			return err
		}
	}
}

func (f *fileReader) emitError(ctx context.Context, out chan<- model.Envelope, err error) error {
	if f.logger != nil {
		f.logger.Error("mbox stream error", "path", f.path, "err", err)
	}
	return f.emitEnvelope(ctx, out, model.Envelope{Err: err})
}

func (f *fileReader) emitEnvelope(ctx context.Context, out chan<- model.Envelope, env model.Envelope) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case out <- env:
		return nil
	}
}

func parseMail(raw []byte) (model.RawMessage, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) && !message.IsUnknownEncoding(err) {
		return model.RawMessage{}, err
	}
	header := mail.Header{Header: entity.Header}

	id := store.NormalizeID(header.Get("Message-Id"))
	if id == "" {
		return model.RawMessage{}, ErrMessageIDMissing
	}

	var receivedAt time.Time
	if date, err := header.Date(); err == nil {
		receivedAt = date
	}

	sum := blake3.Sum256(raw)
	return model.RawMessage{
		ID:         id,
		Hash:       hex.EncodeToString(sum[:]),
		ReceivedAt: receivedAt,
		Size:       int64(len(raw)),
		Raw:        raw,
	}, nil
}

type Producer struct {
	reader Reader
	runner *runner.Runner
}

func NewProducer(opts Options, r *runner.Runner, logger *slog.Logger) (*Producer, error) {
	reader, err := NewReader(opts, logger)
	if err != nil {
		return nil, err
	}
	producer := &Producer{reader: reader, runner: r}
	r.AddStage("mbox", producer.run)
	return producer, nil
}

func (p *Producer) run(ctx context.Context) error {
	defer p.runner.CloseMailbox()
	return p.reader.Stream(ctx, p.runner.MailboxWriter())
}

// Open opens an mbox file. Files ending in .gz are decompressed on the fly.
func Open(path string) (io.ReadCloser, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return file, nil
	}
	zr, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("open gzip mbox: %w", err)
	}
	return &gzipFile{Reader: zr, file: file}, nil
}

type gzipFile struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	if err := g.file.Close(); err != nil {
		return err
	}
	return zerr
}

// Message is a single message of an mbox file, as seen by the statistics.
type Message struct {
	Header mail.Header
	Body   []byte
}

// Read iterates the messages of an mbox file. Messages whose header cannot
// be parsed are skipped.
func Read(path string, callback func(m *Message) error) error {
	file, err := Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	reader := mboxlib.NewReader(file)

	for {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			continue
		}
		entity, err := message.Read(bytes.NewReader(raw))
		if err != nil && entity == nil {
			continue
		}
		_, body := keyword.SplitRawMessage(raw)

		if err := callback(&Message{Header: mail.Header{Header: entity.Header}, Body: body}); err != nil {
			return err
		}
	}
}

// CountMessages counts the total number of messages in an mbox file.
func CountMessages(path string) (int, error) {
	file, err := Open(path)
	if err != nil {
		return 0, err
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
			return 0, err
		}
		if _, err := io.Copy(io.Discard, msgReader); err != nil {
			return 0, err
		}
		count++
	}
}
