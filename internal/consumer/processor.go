// Package consumer reads scheduler notifications from Kafka and fans them out to user inboxes.
package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/padrededios/stepzy/internal/outbox"
)

// ErrUnhandled marks a message the handler can never process. Such messages
// are committed so they do not block the partition.
var ErrUnhandled = errors.New("message cannot be handled")

var errMissingHeader = errors.New("missing header")

// Reader is the subset of *kafka.Reader the processor uses.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// Handler receives decoded messages from Kafka.
type Handler interface {
	Handle(context.Context, Message) error
}

// Message is a decoded record written by the outbox dispatcher.
type Message struct {
	Topic         string
	Partition     int
	Offset        int64
	Timestamp     time.Time
	EventType     string
	EventID       string
	SchemaSubject string
	SchemaID      int
	Payload       json.RawMessage
}

// Option configures optional behaviour for the Processor.
type Option func(*Processor)

// WithLogger overrides the logger used to report errors.
func WithLogger(logger *log.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithRetry sets how many times a failing handler is called per message and
// the initial pause between calls, doubled after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Processor) {
		p.attempts = max(attempts, 1)
		p.backoff = backoff
	}
}

// Processor fetches records, decodes them and hands them to a Handler,
// committing each offset once the record is handled or known to be unusable.
type Processor struct {
	reader   Reader
	handler  Handler
	logger   *log.Logger
	attempts int
	backoff  time.Duration
}

// NewProcessor constructs a Processor with the provided reader and handler.
func NewProcessor(reader Reader, handler Handler, opts ...Option) *Processor {
	p := &Processor{
		reader:   reader,
		handler:  handler,
		logger:   log.New(log.Writer(), "[consumer] ", log.LstdFlags|log.Lshortfile),
		attempts: 3,
		backoff:  200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes records until ctx is cancelled, returning the context error.
func (p *Processor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := p.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			p.logger.Printf("fetch: %v", err)
			if err := sleep(ctx, p.backoff); err != nil {
				return err
			}
			continue
		}

		if p.process(ctx, record) {
			if err := p.reader.CommitMessages(ctx, record); err != nil {
				p.logger.Printf("commit %s/%d@%d: %v", record.Topic, record.Partition, record.Offset, err)
			}
		}
	}
}

// process reports whether the record's offset should be committed.
func (p *Processor) process(ctx context.Context, record kafka.Message) bool {
	msg, err := decodeMessage(record)
	if err != nil {
		p.logger.Printf("decode %s/%d@%d: %v", record.Topic, record.Partition, record.Offset, err)
		recordDecodeError(record.Topic)
		return true
	}

	err = p.handle(ctx, msg)
	switch {
	case err == nil:
		recordProcessed(msg)
		return true
	case errors.Is(err, ErrUnhandled):
		p.logger.Printf("dropping event %s (%s): %v", msg.EventID, msg.EventType, err)
		recordHandlerError(msg)
		return true
	default:
		p.logger.Printf("event %s (%s) left uncommitted: %v", msg.EventID, msg.EventType, err)
		recordHandlerError(msg)
		return false
	}
}

func (p *Processor) handle(ctx context.Context, msg Message) error {
	delay := p.backoff
	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if err = p.handler.Handle(ctx, msg); err == nil || errors.Is(err, ErrUnhandled) {
			return err
		}
		if attempt == p.attempts {
			break
		}
		if sleepErr := sleep(ctx, delay); sleepErr != nil {
			return errors.Join(err, sleepErr)
		}
		delay *= 2
	}
	return fmt.Errorf("after %d attempts: %w", p.attempts, err)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func decodeMessage(record kafka.Message) (Message, error) {
	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	for _, key := range []string{outbox.HeaderEventType, outbox.HeaderEventID} {
		if headers[key] == "" {
			return Message{}, fmt.Errorf("%w %s", errMissingHeader, key)
		}
	}

	schemaID, body, err := outbox.DecodeWireFormat(record.Value)
	if err != nil {
		return Message{}, err
	}

	return Message{
		Topic:         record.Topic,
		Partition:     record.Partition,
		Offset:        record.Offset,
		Timestamp:     record.Time,
		EventType:     headers[outbox.HeaderEventType],
		EventID:       headers[outbox.HeaderEventID],
		SchemaSubject: headers[outbox.HeaderSchemaSubject],
		SchemaID:      schemaID,
		Payload:       json.RawMessage(append([]byte(nil), body...)),
	}, nil
}
