// Package outbox persists and delivers session notifications to Kafka.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Message is an outbox row claimed for delivery. Field order matches the claim query.
type Message struct {
	EventID       int64
	AggregateType string
	AggregateID   string
	EventType     string
	Topic         string
	SchemaSubject string
	PartitionKey  string
	Payload       json.RawMessage
}

type failedMessage struct {
	msg    Message
	reason string
}

// deliveryReport splits a claimed batch into what reached Kafka and what did not.
type deliveryReport struct {
	delivered []Message
	failed    []failedMessage
}

func (r *deliveryReport) fail(msgs []Message, reason string) {
	for _, msg := range msgs {
		r.failed = append(r.failed, failedMessage{msg: msg, reason: fmt.Sprintf("%s (topic=%s)", reason, msg.Topic)})
	}
}

// Dispatcher polls the outbox table and publishes pending events to Kafka.
// Events that cannot be delivered are moved to the DLQ so they never block the queue.
type Dispatcher struct {
	pool         *pgxpool.Pool
	producer     messageWriter
	registry     schemaRegistrar
	logger       *log.Logger
	pollInterval time.Duration
	batchSize    int
	schemaIDs    sync.Map
	done         chan struct{}
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(pool *pgxpool.Pool, producer messageWriter, registry schemaRegistrar, pollInterval time.Duration, batchSize int) *Dispatcher {
	return &Dispatcher{
		pool:         pool,
		producer:     producer,
		registry:     registry,
		logger:       log.New(log.Writer(), "[outbox] ", log.LstdFlags),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
	}
}

// Start runs the polling loop until ctx is cancelled. Call it in a goroutine.
func (d *Dispatcher) Start(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		if err := d.processBatch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Printf("dispatch failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Wait blocks until Start has returned.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) processBatch(ctx context.Context) error {
	start := time.Now()

	messages, err := d.claim(ctx)
	if err != nil {
		return fmt.Errorf("claim outbox batch: %w", err)
	}
	if len(messages) == 0 {
		return nil
	}
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	report := d.deliver(ctx, messages)
	for _, f := range report.failed {
		d.logger.Printf("event %d not delivered: %s", f.msg.EventID, f.reason)
	}
	if err := d.settle(ctx, report); err != nil {
		return fmt.Errorf("settle outbox batch: %w", err)
	}

	deliveredCounter.Add(float64(len(report.delivered)))
	failedCounter.Add(float64(len(report.failed)))
	for _, f := range report.failed {
		dlqCounter.WithLabelValues(f.msg.Topic).Inc()
	}
	return nil
}

// claim locks the oldest unpublished rows and stamps claimed_at so concurrent
// dispatchers skip them.
func (d *Dispatcher) claim(ctx context.Context) ([]Message, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT event_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload
           FROM outbox
          WHERE published_at IS NULL
          ORDER BY event_id
          LIMIT $1
          FOR UPDATE SKIP LOCKED`, d.batchSize)
	if err != nil {
		return nil, err
	}
	messages, err := pgx.CollectRows(rows, pgx.RowToStructByPos[Message])
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET claimed_at = NOW() WHERE event_id = ANY($1)`, eventIDs(messages)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return messages, nil
}

// deliver writes one Kafka batch per topic, preserving claim order inside each
// topic. A bad message or a failing topic only fails its own records.
func (d *Dispatcher) deliver(ctx context.Context, messages []Message) deliveryReport {
	var report deliveryReport
	var topics []string
	byTopic := make(map[string][]Message)
	records := make(map[string][]kafka.Message)

	for _, msg := range messages {
		record, err := d.record(ctx, msg)
		if err != nil {
			report.fail([]Message{msg}, err.Error())
			continue
		}
		if _, seen := byTopic[msg.Topic]; !seen {
			topics = append(topics, msg.Topic)
		}
		byTopic[msg.Topic] = append(byTopic[msg.Topic], msg)
		records[msg.Topic] = append(records[msg.Topic], record)
	}

	for _, topic := range topics {
		if err := d.producer.WriteMessages(ctx, topic, records[topic]...); err != nil {
			report.fail(byTopic[topic], err.Error())
			continue
		}
		report.delivered = append(report.delivered, byTopic[topic]...)
	}
	return report
}

func (d *Dispatcher) record(ctx context.Context, msg Message) (kafka.Message, error) {
	meta, err := lookupSchema(msg.EventType)
	if err != nil {
		return kafka.Message{}, err
	}
	schemaID, err := d.schemaID(ctx, msg.SchemaSubject, meta.Schema)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(msg.PartitionKey),
		Value: encodeWireFormat(schemaID, msg.Payload),
		Headers: []kafka.Header{
			{Key: HeaderEventType, Value: []byte(msg.EventType)},
			{Key: HeaderSchemaSubject, Value: []byte(msg.SchemaSubject)},
			{Key: HeaderEventID, Value: []byte(strconv.FormatInt(msg.EventID, 10))},
		},
		Time: time.Now().UTC(),
	}, nil
}

func (d *Dispatcher) schemaID(ctx context.Context, subject, schema string) (int, error) {
	key := subject + "::" + schema
	if cached, ok := d.schemaIDs.Load(key); ok {
		return cached.(int), nil
	}
	id, err := d.registry.EnsureSchema(ctx, subject, schema)
	if err != nil {
		return 0, err
	}
	d.schemaIDs.Store(key, id)
	return id, nil
}

// settle dead-letters the failures and marks the whole batch published in one
// transaction, so a row is never both pending and dead-lettered.
func (d *Dispatcher) settle(ctx context.Context, report deliveryReport) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	settled := make([]Message, 0, len(report.delivered)+len(report.failed))
	settled = append(settled, report.delivered...)
	for _, f := range report.failed {
		if err := writeDLQ(ctx, tx, f.msg, f.reason); err != nil {
			return fmt.Errorf("dead-letter event %d: %w", f.msg.EventID, err)
		}
		settled = append(settled, f.msg)
	}

	if _, err := tx.Exec(ctx, `UPDATE outbox SET published_at = NOW() WHERE event_id = ANY($1)`, eventIDs(settled)); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func eventIDs(messages []Message) []int64 {
	ids := make([]int64, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.EventID)
	}
	return ids
}
