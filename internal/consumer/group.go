package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// GroupConfig describes the consumer group shared by every topic reader.
type GroupConfig struct {
	Brokers []string
	GroupID string
	Topics  []string
}

func (c GroupConfig) validate() error {
	switch {
	case len(c.Brokers) == 0:
		return errors.New("consumer group: no brokers")
	case c.GroupID == "":
		return errors.New("consumer group: empty group id")
	case len(c.Topics) == 0:
		return errors.New("consumer group: no topics")
	}
	return nil
}

func (c GroupConfig) reader(topic string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:         c.Brokers,
		GroupID:         c.GroupID,
		Topic:           topic,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
}

// RunGroup runs one Processor per topic and blocks until every one has
// stopped. Cancellation is a clean stop; anything else is returned.
func RunGroup(ctx context.Context, cfg GroupConfig, handler Handler, opts ...Option) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(cfg.Topics))
	for i, topic := range cfg.Topics {
		reader := cfg.reader(topic)
		proc := NewProcessor(reader, handler, opts...)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer reader.Close()

			proc.logger.Printf("consuming %s as %s", topic, cfg.GroupID)
			if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs[i] = fmt.Errorf("topic %s: %w", topic, err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
