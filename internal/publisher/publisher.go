// Package publisher polls the store's event outbox and fans each row
// out to a broker.Broker, advancing a durable cursor so a restart
// resumes without re-publishing or dropping events.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zecsync/warpcore/internal/broker"
	"github.com/zecsync/warpcore/internal/store"
)

type Config struct {
	PollInterval time.Duration
	BatchSize    int
}

type Publisher struct {
	st store.Store
	br broker.Broker

	pollInterval time.Duration
	batchSize    int
}

func New(st store.Store, br broker.Broker, cfg Config) (*Publisher, error) {
	if st == nil {
		return nil, errors.New("publisher: store is nil")
	}
	if br == nil {
		return nil, errors.New("publisher: broker is nil")
	}

	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 || batchSize > 5000 {
		batchSize = 1000
	}

	return &Publisher{
		st:           st,
		br:           br,
		pollInterval: poll,
		batchSize:    batchSize,
	}, nil
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		if err := p.publishOnce(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Publisher) publishOnce(ctx context.Context) error {
	cursor, err := p.st.EventPublishCursor(ctx)
	if err != nil {
		return fmt.Errorf("publisher: event publish cursor: %w", err)
	}

	for {
		events, err := p.st.ListEventsAfter(ctx, cursor, p.batchSize)
		if err != nil {
			return fmt.Errorf("publisher: list events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		for _, e := range events {
			env := broker.Envelope{
				Version: "v1",
				Kind:    e.Kind,
				Height:  e.Height,
				Payload: json.RawMessage(e.Payload),
			}
			value, err := json.Marshal(env)
			if err != nil {
				return fmt.Errorf("publisher: marshal envelope: %w", err)
			}

			if err := p.br.Publish(ctx, eventKey(e), value); err != nil {
				return err
			}

			cursor = e.ID
			if err := p.st.SetEventPublishCursor(ctx, cursor); err != nil {
				return fmt.Errorf("publisher: set event publish cursor: %w", err)
			}
		}
	}
}

// eventKey picks the partition/routing key a broker groups an event
// by — the checkpoint height for checkpoint events (so a consumer can
// dedupe or order by height), the kind itself for reorg events since
// those should never be partitioned away from each other.
func eventKey(e store.Event) string {
	if e.Kind == "checkpoint" {
		return fmt.Sprintf("%d", e.Height)
	}
	return e.Kind
}
