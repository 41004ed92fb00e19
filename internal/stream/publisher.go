package stream

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/dangkhuong14/dEx-application/internal/engine"
	"github.com/dangkhuong14/dEx-application/internal/event"
	"github.com/dangkhuong14/dEx-application/internal/observability"
)

// Publisher pushes processed records to NATS for downstream consumers.
// The feed is best-effort: the engine drops on a full publish channel
// and consumers that miss records query the record log directly.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan engine.Output
	metrics *observability.Metrics
}

// publishedRecord is the outbound wire format. Hashes are hex-encoded
// so consumers in any language can verify the chain.
type publishedRecord struct {
	Sequence  int64        `json:"sequence"`
	Kind      string       `json:"kind"`
	RecordID  string       `json:"record_id"`
	Timestamp int64        `json:"timestamp"`
	StateHash string       `json:"state_hash"`
	PrevHash  string       `json:"prev_hash"`
	Record    event.Record `json:"record"`
}

func NewPublisher(js jetstream.JetStream, input <-chan engine.Output, metrics *observability.Metrics) *Publisher {
	return &Publisher{js: js, input: input, metrics: metrics}
}

// Run publishes outputs until ctx is cancelled or the channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.input:
			if !ok {
				return nil
			}

			if err := p.publish(ctx, out); err != nil {
				log.Printf("WARN: publish failed seq=%d: %v", out.Envelope.Sequence, err)
				if p.metrics != nil {
					p.metrics.PublishErrors.Inc()
				}
				continue
			}
			if p.metrics != nil {
				p.metrics.RecordsPublished.WithLabelValues(out.Envelope.Kind.Subject()).Inc()
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, out engine.Output) error {
	env := out.Envelope
	body := publishedRecord{
		Sequence:  env.Sequence,
		Kind:      env.Kind.Subject(),
		RecordID:  env.RecordID,
		Timestamp: env.Timestamp,
		StateHash: hex.EncodeToString(env.StateHash[:]),
		PrevHash:  hex.EncodeToString(env.PrevHash[:]),
		Record:    out.Record,
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", env.RecordID, err)
	}

	subject := fmt.Sprintf("dex.events.%s", env.Kind.Subject())
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
