package stream

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// CommandSubscriber consumes exchange commands from NATS JetStream and
// feeds them to the processor. Each command type has its own subject
// and durable consumer so they scale independently.
type CommandSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
}

// RawCommand is a parsed-but-untyped command from NATS. The message is
// acked only after the processor has finished with it; a Nak causes
// redelivery.
type RawCommand struct {
	Subject   string
	Op        string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

// SubjectConfig maps a NATS subject to a command operation.
type SubjectConfig struct {
	Subject      string
	Op           string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard command subject configuration.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "dex.commands.deposit", Op: "deposit", ConsumerName: "dex-deposit", StreamName: "DEX_COMMANDS"},
		{Subject: "dex.commands.withdraw", Op: "withdraw", ConsumerName: "dex-withdraw", StreamName: "DEX_COMMANDS"},
		{Subject: "dex.commands.make", Op: "make_order", ConsumerName: "dex-make", StreamName: "DEX_COMMANDS"},
		{Subject: "dex.commands.cancel", Op: "cancel_order", ConsumerName: "dex-cancel", StreamName: "DEX_COMMANDS"},
		{Subject: "dex.commands.fill", Op: "fill_order", ConsumerName: "dex-fill", StreamName: "DEX_COMMANDS"},
	}
}

func NewCommandSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *CommandSubscriber {
	return &CommandSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates durable JetStream consumers for all configured
// subjects. Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (s *CommandSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		op := cfg.Op
		consumer, err := s.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Op:        op,
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case s.commandChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		s.consumers = append(s.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (s *CommandSubscriber) Stop() {
	for _, cc := range s.consumers {
		cc.Stop()
	}
	log.Println("INFO: command subscribers stopped")
}

// EnsureStreams creates the command and event streams if they don't
// exist. Streams use file storage with a 72h retention window.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "DEX_COMMANDS",
			Subjects:  []string{"dex.commands.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "DEX_EVENTS",
			Subjects:  []string{"dex.events.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream
// context. Reconnects indefinitely.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
