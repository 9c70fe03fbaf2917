package publishers

import (
	"context"
	"fmt"
	"io"
)

// queueSender abstracts provider-specific queue senders. Senders holding a
// connection also implement io.Closer.
type queueSender interface {
	Send(ctx context.Context, evt Event) error
}

type senderBuilder func(ctx context.Context, cfg QueuePublisherConfig, log Logger) (queueSender, error)

var queueSenders = map[string]senderBuilder{
	QueueProviderAWSSQS: func(ctx context.Context, cfg QueuePublisherConfig, log Logger) (queueSender, error) {
		return newAWSSQSSender(ctx, cfg.AWS, log)
	},
	QueueProviderAWSSNS: func(ctx context.Context, cfg QueuePublisherConfig, log Logger) (queueSender, error) {
		return newAWSSNSSender(ctx, cfg.SNS, log)
	},
	QueueProviderGCP: func(ctx context.Context, cfg QueuePublisherConfig, log Logger) (queueSender, error) {
		return newGCPPubSubSender(ctx, cfg.GCP, log)
	},
}

// queuePublisher dispatches events to a cloud queue provider.
type queuePublisher struct {
	id       string
	typ      string
	provider string
	sender   queueSender
	log      Logger
}

// newQueuePublisher creates a queue publisher for the configured provider.
func newQueuePublisher(ctx context.Context, cfg PublisherConfig, log Logger) (Publisher, error) {
	if cfg.Queue == nil {
		return nil, fmt.Errorf("publisher %q missing queue configuration", cfg.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	provider := cfg.Queue.Provider
	build, ok := queueSenders[provider]
	if !ok {
		if provider == QueueProviderAzure {
			return nil, fmt.Errorf("queue provider %q not implemented", provider)
		}
		return nil, fmt.Errorf("queue provider %q is not supported", provider)
	}

	sender, err := build(ctx, *cfg.Queue, log)
	if err != nil {
		return nil, fmt.Errorf("publisher %q: %w", cfg.ID, err)
	}

	return &queuePublisher{
		id:       cfg.ID,
		typ:      cfg.Type,
		provider: provider,
		sender:   sender,
		log:      ensureLogger(log),
	}, nil
}

func (p *queuePublisher) ID() string   { return p.id }
func (p *queuePublisher) Type() string { return p.typ }

// Publish forwards the event to the configured queue provider.
func (p *queuePublisher) Publish(ctx context.Context, evt Event) error {
	if err := p.sender.Send(ctx, evt); err != nil {
		return fmt.Errorf("queue provider %s send failed: %w", p.provider, err)
	}
	return nil
}

// Close releases the sender when it holds a connection.
func (p *queuePublisher) Close() error {
	if c, ok := p.sender.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
