package publishers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

// EventArticleIngested is emitted once per newly stored article.
const EventArticleIngested = "article.ingested"

// Logger is the structured logger used by publishers.
type Logger = logger.Logger

func ensureLogger(log Logger) Logger { return logger.Ensure(log) }

// Event is the payload delivered to every configured sink.
type Event struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	RunID      string         `json:"run_id"`
	ProviderID string         `json:"provider_id"`
	Category   string         `json:"category"`
	OccurredAt time.Time      `json:"occurred_at"`
	Article    domain.Article `json:"article"`
}

// NewArticleEvent builds an article.ingested event for a stored article.
func NewArticleEvent(runID, providerID, category string, a domain.Article, at time.Time) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       EventArticleIngested,
		RunID:      runID,
		ProviderID: providerID,
		Category:   category,
		OccurredAt: at.UTC(),
		Article:    a,
	}
}

// attributes are the routing attributes attached to queue messages.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"event_type":  e.Type,
		"provider_id": e.ProviderID,
		"category":    e.Category,
	}
}

// Publisher delivers events to one sink.
type Publisher interface {
	ID() string
	Type() string
	Publish(ctx context.Context, evt Event) error
}
