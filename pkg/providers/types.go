package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/pkg/httpclient"
)

// HTTPClient is the transport used by fetchers.
type HTTPClient = httpclient.Client

// Categories lists the categories accepted by the NewsAPI top-headlines endpoint.
var Categories = []string{"business", "entertainment", "general", "health", "science", "sports", "technology"}

// IsCategory reports whether c is a known NewsAPI category.
func IsCategory(c string) bool {
	c = strings.ToLower(strings.TrimSpace(c))
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Stop explains why a paginated fetch finished without error.
type Stop string

const (
	// StopExhausted means a page returned fewer items than the page size.
	StopExhausted Stop = "exhausted"
	// StopPageCap means the configured page limit was reached.
	StopPageCap Stop = "page_cap"
	// StopProviderStatus means the payload status was not "ok".
	StopProviderStatus Stop = "provider_status"
	// StopRateLimited means the provider answered 401, 426 or 429.
	StopRateLimited Stop = "rate_limited"
)

// Result carries the items gathered before a fetch stopped.
type Result struct {
	Articles []domain.Article
	Stop     Stop
	Pages    int
	// Message holds the provider's explanation for soft stops, when given.
	Message string
}

// Partial reports whether the fetch ended early on a provider-side condition.
func (r Result) Partial() bool {
	return r.Stop == StopProviderStatus || r.Stop == StopRateLimited
}

// HTTPError is an unexpected provider response. It aborts the run.
type HTTPError struct {
	Endpoint string
	Page     int
	Status   int
	Body     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("newsapi %s page %d returned status %d body: %s", e.Endpoint, e.Page, e.Status, e.Body)
}

// CategoryRequest selects top headlines for one category and country.
type CategoryRequest struct {
	APIKey   string
	Category string
	Country  string
	PageSize int
	MaxPages int
}

// DomainRequest selects articles from a set of publisher domains in one language.
type DomainRequest struct {
	APIKey   string
	Domains  string
	Language string
	PageSize int
	MaxPages int
	// Extra is merged into the query string as-is.
	Extra map[string]string
}

// Config tunes the NewsAPI fetcher.
type Config struct {
	BaseURL   string
	PageDelay time.Duration
	Headers   map[string]string
}

// Fetcher retrieves normalized articles from a news provider.
type Fetcher interface {
	FetchByCategory(ctx context.Context, req CategoryRequest) (Result, error)
	FetchByDomains(ctx context.Context, req DomainRequest) (Result, error)
}

// Headers returns a copy of the configured request headers.
func Headers(cfg Config) map[string]string {
	if len(cfg.Headers) == 0 {
		return nil
	}
	out := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		out[k] = v
	}
	return out
}
