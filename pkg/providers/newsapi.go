package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adda-Baaj/khobor-collector/internal/domain"
	"github.com/Adda-Baaj/khobor-collector/internal/logger"
)

const (
	// DefaultBaseURL is the NewsAPI v2 root.
	DefaultBaseURL = "https://newsapi.org/v2"
	// DefaultPageDelay is the pause between consecutive page requests.
	DefaultPageDelay = 200 * time.Millisecond
	// DefaultSourceName is used when the payload carries no source name.
	DefaultSourceName = "NewsAPI"
	// SummaryLimit caps the stored description length in characters.
	SummaryLimit = 2000

	endpointTopHeadlines = "top-headlines"
	endpointEverything   = "everything"
)

// NewsAPIFetcher pages through the NewsAPI top-headlines and everything endpoints.
type NewsAPIFetcher struct {
	client HTTPClient
	cfg    Config
	log    logger.Logger
}

// NewNewsAPIFetcher builds a fetcher; zero config values fall back to defaults.
func NewNewsAPIFetcher(client HTTPClient, cfg Config, log logger.Logger) *NewsAPIFetcher {
	if client == nil {
		client = DefaultHTTPClient()
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}
	return &NewsAPIFetcher{client: client, cfg: cfg, log: logger.Ensure(log)}
}

// FetchByCategory collects top headlines for a single category and country.
// Every returned article carries the requested category.
func (f *NewsAPIFetcher) FetchByCategory(ctx context.Context, req CategoryRequest) (Result, error) {
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if !IsCategory(category) {
		return Result{}, fmt.Errorf("newsapi category %q is not supported", req.Category)
	}
	params := map[string]string{
		"category": category,
		"country":  req.Country,
	}
	return f.paginate(ctx, endpointTopHeadlines, req.APIKey, params, req.PageSize, req.MaxPages, category)
}

// FetchByDomains collects articles published by the given comma-separated domains.
// Returned articles carry no category.
func (f *NewsAPIFetcher) FetchByDomains(ctx context.Context, req DomainRequest) (Result, error) {
	if strings.TrimSpace(req.Domains) == "" {
		return Result{}, errors.New("newsapi domains are empty")
	}
	params := make(map[string]string, len(req.Extra)+2)
	for k, v := range req.Extra {
		params[k] = v
	}
	params["language"] = req.Language
	params["domains"] = req.Domains
	return f.paginate(ctx, endpointEverything, req.APIKey, params, req.PageSize, req.MaxPages, "")
}

type apiResponse struct {
	Status   string            `json:"status"`
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Articles []json.RawMessage `json:"articles"`
}

type apiArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
	PublishedAt string `json:"publishedAt"`
}

func (f *NewsAPIFetcher) paginate(ctx context.Context, endpoint, apiKey string, params map[string]string, pageSize, maxPages int, category string) (Result, error) {
	var res Result
	url := f.cfg.BaseURL + "/" + endpoint
	headers := Headers(f.cfg)

	for page := 1; page <= maxPages; page++ {
		if page > 1 {
			if err := sleepCtx(ctx, f.cfg.PageDelay); err != nil {
				return res, err
			}
		}

		query := make(map[string]string, len(params)+3)
		for k, v := range params {
			if v != "" {
				query[k] = v
			}
		}
		query["apiKey"] = apiKey
		query["pageSize"] = strconv.Itoa(pageSize)
		query["page"] = strconv.Itoa(page)

		resp, err := f.client.GetQuery(ctx, url, query, headers)
		if err != nil {
			return res, fmt.Errorf("fetch newsapi %s page %d: %w", endpoint, page, err)
		}
		res.Pages = page

		body := resp.Body()
		status := resp.StatusCode()
		if status < 200 || status > 299 {
			if softStop(status) {
				f.log.WarnObj("newsapi stopped paging", "newsapi_soft_stop", map[string]any{
					"endpoint": endpoint,
					"page":     page,
					"status":   status,
					"body":     responseSnippet(body),
				})
				res.Stop = StopRateLimited
				res.Message = responseSnippet(body)
				return res, nil
			}
			return res, &HTTPError{Endpoint: endpoint, Page: page, Status: status, Body: responseSnippet(body)}
		}

		var payload apiResponse
		if err := json.Unmarshal(body, &payload); err != nil {
			return res, fmt.Errorf("decode newsapi %s page %d: %w", endpoint, page, err)
		}
		if payload.Status != "ok" {
			f.log.WarnObj("newsapi returned non-ok status", "newsapi_status", map[string]any{
				"endpoint": endpoint,
				"page":     page,
				"status":   payload.Status,
				"code":     payload.Code,
				"message":  payload.Message,
			})
			res.Stop = StopProviderStatus
			res.Message = payload.Message
			return res, nil
		}

		for _, raw := range payload.Articles {
			a, err := normalizeArticle(raw, category)
			if err != nil {
				f.log.DebugObj("skipping undecodable article", "newsapi_article_invalid", map[string]any{
					"endpoint": endpoint,
					"page":     page,
					"error":    err.Error(),
				})
				continue
			}
			res.Articles = append(res.Articles, a)
		}

		f.log.DebugObj("newsapi page fetched", "newsapi_page", map[string]any{
			"endpoint": endpoint,
			"page":     page,
			"items":    len(payload.Articles),
		})

		if len(payload.Articles) < pageSize {
			res.Stop = StopExhausted
			return res, nil
		}
	}

	res.Stop = StopPageCap
	return res, nil
}

func normalizeArticle(raw json.RawMessage, category string) (domain.Article, error) {
	var in apiArticle
	if err := json.Unmarshal(raw, &in); err != nil {
		return domain.Article{}, err
	}

	source := strings.TrimSpace(in.Source.Name)
	if source == "" {
		source = DefaultSourceName
	}

	a := domain.Article{
		ID:         domain.MakeID(in.Title, in.URL),
		Title:      in.Title,
		URL:        in.URL,
		SourceName: source,
		Published:  domain.NormalizeTime(in.PublishedAt),
		Summary:    domain.Truncate(in.Description, SummaryLimit),
		Categories: []string{},
		ImageURL:   domain.ImageURLFromRaw(raw),
		Raw:        append(json.RawMessage(nil), raw...),
	}
	if category != "" {
		a.Categories = []string{category}
	}
	return a, nil
}

func softStop(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusUpgradeRequired, http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
