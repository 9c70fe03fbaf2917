package httpclient

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const defaultUserAgent = "khobor-collector/1.0"

// Client is the minimal HTTP surface used by fetchers, scrapers and publishers.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (*resty.Response, error)
	GetQuery(ctx context.Context, url string, query, headers map[string]string) (*resty.Response, error)
	SendJSON(ctx context.Context, method, url string, body any, headers map[string]string) (*resty.Response, error)
}

type restyClient struct {
	client *resty.Client
}

// NewRestyClient builds a Client with a fixed per-request deadline.
func NewRestyClient(timeout time.Duration) Client {
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", defaultUserAgent)
	return &restyClient{client: c}
}

// Get issues a GET request with optional headers.
func (c *restyClient) Get(ctx context.Context, url string, headers map[string]string) (*resty.Response, error) {
	return c.GetQuery(ctx, url, nil, headers)
}

// GetQuery issues a GET request with query parameters and optional headers.
func (c *restyClient) GetQuery(ctx context.Context, url string, query, headers map[string]string) (*resty.Response, error) {
	req := c.client.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}
	if len(query) > 0 {
		req.SetQueryParams(query)
	}

	resp, err := req.Get(url)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	return resp, nil
}

// SendJSON issues a request with a JSON-encoded body. The method defaults to POST.
func (c *restyClient) SendJSON(ctx context.Context, method, url string, body any, headers map[string]string) (*resty.Response, error) {
	if method == "" {
		method = http.MethodPost
	}

	req := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}

	resp, err := req.Execute(method, url)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", strings.ToLower(method), url, err)
	}
	return resp, nil
}
