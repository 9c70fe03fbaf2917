package providers

import (
	"time"

	"github.com/Adda-Baaj/khobor-collector/pkg/httpclient"
)

// DefaultTimeout bounds a single provider request.
const DefaultTimeout = 20 * time.Second

// DefaultHTTPClient returns a tuned client for provider fetchers.
func DefaultHTTPClient() HTTPClient { return httpclient.NewRestyClient(DefaultTimeout) }
