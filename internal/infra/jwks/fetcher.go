package jwks

import (
	"context"
	"fmt"
	"net/http"

	httpclient "github.com/astro-web3/request-authorizer/pkg/http"
)

// Fetcher retrieves the issuer's published key set document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type httpFetcher struct {
	client *httpclient.Client
}

func NewHTTPFetcher(client *httpclient.Client) Fetcher {
	return &httpFetcher{client: client}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	resp, err := f.client.Get(ctx, url, httpclient.WithHeader("Accept", "application/json, application/jwk-set+json"))
	if err != nil {
		return nil, fmt.Errorf("jwks request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("jwks request failed with status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}
