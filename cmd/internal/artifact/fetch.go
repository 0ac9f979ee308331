package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	// Bitstreams for the supported parts are a few MiB; anything bigger is
	// a broken upload, not a bitstream.
	defaultMaxFetchBytes = 64 << 20

	defaultFetchTimeout = 60 * time.Second
	presignedGetExpiry  = 5 * time.Minute
)

// Fetcher retrieves a stored artifact by object key.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// HTTPFetcher downloads objects through presigned GET URLs. No SDK is
// involved: a presigned URL is a plain HTTP GET.
type HTTPFetcher struct {
	presigner *Presigner
	client    *http.Client
	maxBytes  int64
}

// NewHTTPFetcher constructs a fetcher over the given presigner.
func NewHTTPFetcher(p *Presigner) *HTTPFetcher {
	return &HTTPFetcher{
		presigner: p,
		client:    &http.Client{Timeout: defaultFetchTimeout},
		maxBytes:  defaultMaxFetchBytes,
	}
}

// Fetch downloads the object at key, bounded by the configured size limit.
func (f *HTTPFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	u, err := f.presigner.PresignGet(key, presignedGetExpiry)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("artifact: fetch %q: status %d", key, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBytes {
		return nil, errors.New("artifact: object exceeds size limit")
	}
	return data, nil
}
