package strategy

import (
	"context"

	"github.com/codeGROOVE-dev/biolink/pkg/httpcache"
)

// HTTPFetch implements Strategy.Fetch for sources served over plain HTTP.
type HTTPFetch struct {
	Fetcher *httpcache.Fetcher
	// Hosts is the allow-list checked before any request.
	Hosts []string
}

// Fetch retrieves url through the shared fetcher.
func (h HTTPFetch) Fetch(ctx context.Context, url string, opts FetchOptions) (*RawDocument, error) {
	resp, err := h.Fetcher.Fetch(ctx, httpcache.Request{
		URL:          url,
		AllowedHosts: h.Hosts,
		Timeout:      opts.Timeout,
		MaxBytes:     opts.MaxBytes,
		Retries:      opts.Retries,
	})
	if err != nil {
		return nil, err
	}
	return &RawDocument{
		URL:        resp.URL,
		FinalURL:   resp.FinalURL,
		StatusCode: resp.StatusCode,
		Body:       resp.Body,
		FetchedAt:  resp.FetchedAt,
	}, nil
}
