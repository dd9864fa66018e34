package objectstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Gateway fetches content-addressed objects from a public IPFS gateway by
// CID. Responses may arrive gzip-encoded (Content-Encoding) or as verbatim
// .gz blobs; both are inflated transparently.
type Gateway struct {
	baseURL string
	client  *http.Client
}

// NewGateway builds a gateway client rooted at baseURL (no trailing slash
// required).
func NewGateway(baseURL string, timeout time.Duration) *Gateway {
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the object for cid and returns the inflated bytes.
func (g *Gateway) Fetch(ctx context.Context, cid string) ([]byte, error) {
	url := g.baseURL + "/" + cid

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("objectstore: gateway request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("objectstore: gateway fetch %s: %w", cid, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("objectstore: gateway fetch %s: status %d", cid, resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("objectstore: gateway read %s: %w", cid, err)
	}

	// The transport inflates declared gzip; stored .gz blobs arrive raw and
	// are recognized by their magic number.
	if isGzip(raw) {
		zr, err := gzip.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("objectstore: gunzip %s: %w", cid, err)
		}
		defer func() { _ = zr.Close() }()

		inflated, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("objectstore: gunzip %s: %w", cid, err)
		}

		return inflated, nil
	}

	return raw, nil
}

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}
