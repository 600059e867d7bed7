package aggregator

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/firmswap/firmswap/internal/wire"
)

// httpClient is the production SolverClient: a shared client with bounded
// idle connections rather than one dialed per call.
type httpClient struct {
	client *http.Client
}

// NewHTTPClient builds the shared outbound client used to reach solver
// endpoints. One instance is meant to be reused across all quote requests.
func NewHTTPClient() SolverClient {
	return &httpClient{
		client: &http.Client{
			Timeout: QuoteTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *httpClient) RequestQuote(ctx context.Context, endpoint string, req wire.SolverQuoteRequest) (wire.SolverQuoteResponse, error) {
	var out wire.SolverQuoteResponse

	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("encode solver request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimSuffix(endpoint, "/")+"/quote", bytes.NewReader(body))
	if err != nil {
		return out, fmt.Errorf("build solver request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return out, fmt.Errorf("solver call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("solver returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("read solver response: %w", err)
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode solver response: %w", err)
	}
	return out, nil
}

// decodeSignature parses a 0x-prefixed or bare hex-encoded 65-byte
// signature string as returned by a solver.
func decodeSignature(hexSig string) ([]byte, error) {
	s := strings.TrimPrefix(hexSig, "0x")
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}
	if len(b) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(b))
	}
	return b, nil
}
