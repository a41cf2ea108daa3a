package signing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseSize bounds the body read from a remote service.
const maxResponseSize = 1 << 20

// RemoteSigner asks an HTTP signing service to sign a manifest hash.
type RemoteSigner struct {
	URL   string
	Token string

	// Client defaults to http.DefaultClient.
	Client *http.Client

	// Timeout bounds the call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Sign posts {"hash","created"} and returns the service's JSON response.
// Any status other than 200 is an error.
func (s *RemoteSigner) Sign(ctx context.Context, hash, created string) (json.RawMessage, error) {
	body, err := json.Marshal(request{Hash: hash, Created: created})
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, s.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building signing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "bearer "+s.Token)
	}

	data, status, err := do(client(s.Client), req)
	if err != nil {
		return nil, fmt.Errorf("signing request to %s: %w", s.URL, err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("signing request to %s: unexpected status %d", s.URL, status)
	}
	if !json.Valid(data) || len(bytes.TrimSpace(data)) == 0 || bytes.TrimSpace(data)[0] != '{' {
		return nil, fmt.Errorf("signing request to %s: response is not a JSON object", s.URL)
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return nil, err
	}
	return compact.Bytes(), nil
}

// RemoteVerifier asks an HTTP verification service to check a signature
// block. It makes a single attempt.
type RemoteVerifier struct {
	URL string

	// Client defaults to http.DefaultClient.
	Client *http.Client

	// Timeout bounds the call. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Verify posts the signed data unchanged. Status 200 means verified; any
// other status, a network failure or a timeout is an error.
func (v *RemoteVerifier) Verify(ctx context.Context, signedData json.RawMessage) error {
	ctx, cancel := withTimeout(ctx, v.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(signedData))
	if err != nil {
		return fmt.Errorf("building verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, status, err := do(client(v.Client), req)
	if err != nil {
		return fmt.Errorf("verify request to %s: %w", v.URL, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: %s returned status %d", ErrNotVerified, v.URL, status)
	}
	return nil
}

func client(c *http.Client) *http.Client {
	if c == nil {
		return http.DefaultClient
	}
	return c
}

func do(c *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := c.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return data, resp.StatusCode, nil
}
