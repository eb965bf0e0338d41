package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"agora/internal/domain"
)

// HTTP delegates generation to a remote JSON endpoint.
type HTTP struct {
	Endpoint   string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

type httpRequest struct {
	Prompt string `json:"prompt"`
	domain.GenerateOptions
}

// StatusError wraps non-2xx responses from the endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("generator endpoint: status=%d body=%s", e.StatusCode, e.Body)
}

func (g *HTTP) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generated, error) {
	if g.HTTPClient == nil {
		timeout := g.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		g.HTTPClient = &http.Client{Timeout: timeout}
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(httpRequest{Prompt: prompt, GenerateOptions: opts}); err != nil {
		return domain.Generated{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.Endpoint, &buf)
	if err != nil {
		return domain.Generated{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}
	resp, err := g.HTTPClient.Do(req)
	if err != nil {
		return domain.Generated{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.Generated{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var out domain.Generated
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.Generated{}, fmt.Errorf("decode generator response: %w", err)
	}
	return out, nil
}
