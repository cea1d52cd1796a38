package summary

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sfu-control/sfu-control/internal/metrics"
)

// RemoteSummarizer calls an external LLM-backed summarization service over
// HTTPS. The teacher reaches the equivalent service over gRPC+TLS against a
// generated client that was never retrieved into this build (see
// internal/mediaplane's package doc); this client preserves the teacher's
// TLS 1.2-minimum requirement and per-call timeout over HTTP/JSON instead.
type RemoteSummarizer struct {
	baseURL    string
	token      string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

// NewRemoteSummarizer constructs a client for the summarizer at baseURL,
// authenticating with token.
func NewRemoteSummarizer(baseURL, token string) *RemoteSummarizer {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
	}

	st := gobreaker.Settings{
		Name:        "summarizer",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("summarizer").Set(metrics.CircuitBreakerStateValue(stateName(to)))
		},
	}

	return &RemoteSummarizer{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		cb:         gobreaker.NewCircuitBreaker(st),
	}
}

func stateName(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrUnavailable signals the circuit breaker rejected the call.
var ErrUnavailable = fmt.Errorf("summarizer unavailable")

// Summarize requests a summary for transcriptText, applying a 30 second
// deadline matching the teacher's LLM-call timeout.
func (c *RemoteSummarizer) Summarize(ctx context.Context, transcriptText string) (*Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := c.cb.Execute(func() (interface{}, error) {
		reqBody, err := json.Marshal(map[string]string{"transcript": transcriptText})
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/summarize", bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("summarizer returned status %d", resp.StatusCode)
		}

		var out Summary
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		return &out, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("summarizer").Inc()
			return nil, ErrUnavailable
		}
		return nil, err
	}
	return result.(*Summary), nil
}
