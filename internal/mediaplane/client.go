// Package mediaplane is the control plane's client for the external media
// transport/router engine (RTP transports, SCTP, codec negotiation). That
// engine's interface is fixed and out of scope: the control plane only
// issues create/connect/produce/consume/close calls and receives
// producerclose/transportclose/routerclose notifications back over its own
// HTTP surface (see internal/controlplane's webhook handler).
//
// The teacher codebase reaches this collaborator over gRPC against a
// generated client (pkg/sfu/client.go); that generated package was never
// retrieved into this build, so this client speaks HTTP/JSON instead,
// keeping the teacher's gobreaker wrapping pattern unchanged.
package mediaplane

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/sfu-control/sfu-control/internal/metrics"
)

// Kind and Type mirror the media kind/type tuple a producer is tagged by.
type Kind string
type Type string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"

	TypeWebcam Type = "webcam"
	TypeScreen Type = "screen"
)

// TransportDescriptor is returned by CreateTransport; opaque to the caller
// beyond what is needed to hand back to ConnectTransport.
type TransportDescriptor struct {
	TransportId    string          `json:"transportId"`
	IceParameters  json.RawMessage `json:"iceParameters"`
	IceCandidates  json.RawMessage `json:"iceCandidates"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

// ProducerDescriptor is returned by Produce.
type ProducerDescriptor struct {
	ProducerId string `json:"producerId"`
	Kind       Kind   `json:"kind"`
	Type       Type   `json:"type"`
}

// ConsumerDescriptor is returned by Consume.
type ConsumerDescriptor struct {
	ConsumerId     string          `json:"consumerId"`
	ProducerId     string          `json:"producerId"`
	Kind           Kind            `json:"kind"`
	RtpParameters  json.RawMessage `json:"rtpParameters"`
}

// Client talks HTTP/JSON to the media engine, wrapped in a circuit breaker
// matching the teacher's pkg/sfu.SFUClient settings.
type Client struct {
	baseURL    string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

// New constructs a Client pointed at the media engine's base URL.
func New(baseURL string) *Client {
	st := gobreaker.Settings{
		Name:        "media-plane",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("media_plane").Set(metrics.CircuitBreakerStateValue(gobreakerStateName(to)))
		},
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		cb:         gobreaker.NewCircuitBreaker(st),
	}
}

func gobreakerStateName(s gobreaker.State) string {
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

// ErrUnavailable wraps a circuit-open rejection, mapped to the
// control plane's own upstream_unavailable error taxonomy entry.
var ErrUnavailable = fmt.Errorf("media plane unavailable")

func (c *Client) call(ctx context.Context, method, path string, body any, out any) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		var reqBody *bytes.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("marshal request: %w", err)
			}
			reqBody = bytes.NewReader(data)
		} else {
			reqBody = bytes.NewReader(nil)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("media plane returned status %d", resp.StatusCode)
		}
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
		}
		return nil, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("media_plane").Inc()
			return ErrUnavailable
		}
		return err
	}
	return nil
}

// CreateTransport creates a plain or WebRTC transport for userId in channelId.
func (c *Client) CreateTransport(ctx context.Context, channelId, userId string, plain bool) (*TransportDescriptor, error) {
	var out TransportDescriptor
	err := c.call(ctx, http.MethodPost, "/transports", map[string]any{
		"channelId": channelId,
		"userId":    userId,
		"plain":     plain,
	}, &out)
	return &out, err
}

// ConnectTransport finalizes DTLS/ICE negotiation for a previously created transport.
func (c *Client) ConnectTransport(ctx context.Context, transportId string, dtlsParameters json.RawMessage) error {
	return c.call(ctx, http.MethodPost, "/transports/"+transportId+"/connect", map[string]any{
		"dtlsParameters": dtlsParameters,
	}, nil)
}

// Produce publishes a media stream on transportId.
func (c *Client) Produce(ctx context.Context, transportId string, kind Kind, typ Type, rtpParameters json.RawMessage) (*ProducerDescriptor, error) {
	var out ProducerDescriptor
	err := c.call(ctx, http.MethodPost, "/transports/"+transportId+"/produce", map[string]any{
		"kind":          kind,
		"type":          typ,
		"rtpParameters": rtpParameters,
	}, &out)
	return &out, err
}

// Consume subscribes transportId to producerId's stream.
func (c *Client) Consume(ctx context.Context, transportId, producerId string) (*ConsumerDescriptor, error) {
	var out ConsumerDescriptor
	err := c.call(ctx, http.MethodPost, "/transports/"+transportId+"/consume", map[string]any{
		"producerId": producerId,
	}, &out)
	return &out, err
}

// CloseProducer closes a producer on the media engine side. Idempotent:
// closing an already-closed producer is treated as success by the engine.
func (c *Client) CloseProducer(ctx context.Context, producerId string) error {
	return c.call(ctx, http.MethodPost, "/producers/"+producerId+"/close", nil, nil)
}

// CloseTransport closes a transport and everything riding on it.
func (c *Client) CloseTransport(ctx context.Context, transportId string) error {
	return c.call(ctx, http.MethodPost, "/transports/"+transportId+"/close", nil, nil)
}

// RtpCapabilities fetches the router's codec/header-extension capabilities
// for channelId, handed back verbatim to a joining socket so its client-side
// mediasoup device can load against the same router.
func (c *Client) RtpCapabilities(ctx context.Context, channelId string) (json.RawMessage, error) {
	var out json.RawMessage
	err := c.call(ctx, http.MethodGet, "/routers/"+channelId+"/rtp-capabilities", nil, &out)
	return out, err
}
