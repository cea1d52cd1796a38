// Package asr is the control plane's streaming client for the external ASR
// server. The ASR protocol itself (FFmpeg/RTP glue, the speech model) is an
// opaque collaborator; this package only speaks its streaming socket
// contract: a JSON config preamble, raw PCM frames, and JSON result frames
// back.
//
// Grounded in the teacher's wsConnection abstraction (session/client.go) and
// pkg/sfu/client.go's pattern of only circuit-breaking the initial
// connection attempt of a long-lived stream.
package asr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sony/gobreaker"

	"github.com/sfu-control/sfu-control/internal/metrics"
)

// WordTiming is one word-level timing entry from the ASR server's result array.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Frame is a single decoded message from the ASR socket.
type Frame struct {
	Partial bool         `json:"partial_result,omitempty"`
	Text    string       `json:"text"`
	Speaker string       `json:"speaker,omitempty"`
	Start   *float64     `json:"start,omitempty"`
	End     *float64     `json:"end,omitempty"`
	Result  []WordTiming `json:"result,omitempty"`
}

// configPreamble is the one-line JSON config message sent immediately after connecting.
type configPreamble struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

// conn is the narrow socket capability the Stream depends on, letting tests
// substitute a fake transport without standing up a real websocket server.
type conn interface {
	WriteMessage(messageType int, data []byte) error
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client dials ASR sockets, circuit-breaking the connection attempt.
type Client struct {
	url    string
	dialer *websocket.Dialer
	cb     *gobreaker.CircuitBreaker
}

// New constructs a Client pointed at the ASR server's base websocket URL.
func New(url string) *Client {
	st := gobreaker.Settings{
		Name:        "asr",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     30 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues("asr").Set(metrics.CircuitBreakerStateValue(stateName(to)))
		},
	}

	return &Client{
		url:    url,
		dialer: websocket.DefaultDialer,
		cb:     gobreaker.NewCircuitBreaker(st),
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

// ErrUnavailable signals the circuit breaker rejected the dial attempt.
var ErrUnavailable = fmt.Errorf("asr backend unavailable")

// Stream is one open ASR socket, bound to a single room's audio tap.
type Stream struct {
	conn   conn
	frames chan Frame
	errs   chan error
	done   chan struct{}
}

// Dial opens a new ASR stream and sends the sample-rate config preamble.
func (c *Client) Dial(ctx context.Context, sampleRate int) (*Stream, error) {
	result, err := c.cb.Execute(func() (interface{}, error) {
		wsConn, _, err := c.dialer.DialContext(ctx, c.url, nil)
		if err != nil {
			return nil, fmt.Errorf("dial asr socket: %w", err)
		}
		return wsConn, nil
	})
	if err != nil {
		if err == gobreaker.ErrOpenState {
			metrics.CircuitBreakerFailures.WithLabelValues("asr").Inc()
			return nil, ErrUnavailable
		}
		return nil, err
	}

	wsConn := result.(*websocket.Conn)
	s := &Stream{
		conn:   wsConn,
		frames: make(chan Frame, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}

	preamble := configPreamble{}
	preamble.Config.SampleRate = sampleRate
	data, err := json.Marshal(preamble)
	if err != nil {
		wsConn.Close()
		return nil, fmt.Errorf("marshal config preamble: %w", err)
	}
	if err := wsConn.WriteMessage(websocket.TextMessage, data); err != nil {
		wsConn.Close()
		return nil, fmt.Errorf("send config preamble: %w", err)
	}

	go s.readLoop()
	return s, nil
}

func (s *Stream) readLoop() {
	defer close(s.frames)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case s.errs <- err:
			default:
			}
			return
		}
		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		select {
		case s.frames <- frame:
		case <-s.done:
			return
		}
	}
}

// Frames returns the channel of decoded ASR frames, closed when the stream ends.
func (s *Stream) Frames() <-chan Frame {
	return s.frames
}

// Errs returns the channel the read loop's terminal error (if any) is published to.
func (s *Stream) Errs() <-chan error {
	return s.errs
}

// WriteAudio forwards a raw PCM frame to the ASR socket.
func (s *Stream) WriteAudio(pcm []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, pcm)
}

// Close sends a best-effort end-of-stream marker, then tears down the socket.
func (s *Stream) Close() error {
	close(s.done)
	eof, _ := json.Marshal(map[string]int{"eof": 1})
	_ = s.conn.WriteMessage(websocket.TextMessage, eof)
	return s.conn.Close()
}
