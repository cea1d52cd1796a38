package asr

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is an in-memory conn used to drive Stream without a real socket.
type fakeConn struct {
	mu       sync.Mutex
	written  [][]byte
	toRead   [][]byte
	readErr  error
	closed   bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	f.written = append(f.written, cp)
	return nil
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.toRead) == 0 {
		if f.readErr != nil {
			return 0, nil, f.readErr
		}
		return 0, nil, errors.New("no more messages")
	}
	msg := f.toRead[0]
	f.toRead = f.toRead[1:]
	return 1, msg, nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func newTestStream(fc *fakeConn) *Stream {
	s := &Stream{
		conn:   fc,
		frames: make(chan Frame, 16),
		errs:   make(chan error, 1),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func TestStreamParsesFrames(t *testing.T) {
	f1, _ := json.Marshal(Frame{Text: "hello world", Speaker: "spk1"})
	fc := &fakeConn{toRead: [][]byte{f1}}
	s := newTestStream(fc)

	select {
	case frame := <-s.Frames():
		assert.Equal(t, "hello world", frame.Text)
		assert.Equal(t, "spk1", frame.Speaker)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestStreamIgnoresUnparsableFrames(t *testing.T) {
	fc := &fakeConn{toRead: [][]byte{[]byte("not json"), []byte(`{"text":"ok"}`)}}
	s := newTestStream(fc)

	select {
	case frame := <-s.Frames():
		assert.Equal(t, "ok", frame.Text)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for frame")
	}
}

func TestStreamWriteAudio(t *testing.T) {
	fc := &fakeConn{readErr: errors.New("eof")}
	s := newTestStream(fc)
	require.NoError(t, s.WriteAudio([]byte{1, 2, 3}))

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.written, 1)
	assert.Equal(t, []byte{1, 2, 3}, fc.written[0])
}

func TestStreamCloseSendsEOF(t *testing.T) {
	fc := &fakeConn{readErr: errors.New("eof")}
	s := newTestStream(fc)
	require.NoError(t, s.Close())

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.written, 1)
	var eof map[string]int
	require.NoError(t, json.Unmarshal(fc.written[0], &eof))
	assert.Equal(t, 1, eof["eof"])
	assert.True(t, fc.closed)
}
