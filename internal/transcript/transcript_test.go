package transcript

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppendLockedDedupesMatchingChunk(t *testing.T) {
	tr := &Transcriber{}
	tr.appendLocked(Chunk{StartMs: 0, EndMs: 1000, Text: "hello", Speaker: "alice"})
	tr.appendLocked(Chunk{StartMs: 1000, EndMs: 1800, Text: "hello", Speaker: "alice"})

	assert.Len(t, tr.chunks, 1)
}

func TestAppendLockedKeepsDistantDuplicate(t *testing.T) {
	tr := &Transcriber{}
	tr.appendLocked(Chunk{StartMs: 0, EndMs: 1000, Text: "hello", Speaker: "alice"})
	tr.appendLocked(Chunk{StartMs: 5000, EndMs: 6000, Text: "hello", Speaker: "alice"})

	assert.Len(t, tr.chunks, 2)
}

func TestAppendLockedKeepsDifferentSpeaker(t *testing.T) {
	tr := &Transcriber{}
	tr.appendLocked(Chunk{StartMs: 0, EndMs: 1000, Text: "hello", Speaker: "alice"})
	tr.appendLocked(Chunk{StartMs: 1000, EndMs: 1800, Text: "hello", Speaker: "bob"})

	assert.Len(t, tr.chunks, 2)
}

func TestStopFinalizesLastPartialText(t *testing.T) {
	tr := &Transcriber{active: true, lastPartialText: "still talking"}
	tr.Stop(nil)

	assert.False(t, tr.Active())
	require := tr.Snapshot()
	if assert.Len(t, require, 1) {
		assert.Equal(t, "still talking", require[0].Text)
	}
}

func TestStopInactiveIsNoOp(t *testing.T) {
	tr := &Transcriber{}
	tr.Stop(nil)
	assert.False(t, tr.Active())
}
