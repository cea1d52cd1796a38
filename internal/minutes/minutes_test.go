package minutes

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sfu-control/sfu-control/internal/summary"
	"github.com/sfu-control/sfu-control/internal/transcript"
)

type countingSummarizer struct {
	calls atomic.Int64
	inner summary.Summarizer
}

func (c *countingSummarizer) Summarize(ctx context.Context, text string) (*summary.Summary, error) {
	c.calls.Add(1)
	return c.inner.Summarize(ctx, text)
}

func fixedChunks() []transcript.Chunk {
	return []transcript.Chunk{
		{StartMs: 0, EndMs: 1000, Text: "Welcome everyone.", Speaker: "alice"},
		{StartMs: 1000, EndMs: 2000, Text: "Bob will send the report by Friday.", Speaker: "alice"},
	}
}

func TestGenerateCachesOnceRoomInactive(t *testing.T) {
	s := &countingSummarizer{inner: summary.LocalSummarizer{}}
	active := false
	g := New(s, func(string) ([]transcript.Chunk, bool) { return fixedChunks(), true }, func(string) bool { return active })

	r1, err := g.Generate(context.Background(), "chan1", "room1")
	require.NoError(t, err)
	assert.NotEmpty(t, r1.PDF)
	assert.Equal(t, int64(1), s.calls.Load())

	r2, err := g.Generate(context.Background(), "chan1", "room1")
	require.NoError(t, err)
	assert.True(t, r2.FromCache)
	assert.Equal(t, int64(1), s.calls.Load())
	assert.Equal(t, r1.PDF, r2.PDF)
}

func TestGenerateSingleFlightCollapsesConcurrentCalls(t *testing.T) {
	s := &countingSummarizer{inner: summary.LocalSummarizer{}}
	g := New(s, func(string) ([]transcript.Chunk, bool) { return fixedChunks(), true }, func(string) bool { return true })

	var wg sync.WaitGroup
	results := make([]*Result, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := g.Generate(context.Background(), "chan2", "room2")
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), s.calls.Load())
	for i := 1; i < len(results); i++ {
		assert.Equal(t, results[0].PDF, results[i].PDF)
	}
}

func TestGenerateFallsBackToCachedOnFailure(t *testing.T) {
	s := &countingSummarizer{inner: summary.LocalSummarizer{}}
	active := false
	g := New(s, func(string) ([]transcript.Chunk, bool) { return fixedChunks(), true }, func(string) bool { return active })

	r1, err := g.Generate(context.Background(), "chan3", "room3")
	require.NoError(t, err)

	// Force past the early cache check so the fallback-on-failure branch
	// inside Generate actually runs.
	active = true
	g.transcriptFor = func(string) ([]transcript.Chunk, bool) { return nil, false }

	r2, err := g.Generate(context.Background(), "chan3", "room3")
	require.NoError(t, err)
	assert.True(t, r2.FromCache)
	assert.Equal(t, r1.PDF, r2.PDF)
}
