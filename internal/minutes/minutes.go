// Package minutes implements the Minutes Generator (§4.10): a single-flight
// summarize-then-render pipeline that produces a PDF of a room's
// transcript, caching the result once the room goes inactive.
//
// Single-flight dedup is grounded on the teacher's sibling pack example
// ManuGH-xg2g's use of golang.org/x/sync/singleflight to collapse
// concurrent rebuild/EPG requests; PDF rendering is grounded on the
// schardosin-astonish example's use of github.com/phpdave11/gofpdf.
package minutes

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/phpdave11/gofpdf"
	"golang.org/x/sync/singleflight"

	"github.com/sfu-control/sfu-control/internal/metrics"
	"github.com/sfu-control/sfu-control/internal/summary"
	"github.com/sfu-control/sfu-control/internal/transcript"
)

// Result is what a successful (or cache-hit) generation returns.
type Result struct {
	ChannelId  string
	Transcript []transcript.Chunk
	Summary    *summary.Summary
	PDF        []byte
	FromCache  bool
}

type cachedEntry struct {
	transcript []transcript.Chunk
	pdf        []byte
}

// TranscriptSource resolves a channel's current transcript. Returns false if
// no transcript is available at all. The control plane's implementation
// (ControlPlane.TranscriptFor) reads only the pipeline still registered for
// the channel; once that pipeline has been removed, no transcript is kept
// for it and the source returns false.
type TranscriptSource func(channelId string) ([]transcript.Chunk, bool)

// RoomActiveCheck reports whether channelId's room is still active.
type RoomActiveCheck func(channelId string) bool

// Generator coordinates single-flight summarize-then-render generation and
// caches the finalized PDF once a room goes inactive.
type Generator struct {
	sf singleflight.Group

	mu    sync.Mutex
	cache map[string]cachedEntry

	summarizer    summary.Summarizer
	transcriptFor TranscriptSource
	roomActive    RoomActiveCheck
}

// New constructs a Generator. summarizer is a RemoteSummarizer or a
// LocalSummarizer (selected by the caller); when it returns an error,
// generation retries once with a LocalSummarizer.
func New(summarizer summary.Summarizer, transcriptFor TranscriptSource, roomActive RoomActiveCheck) *Generator {
	return &Generator{
		cache:         make(map[string]cachedEntry),
		summarizer:    summarizer,
		transcriptFor: transcriptFor,
		roomActive:    roomActive,
	}
}

// Generate returns the minutes PDF for channelId, joining an in-flight
// generation if one is already running. A cancelled ctx only cancels the
// caller's own wait; an in-flight generation started by another caller
// runs to completion regardless (§5).
func (g *Generator) Generate(ctx context.Context, channelId, roomId string) (*Result, error) {
	if !g.roomActive(channelId) {
		if cached, ok := g.getCached(channelId); ok {
			return &Result{ChannelId: channelId, Transcript: cached.transcript, PDF: cached.pdf, FromCache: true}, nil
		}
	}

	ch := g.sf.DoChan(channelId, func() (interface{}, error) {
		return g.generateOnce(context.WithoutCancel(ctx), channelId, roomId)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.Err != nil {
		if cached, ok := g.getCached(channelId); ok {
			return &Result{ChannelId: channelId, Transcript: cached.transcript, PDF: cached.pdf, FromCache: true}, nil
		}
		return nil, res.Err
	}
	return res.Val.(*Result), nil
}

func (g *Generator) generateOnce(ctx context.Context, channelId, roomId string) (*Result, error) {
	chunks, ok := g.transcriptFor(channelId)
	if !ok {
		return nil, fmt.Errorf("no transcript available for channel %q", channelId)
	}

	text := flattenTranscript(chunks)
	source := summarizerSource(g.summarizer)
	s, err := g.summarizer.Summarize(ctx, text)
	if err != nil {
		source = "local"
		s, err = summary.LocalSummarizer{}.Summarize(ctx, text)
	}
	if err != nil {
		return nil, fmt.Errorf("summarize: %w", err)
	}

	pdf, err := renderPDF(roomId, chunks, s)
	if err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}

	if !g.roomActive(channelId) {
		g.mu.Lock()
		g.cache[channelId] = cachedEntry{transcript: chunks, pdf: pdf}
		g.mu.Unlock()
	}

	metrics.MinutesGenerated.WithLabelValues(source).Inc()
	return &Result{ChannelId: channelId, Transcript: chunks, Summary: s, PDF: pdf}, nil
}

func (g *Generator) getCached(channelId string) (cachedEntry, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[channelId]
	return entry, ok
}

func summarizerSource(s summary.Summarizer) string {
	switch s.(type) {
	case *summary.RemoteSummarizer:
		return "remote"
	case summary.LocalSummarizer, *summary.LocalSummarizer:
		return "local"
	default:
		return "unknown"
	}
}

func flattenTranscript(chunks []transcript.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		if c.Speaker != "" {
			b.WriteString(c.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(c.Text)
		b.WriteString(". ")
	}
	return strings.TrimSpace(b.String())
}

func renderPDF(roomId string, chunks []transcript.Chunk, s *summary.Summary) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, "Meeting Minutes")
	pdf.Ln(12)
	pdf.SetFont("Arial", "", 11)
	pdf.Cell(0, 8, fmt.Sprintf("Room: %s", roomId))
	pdf.Ln(10)

	if s != nil {
		if s.Headline != "" {
			pdf.SetFont("Arial", "B", 12)
			pdf.MultiCell(0, 7, s.Headline, "", "", false)
			pdf.Ln(2)
		}
		if len(s.Bullets) > 0 {
			pdf.SetFont("Arial", "B", 12)
			pdf.Cell(0, 7, "Summary")
			pdf.Ln(8)
			pdf.SetFont("Arial", "", 11)
			for _, b := range s.Bullets {
				pdf.MultiCell(0, 6, "- "+b, "", "", false)
			}
			pdf.Ln(4)
		}
		if len(s.ActionItems) > 0 {
			pdf.SetFont("Arial", "B", 12)
			pdf.Cell(0, 7, "Action Items")
			pdf.Ln(8)
			pdf.SetFont("Arial", "", 11)
			for _, a := range s.ActionItems {
				pdf.MultiCell(0, 6, "- "+a, "", "", false)
			}
			pdf.Ln(4)
		}
	}

	pdf.SetFont("Arial", "B", 12)
	pdf.Cell(0, 7, "Transcript")
	pdf.Ln(8)
	pdf.SetFont("Arial", "", 10)
	for _, c := range chunks {
		line := fmt.Sprintf("[%s] %s: %s", formatMs(c.StartMs), c.Speaker, c.Text)
		pdf.MultiCell(0, 5, line, "", "", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatMs(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	return d.Truncate(time.Second).String()
}
