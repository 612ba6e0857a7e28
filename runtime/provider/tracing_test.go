package provider

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeStream struct {
	chunks []Chunk
	i      int
	closed bool
}

func (s *fakeStream) Recv() (Chunk, error) {
	if s.i >= len(s.chunks) {
		return Chunk{}, io.EOF
	}
	c := s.chunks[s.i]
	s.i++
	return c, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

type fakeAdapter struct {
	stream *fakeStream
	err    error
}

func (a *fakeAdapter) Stream(context.Context, *Request) (Stream, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.stream, nil
}

func TestTracedAdapter_StreamDelegatesAndRecordsUsage(t *testing.T) {
	inner := &fakeStream{chunks: []Chunk{
		{Type: ChunkContent, Text: "hi"},
		{Type: ChunkUsage, Usage: &Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5}},
		{Type: ChunkStop, FinishReason: "stop"},
	}}
	a := NewTracedAdapter(&fakeAdapter{stream: inner}, nil, nil)

	s, err := a.Stream(context.Background(), &Request{Model: "m"})
	require.NoError(t, err)

	var got []ChunkType
	for {
		c, err := s.Recv()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		got = append(got, c.Type)
	}
	require.Equal(t, []ChunkType{ChunkContent, ChunkUsage, ChunkStop}, got)

	require.NoError(t, s.Close())
	require.True(t, inner.closed)
}

func TestTracedAdapter_StreamPropagatesStartError(t *testing.T) {
	a := NewTracedAdapter(&fakeAdapter{err: errors.New("boom")}, nil, nil)
	_, err := a.Stream(context.Background(), &Request{Model: "m"})
	require.Error(t, err)
}
