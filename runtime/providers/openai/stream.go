package openai

import (
	"context"
	"io"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/chatcore/engine/runtime/provider"
)

// streamer adapts an OpenAI chat-completion-chunk SSE stream to
// provider.Stream, grounded on providers/anthropic/stream.go's streamer: a
// goroutine drains the SDK's ssestream.Stream and emits provider.Chunks,
// with a single-choice (n=1, §4.5 never requests multiple completions)
// tool-call buffer keyed by the delta's Index field.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]

	chunks chan provider.Chunk

	mu     sync.Mutex
	errSet bool
	err_   error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.ChatCompletionChunk]) *streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{ctx: cctx, cancel: cancel, stream: stream, chunks: make(chan provider.Chunk, 32)}
	go s.run()
	return s
}

func (s *streamer) Recv() (provider.Chunk, error) {
	select {
	case c, ok := <-s.chunks:
		if ok {
			return c, nil
		}
		if err := s.getErr(); err != nil {
			return provider.Chunk{}, err
		}
		return provider.Chunk{}, io.EOF
	case <-s.ctx.Done():
		s.setErr(s.ctx.Err())
		return provider.Chunk{}, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	return s.stream.Close()
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.err_ = err
}

func (s *streamer) getErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err_
}

func (s *streamer) run() {
	defer close(s.chunks)
	defer func() { _ = s.stream.Close() }()

	p := newChunkProcessor(s.emit)
	for s.stream.Next() {
		if err := p.handle(s.stream.Current()); err != nil {
			s.setErr(err)
			return
		}
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		default:
		}
	}
	if err := s.stream.Err(); err != nil {
		s.setErr(classifyError("chat.completions.stream.recv", err))
	}
}

func (s *streamer) emit(c provider.Chunk) error {
	select {
	case <-s.ctx.Done():
		return s.ctx.Err()
	case s.chunks <- c:
		return nil
	}
}

type toolBuffer struct {
	id   string
	name string
}

// chunkProcessor translates sdk.ChatCompletionChunk values into
// provider.Chunks. A single chat-completion choice can carry several
// tool-call deltas in one chunk, each keyed by its own Index, so the buffer
// is keyed the same way providers/bedrock and providers/anthropic key their
// content-block/tool-use buffers.
type chunkProcessor struct {
	emit       func(provider.Chunk) error
	toolBlocks map[int64]*toolBuffer
}

func newChunkProcessor(emit func(provider.Chunk) error) *chunkProcessor {
	return &chunkProcessor{emit: emit, toolBlocks: make(map[int64]*toolBuffer)}
}

func (p *chunkProcessor) handle(chunk sdk.ChatCompletionChunk) error {
	if len(chunk.Choices) == 0 {
		return p.handleUsage(chunk)
	}
	choice := chunk.Choices[0]

	if choice.Delta.Content != "" {
		if err := p.emit(provider.Chunk{Type: provider.ChunkContent, Text: choice.Delta.Content}); err != nil {
			return err
		}
	}

	for _, tc := range choice.Delta.ToolCalls {
		idx := tc.Index
		tb := p.toolBlocks[idx]
		delta := provider.ToolCallDelta{Index: int(idx), ArgumentsFragment: tc.Function.Arguments}
		if tb == nil {
			tb = &toolBuffer{id: tc.ID, name: tc.Function.Name}
			p.toolBlocks[idx] = tb
			delta.ID = tc.ID
			delta.Name = tc.Function.Name
		}
		if err := p.emit(provider.Chunk{Type: provider.ChunkToolCallDelta, ToolCallDelta: &delta}); err != nil {
			return err
		}
	}

	if choice.FinishReason != "" {
		p.toolBlocks = make(map[int64]*toolBuffer)
		if err := p.emit(provider.Chunk{Type: provider.ChunkStop, FinishReason: choice.FinishReason}); err != nil {
			return err
		}
	}

	return p.handleUsage(chunk)
}

func (p *chunkProcessor) handleUsage(chunk sdk.ChatCompletionChunk) error {
	if chunk.Usage.TotalTokens == 0 {
		return nil
	}
	usage := provider.Usage{
		PromptTokens:     int(chunk.Usage.PromptTokens),
		CompletionTokens: int(chunk.Usage.CompletionTokens),
		TotalTokens:      int(chunk.Usage.TotalTokens),
	}
	return p.emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage})
}
