package bedrock

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/chatcore/engine/runtime/provider"
)

// streamer adapts a Bedrock ConverseStream event stream to provider.Stream,
// grounded on features/model/bedrock/stream.go's bedrockStreamer: a
// goroutine drains the SDK's event channel and emits provider.Chunks,
// content-block index keyed tool-use buffers accumulate input JSON
// fragments until their ContentBlockStop.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan provider.Chunk

	mu     sync.Mutex
	errSet bool
	err_   error
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream) *streamer {
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
	events := s.stream.Events()
	for {
		select {
		case <-s.ctx.Done():
			s.setErr(s.ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(classifyError("converse_stream.recv", err))
				}
				return
			}
			if err := p.handle(event); err != nil {
				s.setErr(err)
				return
			}
		}
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
	id        string
	name      string
	fragments []string
}

type chunkProcessor struct {
	emit       func(provider.Chunk) error
	toolBlocks map[int]*toolBuffer
	stopReason string
}

func newChunkProcessor(emit func(provider.Chunk) error) *chunkProcessor {
	return &chunkProcessor{emit: emit, toolBlocks: make(map[int]*toolBuffer)}
}

func (p *chunkProcessor) handle(event any) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		p.toolBlocks = make(map[int]*toolBuffer)
		p.stopReason = ""
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		if toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			if toolUse.Value.ToolUseId == nil || *toolUse.Value.ToolUseId == "" {
				return fmt.Errorf("bedrock stream: tool use block missing tool_use_id")
			}
			if toolUse.Value.Name == nil || *toolUse.Value.Name == "" {
				return fmt.Errorf("bedrock stream: tool use block %q missing name", *toolUse.Value.ToolUseId)
			}
			tb := &toolBuffer{id: *toolUse.Value.ToolUseId, name: *toolUse.Value.Name}
			p.toolBlocks[idx] = tb
			return p.emit(provider.Chunk{
				Type: provider.ChunkToolCallDelta,
				ToolCallDelta: &provider.ToolCallDelta{
					Index: idx,
					ID:    tb.id,
					Name:  tb.name,
				},
			})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return nil
			}
			return p.emit(provider.Chunk{Type: provider.ChunkContent, Text: delta.Value})
		case *brtypes.ContentBlockDeltaMemberReasoningContent:
			if v, ok := delta.Value.(*brtypes.ReasoningContentBlockDeltaMemberText); ok && v.Value != "" {
				return p.emit(provider.Chunk{Type: provider.ChunkThinking, Text: v.Value})
			}
			return nil
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tb := p.toolBlocks[idx]
			if tb == nil || delta.Value.Input == nil {
				return nil
			}
			fragment := *delta.Value.Input
			tb.fragments = append(tb.fragments, fragment)
			return p.emit(provider.Chunk{
				Type:          provider.ChunkToolCallDelta,
				ToolCallDelta: &provider.ToolCallDelta{Index: idx, ArgumentsFragment: fragment},
			})
		default:
			return nil
		}
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return err
		}
		delete(p.toolBlocks, idx)
		return nil
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		p.stopReason = string(ev.Value.StopReason)
		p.toolBlocks = make(map[int]*toolBuffer)
		return p.emit(provider.Chunk{Type: provider.ChunkStop, FinishReason: p.stopReason})
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return nil
		}
		usage := provider.Usage{
			PromptTokens:     int32Value(ev.Value.Usage.InputTokens),
			CompletionTokens: int32Value(ev.Value.Usage.OutputTokens),
			TotalTokens:      int32Value(ev.Value.Usage.TotalTokens),
		}
		return p.emit(provider.Chunk{Type: provider.ChunkUsage, Usage: &usage})
	}
	return nil
}

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock stream: content block index missing")
	}
	return int(*idx), nil
}

func int32Value(p *int32) int {
	if p == nil {
		return 0
	}
	return int(*p)
}
