package agent

import (
	"context"
	"sync"
)

// streamBuffer is how many chunks may queue before the producer waits
// on the consumer
const streamBuffer = 16

// ChunkType discriminates stream chunks
type ChunkType string

const (
	// ChunkText carries assistant prose, one chunk per model turn
	ChunkText ChunkType = "text"

	// ChunkToolResult carries one executed tool call with its envelope
	ChunkToolResult ChunkType = "tool_result"

	// ChunkDone is the terminal success marker carrying the final result
	ChunkDone ChunkType = "done"

	// ChunkError is the terminal failure marker
	ChunkError ChunkType = "error"
)

// Chunk is one streamed piece of a run's progress
type Chunk struct {
	Type     ChunkType     `json:"type"`
	Text     string        `json:"text,omitempty"`
	Executed *ExecutedTool `json:"executed,omitempty"`
	Result   *RunResult    `json:"result,omitempty"`
	Err      error         `json:"-"`
}

type emitterKey struct{}

func withEmitter(ctx context.Context, emit func(Chunk)) context.Context {
	return context.WithValue(ctx, emitterKey{}, emit)
}

func emitterFrom(ctx context.Context) func(Chunk) {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(emitterKey{}); v != nil {
		if emit, ok := v.(func(Chunk)); ok {
			return emit
		}
	}
	return nil
}

// emitChunk delivers a chunk to the run's stream, if it has one
func emitChunk(ctx context.Context, c Chunk) {
	if emit := emitterFrom(ctx); emit != nil {
		emit(c)
	}
}

// Stream is a pull-based view of one agent run. The consumer drains it
// with Next until ok is false; the last delivered chunk is a done or
// error marker. Close cancels the underlying run.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan Chunk

	mu     sync.Mutex
	result *RunResult
	err    error
}

// RunStream starts an agent run and returns a stream over its
// progress: prose per model turn, each tool result as it lands, and a
// terminal done or error chunk. Cancelling ctx or calling Close aborts
// the run.
func (r *Runner) RunStream(ctx context.Context, params RunParams) *Stream {
	if ctx == nil {
		ctx = context.Background()
	}
	streamCtx, cancel := context.WithCancel(ctx)

	s := &Stream{
		ctx:    streamCtx,
		cancel: cancel,
		ch:     make(chan Chunk, streamBuffer),
	}

	go func() {
		defer close(s.ch)

		result, err := r.RunWithContext(withEmitter(streamCtx, s.push), params)
		if err != nil {
			s.push(Chunk{Type: ChunkError, Err: err})
			return
		}
		s.push(Chunk{Type: ChunkDone, Result: &result})
	}()

	return s
}

// push delivers a chunk unless the stream has been closed
func (s *Stream) push(c Chunk) {
	select {
	case s.ch <- c:
	case <-s.ctx.Done():
	}
}

// Next returns the next chunk; ok is false once the stream is
// exhausted
func (s *Stream) Next() (Chunk, bool) {
	chunk, ok := <-s.ch
	if !ok {
		return Chunk{}, false
	}

	s.mu.Lock()
	switch chunk.Type {
	case ChunkDone:
		s.result = chunk.Result
	case ChunkError:
		s.err = chunk.Err
	}
	s.mu.Unlock()

	return chunk, true
}

// Result returns the final outcome observed by Next. It is meaningful
// after the stream is exhausted.
func (s *Stream) Result() (*RunResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.err
}

// Close aborts the run. Chunks not yet consumed are discarded.
func (s *Stream) Close() {
	s.cancel()
}
