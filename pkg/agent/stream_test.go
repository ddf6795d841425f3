package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/selcan/mira/pkg/dispatch"
)

func drainStream(t *testing.T, s *Stream) []Chunk {
	t.Helper()

	var chunks []Chunk
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			chunk, ok := s.Next()
			if !ok {
				return
			}
			chunks = append(chunks, chunk)
		}
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("stream did not terminate")
	}
	return chunks
}

func chunkTypes(chunks []Chunk) []ChunkType {
	types := make([]ChunkType, 0, len(chunks))
	for _, c := range chunks {
		types = append(types, c.Type)
	}
	return types
}

func TestRunner_RunStream_AutoDispatch(t *testing.T) {
	runner, executor, _ := newTestRunner(t, nil, nil)
	registerWeatherTool(t, executor)

	stream := runner.RunStream(context.Background(), RunParams{
		Prompt:     "weather in Berlin",
		SessionKey: "stream-auto",
		Config:     testConfig(),
	})

	chunks := drainStream(t, stream)
	require.Equal(t, []ChunkType{ChunkToolResult, ChunkText, ChunkDone}, chunkTypes(chunks))

	require.NotNil(t, chunks[0].Executed)
	assert.Equal(t, "get_weather", chunks[0].Executed.Call.Name)
	assert.Equal(t, "Sunny in Berlin", chunks[1].Text)

	result, err := stream.Result()
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, dispatch.ActionAutoDispatch, result.Decision)
	assert.Equal(t, "Sunny in Berlin", result.Reply)
}

func TestRunner_RunStream_ToolLoop(t *testing.T) {
	provider := &scriptedProvider{script: []func(Request) (*Response, error){
		func(Request) (*Response, error) {
			return &Response{
				ToolCalls: []ToolCall{{
					ID:         "call_1",
					Name:       "echo_text",
					Parameters: map[string]interface{}{"text": "streamed"},
				}},
			}, nil
		},
		prose("The tool said streamed."),
	}}
	runner, executor, _ := newTestRunner(t, singleProvider(provider), defaultProfiles())
	registerEchoTool(t, executor)

	stream := runner.RunStream(context.Background(), RunParams{
		Prompt:     "please echo streamed",
		SessionKey: "stream-loop",
		Config:     testConfig(),
	})

	chunks := drainStream(t, stream)
	require.Equal(t, []ChunkType{ChunkToolResult, ChunkText, ChunkDone}, chunkTypes(chunks))

	require.NotNil(t, chunks[0].Executed)
	assert.Equal(t, "streamed", chunks[0].Executed.Result.Result)
	assert.Equal(t, "The tool said streamed.", chunks[1].Text)

	result, err := stream.Result()
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Len(t, result.Executed, 1)
}

func TestRunner_RunStream_Error(t *testing.T) {
	runner, _, _ := newTestRunner(t, nil, nil)

	stream := runner.RunStream(context.Background(), RunParams{
		Prompt:     "tell me a story",
		SessionKey: "stream-err",
		Config:     testConfig(),
	})

	chunks := drainStream(t, stream)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkError, chunks[0].Type)
	require.Error(t, chunks[0].Err)
	assert.Contains(t, chunks[0].Err.Error(), "no auth profiles")

	result, err := stream.Result()
	assert.Nil(t, result)
	assert.Error(t, err)
}

// blockingProvider holds its completion open until the run context is
// cancelled
type blockingProvider struct {
	started chan struct{}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Complete(ctx context.Context, _ Request) (*Response, error) {
	close(p.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRunner_RunStream_CloseAborts(t *testing.T) {
	provider := &blockingProvider{started: make(chan struct{})}
	runner, _, _ := newTestRunner(t, singleProvider(provider), defaultProfiles())

	stream := runner.RunStream(context.Background(), RunParams{
		Prompt:     "block forever",
		SessionKey: "stream-close",
		Config:     testConfig(),
	})

	select {
	case <-provider.started:
	case <-time.After(10 * time.Second):
		t.Fatal("provider was never called")
	}
	stream.Close()

	// The stream must terminate promptly once closed.
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for {
			if _, ok := stream.Next(); !ok {
				return
			}
		}
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not terminate after Close")
	}
}

func TestEmitChunk(t *testing.T) {
	t.Run("should deliver to context emitter", func(t *testing.T) {
		var got []Chunk
		ctx := withEmitter(context.Background(), func(c Chunk) {
			got = append(got, c)
		})

		emitChunk(ctx, Chunk{Type: ChunkText, Text: "hi"})

		require.Len(t, got, 1)
		assert.Equal(t, "hi", got[0].Text)
	})

	t.Run("should be a no-op without emitter", func(t *testing.T) {
		assert.NotPanics(t, func() {
			emitChunk(context.Background(), Chunk{Type: ChunkText})
		})
	})
}
