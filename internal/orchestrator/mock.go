package orchestrator

import (
	"context"
	"io"
	"sync"
)

// MockClient is a scripted ModelClient for testing. Each call to Stream
// replays the next entry of Rounds; once they are used up it returns an empty
// stream, which ends the turn.
type MockClient struct {
	mu       sync.Mutex
	requests []ChatRequest

	// Test configuration
	Rounds     [][]StreamChunk
	StreamErr  error                                                          // Error to return from Stream
	StreamFunc func(ctx context.Context, req ChatRequest) (ChatStream, error) // Overrides Rounds when set
}

// NewMockClient creates a client that replays rounds in order.
func NewMockClient(rounds ...[]StreamChunk) *MockClient {
	return &MockClient{Rounds: rounds}
}

// Stream implements ModelClient.
func (m *MockClient) Stream(ctx context.Context, req ChatRequest) (ChatStream, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	if m.StreamFunc != nil {
		m.mu.Unlock()
		return m.StreamFunc(ctx, req)
	}
	defer m.mu.Unlock()

	if m.StreamErr != nil {
		return nil, m.StreamErr
	}
	var chunks []StreamChunk
	if len(m.Rounds) > 0 {
		chunks = m.Rounds[0]
		m.Rounds = m.Rounds[1:]
	}
	return NewMockStream(chunks...), nil
}

// Requests returns every request received so far.
func (m *MockClient) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// MockStream replays chunks, then returns Err (io.EOF when nil).
type MockStream struct {
	chunks []StreamChunk
	Err    error
	closed bool
}

func NewMockStream(chunks ...StreamChunk) *MockStream {
	return &MockStream{chunks: chunks}
}

func (s *MockStream) Recv() (StreamChunk, error) {
	if len(s.chunks) == 0 {
		if s.Err != nil {
			return StreamChunk{}, s.Err
		}
		return StreamChunk{}, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *MockStream) Close() error {
	s.closed = true
	return nil
}

// TextChunk is a chunk carrying only content.
func TextChunk(text string) StreamChunk {
	return StreamChunk{Content: text}
}

// ToolCallChunk is a chunk carrying one tool call delta.
func ToolCallChunk(index int, id, name, args string) StreamChunk {
	return StreamChunk{ToolCalls: []ToolCallDelta{{Index: index, ID: id, Name: name, Arguments: args}}}
}
