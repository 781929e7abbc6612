package webchat

import (
	"context"
	"encoding/json"
	"iter"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/chat"
)

type fakeGenerator struct {
	mu         sync.Mutex
	fragments  []string
	failAfter  error
	title      string
	titleErr   error
	titleCalls int
	streams    int
	history    []chat.Turn
	current    chat.Turn
	system     string
	started    chan struct{}
	release    chan struct{}
}

func (g *fakeGenerator) StreamCompletion(_ context.Context, system string, history []chat.Turn, current chat.Turn) iter.Seq2[string, error] {
	g.mu.Lock()
	g.streams++
	g.system = system
	g.history = history
	g.current = current
	fragments := append([]string(nil), g.fragments...)
	failAfter := g.failAfter
	started, release := g.started, g.release
	g.mu.Unlock()

	return func(yield func(string, error) bool) {
		if started != nil {
			started <- struct{}{}
		}
		if release != nil {
			<-release
		}
		for _, f := range fragments {
			if !yield(f, nil) {
				return
			}
		}
		if failAfter != nil {
			yield("", failAfter)
		}
	}
}

func (g *fakeGenerator) GenerateTitle(_ context.Context, _ string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.titleCalls++
	return g.title, g.titleErr
}

func (g *fakeGenerator) currentTurn() chat.Turn {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

func (g *fakeGenerator) streamCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.streams
}

type recordingSender struct {
	mu   sync.Mutex
	envs []Envelope
}

func (s *recordingSender) Send(_ string, env Envelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envs = append(s.envs, env)
	return nil
}

func (s *recordingSender) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.envs))
	for _, e := range s.envs {
		out = append(out, e.Type)
	}
	return out
}

func (s *recordingSender) chunks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.envs {
		if d, ok := e.Data.(StreamChunkData); ok {
			out = append(out, d.Content)
		}
	}
	return out
}

func (s *recordingSender) find(typ string) (Envelope, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.envs {
		if e.Type == typ {
			return e, true
		}
	}
	return Envelope{}, false
}

type stubResolver struct{}

func (stubResolver) Resolve(_ context.Context, a chat.Attachment) Resolution {
	return Resolution{Part: chat.BinaryPart(a.MimeType, []byte(a.Name))}
}

type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func decodeData[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}
