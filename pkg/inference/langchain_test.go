package inference

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/go-go-golems/docchat/pkg/chat"
)

type fakeModel struct {
	mu       sync.Mutex
	chunks   []string
	err      error
	title    string
	messages []llms.MessageContent
	opts     llms.CallOptions
	blockCtx bool
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{}
	for _, o := range options {
		o(&opts)
	}
	m.mu.Lock()
	m.messages = messages
	m.opts = opts
	m.mu.Unlock()

	if opts.StreamingFunc == nil {
		return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.title}}}, m.err
	}
	full := ""
	for _, c := range m.chunks {
		if err := opts.StreamingFunc(ctx, []byte(c)); err != nil {
			return nil, err
		}
		full += c
	}
	if m.blockCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: full}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func collect(seq func(func(string, error) bool)) ([]string, error) {
	var out []string
	var last error
	seq(func(s string, err error) bool {
		if err != nil {
			last = err
			return false
		}
		out = append(out, s)
		return true
	})
	return out, last
}

func TestStreamCompletionForwardsFragmentsInOrder(t *testing.T) {
	m := &fakeModel{chunks: []string{"Hel", "", "lo"}}
	g := NewLangChainGeneratorFromModel(m, "chat-model", "title-model", 0.7)

	history := []chat.Turn{chat.TextTurn(chat.RoleUser, "hi"), chat.TextTurn(chat.RoleAssistant, "hey")}
	current := chat.Turn{Role: chat.RoleUser, Parts: []chat.Part{
		chat.TextPart("what is this"),
		chat.BinaryPart("image/png", []byte{1, 2, 3}),
	}}
	got, err := collect(g.StreamCompletion(context.Background(), SystemPrompt, history, current))
	require.NoError(t, err)
	require.Equal(t, []string{"Hel", "", "lo"}, got)

	require.Equal(t, "chat-model", m.opts.Model)
	require.InDelta(t, 0.7, m.opts.Temperature, 1e-9)
	require.Len(t, m.messages, 4)
	require.Equal(t, llms.ChatMessageTypeSystem, m.messages[0].Role)
	require.Equal(t, llms.ChatMessageTypeHuman, m.messages[1].Role)
	require.Equal(t, llms.ChatMessageTypeAI, m.messages[2].Role)
	last := m.messages[3]
	require.Len(t, last.Parts, 2)
	require.Equal(t, llms.TextContent{Text: "what is this"}, last.Parts[0])
	require.Equal(t, llms.BinaryContent{MIMEType: "image/png", Data: []byte{1, 2, 3}}, last.Parts[1])
}

func TestStreamCompletionYieldsErrorAfterFragments(t *testing.T) {
	m := &fakeModel{chunks: []string{"Hel", "lo"}, err: errors.New("boom")}
	g := NewLangChainGeneratorFromModel(m, "chat-model", "", 0.7)

	got, err := collect(g.StreamCompletion(context.Background(), "", nil, chat.TextTurn(chat.RoleUser, "x")))
	require.Equal(t, []string{"Hel", "lo"}, got)
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}

func TestStreamCompletionEarlyBreakCancels(t *testing.T) {
	m := &fakeModel{chunks: []string{"a", "b", "c"}, blockCtx: true}
	g := NewLangChainGeneratorFromModel(m, "chat-model", "", 0.7)

	var got []string
	for f, err := range g.StreamCompletion(context.Background(), "", nil, chat.TextTurn(chat.RoleUser, "x")) {
		require.NoError(t, err)
		got = append(got, f)
		break
	}
	require.Equal(t, []string{"a"}, got)
}

func TestImagesAsURL(t *testing.T) {
	m := &fakeModel{}
	g := NewLangChainGeneratorFromModel(m, "chat-model", "", 0.7)
	g.imagesAsURL = true
	msg := g.toMessage(chat.Turn{Role: chat.RoleUser, Parts: []chat.Part{
		chat.BinaryPart("image/png", []byte("x")),
		chat.BinaryPart("application/pdf", []byte("y")),
	}})
	require.Equal(t, llms.ImageURLContent{URL: "data:image/png;base64,eA=="}, msg.Parts[0])
	require.Equal(t, llms.BinaryContent{MIMEType: "application/pdf", Data: []byte("y")}, msg.Parts[1])
}

func TestEmptyCurrentTurnStillSendsHumanMessage(t *testing.T) {
	g := NewLangChainGeneratorFromModel(&fakeModel{}, "m", "", 0.7)
	msgs := g.buildMessages("", nil, chat.Turn{Role: chat.RoleUser})
	require.Len(t, msgs, 1)
	require.Equal(t, []llms.ContentPart{llms.TextContent{Text: ""}}, msgs[0].Parts)
}

func TestGenerateTitle(t *testing.T) {
	m := &fakeModel{title: "  Trip Planning Ideas \n"}
	g := NewLangChainGeneratorFromModel(m, "chat-model", "title-model", 0.7)
	title, err := g.GenerateTitle(context.Background(), "help me plan a trip")
	require.NoError(t, err)
	require.Equal(t, "Trip Planning Ideas", title)
	require.Equal(t, "title-model", m.opts.Model)
	require.Contains(t, m.messages[0].Parts[0].(llms.TextContent).Text, "help me plan a trip")
}

func TestSettingsValidate(t *testing.T) {
	s := DefaultSettings()
	require.Error(t, s.Validate())
	s.APIKey = "k"
	require.NoError(t, s.Validate())

	s = DefaultSettings()
	s.Provider = ProviderOllama
	require.NoError(t, s.Validate())

	s.Provider = "nope"
	require.Error(t, s.Validate())
}
