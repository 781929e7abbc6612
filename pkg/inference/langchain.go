package inference

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/pkg/errors"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/go-go-golems/docchat/pkg/chat"
)

// LangChainGenerator drives any langchaingo model. Chat and title calls share
// one client and select their model per call.
type LangChainGenerator struct {
	model       llms.Model
	chatModel   string
	titleModel  string
	temperature float64
	// imagesAsURL sends images as data URIs instead of inline binary parts,
	// for providers that only accept image_url content.
	imagesAsURL bool
}

var _ Generator = &LangChainGenerator{}

// NewLangChainGenerator constructs the provider client up front.
func NewLangChainGenerator(ctx context.Context, s Settings) (*LangChainGenerator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	var (
		model llms.Model
		err   error
	)
	switch s.Provider {
	case ProviderGoogleAI:
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(s.APIKey),
			googleai.WithDefaultModel(s.Model),
		)
	case ProviderOpenAI:
		model, err = openai.New(
			openai.WithToken(s.APIKey),
			openai.WithModel(s.Model),
		)
	case ProviderAnthropic:
		model, err = anthropic.New(
			anthropic.WithToken(s.APIKey),
			anthropic.WithModel(s.Model),
		)
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(s.Model),
			ollama.WithServerURL(s.OllamaURL),
		)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "inference: create %s model", s.Provider)
	}
	g := NewLangChainGeneratorFromModel(model, s.Model, s.TitleModel, s.Temperature)
	g.imagesAsURL = s.Provider == ProviderOpenAI || s.Provider == ProviderOllama
	return g, nil
}

func NewLangChainGeneratorFromModel(model llms.Model, chatModel, titleModel string, temperature float64) *LangChainGenerator {
	if titleModel == "" {
		titleModel = chatModel
	}
	return &LangChainGenerator{
		model:       model,
		chatModel:   chatModel,
		titleModel:  titleModel,
		temperature: temperature,
	}
}

func (g *LangChainGenerator) StreamCompletion(ctx context.Context, system string, history []chat.Turn, current chat.Turn) iter.Seq2[string, error] {
	messages := g.buildMessages(system, history, current)
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		fragments := make(chan string)
		done := make(chan error, 1)
		go func() {
			defer close(fragments)
			_, err := g.model.GenerateContent(ctx, messages,
				llms.WithModel(g.chatModel),
				llms.WithTemperature(g.temperature),
				llms.WithStreamingFunc(func(_ context.Context, chunk []byte) error {
					select {
					case fragments <- string(chunk):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				}),
			)
			done <- err
		}()

		for f := range fragments {
			if !yield(f, nil) {
				cancel()
				for range fragments {
				}
				return
			}
		}
		if err := <-done; err != nil {
			yield("", errors.Wrap(err, "generation failed"))
		}
	}
}

func (g *LangChainGenerator) GenerateTitle(ctx context.Context, seed string) (string, error) {
	resp, err := g.model.GenerateContent(ctx,
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, fmt.Sprintf(titlePromptTemplate, seed))},
		llms.WithModel(g.titleModel),
		llms.WithTemperature(g.temperature),
	)
	if err != nil {
		return "", errors.Wrap(err, "title generation failed")
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("title generation returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Content), nil
}

func (g *LangChainGenerator) buildMessages(system string, history []chat.Turn, current chat.Turn) []llms.MessageContent {
	out := make([]llms.MessageContent, 0, len(history)+2)
	if system != "" {
		out = append(out, llms.TextParts(llms.ChatMessageTypeSystem, system))
	}
	for _, t := range history {
		out = append(out, g.toMessage(t))
	}
	cur := g.toMessage(current)
	if len(cur.Parts) == 0 {
		cur.Parts = []llms.ContentPart{llms.TextPart("")}
	}
	return append(out, cur)
}

func (g *LangChainGenerator) toMessage(t chat.Turn) llms.MessageContent {
	role := llms.ChatMessageTypeAI
	if t.Role == chat.RoleUser {
		role = llms.ChatMessageTypeHuman
	}
	parts := make([]llms.ContentPart, 0, len(t.Parts))
	for _, p := range t.Parts {
		switch p.Kind {
		case chat.PartText:
			parts = append(parts, llms.TextPart(p.Text))
		case chat.PartBinary:
			if g.imagesAsURL && strings.HasPrefix(p.MimeType, "image/") {
				parts = append(parts, llms.ImageURLPart(p.DataURI()))
			} else {
				parts = append(parts, llms.BinaryPart(p.MimeType, p.Data))
			}
		}
	}
	return llms.MessageContent{Role: role, Parts: parts}
}
