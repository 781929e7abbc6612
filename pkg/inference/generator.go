// Package inference adapts text-generation providers to the two calls the chat
// relay needs: a streamed completion and a short title.
package inference

import (
	"context"
	"iter"

	"github.com/go-go-golems/docchat/pkg/chat"
)

// Generator is the text-generation collaborator.
//
// StreamCompletion yields text fragments in the order the provider emits them.
// The sequence is finite and not restartable; a provider failure is yielded
// once as a non-nil error and ends the sequence. Breaking out of the range
// loop cancels the underlying call.
type Generator interface {
	StreamCompletion(ctx context.Context, system string, history []chat.Turn, current chat.Turn) iter.Seq2[string, error]
	GenerateTitle(ctx context.Context, seed string) (string, error)
}

const SystemPrompt = `You are a helpful AI assistant with vision capabilities.
You can analyze images and PDF documents that users share with you.
When users share files, carefully examine them and provide detailed, helpful responses.
For PDFs, read and understand the content thoroughly.
For images, describe what you see and answer any questions about them.
Be conversational, helpful, and accurate in your responses.`

const titlePromptTemplate = `Generate a very short title (3-5 words max) for a conversation that starts with this message:
"%s"

Respond with ONLY the title, no quotes or punctuation at the end.`
