package chat

import (
	"encoding/base64"
	"fmt"
)

type PartKind int

const (
	PartText PartKind = iota
	PartBinary
)

// Part is one element of a multimodal user turn. Generation adapters only
// ever see these two shapes.
type Part struct {
	Kind     PartKind
	Text     string
	MimeType string
	Data     []byte
}

func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

func BinaryPart(mimeType string, data []byte) Part {
	return Part{Kind: PartBinary, MimeType: mimeType, Data: data}
}

// DataURI renders a binary part as a base64 data URI.
func (p Part) DataURI() string {
	if p.Kind != PartBinary {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", p.MimeType, base64.StdEncoding.EncodeToString(p.Data))
}

// Turn is one role-tagged entry of the prompt sent to the generator.
type Turn struct {
	Role  Role
	Parts []Part
}

func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{TextPart(text)}}
}

// HistoryTurns converts stored messages into text-only turns, oldest first.
func HistoryTurns(messages []Message) []Turn {
	out := make([]Turn, 0, len(messages))
	for _, m := range messages {
		role := m.Role
		if role != RoleUser {
			role = RoleAssistant
		}
		out = append(out, TextTurn(role, m.Content))
	}
	return out
}
