package client

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/chat"
	"github.com/go-go-golems/docchat/pkg/webchat"
)

// ServerError is an error envelope received from the server.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string { return "server: " + e.Message }

// Session is one websocket connection bound to a session id.
type Session struct {
	conn *websocket.Conn
}

func (c *Client) Dial(ctx context.Context, sessionID string) (*Session, error) {
	conn, resp, err := c.dialer.DialContext(ctx, c.wsEndpoint(sessionID), nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial session %s", sessionID)
	}
	return &Session{conn: conn}, nil
}

func (s *Session) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s *Session) read(ctx context.Context) (frame, error) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetReadDeadline(dl)
	}
	var f frame
	if err := s.conn.ReadJSON(&f); err != nil {
		return frame{}, errors.Wrap(err, "read frame")
	}
	return f, nil
}

func (s *Session) Ping(ctx context.Context) error {
	if err := s.conn.WriteJSON(map[string]string{"type": webchat.TypePing}); err != nil {
		return errors.Wrap(err, "send ping")
	}
	for {
		f, err := s.read(ctx)
		if err != nil {
			return err
		}
		switch f.Type {
		case webchat.TypePong:
			return nil
		case webchat.TypeError:
			return decodeServerError(f.Data)
		}
	}
}

// Reply is what a finished chat turn produced.
type Reply struct {
	UserMessageID      string
	AssistantMessageID string
	Content            string
	Title              string
}

// Printer receives the reply as it streams.
type Printer struct {
	Out io.Writer
	// Render buffers the reply and prints it once as markdown.
	Render bool
	Style  string
}

func (p *Printer) chunk(s string) {
	if p == nil || p.Out == nil || p.Render {
		return
	}
	_, _ = io.WriteString(p.Out, s)
}

func (p *Printer) end(full string) error {
	if p == nil || p.Out == nil {
		return nil
	}
	if !p.Render {
		_, err := io.WriteString(p.Out, "\n")
		return err
	}
	style := p.Style
	if style == "" {
		style = "dark"
	}
	out, err := glamour.Render(full, style)
	if err != nil {
		log.Warn().Err(err).Str("component", "client").Msg("markdown render failed, printing raw")
		out = full + "\n"
	}
	_, err = io.WriteString(p.Out, out)
	return err
}

// Chat sends one chat frame and reads until stream_end or an error envelope.
func (s *Session) Chat(ctx context.Context, conversationID, content string, attachments []chat.AttachmentRef, p *Printer) (Reply, error) {
	if attachments == nil {
		attachments = []chat.AttachmentRef{}
	}
	req := webchat.ChatRequest{
		Type:           webchat.TypeChat,
		ConversationID: conversationID,
		Content:        content,
		Attachments:    attachments,
	}
	if err := s.conn.WriteJSON(req); err != nil {
		return Reply{}, errors.Wrap(err, "send chat")
	}

	var (
		reply Reply
		buf   strings.Builder
	)
	for {
		f, err := s.read(ctx)
		if err != nil {
			return reply, err
		}
		switch f.Type {
		case webchat.TypeMessageSaved:
			var d webchat.MessageSavedData
			if err := json.Unmarshal(f.Data, &d); err != nil {
				return reply, errors.Wrap(err, "decode message_saved")
			}
			reply.UserMessageID = d.ID
		case webchat.TypeTitleUpdated:
			var d webchat.TitleUpdatedData
			if err := json.Unmarshal(f.Data, &d); err != nil {
				return reply, errors.Wrap(err, "decode title_updated")
			}
			reply.Title = d.Title
		case webchat.TypeStreamStart:
		case webchat.TypeStreamChunk:
			var d webchat.StreamChunkData
			if err := json.Unmarshal(f.Data, &d); err != nil {
				return reply, errors.Wrap(err, "decode stream_chunk")
			}
			buf.WriteString(d.Content)
			p.chunk(d.Content)
		case webchat.TypeStreamEnd:
			var d webchat.StreamEndData
			if err := json.Unmarshal(f.Data, &d); err != nil {
				return reply, errors.Wrap(err, "decode stream_end")
			}
			reply.AssistantMessageID = d.ID
			reply.Content = d.Content
			return reply, p.end(d.Content)
		case webchat.TypeError:
			return reply, decodeServerError(f.Data)
		default:
			log.Debug().Str("component", "client").Str("type", f.Type).Msg("ignoring frame")
		}
	}
}

func decodeServerError(data json.RawMessage) error {
	var d webchat.ErrorData
	if err := json.Unmarshal(data, &d); err != nil {
		return errors.Wrap(err, "decode error frame")
	}
	return &ServerError{Message: d.Message}
}
