package main

import (
	"context"
	"encoding/json"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/chat"
	"github.com/go-go-golems/docchat/pkg/client"
)

func newClientCommand(_ *rootOptions) *cobra.Command {
	var (
		addr           string
		sessionID      string
		conversationID string
		attachFiles    []string
		attachJSON     string
		ping           bool
		render         string
		style          string
		timeout        time.Duration
	)
	cmd := &cobra.Command{
		Use:   "client [MESSAGE]",
		Short: "Send one chat message to a running server and stream the reply",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			c, err := client.New(addr)
			if err != nil {
				return err
			}
			if sessionID == "" {
				sessionID = "cli-" + time.Now().UTC().Format("20060102T150405")
			}
			sess, err := c.Dial(ctx, sessionID)
			if err != nil {
				return err
			}
			defer func() { _ = sess.Close() }()

			if ping {
				if err := sess.Ping(ctx); err != nil {
					return err
				}
				_, err := cmd.OutOrStdout().Write([]byte("pong\n"))
				return err
			}
			if len(args) == 0 {
				return errors.New("a message is required unless --ping is set")
			}

			if conversationID == "" {
				conv, err := c.CreateConversation(ctx, "")
				if err != nil {
					return err
				}
				conversationID = conv.ID
				log.Info().Str("conversation_id", conv.ID).Msg("created conversation")
			}

			var refs []chat.AttachmentRef
			if attachJSON != "" {
				if err := json.Unmarshal([]byte(attachJSON), &refs); err != nil {
					return errors.Wrap(err, "parse --attach-json")
				}
			}
			for _, path := range attachFiles {
				ref, err := c.UploadFile(ctx, path, contentTypeFor(path))
				if err != nil {
					return err
				}
				refs = append(refs, ref)
			}

			renderOut := false
			switch render {
			case "auto":
				renderOut = isatty.IsTerminal(os.Stdout.Fd())
			case "always":
				renderOut = true
			case "never":
			default:
				return errors.Errorf("unknown --render value %q", render)
			}

			reply, err := sess.Chat(ctx, conversationID, args[0], refs,
				&client.Printer{Out: cmd.OutOrStdout(), Render: renderOut, Style: style})
			if err != nil {
				return err
			}
			ev := log.Debug().
				Str("conversation_id", conversationID).
				Str("user_message_id", reply.UserMessageID).
				Str("assistant_message_id", reply.AssistantMessageID)
			if reply.Title != "" {
				ev = ev.Str("title", reply.Title)
			}
			ev.Msg("turn complete")
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&addr, "addr", "http://localhost:8000", "server base URL")
	f.StringVar(&sessionID, "session", "", "session id (generated when empty)")
	f.StringVar(&conversationID, "conversation", "", "conversation id (a new one is created when empty)")
	f.StringSliceVar(&attachFiles, "attach", nil, "local file to upload and attach (repeatable)")
	f.StringVar(&attachJSON, "attach-json", "", "JSON array of already uploaded attachment references")
	f.BoolVar(&ping, "ping", false, "send a ping and wait for pong")
	f.StringVar(&render, "render", "auto", "markdown rendering: auto, always or never")
	f.StringVar(&style, "style", "dark", "glamour style used when rendering")
	f.DurationVar(&timeout, "timeout", 5*time.Minute, "overall deadline")
	return cmd
}

func contentTypeFor(path string) string {
	ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}
