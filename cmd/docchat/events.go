package main

import (
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/redisstream"
	"github.com/go-go-golems/docchat/pkg/webchat"
)

func newEventsCommand(root *rootOptions) *cobra.Command {
	var (
		redisAddr string
		group     string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Tail turn events from Redis Streams",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s := root.settings.Events
			s.Enabled = true
			s.RedisEnabled = true
			if cmd.Flags().Changed("redis-addr") {
				s.Addr = redisAddr
			}
			if cmd.Flags().Changed("group") {
				s.Group = group
			}
			if err := s.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := redisstream.EnsureGroupAtTail(ctx, s.Addr, s.Topic, s.Group); err != nil {
				return err
			}
			ps, err := redisstream.Build(s)
			if err != nil {
				return err
			}
			defer func() { _ = ps.Close() }()

			msgs, err := ps.Subscriber.Subscribe(ctx, s.Topic)
			if err != nil {
				return errors.Wrapf(err, "subscribe %s", s.Topic)
			}
			log.Info().Str("topic", s.Topic).Str("group", s.Group).Msg("tailing turn events")
			drainTurnEvents(msgs)
			return nil
		},
	}
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address")
	cmd.Flags().StringVar(&group, "group", "docchat-events", "consumer group")
	return cmd
}

// drainTurnEvents logs every event until the subscription closes.
func drainTurnEvents(msgs <-chan *message.Message) {
	for msg := range msgs {
		if err := logTurnEvent(msg); err != nil {
			log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("bad turn event")
		}
	}
}

func logTurnEvent(msg *message.Message) error {
	defer msg.Ack()
	ev, err := webchat.DecodeTurnEvent(msg)
	if err != nil {
		return err
	}
	l := log.Info()
	if ev.Kind == webchat.EventTurnFailed {
		l = log.Warn().Str("error", ev.Error)
	}
	l.Str("kind", ev.Kind).
		Str("session_id", ev.SessionID).
		Str("conversation_id", ev.ConversationID).
		Str("assistant_message_id", ev.AssistantMessageID).
		Int("chunks", ev.Chunks).
		Int64("duration_ms", ev.DurationMs).
		Msg("turn event")
	return nil
}
