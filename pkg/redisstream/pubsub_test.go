package redisstream

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBuildInMemoryRoundTrip(t *testing.T) {
	ps, err := Build(Settings{Enabled: true, Topic: "t"})
	require.NoError(t, err)
	defer func() { _ = ps.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs, err := ps.Subscriber.Subscribe(ctx, "t")
	require.NoError(t, err)

	require.NoError(t, ps.Publisher.Publish("t", message.NewMessage(watermill.NewUUID(), []byte(`{"kind":"turn.completed"}`))))

	select {
	case m := <-msgs:
		require.Equal(t, `{"kind":"turn.completed"}`, string(m.Payload))
		m.Ack()
	case <-ctx.Done():
		t.Fatal("no message received")
	}
}

func TestZerologAdapter(t *testing.T) {
	var buf bytes.Buffer
	a := NewZerologAdapter(zerolog.New(&buf)).With(watermill.LogFields{"topic": "t"})
	a.Error("publish failed", errors.New("boom"), watermill.LogFields{"n": 1})
	out := buf.String()
	require.Contains(t, out, `"component":"watermill"`)
	require.Contains(t, out, `"topic":"t"`)
	require.Contains(t, out, `"error":"boom"`)
	require.Contains(t, out, `"message":"publish failed"`)
}

func TestSettingsValidate(t *testing.T) {
	require.NoError(t, Settings{}.Validate())
	require.Error(t, Settings{Enabled: true}.Validate())
	require.Error(t, Settings{Enabled: true, Topic: "t", RedisEnabled: true}.Validate())
	require.NoError(t, DefaultSettings().Validate())
}
