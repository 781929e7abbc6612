package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/config"
	"github.com/go-go-golems/docchat/pkg/inference"
	"github.com/go-go-golems/docchat/pkg/redisstream"
	"github.com/go-go-golems/docchat/pkg/webchat"
)

func TestContentTypeFor(t *testing.T) {
	require.Equal(t, "application/pdf", contentTypeFor("doc.PDF"))
	require.Equal(t, "image/png", contentTypeFor("/tmp/a.png"))
	require.Equal(t, "application/octet-stream", contentTypeFor("noext"))
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "docchat.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("store:\n  driver: postgres\n"), 0o600))
	t.Setenv("GOOGLE_API_KEY", "k")

	root := newRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"--config", cfg, "--log-file", filepath.Join(dir, "log.json"), "serve"})
	err := root.Execute()
	require.ErrorContains(t, err, "unknown driver")
}

func TestClientRequiresMessage(t *testing.T) {
	root := newRootCommand()
	root.SetArgs([]string{"--log-file", filepath.Join(t.TempDir(), "log.json"), "client", "--addr", "ftp://nowhere"})
	require.Error(t, root.Execute())
}

func parsedServeFlags(t *testing.T, args ...string) (*serveFlags, *cobra.Command) {
	t.Helper()
	sf := &serveFlags{}
	cmd := &cobra.Command{Use: "serve"}
	sf.register(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return sf, cmd
}

func TestServeProviderFlagPicksMatchingKey(t *testing.T) {
	env := func(k string) string {
		return map[string]string{"GOOGLE_API_KEY": "g-key", "OPENAI_API_KEY": "o-key"}[k]
	}
	base, err := config.Load("", env)
	require.NoError(t, err)

	sf, cmd := parsedServeFlags(t, "--provider", "openai", "--model", "gpt-4o", "--store", "memory")
	s, err := sf.apply(cmd, base, env)
	require.NoError(t, err)
	require.Equal(t, inference.ProviderOpenAI, s.Inference.Provider)
	require.Equal(t, "o-key", s.Inference.APIKey)
	require.Equal(t, "gpt-4o", s.Inference.Model)
	require.Empty(t, s.Inference.TitleModel)
	require.Equal(t, config.StoreMemory, s.Store.Driver)
}

func TestServeProviderFlagNeedsModel(t *testing.T) {
	env := func(k string) string {
		return map[string]string{"ANTHROPIC_API_KEY": "a-key"}[k]
	}
	base, err := config.Load("", env)
	require.NoError(t, err)

	sf, cmd := parsedServeFlags(t, "--provider", "anthropic")
	_, err = sf.apply(cmd, base, env)
	require.ErrorContains(t, err, "requires a model")
}

func TestDrainTurnEventsConsumesInMemoryEvents(t *testing.T) {
	var buf syncBuffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	ps, err := redisstream.Build(redisstream.DefaultSettings())
	require.NoError(t, err)
	defer func() { _ = ps.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := ps.Subscriber.Subscribe(ctx, redisstream.DefaultTopic)
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		drainTurnEvents(msgs)
		close(done)
	}()

	pub := webchat.NewTurnEventPublisher(ps.Publisher, redisstream.DefaultTopic)
	require.NoError(t, pub.Publish(webchat.TurnEvent{
		Kind:           webchat.EventTurnCompleted,
		SessionID:      "s1",
		ConversationID: "c1",
		Chunks:         3,
	}))

	require.Eventually(t, func() bool {
		return strings.Contains(buf.String(), `"conversation_id":"c1"`)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not stop after the subscription closed")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
