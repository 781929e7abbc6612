package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/docchat/pkg/config"
	"github.com/go-go-golems/docchat/pkg/inference"
	"github.com/go-go-golems/docchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/docchat/pkg/redisstream"
	"github.com/go-go-golems/docchat/pkg/storage"
	"github.com/go-go-golems/docchat/pkg/webchat"
)

type serveFlags struct {
	addr       string
	store      string
	storage    string
	provider   string
	model      string
	titleModel string
	events     bool
}

// apply layers the flags the user set over s and settles the provider.
func (sf *serveFlags) apply(cmd *cobra.Command, s config.Settings, getenv func(string) string) (config.Settings, error) {
	f := cmd.Flags()
	if f.Changed("addr") {
		s.Server.Addr = sf.addr
	}
	if f.Changed("store") {
		s.Store.Driver = sf.store
	}
	if f.Changed("storage") {
		s.Storage.Backend = sf.storage
	}
	if f.Changed("provider") {
		s.Inference.Provider = inference.Provider(sf.provider)
	}
	if f.Changed("model") {
		s.Inference.Model = sf.model
	}
	if f.Changed("title-model") {
		s.Inference.TitleModel = sf.titleModel
	}
	if f.Changed("events") {
		s.Events.Enabled = sf.events
	}
	s.ResolveProvider(getenv)
	if err := s.Validate(); err != nil {
		return config.Settings{}, errors.Wrap(err, "invalid configuration")
	}
	return s, nil
}

func newServeCommand(root *rootOptions) *cobra.Command {
	sf := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and websocket relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := sf.apply(cmd, root.settings, os.Getenv)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), s)
		},
	}
	sf.register(cmd)
	return cmd
}

func (sf *serveFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVar(&sf.addr, "addr", ":8000", "HTTP listen address")
	f.StringVar(&sf.store, "store", config.StoreSQLite, "conversation store: sqlite or memory")
	f.StringVar(&sf.storage, "storage", config.StorageLocal, "upload storage: local or gcs")
	f.StringVar(&sf.provider, "provider", string(inference.ProviderGoogleAI), "googleai, openai, anthropic or ollama")
	f.StringVar(&sf.model, "model", inference.DefaultModel, "chat model")
	f.StringVar(&sf.titleModel, "title-model", "", "model for conversation titles (defaults to the chat model off googleai)")
	f.BoolVar(&sf.events, "events", false, "publish turn events")
}

func runServe(ctx context.Context, s config.Settings) error {
	store, err := openStore(s.Store)
	if err != nil {
		return err
	}

	uploader, filesDir, err := openUploader(ctx, s.Storage)
	if err != nil {
		_ = store.Close()
		return err
	}

	closeAll := func() {
		if c, ok := uploader.(io.Closer); ok {
			_ = c.Close()
		}
		_ = store.Close()
	}

	generator, err := inference.NewLangChainGenerator(ctx, s.Inference)
	if err != nil {
		closeAll()
		return errors.Wrap(err, "create generator")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := webchat.NewMetrics(reg)

	registry := webchat.NewConnectionRegistry(metrics)
	resolver := webchat.NewAttachmentResolver(&http.Client{Timeout: s.Server.FetchTimeout}, s.Server.MaxAttachmentBytes, metrics)

	orchOpts := []webchat.OrchestratorOption{webchat.WithOrchestratorMetrics(metrics)}
	var pubsub *redisstream.PubSub
	if s.Events.Enabled {
		pubsub, err = redisstream.Build(s.Events)
		if err != nil {
			closeAll()
			return errors.Wrap(err, "build event transport")
		}
		orchOpts = append(orchOpts, webchat.WithTurnEvents(webchat.NewTurnEventPublisher(pubsub.Publisher, s.Events.Topic)))
		if !s.Events.RedisEnabled {
			// nothing outside this process can read the in-memory channel
			msgs, err := pubsub.Subscriber.Subscribe(ctx, s.Events.Topic)
			if err != nil {
				_ = pubsub.Close()
				closeAll()
				return errors.Wrapf(err, "subscribe %s", s.Events.Topic)
			}
			log.Info().Str("component", "serve").Str("topic", s.Events.Topic).
				Msg("turn events stay in-process and are logged; set events.redis_enabled to publish them")
			go drainTurnEvents(msgs)
		}
	}
	orch := webchat.NewStreamOrchestrator(store, generator, resolver, registry, orchOpts...)

	// turns outlive their connection, so they hang off the process context
	sessions := webchat.NewSessionHandler(ctx, registry, orch,
		webchat.WithTurnQueueDepth(s.Server.TurnQueueDepth),
		webchat.WithWriteTimeout(s.Server.WriteTimeout),
		webchat.WithHandlerMetrics(metrics),
	)

	handler := webchat.NewAPIHandler(
		webchat.APIDeps{Store: store, Uploader: uploader, Sessions: sessions, Gatherer: reg},
		webchat.APIOptions{
			CORSOrigins:          s.Server.CORSOrigins,
			MaxUploadBytes:       s.Server.MaxUploadBytes,
			AllowedImageTypes:    s.Server.AllowedImageTypes,
			AllowedDocumentTypes: s.Server.AllowedDocumentTypes,
			MaxFrameBytes:        s.Server.MaxFrameBytes,
			FilesDir:             filesDir,
		},
	)

	srv := webchat.NewServer(s.Server.Addr, handler, registry)
	if pubsub != nil {
		srv.OnShutdown("events", pubsub)
	}
	if c, ok := uploader.(io.Closer); ok {
		srv.OnShutdown("storage", c)
	}
	srv.OnShutdown("store", store)

	log.Info().
		Str("component", "serve").
		Str("addr", s.Server.Addr).
		Str("provider", string(s.Inference.Provider)).
		Str("model", s.Inference.Model).
		Str("store", s.Store.Driver).
		Str("storage", s.Storage.Backend).
		Bool("events", s.Events.Enabled).
		Msg("starting docchat")

	start := time.Now()
	err = srv.Run(ctx)
	log.Info().Str("component", "serve").Dur("uptime", time.Since(start)).Msg("docchat stopped")
	return err
}

func openStore(s config.StoreSettings) (chatstore.ConversationStore, error) {
	switch s.Driver {
	case config.StoreMemory:
		return chatstore.NewInMemoryConversationStore(), nil
	case config.StoreSQLite:
		dsn, err := chatstore.SQLiteConversationDSNForFile(s.SQLitePath)
		if err != nil {
			return nil, err
		}
		st, err := chatstore.NewSQLiteConversationStore(dsn)
		if err != nil {
			return nil, errors.Wrapf(err, "open sqlite store %s", s.SQLitePath)
		}
		return st, nil
	default:
		return nil, errors.Errorf("unknown store driver %q", s.Driver)
	}
}

// openUploader also returns the directory to serve under /files/, empty for gcs.
func openUploader(ctx context.Context, s config.StorageSettings) (storage.Uploader, string, error) {
	switch s.Backend {
	case config.StorageGCS:
		u, err := storage.NewGCSUploader(ctx, s.GCSBucket, s.GCSCredentialsFile)
		if err != nil {
			return nil, "", errors.Wrap(err, "create gcs uploader")
		}
		return u, "", nil
	case config.StorageLocal:
		u, err := storage.NewLocalUploader(s.LocalDir, s.PublicBaseURL)
		if err != nil {
			return nil, "", errors.Wrap(err, "create local uploader")
		}
		return u, s.LocalDir, nil
	default:
		return nil, "", errors.Errorf("unknown storage backend %q", s.Backend)
	}
}
