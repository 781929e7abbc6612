// Package config loads docchat settings from defaults, an optional YAML file
// and the environment, in that order. Command-line flags are applied last by
// cmd/docchat.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/docchat/pkg/inference"
	"github.com/go-go-golems/docchat/pkg/logging"
	"github.com/go-go-golems/docchat/pkg/redisstream"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	StorageLocal = "local"
	StorageGCS   = "gcs"
)

type ServerSettings struct {
	Addr                 string        `yaml:"addr"`
	CORSOrigins          []string      `yaml:"cors_origins"`
	MaxUploadBytes       int64         `yaml:"max_upload_bytes"`
	AllowedImageTypes    []string      `yaml:"allowed_image_types"`
	AllowedDocumentTypes []string      `yaml:"allowed_document_types"`
	TurnQueueDepth       int           `yaml:"turn_queue_depth"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	MaxFrameBytes        int64         `yaml:"max_frame_bytes"`
	MaxAttachmentBytes   int64         `yaml:"max_attachment_bytes"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
}

type StoreSettings struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type StorageSettings struct {
	Backend            string `yaml:"backend"`
	LocalDir           string `yaml:"local_dir"`
	PublicBaseURL      string `yaml:"public_base_url"`
	GCSBucket          string `yaml:"gcs_bucket"`
	GCSCredentialsFile string `yaml:"gcs_credentials_file"`
}

type Settings struct {
	Server    ServerSettings       `yaml:"server"`
	Inference inference.Settings   `yaml:"inference"`
	Store     StoreSettings        `yaml:"store"`
	Storage   StorageSettings      `yaml:"storage"`
	Events    redisstream.Settings `yaml:"events"`
	Log       logging.Settings     `yaml:"log"`
}

func Default() Settings {
	return Settings{
		Server: ServerSettings{
			Addr:                 ":8000",
			CORSOrigins:          []string{"http://localhost:3000"},
			MaxUploadBytes:       25 << 20,
			AllowedImageTypes:    []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
			AllowedDocumentTypes: []string{"application/pdf"},
			TurnQueueDepth:       4,
			WriteTimeout:         10 * time.Second,
			MaxFrameBytes:        1 << 20,
			MaxAttachmentBytes:   32 << 20,
			FetchTimeout:         60 * time.Second,
		},
		Inference: inference.DefaultSettings(),
		Store:     StoreSettings{Driver: StoreSQLite, SQLitePath: "docchat.db"},
		Storage: StorageSettings{
			Backend:       StorageLocal,
			LocalDir:      "uploads",
			PublicBaseURL: "http://localhost:8000/files",
		},
		Events: redisstream.DefaultSettings(),
		Log:    logging.DefaultSettings(),
	}
}

// Load reads defaults, then path (when non-empty), then the environment via getenv.
func Load(path string, getenv func(string) string) (Settings, error) {
	s := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, errors.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return Settings{}, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if err := s.applyEnv(getenv); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func (s *Settings) applyEnv(getenv func(string) string) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := strings.TrimSpace(getenv(k)); v != "" {
				*dst = v
				return
			}
		}
	}

	str(&s.Server.Addr, "DOCCHAT_ADDR")
	if v := getenv("CORS_ORIGINS"); strings.TrimSpace(v) != "" {
		s.Server.CORSOrigins = splitList(v)
	}
	if v := strings.TrimSpace(getenv("DOCCHAT_MAX_UPLOAD_BYTES")); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrap(err, "DOCCHAT_MAX_UPLOAD_BYTES")
		}
		s.Server.MaxUploadBytes = n
	}

	var provider string
	str(&provider, "DOCCHAT_PROVIDER")
	if provider != "" {
		s.Inference.Provider = inference.Provider(strings.ToLower(provider))
	}
	str(&s.Inference.Model, "DOCCHAT_MODEL")
	str(&s.Inference.TitleModel, "DOCCHAT_TITLE_MODEL")
	str(&s.Inference.OllamaURL, "OLLAMA_HOST")

	str(&s.Store.Driver, "DOCCHAT_STORE")
	str(&s.Store.SQLitePath, "DOCCHAT_SQLITE_PATH")

	str(&s.Storage.Backend, "DOCCHAT_STORAGE")
	str(&s.Storage.LocalDir, "DOCCHAT_UPLOAD_DIR")
	str(&s.Storage.PublicBaseURL, "DOCCHAT_PUBLIC_BASE_URL")
	str(&s.Storage.GCSBucket, "GCS_BUCKET_NAME", "DOCCHAT_GCS_BUCKET")
	str(&s.Storage.GCSCredentialsFile, "GOOGLE_APPLICATION_CREDENTIALS")

	if v := strings.TrimSpace(getenv("DOCCHAT_REDIS_ADDR")); v != "" {
		s.Events.Enabled = true
		s.Events.RedisEnabled = true
		s.Events.Addr = v
	}
	str(&s.Log.Level, "DOCCHAT_LOG_LEVEL")
	return nil
}

var providerKeyEnv = map[inference.Provider]string{
	inference.ProviderGoogleAI:  "GOOGLE_API_KEY",
	inference.ProviderOpenAI:    "OPENAI_API_KEY",
	inference.ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// ResolveProvider settles what depends on the final provider: the API key from
// that provider's environment variable when none is configured, and the
// default models, which are Gemini models and only apply to googleai.
// Call it after every override of the provider, right before Validate.
func (s *Settings) ResolveProvider(getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	in := &s.Inference
	if strings.TrimSpace(in.APIKey) == "" {
		if key, ok := providerKeyEnv[in.Provider]; ok {
			in.APIKey = strings.TrimSpace(getenv(key))
		}
	}
	if in.Provider != inference.ProviderGoogleAI {
		if in.Model == inference.DefaultModel {
			in.Model = ""
		}
		// empty falls back to the chat model
		if in.TitleModel == inference.DefaultTitleModel {
			in.TitleModel = ""
		}
	}
}

// Validate fails fast on settings that would otherwise surface on the first request.
func (s Settings) Validate() error {
	if strings.TrimSpace(s.Server.Addr) == "" {
		return errors.New("server: empty listen address")
	}
	if s.Server.MaxUploadBytes <= 0 {
		return errors.New("server: max upload bytes must be positive")
	}
	if s.Server.TurnQueueDepth <= 0 {
		return errors.New("server: turn queue depth must be positive")
	}
	if len(s.Server.AllowedImageTypes)+len(s.Server.AllowedDocumentTypes) == 0 {
		return errors.New("server: no upload types allowed")
	}
	if err := s.Inference.Validate(); err != nil {
		return err
	}
	switch s.Store.Driver {
	case StoreMemory:
	case StoreSQLite:
		if strings.TrimSpace(s.Store.SQLitePath) == "" {
			return errors.New("store: sqlite driver requires a path")
		}
	default:
		return errors.Errorf("store: unknown driver %q", s.Store.Driver)
	}
	switch s.Storage.Backend {
	case StorageLocal:
		if strings.TrimSpace(s.Storage.LocalDir) == "" {
			return errors.New("storage: local backend requires a directory")
		}
	case StorageGCS:
		if strings.TrimSpace(s.Storage.GCSBucket) == "" {
			return errors.New("storage: gcs backend requires a bucket")
		}
	default:
		return errors.Errorf("storage: unknown backend %q", s.Storage.Backend)
	}
	return s.Events.Validate()
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
