package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// LocalUploader writes files under Dir and serves them from BaseURL.
type LocalUploader struct {
	Dir     string
	BaseURL string
}

var _ Uploader = &LocalUploader{}

func NewLocalUploader(dir, baseURL string) (*LocalUploader, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("local uploader: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "local uploader: create %s", dir)
	}
	return &LocalUploader{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (u *LocalUploader) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := ObjectPath(filename)
	dst := filepath.Join(u.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", errors.Wrap(err, "local uploader: create object dir")
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "local uploader: write %s", key)
	}
	log.Debug().Str("component", "storage").Str("key", key).Str("content_type", contentType).Int("bytes", len(data)).Msg("stored upload")
	return u.BaseURL + "/" + escapePath(key), nil
}

func escapePath(key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}
