package storage

import (
	"context"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/option"
)

const gcsPublicHost = "https://storage.googleapis.com"

// GCSUploader stores files in a Google Cloud Storage bucket. Objects are
// expected to be publicly readable through bucket policy.
type GCSUploader struct {
	client *storage.Client
	bucket string
}

var _ Uploader = &GCSUploader{}

// NewGCSUploader builds the client eagerly so missing credentials fail at startup.
// An empty credentialsFile falls back to application default credentials.
func NewGCSUploader(ctx context.Context, bucket, credentialsFile string) (*GCSUploader, error) {
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("gcs uploader: empty bucket")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, errors.Wrapf(err, "gcs uploader: credentials file %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "gcs uploader: create storage client")
	}
	return &GCSUploader{client: client, bucket: bucket}, nil
}

func (u *GCSUploader) Upload(ctx context.Context, data []byte, filename, contentType string) (string, error) {
	key := ObjectPath(filename)
	w := u.client.Bucket(u.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", errors.Wrapf(err, "gcs uploader: write gs://%s/%s", u.bucket, key)
	}
	if err := w.Close(); err != nil {
		return "", errors.Wrapf(err, "gcs uploader: finalize gs://%s/%s", u.bucket, key)
	}
	log.Debug().Str("component", "storage").Str("bucket", u.bucket).Str("key", key).Int("bytes", len(data)).Msg("stored upload")
	return PublicURL(u.bucket, key), nil
}

func (u *GCSUploader) Close() error {
	if u == nil || u.client == nil {
		return nil
	}
	return u.client.Close()
}

// PublicURL is the anonymous-read URL of an object.
func PublicURL(bucket, key string) string {
	return gcsPublicHost + "/" + bucket + "/" + escapePath(key)
}
