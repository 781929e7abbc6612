// Package storage stores uploaded files and hands back the URL clients use to
// reference them in chat attachments.
package storage

import (
	"context"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Uploader persists one file and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, filename, contentType string) (string, error)
}

var (
	unsafeNameChars = regexp.MustCompile(`[^\p{L}\p{N}_\-]`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// SanitizeFilename makes a client filename storage safe. The stem is reduced
// to letters, digits, '_' and '-', the extension is kept as is.
func SanitizeFilename(filename string) string {
	stem, ext := filename, ""
	if i := strings.LastIndex(filename, "."); i >= 0 {
		stem, ext = filename[:i], filename[i+1:]
	}
	stem = unsafeNameChars.ReplaceAllString(stem, "_")
	stem = underscoreRuns.ReplaceAllString(stem, "_")
	stem = strings.Trim(stem, "_")
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

// ObjectPath is the key an upload is stored under: uploads/<uuid>/<sanitized name>.
func ObjectPath(filename string) string {
	name := SanitizeFilename(filename)
	if name == "" {
		name = "file"
	}
	return path.Join("uploads", uuid.NewString(), name)
}
