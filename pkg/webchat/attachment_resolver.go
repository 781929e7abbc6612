package webchat

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/chat"
)

const pdfMimeType = "application/pdf"

// Resolution is the outcome of one attachment fetch. On failure Part holds
// the placeholder text and Failure the reason.
type Resolution struct {
	Part    chat.Part
	Failure string
}

func (r Resolution) Failed() bool { return r.Failure != "" }

// Resolver turns an attachment into a multimodal part.
type Resolver interface {
	Resolve(ctx context.Context, a chat.Attachment) Resolution
}

// AttachmentResolver downloads attachment bytes over HTTP.
type AttachmentResolver struct {
	client   *http.Client
	maxBytes int64
	metrics  *Metrics
}

var _ Resolver = &AttachmentResolver{}

func NewAttachmentResolver(client *http.Client, maxBytes int64, metrics *Metrics) *AttachmentResolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &AttachmentResolver{client: client, maxBytes: maxBytes, metrics: metrics}
}

// Resolve never fails outright. Images keep the client supplied mime type,
// PDFs are always tagged application/pdf.
func (r *AttachmentResolver) Resolve(ctx context.Context, a chat.Attachment) Resolution {
	data, err := r.fetch(ctx, a.URL)
	if err != nil {
		log.Warn().Err(err).Str("component", "webchat").Str("attachment", a.Name).Str("url", a.URL).Msg("attachment fetch failed, using placeholder")
		r.metrics.attachmentResolved(string(a.Type), "failed")
		return Resolution{
			Part:    chat.TextPart(Placeholder(a)),
			Failure: err.Error(),
		}
	}
	r.metrics.attachmentResolved(string(a.Type), "ok")
	mime := a.MimeType
	if a.Type == chat.AttachmentPDF {
		mime = pdfMimeType
	}
	return Resolution{Part: chat.BinaryPart(mime, data)}
}

// Placeholder is the text sent to the generator in place of an unreadable attachment.
func Placeholder(a chat.Attachment) string {
	return fmt.Sprintf("[Failed to load %s: %s]", a.Type.Label(), a.Name)
}

func (r *AttachmentResolver) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetch")
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}
	body := io.Reader(resp.Body)
	if r.maxBytes > 0 {
		body = io.LimitReader(resp.Body, r.maxBytes+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	if r.maxBytes > 0 && int64(len(data)) > r.maxBytes {
		return nil, errors.Errorf("attachment exceeds %d bytes", r.maxBytes)
	}
	return data, nil
}
