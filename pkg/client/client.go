// Package client is a small websocket and HTTP client for a running docchat
// server. cmd/docchat uses it for the client subcommand.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/go-go-golems/docchat/pkg/chat"
	"github.com/go-go-golems/docchat/pkg/webchat"
)

type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
}

func New(baseURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("server url %q must be http or https", baseURL)
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: 2 * time.Minute},
		dialer:  websocket.DefaultDialer,
	}, nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String()
}

func (c *Client) wsEndpoint(sessionID string) string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(sessionID)
	return u.String()
}

func (c *Client) CreateConversation(ctx context.Context, title string) (chat.Conversation, error) {
	body := map[string]string{}
	if title != "" {
		body["title"] = title
	}
	b, err := json.Marshal(body)
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/conversations"), bytes.NewReader(b))
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	var conv chat.Conversation
	if err := c.do(req, &conv); err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// UploadFile posts a local file to /api/upload. contentType is required since
// the server decides between image and pdf from it.
func (c *Client) UploadFile(ctx context.Context, path, contentType string) (chat.AttachmentRef, error) {
	f, err := os.Open(path)
	if err != nil {
		return chat.AttachmentRef{}, errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+escapeQuotes(filepath.Base(path))+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return chat.AttachmentRef{}, errors.Wrap(err, "multipart part")
	}
	if _, err := io.Copy(part, f); err != nil {
		return chat.AttachmentRef{}, errors.Wrapf(err, "read %s", path)
	}
	if err := mw.Close(); err != nil {
		return chat.AttachmentRef{}, errors.Wrap(err, "multipart close")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/api/upload"), &buf)
	if err != nil {
		return chat.AttachmentRef{}, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var up webchat.UploadResponse
	if err := c.do(req, &up); err != nil {
		return chat.AttachmentRef{}, err
	}
	return chat.AttachmentRef{ID: up.ID, Name: up.Name, Type: up.Type, URL: up.URL, MimeType: up.MimeType}, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		var detail struct {
			Detail string `json:"detail"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&detail)
		if detail.Detail == "" {
			detail.Detail = resp.Status
		}
		return errors.Errorf("%s %s: %s", req.Method, req.URL.Path, detail.Detail)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func escapeQuotes(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
