package webchat

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/docchat/pkg/chat"
	"github.com/go-go-golems/docchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/docchat/pkg/storage"
)

func newTestHTTPServer(t *testing.T, h http.Handler) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func testAPIOptions(dir string) APIOptions {
	return APIOptions{
		CORSOrigins:          []string{"http://localhost:3000"},
		MaxUploadBytes:       1 << 20,
		AllowedImageTypes:    []string{"image/jpeg", "image/png", "image/gif", "image/webp"},
		AllowedDocumentTypes: []string{"application/pdf"},
		FilesDir:             dir,
	}
}

func newAPIServer(t *testing.T) (*httptest.Server, chatstore.ConversationStore) {
	t.Helper()
	store := chatstore.NewInMemoryConversationStore()
	dir := t.TempDir()
	uploader, err := storage.NewLocalUploader(dir, "http://files.local/files")
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	metrics.envelopeReceived(TypePing)
	srv := newTestHTTPServer(t, NewAPIHandler(APIDeps{Store: store, Uploader: uploader, Gatherer: reg}, testAPIOptions(dir)))
	return srv, store
}

func doJSON(t *testing.T, method, url string, body any) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestAPIRootAndHealth(t *testing.T) {
	srv, _ := newAPIServer(t)
	code, body := doJSON(t, http.MethodGet, srv.URL+"/", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"message":"Chat Document API","version":"1.0.0"}`, string(body))

	code, body = doJSON(t, http.MethodGet, srv.URL+"/health", nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"status":"healthy"}`, string(body))
}

func TestAPIConversationCRUD(t *testing.T) {
	srv, store := newAPIServer(t)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/api/conversations", map[string]any{})
	require.Equal(t, http.StatusOK, code)
	var created chat.Conversation
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, chat.DefaultConversationTitle, created.Title)

	code, body = doJSON(t, http.MethodPost, srv.URL+"/api/conversations", map[string]any{"title": "Second"})
	require.Equal(t, http.StatusOK, code)
	var second chat.Conversation
	require.NoError(t, json.Unmarshal(body, &second))

	code, body = doJSON(t, http.MethodPatch, srv.URL+"/api/conversations/"+created.ID, map[string]any{"title": "Renamed"})
	require.Equal(t, http.StatusOK, code)
	var renamed chat.Conversation
	require.NoError(t, json.Unmarshal(body, &renamed))
	require.Equal(t, "Renamed", renamed.Title)

	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/conversations", nil)
	require.Equal(t, http.StatusOK, code)
	var list []chat.Conversation
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 2)
	require.Equal(t, created.ID, list[0].ID)

	_, err := store.AddMessage(t.Context(), created.ID, chat.RoleUser, "hi", nil)
	require.NoError(t, err)
	code, body = doJSON(t, http.MethodGet, srv.URL+"/api/conversations/"+created.ID+"/messages", nil)
	require.Equal(t, http.StatusOK, code)
	var msgs []chat.Message
	require.NoError(t, json.Unmarshal(body, &msgs))
	require.Len(t, msgs, 1)
	require.Contains(t, string(body), `"conversation_id"`)
	require.Contains(t, string(body), `"attachments":[]`)

	code, body = doJSON(t, http.MethodDelete, srv.URL+"/api/conversations/"+created.ID, nil)
	require.Equal(t, http.StatusOK, code)
	require.JSONEq(t, `{"message":"Conversation deleted"}`, string(body))

	for _, method := range []string{http.MethodGet, http.MethodDelete, http.MethodPatch} {
		code, body = doJSON(t, method, srv.URL+"/api/conversations/"+created.ID, map[string]any{"title": "x"})
		require.Equal(t, http.StatusNotFound, code, method)
		require.JSONEq(t, `{"detail":"Conversation not found"}`, string(body))
	}
}

func TestAPIMalformedBody(t *testing.T) {
	srv, _ := newAPIServer(t)
	resp, err := http.Post(srv.URL+"/api/conversations", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func multipartUpload(t *testing.T, url, filename, contentType string, data []byte) (int, []byte) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(url, w.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func TestAPIUpload(t *testing.T) {
	srv, _ := newAPIServer(t)

	code, body := multipartUpload(t, srv.URL+"/api/upload", "my cat.png", "image/png", []byte("png"))
	require.Equal(t, http.StatusOK, code)
	var up UploadResponse
	require.NoError(t, json.Unmarshal(body, &up))
	require.Equal(t, "image", up.Type)
	require.Equal(t, "my cat.png", up.Name)
	require.Equal(t, "image/png", up.MimeType)
	require.NotEmpty(t, up.ID)
	require.True(t, strings.HasPrefix(up.URL, "http://files.local/files/uploads/"))
	require.True(t, strings.HasSuffix(up.URL, "/my_cat.png"))

	key := strings.TrimPrefix(up.URL, "http://files.local/files/")
	resp, err := http.Get(srv.URL + "/files/" + key)
	require.NoError(t, err)
	served, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, "png", string(served))

	code, body = multipartUpload(t, srv.URL+"/api/upload", "doc.pdf", "application/pdf", []byte("%PDF"))
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(body, &up))
	require.Equal(t, "pdf", up.Type)

	code, body = multipartUpload(t, srv.URL+"/api/upload", "notes.txt", "text/plain", []byte("hi"))
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, string(body), "Unsupported file type: text/plain")

	code, body = multipartUpload(t, srv.URL+"/api/upload", "big.png", "image/png", make([]byte, (1<<20)+1))
	require.Equal(t, http.StatusBadRequest, code)
	require.Contains(t, string(body), "File too large. Maximum size is 1MB")
}

func TestAPICORS(t *testing.T) {
	srv, _ := newAPIServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	req.Header.Set("Access-Control-Request-Headers", "content-type")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")
	require.Equal(t, "content-type", resp.Header.Get("Access-Control-Allow-Headers"))

	req, err = http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestAPIMetrics(t *testing.T) {
	srv, _ := newAPIServer(t)
	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `docchat_envelopes_received_total{type="ping"} 1`)
}

func TestAPIWebsocketRejectsForeignOrigin(t *testing.T) {
	store := chatstore.NewInMemoryConversationStore()
	registry := NewConnectionRegistry(nil)
	sessions := NewSessionHandler(t.Context(), registry, NewStreamOrchestrator(store, &fakeGenerator{}, stubResolver{}, registry))
	srv := newTestHTTPServer(t, NewAPIHandler(APIDeps{Store: store, Sessions: sessions}, testAPIOptions("")))

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/ws/s1", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
