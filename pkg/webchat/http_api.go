package webchat

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/docchat/pkg/chat"
	"github.com/go-go-golems/docchat/pkg/persistence/chatstore"
	"github.com/go-go-golems/docchat/pkg/storage"
)

const (
	APIName    = "Chat Document API"
	APIVersion = "1.0.0"
)

// APIOptions configures the HTTP surface.
type APIOptions struct {
	CORSOrigins          []string
	MaxUploadBytes       int64
	AllowedImageTypes    []string
	AllowedDocumentTypes []string
	MaxFrameBytes        int64
	// FilesDir, when set, is served under /files/.
	FilesDir string
}

// APIDeps are the collaborators behind the HTTP surface.
type APIDeps struct {
	Store    chatstore.ConversationStore
	Uploader storage.Uploader
	Sessions *SessionHandler
	Gatherer prometheus.Gatherer
}

// NewAPIHandler mounts REST, upload, websocket and metrics routes behind CORS.
func NewAPIHandler(deps APIDeps, opts APIOptions) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": APIName, "version": APIVersion})
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	mux.Handle("POST /api/conversations", NewCreateConversationHandler(deps.Store))
	mux.Handle("GET /api/conversations", NewListConversationsHandler(deps.Store))
	mux.Handle("GET /api/conversations/{id}", NewGetConversationHandler(deps.Store))
	mux.Handle("PATCH /api/conversations/{id}", NewUpdateConversationHandler(deps.Store))
	mux.Handle("DELETE /api/conversations/{id}", NewDeleteConversationHandler(deps.Store))
	mux.Handle("GET /api/conversations/{id}/messages", NewListMessagesHandler(deps.Store))
	mux.Handle("POST /api/upload", NewUploadHandler(deps.Uploader, opts))

	upgrader := websocket.Upgrader{CheckOrigin: originChecker(opts.CORSOrigins)}
	mux.Handle("GET /ws/{session_id}", NewWSHandler(deps.Sessions, upgrader, opts.MaxFrameBytes))

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.FilesDir != "" {
		mux.Handle("GET /files/", http.StripPrefix("/files/", http.FileServer(http.Dir(opts.FilesDir))))
	}
	return corsMiddleware(opts.CORSOrigins, mux)
}

type titleRequest struct {
	Title *string `json:"title"`
}

func NewCreateConversationHandler(store chatstore.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body titleRequest
		if err := decodeOptionalJSON(req, &body); err != nil {
			writeError(w, err)
			return
		}
		title := chat.DefaultConversationTitle
		if body.Title != nil {
			title = *body.Title
		}
		c, err := store.CreateConversation(req.Context(), title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func NewListConversationsHandler(store chatstore.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		list, err := store.ListConversations(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func NewGetConversationHandler(store chatstore.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		c, err := store.GetConversation(req.Context(), req.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func NewUpdateConversationHandler(store chatstore.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body titleRequest
		if err := decodeOptionalJSON(req, &body); err != nil {
			writeError(w, err)
			return
		}
		title := chat.DefaultConversationTitle
		if body.Title != nil {
			title = *body.Title
		}
		c, err := store.UpdateTitle(req.Context(), req.PathValue("id"), title)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

func NewDeleteConversationHandler(store chatstore.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := store.DeleteConversation(req.Context(), req.PathValue("id")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Conversation deleted"})
	}
}

func NewListMessagesHandler(store chatstore.ConversationStore) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		msgs, err := store.ListMessages(req.Context(), req.PathValue("id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

// UploadResponse doubles as the attachment reference a client sends back in a chat frame.
type UploadResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
}

func NewUploadHandler(uploader storage.Uploader, opts APIOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if uploader == nil {
			http.Error(w, "storage not configured", http.StatusServiceUnavailable)
			return
		}
		if opts.MaxUploadBytes > 0 {
			// room for multipart framing on top of the file itself
			req.Body = http.MaxBytesReader(w, req.Body, opts.MaxUploadBytes+1<<20)
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if stderrors.As(err, &tooLarge) {
				writeDetail(w, http.StatusBadRequest, tooLargeDetail(opts.MaxUploadBytes))
				return
			}
			writeDetail(w, http.StatusBadRequest, "missing multipart field \"file\"")
			return
		}
		defer func() { _ = file.Close() }()

		contentType := header.Header.Get("Content-Type")
		var fileType chat.AttachmentType
		switch {
		case slices.Contains(opts.AllowedImageTypes, contentType):
			fileType = chat.AttachmentImage
		case slices.Contains(opts.AllowedDocumentTypes, contentType):
			fileType = chat.AttachmentPDF
		default:
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("Unsupported file type: %s. Allowed: images (JPEG, PNG, GIF, WebP) and PDFs", contentType))
			return
		}

		r := io.Reader(file)
		if opts.MaxUploadBytes > 0 {
			r = io.LimitReader(file, opts.MaxUploadBytes+1)
		}
		data, err := io.ReadAll(r)
		if err != nil {
			writeError(w, err)
			return
		}
		if opts.MaxUploadBytes > 0 && int64(len(data)) > opts.MaxUploadBytes {
			writeDetail(w, http.StatusBadRequest, tooLargeDetail(opts.MaxUploadBytes))
			return
		}

		name := header.Filename
		if name == "" {
			name = "file"
		}
		url, err := uploader.Upload(req.Context(), data, name, contentType)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, UploadResponse{
			ID:       uuid.NewString(),
			Name:     name,
			Type:     string(fileType),
			URL:      url,
			MimeType: contentType,
		})
	}
}

func tooLargeDetail(max int64) string {
	return fmt.Sprintf("File too large. Maximum size is %dMB", max/(1<<20))
}

func NewWSHandler(sessions *SessionHandler, upgrader websocket.Upgrader, maxFrameBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if sessions == nil {
			http.Error(w, "chat relay not initialized", http.StatusServiceUnavailable)
			return
		}
		sessionID := strings.TrimSpace(req.PathValue("session_id"))
		if sessionID == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			log.Debug().Err(err).Str("component", "webchat").Msg("ws upgrade failed")
			return
		}
		if maxFrameBytes > 0 {
			conn.SetReadLimit(maxFrameBytes)
		}
		sessions.Serve(sessionID, conn)
	}
}

func decodeOptionalJSON(req *http.Request, v any) error {
	if req.Body == nil {
		return nil
	}
	err := json.NewDecoder(req.Body).Decode(v)
	if err == nil || stderrors.Is(err, io.EOF) {
		return nil
	}
	return chat.NewValidationError("body", "malformed JSON")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Str("component", "webchat").Msg("response write failed")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// writeError maps validation to 400, missing conversations to 404, anything else to 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case stderrors.Is(err, chat.ErrValidation):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case stderrors.Is(err, chat.ErrNotFound):
		writeDetail(w, http.StatusNotFound, "Conversation not found")
	default:
		log.Error().Err(err).Str("component", "webchat").Msg("request failed")
		writeDetail(w, http.StatusInternalServerError, "internal server error")
	}
}

func originAllowed(origins []string, origin string) bool {
	return slices.Contains(origins, "*") || slices.Contains(origins, origin)
}

func originChecker(origins []string) func(*http.Request) bool {
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return originAllowed(origins, origin)
	}
}

// corsMiddleware allows credentials, so the origin is echoed instead of "*".
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		if origin != "" && originAllowed(origins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
			if req.Method == http.MethodOptions && req.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				if reqHeaders := req.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
					h.Set("Access-Control-Allow-Headers", reqHeaders)
				}
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusOK)
				return
			}
		}
		next.ServeHTTP(w, req)
	})
}
