package chatstore

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/go-go-golems/docchat/pkg/chat"
)

type SQLiteConversationStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ ConversationStore = &SQLiteConversationStore{}

func NewSQLiteConversationStore(dsn string) (*SQLiteConversationStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite conversation store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps sqlite away from SQLITE_BUSY under concurrent turns
	db.SetMaxOpenConns(1)
	s := &SQLiteConversationStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteConversationDSNForFile builds a DSN with WAL and foreign keys enabled.
func SQLiteConversationDSNForFile(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errors.New("sqlite conversation store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path), nil
}

func (s *SQLiteConversationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteConversationStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL,
			updated_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at_ms INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS attachments (
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			ordinal INTEGER NOT NULL,
			id TEXT NOT NULL,
			conversation_id TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			url TEXT NOT NULL,
			mime_type TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (message_id, ordinal)
		);`,
		`CREATE INDEX IF NOT EXISTS messages_by_conversation ON messages(conversation_id, created_at_ms, seq);`,
		`CREATE INDEX IF NOT EXISTS attachments_by_conversation ON attachments(conversation_id);`,
		`CREATE INDEX IF NOT EXISTS conversations_by_updated ON conversations(updated_at_ms DESC);`,
	}
	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return errors.Wrap(err, "sqlite conversation store: migrate")
		}
	}
	return nil
}

func (s *SQLiteConversationStore) CreateConversation(ctx context.Context, title string) (chat.Conversation, error) {
	now := s.now().UTC()
	c := chat.Conversation{
		ID:        uuid.NewString(),
		Title:     normalizeTitle(title),
		CreatedAt: fromMillis(now.UnixMilli()),
		UpdatedAt: fromMillis(now.UnixMilli()),
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations(id, title, created_at_ms, updated_at_ms) VALUES(?, ?, ?, ?)`,
		c.ID, c.Title, now.UnixMilli(), now.UnixMilli(),
	); err != nil {
		return chat.Conversation{}, errors.Wrap(err, "sqlite conversation store: insert conversation")
	}
	return c, nil
}

func (s *SQLiteConversationStore) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, created_at_ms, updated_at_ms FROM conversations ORDER BY updated_at_ms DESC, rowid DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: list conversations")
	}
	defer func() { _ = rows.Close() }()

	out := []chat.Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: iterate conversations")
	}
	return out, nil
}

func (s *SQLiteConversationStore) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at_ms, updated_at_ms FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, errors.Wrapf(chat.ErrNotFound, "conversation %s", id)
	}
	return c, err
}

func (s *SQLiteConversationStore) UpdateTitle(ctx context.Context, id, title string) (chat.Conversation, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ?, updated_at_ms = ? WHERE id = ?`,
		title, s.now().UTC().UnixMilli(), id)
	if err != nil {
		return chat.Conversation{}, errors.Wrap(err, "sqlite conversation store: update title")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.Conversation{}, errors.Wrapf(chat.ErrNotFound, "conversation %s", id)
	}
	return s.GetConversation(ctx, id)
}

func (s *SQLiteConversationStore) DeleteConversation(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM attachments WHERE conversation_id = ?`, id); err != nil {
		return errors.Wrap(err, "sqlite conversation store: delete attachments")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, id); err != nil {
		return errors.Wrap(err, "sqlite conversation store: delete messages")
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "sqlite conversation store: delete conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(chat.ErrNotFound, "conversation %s", id)
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sqlite conversation store: commit tx")
	}
	committed = true
	return nil
}

func (s *SQLiteConversationStore) AddMessage(ctx context.Context, conversationID string, role chat.Role, content string, attachments []chat.Attachment) (chat.Message, error) {
	if !role.Valid() {
		return chat.Message{}, chat.NewValidationError("role", "unknown role "+string(role))
	}
	now := s.now().UTC().UnixMilli()
	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Attachments:    append([]chat.Attachment{}, attachments...),
		CreatedAt:      fromMillis(now),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite conversation store: begin tx")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at_ms = ? WHERE id = ?`, now, conversationID)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite conversation store: bump conversation")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return chat.Message{}, errors.Wrapf(chat.ErrNotFound, "conversation %s", conversationID)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages(id, conversation_id, role, content, created_at_ms)
		VALUES(?, ?, ?, ?, ?)
	`, msg.ID, conversationID, string(role), content, now); err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite conversation store: insert message")
	}

	for i, a := range msg.Attachments {
		if a.ID == "" {
			a.ID = uuid.NewString()
			msg.Attachments[i] = a
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO attachments(message_id, ordinal, id, conversation_id, name, type, url, mime_type)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		`, msg.ID, i, a.ID, conversationID, a.Name, string(a.Type), a.URL, a.MimeType); err != nil {
			return chat.Message{}, errors.Wrap(err, "sqlite conversation store: insert attachment")
		}
	}

	if err := tx.Commit(); err != nil {
		return chat.Message{}, errors.Wrap(err, "sqlite conversation store: commit tx")
	}
	committed = true
	return msg, nil
}

func (s *SQLiteConversationStore) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, created_at_ms
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at_ms ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: list messages")
	}
	messages := []chat.Message{}
	index := map[string]int{}
	for rows.Next() {
		var (
			m         chat.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, &createdAt); err != nil {
			_ = rows.Close()
			return nil, errors.Wrap(err, "sqlite conversation store: scan message")
		}
		m.Role = chat.Role(role)
		m.CreatedAt = fromMillis(createdAt)
		m.Attachments = []chat.Attachment{}
		index[m.ID] = len(messages)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, errors.Wrap(err, "sqlite conversation store: iterate messages")
	}
	_ = rows.Close()

	attRows, err := s.db.QueryContext(ctx, `
		SELECT message_id, id, name, type, url, mime_type
		FROM attachments
		WHERE conversation_id = ?
		ORDER BY message_id, ordinal
	`, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: list attachments")
	}
	defer func() { _ = attRows.Close() }()
	for attRows.Next() {
		var (
			messageID string
			a         chat.Attachment
			typ       string
		)
		if err := attRows.Scan(&messageID, &a.ID, &a.Name, &typ, &a.URL, &a.MimeType); err != nil {
			return nil, errors.Wrap(err, "sqlite conversation store: scan attachment")
		}
		a.Type = chat.AttachmentType(typ)
		if i, ok := index[messageID]; ok {
			messages[i].Attachments = append(messages[i].Attachments, a)
		}
	}
	if err := attRows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite conversation store: iterate attachments")
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (chat.Conversation, error) {
	var (
		c                  chat.Conversation
		createdAt, updated int64
	)
	if err := r.Scan(&c.ID, &c.Title, &createdAt, &updated); err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return chat.Conversation{}, err
		}
		return chat.Conversation{}, errors.Wrap(err, "sqlite conversation store: scan conversation")
	}
	c.CreatedAt = fromMillis(createdAt)
	c.UpdatedAt = fromMillis(updated)
	return c, nil
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
