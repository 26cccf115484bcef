package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chatlens/chatlens/internal/research"
)

var _ research.Persister = (*Store)(nil)

// ErrNotFound is returned when a conversation does not exist or belongs to another owner.
var ErrNotFound = errors.New("conversation not found")

// Conversation is a stored conversation header.
type Conversation struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SaveMessages writes a completed run in one transaction. The conversation row
// is created on first use; later batches only bump updated_at.
func (s *Store) SaveMessages(ctx context.Context, batch research.MessageBatch) (err error) {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	conversationID := strings.TrimSpace(batch.ConversationID)
	if conversationID == "" {
		return errors.New("conversation id is required")
	}
	ownerID := strings.TrimSpace(batch.OwnerID)
	if ownerID == "" {
		return errors.New("owner id is required")
	}
	if len(batch.Messages) == 0 {
		return nil
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save messages: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := latestCreatedAt(batch.Messages)

	var existingOwner string
	row := tx.QueryRowContext(ctx, `SELECT owner_id FROM conversations WHERE id = ?`, conversationID)
	switch scanErr := row.Scan(&existingOwner); {
	case errors.Is(scanErr, sql.ErrNoRows):
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO conversations (id, owner_id, title, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, conversationID, ownerID, batch.Title, now, now); err != nil {
			return fmt.Errorf("create conversation: %w", err)
		}
	case scanErr != nil:
		err = scanErr
		return fmt.Errorf("lookup conversation: %w", err)
	case existingOwner != ownerID:
		err = ErrNotFound
		return err
	default:
		if _, err = tx.ExecContext(ctx, `
			UPDATE conversations SET updated_at = MAX(updated_at, ?) WHERE id = ?
		`, now, conversationID); err != nil {
			return fmt.Errorf("touch conversation: %w", err)
		}
	}

	for _, msg := range batch.Messages {
		var parts []byte
		parts, err = json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("encode message parts: %w", err)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO messages (id, conversation_id, role, parts, created_at)
			VALUES (?, ?, ?, ?, ?)
		`, msg.ID, conversationID, msg.Role, string(parts), msg.CreatedAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("insert message %s: %w", msg.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save messages: %w", err)
	}
	return nil
}

// ListConversations returns an owner's conversations, most recently updated first.
func (s *Store) ListConversations(ctx context.Context, ownerID string) ([]Conversation, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, owner_id, title, created_at, updated_at
		FROM conversations
		WHERE owner_id = ?
		ORDER BY updated_at DESC, id ASC
	`, strings.TrimSpace(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	conversations := []Conversation{}
	for rows.Next() {
		var (
			conv             Conversation
			created, updated int64
		)
		if err := rows.Scan(&conv.ID, &conv.OwnerID, &conv.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		conv.CreatedAt = time.UnixMilli(created).UTC()
		conv.UpdatedAt = time.UnixMilli(updated).UTC()
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// GetMessages returns a conversation's messages in creation order.
func (s *Store) GetMessages(ctx context.Context, ownerID, conversationID string) ([]research.Message, error) {
	if s == nil || s.DB == nil {
		return nil, ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.checkOwner(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, conversation_id, role, parts, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	messages := []research.Message{}
	for rows.Next() {
		var (
			msg     research.Message
			parts   string
			created int64
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &parts, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if err := json.Unmarshal([]byte(parts), &msg.Parts); err != nil {
			return nil, fmt.Errorf("decode message %s: %w", msg.ID, err)
		}
		msg.CreatedAt = time.UnixMilli(created).UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *Store) DeleteConversation(ctx context.Context, ownerID, conversationID string) (err error) {
	if s == nil || s.DB == nil {
		return ErrNotInitialized
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if err = s.checkOwner(ctx, ownerID, conversationID); err != nil {
		return err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete conversation: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ? AND owner_id = ?`, conversationID, ownerID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation: %w", err)
	}
	return nil
}

func (s *Store) checkOwner(ctx context.Context, ownerID, conversationID string) error {
	var owner string
	err := s.DB.QueryRowContext(ctx, `SELECT owner_id FROM conversations WHERE id = ?`, conversationID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lookup conversation: %w", err)
	}
	if owner != strings.TrimSpace(ownerID) {
		return ErrNotFound
	}
	return nil
}

func latestCreatedAt(messages []research.Message) int64 {
	var latest int64
	for _, msg := range messages {
		if ts := msg.CreatedAt.UTC().UnixMilli(); ts > latest {
			latest = ts
		}
	}
	if latest == 0 {
		latest = time.Now().UTC().UnixMilli()
	}
	return latest
}
