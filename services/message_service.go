package services

import (
	"context"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/models"
)

// Scope selects whose history a query touches. A nil UserID is the shared
// anonymous bucket.
type Scope struct {
	UserID *int64
}

func AnonymousScope() Scope {
	return Scope{}
}

func UserScope(userID int64) Scope {
	return Scope{UserID: &userID}
}

func ScopeFor(userID *int64) Scope {
	if userID == nil {
		return AnonymousScope()
	}
	return UserScope(*userID)
}

func (s Scope) where() (string, []interface{}) {
	if s.UserID == nil {
		return "user_id IS NULL", nil
	}
	return "user_id = ?", []interface{}{*s.UserID}
}

type MessageService struct {
	db    *db.DBManager
	cache *CacheService
	log   logrus.FieldLogger
	limit int
}

func NewMessageService(dbm *db.DBManager, cache *CacheService, log logrus.FieldLogger, limit int) *MessageService {
	if limit <= 0 {
		limit = 5
	}
	return &MessageService{
		db:    dbm,
		cache: cache,
		log:   log,
		limit: limit,
	}
}

// CacheMessage stores msg and trims its scope to the most recent rows.
func (s *MessageService) CacheMessage(ctx context.Context, msg *models.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Database("Failed to save message", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO message(content, type, timestamp, user_id, conversation_id)
		VALUES($1, $2, $3, $4, $5) RETURNING id`

	err = tx.QueryRowxContext(ctx, query, msg.Content, msg.Type, msg.Timestamp.UTC(), msg.UserID, msg.ConversationID).Scan(&msg.ID)
	if err != nil {
		return apperrors.Database("Failed to save message", err)
	}

	if err := s.trim(ctx, tx, ScopeFor(msg.UserID)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Database("Failed to save message", err)
	}
	return nil
}

func (s *MessageService) trim(ctx context.Context, tx *sqlx.Tx, scope Scope) error {
	cond, args := scope.where()

	query := "DELETE FROM message WHERE " + cond + " AND id NOT IN (" +
		"SELECT id FROM message WHERE " + cond + " ORDER BY timestamp DESC, id DESC LIMIT ?)"

	all := append(append(append([]interface{}{}, args...), args...), s.limit)

	res, err := tx.ExecContext(ctx, tx.Rebind(query), all...)
	if err != nil {
		return apperrors.Database("Failed to trim message history", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.log.WithField("rows", n).Debug("Trimmed message history")
	}
	return nil
}

// ClearHistory deletes the scope's messages and every cached response.
func (s *MessageService) ClearHistory(ctx context.Context, scope Scope) error {
	tx, err := s.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Database("Failed to clear chat history", err)
	}
	defer tx.Rollback()

	cond, args := scope.where()
	if _, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM message WHERE "+cond), args...); err != nil {
		return apperrors.Database("Failed to clear chat history", err)
	}

	if err := s.cache.ClearWith(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Database("Failed to clear chat history", err)
	}
	return nil
}

// History returns up to limit of the scope's latest messages, oldest first.
func (s *MessageService) History(ctx context.Context, scope Scope, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = s.limit
	}

	cond, args := scope.where()
	query := s.db.DB.Rebind("SELECT * FROM message WHERE " + cond + " ORDER BY timestamp DESC, id DESC LIMIT ?")

	messages := make([]models.Message, 0, limit)
	if err := s.db.DB.SelectContext(ctx, &messages, query, append(args, limit)...); err != nil {
		return nil, apperrors.Database("Failed to load chat history", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Conversations lists the user's conversation ids, most recent first.
func (s *MessageService) Conversations(ctx context.Context, userID int64) ([]models.Conversation, error) {
	var rows []struct {
		ConversationID string    `db:"conversation_id"`
		Timestamp      time.Time `db:"timestamp"`
	}

	query := `SELECT conversation_id, timestamp FROM message
		WHERE user_id = $1 AND conversation_id IS NOT NULL`

	if err := s.db.DB.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, apperrors.Database("Failed to load conversations", err)
	}

	index := make(map[string]int)
	conversations := make([]models.Conversation, 0)
	for _, row := range rows {
		i, ok := index[row.ConversationID]
		if !ok {
			i = len(conversations)
			index[row.ConversationID] = i
			conversations = append(conversations, models.Conversation{ConversationID: row.ConversationID})
		}
		c := &conversations[i]
		c.MessageCount++
		if row.Timestamp.After(c.LastActivity) {
			c.LastActivity = row.Timestamp
		}
	}

	sort.Slice(conversations, func(i, j int) bool {
		return conversations[i].LastActivity.After(conversations[j].LastActivity)
	})
	return conversations, nil
}
