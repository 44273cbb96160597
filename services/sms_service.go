package services

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/config"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/metrics"
	"github.com/zarkopopovski/jane/models"
)

// PendingPlaceholder is the content of a row waiting for a y/n answer.
const PendingPlaceholder = "Awaiting confirmation"

// MessageCreator is satisfied by the Twilio REST client's Api service.
type MessageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

type SMSService struct {
	db     *db.DBManager
	sender MessageCreator
	cfg    *config.Config
	log    logrus.FieldLogger
	limit  int
}

func NewSMSService(cfg *config.Config, dbm *db.DBManager, sender MessageCreator, log logrus.FieldLogger) *SMSService {
	return &SMSService{
		db:     dbm,
		sender: sender,
		cfg:    cfg,
		log:    log,
		limit:  cfg.HistoryLimit,
	}
}

// Context returns the phone's latest confirmed turns, oldest first.
func (s *SMSService) Context(ctx context.Context, phone string) ([]models.ChatMessage, error) {
	query := s.db.DB.Rebind(`SELECT * FROM sms_context
		WHERE phone_number = ? AND awaiting_confirmation = ?
		ORDER BY timestamp DESC, id DESC LIMIT ?`)

	rows := make([]models.SMSContext, 0, s.limit)
	if err := s.db.DB.SelectContext(ctx, &rows, query, phone, false, s.limit); err != nil {
		return nil, apperrors.Database("Failed to load SMS context", err)
	}

	history := make([]models.ChatMessage, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		history = append(history, rows[i].ChatMessage())
	}
	return history, nil
}

// SaveContext records one exchange and trims the phone's history.
func (s *SMSService) SaveContext(ctx context.Context, phone, userMessage, botResponse string) error {
	tx, err := s.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Database("Failed to save SMS context", err)
	}
	defer tx.Rollback()

	userID, err := s.userIDForPhone(ctx, tx, phone)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	insert := tx.Rebind(`INSERT INTO sms_context(phone_number, role, content, timestamp, awaiting_confirmation, user_id)
		VALUES(?, ?, ?, ?, ?, ?)`)

	if _, err := tx.ExecContext(ctx, insert, phone, models.SMSRoleUser, userMessage, now, false, userID); err != nil {
		return apperrors.Database("Failed to save SMS context", err)
	}
	if _, err := tx.ExecContext(ctx, insert, phone, models.SMSRoleAssistant, botResponse, now, false, userID); err != nil {
		return apperrors.Database("Failed to save SMS context", err)
	}

	trim := tx.Rebind(`DELETE FROM sms_context
		WHERE phone_number = ? AND awaiting_confirmation = ? AND id NOT IN (
			SELECT id FROM sms_context WHERE phone_number = ? AND awaiting_confirmation = ?
			ORDER BY timestamp DESC, id DESC LIMIT ?)`)

	if _, err := tx.ExecContext(ctx, trim, phone, false, phone, false, s.limit); err != nil {
		return apperrors.Database("Failed to trim SMS context", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Database("Failed to save SMS context", err)
	}
	return nil
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	Rebind(query string) string
}

func (s *SMSService) userIDForPhone(ctx context.Context, q queryer, phone string) (*int64, error) {
	var id int64
	err := q.GetContext(ctx, &id, q.Rebind("SELECT id FROM users WHERE phone_number = ?"), phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database("Failed to look up user by phone", err)
	}
	return &id, nil
}

// PendingConfirmation returns the phone's pending row, or nil.
func (s *SMSService) PendingConfirmation(ctx context.Context, phone string) (*models.SMSContext, error) {
	var pending models.SMSContext

	query := s.db.DB.Rebind(`SELECT * FROM sms_context
		WHERE phone_number = ? AND awaiting_confirmation = ?
		ORDER BY timestamp DESC, id DESC LIMIT 1`)

	err := s.db.DB.GetContext(ctx, &pending, query, phone, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database("Failed to check pending confirmation", err)
	}
	return &pending, nil
}

// SavePending parks message until the sender confirms it. Any earlier
// pending row for the phone is replaced.
func (s *SMSService) SavePending(ctx context.Context, phone, message string) (*models.SMSContext, error) {
	tx, err := s.db.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, apperrors.Database("Failed to save pending message", err)
	}
	defer tx.Rollback()

	del := tx.Rebind("DELETE FROM sms_context WHERE phone_number = ? AND awaiting_confirmation = ?")
	if _, err := tx.ExecContext(ctx, del, phone, true); err != nil {
		return nil, apperrors.Database("Failed to save pending message", err)
	}

	userID, err := s.userIDForPhone(ctx, tx, phone)
	if err != nil {
		return nil, err
	}

	pending := &models.SMSContext{
		PhoneNumber:          phone,
		Role:                 models.SMSRoleUser,
		Content:              PendingPlaceholder,
		Timestamp:            time.Now().UTC(),
		AwaitingConfirmation: true,
		OriginalMessage:      &message,
		UserID:               userID,
	}

	insert := tx.Rebind(`INSERT INTO sms_context(phone_number, role, content, timestamp, awaiting_confirmation, original_message, user_id)
		VALUES(?, ?, ?, ?, ?, ?, ?) RETURNING id`)

	err = tx.QueryRowxContext(ctx, insert, pending.PhoneNumber, pending.Role, pending.Content,
		pending.Timestamp, true, message, userID).Scan(&pending.ID)
	if err != nil {
		return nil, apperrors.Database("Failed to save pending message", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.Database("Failed to save pending message", err)
	}
	return pending, nil
}

// ResolvePending drops the placeholder row once the sender has answered.
func (s *SMSService) ResolvePending(ctx context.Context, pending *models.SMSContext) error {
	if _, err := s.db.DB.ExecContext(ctx, "DELETE FROM sms_context WHERE id = $1", pending.ID); err != nil {
		return apperrors.Database("Failed to resolve pending confirmation", err)
	}
	pending.AwaitingConfirmation = false
	return nil
}

// LinkUser attaches every stored SMS row for phone to the user.
func (s *SMSService) LinkUser(ctx context.Context, userID int64, phone string) (int64, error) {
	res, err := s.db.DB.ExecContext(ctx, "UPDATE sms_context SET user_id = $1 WHERE phone_number = $2", userID, phone)
	if err != nil {
		return 0, apperrors.Database("Failed to link SMS history", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.log.WithFields(logrus.Fields{"user_id": userID, "rows": n}).Info("Linked SMS history to user")
	}
	return n, nil
}

// Send delivers an SMS through Twilio and returns the message SID. Outside
// production nothing is sent.
func (s *SMSService) Send(ctx context.Context, to, body string) (string, error) {
	if !s.cfg.IsProduction() {
		s.log.WithField("to", to).Infof("[DEV] SMS would be sent: %s", body)
		metrics.SMSSent.WithLabelValues("skipped").Inc()
		return "", nil
	}
	if s.sender == nil {
		return "", apperrors.API("Twilio client is not configured", nil)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.cfg.Twilio.PhoneNumber)
	params.SetBody(body)

	resp, err := s.sender.CreateMessage(params)
	if err != nil {
		metrics.SMSSent.WithLabelValues("error").Inc()
		s.log.WithError(err).Error("Error sending SMS")
		return "", apperrors.API("Failed to send SMS", err)
	}

	sid := ""
	if resp != nil && resp.Sid != nil {
		sid = *resp.Sid
	}
	metrics.SMSSent.WithLabelValues("sent").Inc()
	s.log.WithFields(logrus.Fields{"to": to, "sid": sid}).Info("SMS sent")
	return sid, nil
}
