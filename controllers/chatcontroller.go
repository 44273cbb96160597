package controllers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/filters"
	"github.com/zarkopopovski/jane/metrics"
	"github.com/zarkopopovski/jane/middleware"
	"github.com/zarkopopovski/jane/models"
	"github.com/zarkopopovski/jane/services"
)

const (
	warnSensitive  = "Your message appears to contain sensitive personal information. Please remove any personal details before sending."
	warnHarmful    = "Your message contains language that may be harmful or dangerous. Please reconsider your wording or seek professional assistance if needed."
	warnDisability = "Your message includes disability-related information. Please ensure you are comfortable sharing these details and avoid including overly personal or identifying details if not necessary."
	warnEmpty      = "Message cannot be empty"
	warnRateLimit  = "Rate limit exceeded. Please wait before sending more messages."
	warnUnexpected = "An unexpected error occurred. Please try again later."
)

type ChatController struct {
	AI             *services.AIService
	Messages       *services.MessageService
	Screener       *filters.Screener
	AuthController *AuthController
	HistoryLimit   int
	Log            logrus.FieldLogger
}

type chatRequest struct {
	Message        string               `json:"message"`
	Confirmed      bool                 `json:"confirmed"`
	Context        []models.ChatMessage `json:"context"`
	ConversationID string               `json:"conversation_id"`
	Timestamp      string               `json:"timestamp"`
}

type chatResponse struct {
	Response             string `json:"response,omitempty"`
	Warning              string `json:"warning,omitempty"`
	RequiresConfirmation bool   `json:"requiresConfirmation,omitempty"`
}

func (chatController *ChatController) Chat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		chatController.fail(w, r, apperrors.Validation("Invalid request body"))
		return
	}

	log := chatController.Log.WithField("request_id", middleware.GetRequestID(r.Context()))
	log.WithFields(logrus.Fields{
		"message":   req.Message,
		"confirmed": req.Confirmed,
		"context":   len(req.Context),
	}).Info("Chat request")

	if strings.TrimSpace(req.Message) == "" {
		chatController.fail(w, r, apperrors.Validation(warnEmpty))
		return
	}

	result := chatController.Screener.Screen(req.Message, req.Confirmed)
	metrics.FilterVerdicts.WithLabelValues("web", result.Verdict.String()).Inc()

	switch result.Verdict {
	case filters.Sensitive:
		chatController.respond(w, log, chatResponse{Warning: warnSensitive})
		return
	case filters.Harmful:
		chatController.respond(w, log, chatResponse{Warning: warnHarmful})
		return
	case filters.Disability:
		chatController.respond(w, log, chatResponse{Warning: warnDisability, RequiresConfirmation: true})
		return
	}

	response, err := chatController.AI.JobCoachingAdvice(r.Context(), req.Message, chatController.clientContext(req.Context))
	if err != nil {
		chatController.fail(w, r, err)
		return
	}

	userID := chatController.AuthController.OptionalUserID(r)
	var conversationID *string
	if id := strings.TrimSpace(req.ConversationID); id != "" {
		conversationID = &id
	}

	userMsg := &models.Message{
		Content:        req.Message,
		Type:           models.MessageTypeUser,
		Timestamp:      clientTimestamp(req.Timestamp, time.Now().UTC()),
		UserID:         userID,
		ConversationID: conversationID,
	}
	botMsg := &models.Message{
		Content:        response,
		Type:           models.MessageTypeBot,
		Timestamp:      time.Now().UTC(),
		UserID:         userID,
		ConversationID: conversationID,
	}
	for _, msg := range []*models.Message{userMsg, botMsg} {
		if err := chatController.Messages.CacheMessage(r.Context(), msg); err != nil {
			chatController.fail(w, r, err)
			return
		}
	}

	chatController.respond(w, log, chatResponse{Response: response})
}

// clientContext keeps the newest role/content pairs the client sent, dropping
// anything that is not a user or assistant turn.
func (chatController *ChatController) clientContext(in []models.ChatMessage) []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(in))
	for _, m := range in {
		if m.Content == "" || (m.Role != "user" && m.Role != "assistant") {
			continue
		}
		out = append(out, m)
	}
	if limit := chatController.HistoryLimit; limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// clientTimestamp parses the time the client sent, never later than now.
// Trimming orders by timestamp, so a future date would pin the row.
func clientTimestamp(s string, now time.Time) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.After(now) {
		return now
	}
	return t.UTC()
}

func (chatController *ChatController) respond(w http.ResponseWriter, log logrus.FieldLogger, resp chatResponse) {
	log.WithFields(logrus.Fields{
		"warning":               resp.Warning,
		"requires_confirmation": resp.RequiresConfirmation,
		"response_length":       len(resp.Response),
	}).Info("Chat response")
	middleware.WriteJSON(w, http.StatusOK, resp)
}

// fail answers /chat failures in the {warning} shape the chat page reads.
func (chatController *ChatController) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := chatController.Log.WithField("request_id", middleware.GetRequestID(r.Context())).WithError(err)

	appErr, ok := apperrors.As(err)
	if !ok || appErr.Kind == apperrors.KindDatabase {
		log.Error("Unexpected error")
		middleware.WriteJSON(w, http.StatusInternalServerError, chatResponse{Warning: warnUnexpected})
		return
	}

	if appErr.Status >= http.StatusInternalServerError {
		log.Error(appErr.Message)
	} else {
		log.Warn(appErr.Message)
	}
	middleware.WriteJSON(w, apperrors.StatusCode(appErr), chatResponse{Warning: appErr.Message})
}

// RateLimited is the denied handler for the /chat limiter.
func (chatController *ChatController) RateLimited(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusTooManyRequests, chatResponse{Warning: warnRateLimit})
}

// History is only served to signed-in users; the anonymous bucket is shared.
func (chatController *ChatController) History(w http.ResponseWriter, r *http.Request) {
	userID := chatController.AuthController.OptionalUserID(r)
	if userID == nil {
		middleware.WriteError(w, r, chatController.Log, errUnauthorized)
		return
	}
	scope := services.ScopeFor(userID)

	messages, err := chatController.Messages.History(r.Context(), scope, chatController.HistoryLimit)
	if err != nil {
		middleware.WriteError(w, r, chatController.Log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": messages})
}

func (chatController *ChatController) ClearChat(w http.ResponseWriter, r *http.Request) {
	scope := services.ScopeFor(chatController.AuthController.OptionalUserID(r))

	if err := chatController.Messages.ClearHistory(r.Context(), scope); err != nil {
		chatController.Log.WithError(err).Error("Failed to clear chat history")
		middleware.WriteJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Failed to clear chat history: " + err.Error(),
		})
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]bool{"success": true})
}
