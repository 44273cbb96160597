package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/zarkopopovski/jane/apperrors"
)

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err onto the JSON error envelope. Errors outside the
// application hierarchy are logged, reported and hidden from the client.
func WriteError(w http.ResponseWriter, r *http.Request, log logrus.FieldLogger, err error) {
	requestID := GetRequestID(r.Context())
	entry := log.WithFields(logrus.Fields{
		"request_id": requestID,
		"path":       r.URL.Path,
	})

	appErr, ok := apperrors.As(err)
	if !ok {
		entry.WithError(err).Error("Unexpected error")
		sentry.CaptureException(err)
		WriteJSON(w, http.StatusInternalServerError, ErrorEnvelope{ErrorBody{
			Code:      apperrors.CodeUnexpected,
			Message:   apperrors.UnexpectedMessage,
			RequestID: requestID,
		}})
		return
	}

	if appErr.Status >= http.StatusInternalServerError {
		entry.WithError(err).Error(appErr.Message)
		sentry.CaptureException(err)
	} else {
		entry.WithField("code", appErr.Code).Warn(appErr.Message)
	}

	WriteJSON(w, apperrors.StatusCode(appErr), ErrorEnvelope{ErrorBody{
		Code:      appErr.Code,
		Message:   appErr.Message,
		RequestID: requestID,
	}})
}
