package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"

	"github.com/zarkopopovski/jane/apperrors"
)

// Recoverer turns a handler panic into a 500 envelope and reports it.
func Recoverer(log logrus.FieldLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if rec == http.ErrAbortHandler {
					panic(rec)
				}

				log.WithFields(logrus.Fields{
					"request_id": GetRequestID(r.Context()),
					"panic":      rec,
					"stack":      string(debug.Stack()),
				}).Error("Recovered from panic")

				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetTag("request_id", GetRequestID(r.Context()))
				hub.Recover(rec)

				WriteJSON(w, http.StatusInternalServerError, ErrorEnvelope{ErrorBody{
					Code:      apperrors.CodeUnexpected,
					Message:   apperrors.UnexpectedMessage,
					RequestID: GetRequestID(r.Context()),
				}})
			}()

			next.ServeHTTP(w, r)
		})
	}
}
