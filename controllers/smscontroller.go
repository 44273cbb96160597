package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/twilio/twilio-go/client"
	"github.com/twilio/twilio-go/twiml"

	"github.com/zarkopopovski/jane/filters"
	"github.com/zarkopopovski/jane/metrics"
	"github.com/zarkopopovski/jane/middleware"
	"github.com/zarkopopovski/jane/services"
)

const (
	smsSensitive  = "Please avoid sharing sensitive personal information. This information will not be processed for your privacy and security."
	smsHarmful    = "I noticed concerning content in your message. For your safety, this message will not be processed. Please seek professional help if needed."
	smsDisability = `Your message includes disability-related information. Please ensure you are comfortable sharing these details. Reply "y" to confirm sending this information, or "n" to cancel.`
	smsCancelled  = "Message cancelled."
	smsReprompt   = "Please reply with 'y' for yes or 'n' for no to confirm sending your message."
	smsTrouble    = "I apologize, but I'm having trouble processing your request. Please try again later."
)

type SMSController struct {
	SMS       *services.SMSService
	AI        *services.AIService
	Screener  *filters.Screener
	Validator *client.RequestValidator
	PublicURL string
	Log       logrus.FieldLogger
}

// HandleSMS is the Twilio inbound message webhook. It always answers with
// TwiML, falling back to an apology when processing fails.
func (smsController *SMSController) HandleSMS(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	if smsController.Validator != nil && !smsController.validSignature(r) {
		smsController.Log.WithField("request_id", middleware.GetRequestID(r.Context())).Warn("Rejected SMS webhook with invalid signature")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	from := r.PostForm.Get("From")
	body := strings.ToLower(strings.TrimSpace(r.PostForm.Get("Body")))

	log := smsController.Log.WithFields(logrus.Fields{
		"from":       from,
		"request_id": middleware.GetRequestID(r.Context()),
	})

	if body == "" {
		smsController.writeTwiML(w, log, "")
		return
	}

	reply, err := smsController.reply(r.Context(), log, from, body)
	if err != nil {
		log.WithError(err).Error("SMS handling error")
		reply = smsTrouble
	}
	smsController.writeTwiML(w, log, reply)
}

func (smsController *SMSController) reply(ctx context.Context, log logrus.FieldLogger, from, body string) (string, error) {
	pending, err := smsController.SMS.PendingConfirmation(ctx, from)
	if err != nil {
		return "", err
	}
	log.WithField("pending", pending != nil).Info("Checked pending confirmation")

	if pending != nil {
		switch body {
		case "y", "yes":
			log.Info("User confirmed sending disability information")
			original := ""
			if pending.OriginalMessage != nil {
				original = *pending.OriginalMessage
			}
			response, err := smsController.answer(ctx, from, original)
			if err != nil {
				return "", err
			}
			if err := smsController.SMS.ResolvePending(ctx, pending); err != nil {
				return "", err
			}
			return response, nil
		case "n", "no":
			log.Info("User declined sending disability information")
			if err := smsController.SMS.ResolvePending(ctx, pending); err != nil {
				return "", err
			}
			return smsCancelled, nil
		default:
			return smsReprompt, nil
		}
	}

	log.WithField("body", body).Info("Received SMS")

	result := smsController.Screener.Screen(body, false)
	metrics.FilterVerdicts.WithLabelValues("sms", result.Verdict.String()).Inc()

	switch result.Verdict {
	case filters.Sensitive:
		return smsSensitive, nil
	case filters.Harmful:
		return smsHarmful, nil
	case filters.Disability:
		if _, err := smsController.SMS.SavePending(ctx, from, body); err != nil {
			return "", err
		}
		return smsDisability, nil
	}

	return smsController.answer(ctx, from, body)
}

// answer asks the assistant with the phone's stored context and records the turn.
func (smsController *SMSController) answer(ctx context.Context, from, message string) (string, error) {
	history, err := smsController.SMS.Context(ctx, from)
	if err != nil {
		return "", err
	}

	response, err := smsController.AI.JobCoachingAdvice(ctx, message, history)
	if err != nil {
		return "", err
	}

	if err := smsController.SMS.SaveContext(ctx, from, message, response); err != nil {
		return "", err
	}
	return response, nil
}

func (smsController *SMSController) validSignature(r *http.Request) bool {
	params := make(map[string]string, len(r.PostForm))
	for key := range r.PostForm {
		params[key] = r.PostForm.Get(key)
	}
	return smsController.Validator.Validate(smsController.webhookURL(r), params, r.Header.Get("X-Twilio-Signature"))
}

func (smsController *SMSController) webhookURL(r *http.Request) string {
	if smsController.PublicURL != "" {
		return strings.TrimRight(smsController.PublicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

func (smsController *SMSController) writeTwiML(w http.ResponseWriter, log logrus.FieldLogger, message string) {
	var verbs []twiml.Element
	if message != "" {
		verbs = append(verbs, &twiml.MessagingMessage{Body: message})
	}

	doc, err := twiml.Messages(verbs)
	if err != nil {
		log.WithError(err).Error("Could not render TwiML")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	log.WithField("twiml", doc).Info("Sending SMS response")
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}
