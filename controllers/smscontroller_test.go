package controllers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twilio/twilio-go/client"
)

const sender = "+15559876543"

func smsRequest(body string) *http.Request {
	form := url.Values{"From": {sender}, "Body": {body}}
	req := httptest.NewRequest(http.MethodPost, "/sms", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func sendSMS(t *testing.T, app *testApp, body string) string {
	t.Helper()

	rec := serve(app.text.HandleSMS, smsRequest(body))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/xml", rec.Header().Get("Content-Type"))
	return rec.Body.String()
}

func TestSMSAnswersWithContext(t *testing.T) {
	app := newTestApp(t)

	reply := sendSMS(t, app, "  Any RESUME tips?  ")
	assert.Contains(t, reply, "<Response>")
	assert.Contains(t, reply, "Development mode response")
	assert.Contains(t, reply, "any resume tips?")

	history, err := app.sms.Context(context.Background(), sender)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "any resume tips?", history[0].Content)
}

func TestSMSEmptyBody(t *testing.T) {
	app := newTestApp(t)

	reply := sendSMS(t, app, "   ")
	assert.Contains(t, reply, "Response")
	assert.NotContains(t, reply, "<Message>")
}

func TestSMSFilters(t *testing.T) {
	app := newTestApp(t)

	assert.Contains(t, sendSMS(t, app, "my ssn is 123-45-6789"), "Please avoid sharing sensitive personal information.")
	assert.Contains(t, sendSMS(t, app, "they attack me at work"), "I noticed concerning content in your message.")

	history, err := app.sms.Context(context.Background(), sender)
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestSMSDisabilityConfirmation(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)

	assert.Contains(t, sendSMS(t, app, "I use a wheelchair, which jobs suit me?"), "disability-related information")

	pending, err := app.sms.PendingConfirmation(ctx, sender)
	require.NoError(t, err)
	require.NotNil(t, pending)

	assert.Contains(t, sendSMS(t, app, "maybe"), "Please reply with")

	reply := sendSMS(t, app, "YES")
	assert.Contains(t, reply, "Development mode response")
	assert.Contains(t, reply, "wheelchair")

	pending, err = app.sms.PendingConfirmation(ctx, sender)
	require.NoError(t, err)
	require.Nil(t, pending)

	history, err := app.sms.Context(ctx, sender)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestSMSDisabilityCancelled(t *testing.T) {
	ctx := context.Background()
	app := newTestApp(t)

	sendSMS(t, app, "I have ptsd")
	assert.Contains(t, sendSMS(t, app, "n"), smsCancelled)

	pending, err := app.sms.PendingConfirmation(ctx, sender)
	require.NoError(t, err)
	require.Nil(t, pending)

	history, err := app.sms.Context(ctx, sender)
	require.NoError(t, err)
	require.Empty(t, history)
}

func twilioSignature(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestSMSSignatureValidation(t *testing.T) {
	app := newTestApp(t)
	validator := client.NewRequestValidator("auth-token")
	app.text.Validator = &validator
	app.text.PublicURL = "https://jane.example.org"

	rec := serve(app.text.HandleSMS, smsRequest("hello"))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := smsRequest("hello")
	form := url.Values{"From": {sender}, "Body": {"hello"}}
	req.Header.Set("X-Twilio-Signature", twilioSignature("auth-token", "https://jane.example.org/sms", form))

	rec = serve(app.text.HandleSMS, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Development mode response")
}
