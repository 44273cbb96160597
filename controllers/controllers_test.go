package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zarkopopovski/jane/config"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/filters"
	"github.com/zarkopopovski/jane/logger"
	"github.com/zarkopopovski/jane/middleware"
	"github.com/zarkopopovski/jane/services"
)

var discard = logger.Discard()

type testApp struct {
	db    *db.DBManager
	cfg   *config.Config
	sms   *services.SMSService
	users *services.UserService

	auth *AuthController
	user *UserController
	chat *ChatController
	text *SMSController
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbm, err := db.NewMemoryConnection("controllers_" + name)
	require.NoError(t, err)
	t.Cleanup(func() { dbm.Close() })

	cfg := &config.Config{
		Env:           config.EnvDevelopment,
		AccessSecret:  "access-secret",
		RefreshSecret: "refresh-secret",
		OpenAI:        config.OpenAIConfig{Model: "gpt-4o-mini"},
		Cache:         config.CacheConfig{TTLSeconds: 3600},
		HistoryLimit:  5,
	}

	cache := services.NewCacheService(dbm, discard)
	messages := services.NewMessageService(dbm, cache, discard, cfg.HistoryLimit)
	sms := services.NewSMSService(cfg, dbm, nil, discard)
	users := services.NewUserService(dbm, sms, discard)
	ai := services.NewAIService(cfg, nil, cache, discard)
	screener := filters.NewScreener(discard)

	auth := &AuthController{
		DBManager:     dbm,
		Users:         users,
		AccessSecret:  cfg.AccessSecret,
		RefreshSecret: cfg.RefreshSecret,
		Log:           discard,
	}

	return &testApp{
		db:    dbm,
		cfg:   cfg,
		sms:   sms,
		users: users,
		auth:  auth,
		user: &UserController{
			Users:          users,
			Messages:       messages,
			SMS:            sms,
			Mailer:         services.NewMailer(cfg.Mail, discard),
			AuthController: auth,
			Log:            discard,
		},
		chat: &ChatController{
			AI:             ai,
			Messages:       messages,
			Screener:       screener,
			AuthController: auth,
			HistoryLimit:   cfg.HistoryLimit,
			Log:            discard,
		},
		text: &SMSController{
			SMS:      sms,
			AI:       ai,
			Screener: screener,
			Log:      discard,
		},
	}
}

// register creates a user and logs them in, returning the access and
// refresh tokens.
func (a *testApp) register(t *testing.T, username string) (string, string) {
	t.Helper()

	_, err := a.users.Create(context.Background(), services.RegisterInput{
		Username:        username,
		Email:           username + "@example.com",
		Password:        "correct-horse",
		ConfirmPassword: "correct-horse",
	})
	require.NoError(t, err)

	rec := serve(a.auth.Login, jsonRequest(http.MethodPost, "/auth/login", map[string]string{
		"login":    username,
		"password": "correct-horse",
	}, ""))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body struct {
		Data struct {
			Tokens struct {
				AccessToken  string `json:"access_token"`
				RefreshToken string `json:"refresh_token"`
			} `json:"tokens"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body.Data.Tokens.AccessToken)
	return body.Data.Tokens.AccessToken, body.Data.Tokens.RefreshToken
}

func jsonRequest(method, target string, v interface{}, token string) *http.Request {
	var body bytes.Buffer
	if v != nil {
		_ = json.NewEncoder(&body).Encode(v)
	}
	req := httptest.NewRequest(method, target, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	middleware.RequestID(h).ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func jsonDecode(rec *httptest.ResponseRecorder, v interface{}) error {
	return json.NewDecoder(rec.Body).Decode(v)
}
