package controllers

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zarkopopovski/jane/apperrors"
)

func TestLoginRejectsBadCredentials(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "alice")

	rec := serve(app.auth.Login, jsonRequest(http.MethodPost, "/auth/login", map[string]string{
		"username": "alice",
		"password": "wrong-password",
	}, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decode(t, rec)
	require.Equal(t, apperrors.CodeAuthentication, body["error"].(map[string]interface{})["code"])

	rec = serve(app.auth.Login, jsonRequest(http.MethodPost, "/auth/login", map[string]string{}, ""))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLoginByEmail(t *testing.T) {
	app := newTestApp(t)
	app.register(t, "bob")

	rec := serve(app.auth.Login, jsonRequest(http.MethodPost, "/auth/login", map[string]string{
		"email":    "bob@example.com",
		"password": "correct-horse",
	}, ""))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUserIDFromBearerToken(t *testing.T) {
	app := newTestApp(t)
	access, _ := app.register(t, "carol")

	req := jsonRequest(http.MethodGet, "/auth/profile", nil, access)
	userID, err := app.auth.UserID(req)
	require.NoError(t, err)
	require.NotZero(t, userID)

	require.NotNil(t, app.auth.OptionalUserID(req))
	require.Nil(t, app.auth.OptionalUserID(jsonRequest(http.MethodGet, "/", nil, "")))
	require.Nil(t, app.auth.OptionalUserID(jsonRequest(http.MethodGet, "/", nil, "garbage")))

	// a token signed with the refresh secret is not an access token
	_, refresh := app.register(t, "carol2")
	_, err = app.auth.UserID(jsonRequest(http.MethodGet, "/", nil, refresh))
	require.ErrorIs(t, err, apperrors.ErrAuthentication)
}

func TestRefreshIsSingleUse(t *testing.T) {
	app := newTestApp(t)
	oldAccess, refresh := app.register(t, "dave")

	target := "/auth/refresh-token?refreshToken=" + url.QueryEscape(refresh)

	rec := serve(app.auth.Refresh, jsonRequest(http.MethodGet, target, nil, ""))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := decode(t, rec)
	require.NotEmpty(t, body["access_token"])
	require.NotEmpty(t, body["refresh_token"])

	_, err := app.auth.UserID(jsonRequest(http.MethodGet, "/", nil, body["access_token"].(string)))
	require.NoError(t, err)

	_, err = app.auth.UserID(jsonRequest(http.MethodGet, "/", nil, oldAccess))
	require.ErrorIs(t, err, apperrors.ErrAuthentication)

	rec = serve(app.auth.Refresh, jsonRequest(http.MethodGet, target, nil, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(app.auth.Refresh, jsonRequest(http.MethodGet, "/auth/refresh-token?refreshToken=nope", nil, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesTokens(t *testing.T) {
	app := newTestApp(t)
	access, refresh := app.register(t, "erin")

	rec := serve(app.auth.Logout, jsonRequest(http.MethodPost, "/auth/logout", nil, access))
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := app.auth.UserID(jsonRequest(http.MethodGet, "/", nil, access))
	require.ErrorIs(t, err, apperrors.ErrAuthentication)

	rec = serve(app.auth.Refresh, jsonRequest(http.MethodGet, "/auth/refresh-token?refreshToken="+url.QueryEscape(refresh), nil, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(app.auth.Logout, jsonRequest(http.MethodPost, "/auth/logout", nil, ""))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
