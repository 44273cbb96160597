package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"
	"github.com/twinj/uuid"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/middleware"
	"github.com/zarkopopovski/jane/models"
	"github.com/zarkopopovski/jane/services"
)

const (
	accessTokenTTL  = 15 * time.Minute
	refreshTokenTTL = 7 * 24 * time.Hour
)

var errUnauthorized = apperrors.Authentication("Unauthorized")

type AuthController struct {
	DBManager     *db.DBManager
	Users         *services.UserService
	AccessSecret  string
	RefreshSecret string
	Log           logrus.FieldLogger
}

type loginRequest struct {
	Login    string `json:"login"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l loginRequest) identifier() string {
	for _, v := range []string{l.Login, l.Username, l.Email} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (aController *AuthController) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, r, aController.Log, apperrors.Validation("Invalid request body"))
		return
	}

	login := req.identifier()
	if login == "" || req.Password == "" {
		middleware.WriteError(w, r, aController.Log, apperrors.Validation("Username/email and password are required"))
		return
	}

	user, err := aController.Users.Authenticate(r.Context(), login, req.Password)
	if err != nil {
		middleware.WriteError(w, r, aController.Log, err)
		return
	}

	ts, err := aController.CreateToken(strconv.FormatInt(user.Id, 10))
	if err != nil {
		middleware.WriteError(w, r, aController.Log, err)
		return
	}

	if err := aController.CreateAuth(r.Context(), user.Id, ts); err != nil {
		middleware.WriteError(w, r, aController.Log, err)
		return
	}

	user.Tokens = ts

	aController.Log.WithField("user_id", user.Id).Info("User logged in")
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": user})
}

func (aController *AuthController) VerifyToken(r *http.Request) (*jwt.Token, error) {
	return aController.parse(aController.ExtractToken(r), aController.AccessSecret)
}

func (aController *AuthController) parse(tokenString, secret string) (*jwt.Token, error) {
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
}

func (aController *AuthController) ExtractTokenMetadata(r *http.Request) (*models.AccessDetails, error) {
	token, err := aController.VerifyToken(r)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid access token")
	}

	accessUuid, ok := claims["access_uuid"].(string)
	if !ok {
		return nil, errors.New("access token without uuid")
	}
	userId, err := strconv.ParseInt(fmt.Sprintf("%v", claims["user_id"]), 10, 64)
	if err != nil {
		return nil, err
	}
	return &models.AccessDetails{
		AccessUuid: accessUuid,
		UserId:     userId,
	}, nil
}

// FetchAuth confirms the access token is still registered and unexpired.
func (aController *AuthController) FetchAuth(ctx context.Context, authD *models.AccessDetails) (int64, error) {
	var token models.Token

	query := "SELECT id, type, uuid, user_id, expires_at FROM tokens WHERE uuid=$1 AND type=$2"

	err := aController.DBManager.DB.GetContext(ctx, &token, query, authD.AccessUuid, models.TokenTypeAccess)
	if err != nil {
		return 0, err
	}

	if authD.UserId != token.UserID || !token.ExpiresAt.After(time.Now()) {
		return 0, errors.New("unauthorized")
	}
	return token.UserID, nil
}

// UserID returns the authenticated caller or an authentication error.
func (aController *AuthController) UserID(r *http.Request) (int64, error) {
	metadata, err := aController.ExtractTokenMetadata(r)
	if err != nil {
		return 0, errUnauthorized
	}
	userID, err := aController.FetchAuth(r.Context(), metadata)
	if err != nil {
		return 0, errUnauthorized
	}
	return userID, nil
}

// OptionalUserID is UserID for routes that also serve anonymous callers.
// Missing or invalid tokens yield nil.
func (aController *AuthController) OptionalUserID(r *http.Request) *int64 {
	if aController.ExtractToken(r) == "" {
		return nil
	}
	userID, err := aController.UserID(r)
	if err != nil {
		aController.Log.WithField("request_id", middleware.GetRequestID(r.Context())).Debug("Ignoring invalid bearer token")
		return nil
	}
	return &userID
}

func (aController *AuthController) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := r.URL.Query().Get("refreshToken")

	token, err := aController.parse(refreshToken, aController.RefreshSecret)
	if err != nil {
		middleware.WriteError(w, r, aController.Log, apperrors.Authentication("Refresh token expired"))
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		middleware.WriteError(w, r, aController.Log, apperrors.Authentication("Refresh token expired"))
		return
	}

	refreshUuid, ok := claims["refresh_uuid"].(string)
	if !ok {
		middleware.WriteError(w, r, aController.Log, errUnauthorized)
		return
	}
	userID := fmt.Sprintf("%v", claims["user_id"])
	userId, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		middleware.WriteError(w, r, aController.Log, errUnauthorized)
		return
	}

	// a refresh token is single use
	deleted, delErr := aController.DeleteAuth(r.Context(), refreshUuid)
	if delErr != nil || deleted == 0 {
		middleware.WriteError(w, r, aController.Log, errUnauthorized)
		return
	}

	// the access token issued alongside it goes too
	accessUuid, _, _ := strings.Cut(refreshUuid, "++")
	if _, err := aController.DBManager.DB.ExecContext(r.Context(), "DELETE FROM tokens WHERE uuid=$1 AND type=$2", accessUuid, models.TokenTypeAccess); err != nil {
		middleware.WriteError(w, r, aController.Log, apperrors.Database("Failed to delete tokens", err))
		return
	}

	ts, err := aController.CreateToken(userID)
	if err != nil {
		middleware.WriteError(w, r, aController.Log, err)
		return
	}
	if err := aController.CreateAuth(r.Context(), userId, ts); err != nil {
		middleware.WriteError(w, r, aController.Log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]string{
		"access_token":  ts.AccessToken,
		"refresh_token": ts.RefreshToken,
	})
}

func (aController *AuthController) CreateToken(userID string) (*models.TokenDetails, error) {
	now := time.Now()

	td := &models.TokenDetails{}
	td.AtExpires = now.Add(accessTokenTTL).Unix()
	td.AccessUuid = uuid.NewV4().String()

	td.RtExpires = now.Add(refreshTokenTTL).Unix()
	td.RefreshUuid = td.AccessUuid + "++" + userID

	var err error
	atClaims := jwt.MapClaims{}
	atClaims["authorized"] = true
	atClaims["access_uuid"] = td.AccessUuid
	atClaims["user_id"] = userID
	atClaims["exp"] = td.AtExpires
	at := jwt.NewWithClaims(jwt.SigningMethodHS256, atClaims)
	td.AccessToken, err = at.SignedString([]byte(aController.AccessSecret))
	if err != nil {
		return nil, err
	}

	rtClaims := jwt.MapClaims{}
	rtClaims["refresh_uuid"] = td.RefreshUuid
	rtClaims["user_id"] = userID
	rtClaims["exp"] = td.RtExpires
	rt := jwt.NewWithClaims(jwt.SigningMethodHS256, rtClaims)
	td.RefreshToken, err = rt.SignedString([]byte(aController.RefreshSecret))
	if err != nil {
		return nil, err
	}
	return td, nil
}

func (aController *AuthController) ExtractToken(r *http.Request) string {
	bearToken := r.Header.Get("Authorization")
	strArr := strings.Split(bearToken, " ")
	if len(strArr) == 2 && strings.EqualFold(strArr[0], "Bearer") {
		return strArr[1]
	}
	return ""
}

// CreateAuth records both token uuids and drops the user's expired ones.
func (aController *AuthController) CreateAuth(ctx context.Context, userid int64, td *models.TokenDetails) error {
	tx, err := aController.DBManager.DB.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.Database("Failed to store tokens", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, "DELETE FROM tokens WHERE user_id=$1 AND expires_at < $2", userid, now); err != nil {
		return apperrors.Database("Failed to store tokens", err)
	}

	query := "INSERT INTO tokens(type, uuid, user_id, expires_at) VALUES($1, $2, $3, $4)"

	if _, err := tx.ExecContext(ctx, query, models.TokenTypeAccess, td.AccessUuid, userid, time.Unix(td.AtExpires, 0).UTC()); err != nil {
		return apperrors.Database("Failed to store tokens", err)
	}
	if _, err := tx.ExecContext(ctx, query, models.TokenTypeRefresh, td.RefreshUuid, userid, time.Unix(td.RtExpires, 0).UTC()); err != nil {
		return apperrors.Database("Failed to store tokens", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.Database("Failed to store tokens", err)
	}
	return nil
}

func (aController *AuthController) DeleteTokens(ctx context.Context, authD *models.AccessDetails) error {
	refreshUuid := fmt.Sprintf("%s++%d", authD.AccessUuid, authD.UserId)

	query := "DELETE FROM tokens WHERE uuid=$1 AND type=$2"

	if _, err := aController.DBManager.DB.ExecContext(ctx, query, authD.AccessUuid, models.TokenTypeAccess); err != nil {
		return apperrors.Database("Failed to delete tokens", err)
	}
	if _, err := aController.DBManager.DB.ExecContext(ctx, query, refreshUuid, models.TokenTypeRefresh); err != nil {
		return apperrors.Database("Failed to delete tokens", err)
	}
	return nil
}

func (aController *AuthController) DeleteAuth(ctx context.Context, givenUuid string) (int64, error) {
	query := "DELETE FROM tokens WHERE uuid=$1 AND type=$2"

	res, err := aController.DBManager.DB.ExecContext(ctx, query, givenUuid, models.TokenTypeRefresh)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (aController *AuthController) Logout(w http.ResponseWriter, r *http.Request) {
	metadata, err := aController.ExtractTokenMetadata(r)
	if err != nil {
		middleware.WriteError(w, r, aController.Log, errUnauthorized)
		return
	}
	if err := aController.DeleteTokens(r.Context(), metadata); err != nil {
		middleware.WriteError(w, r, aController.Log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}
