package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/middleware"
	"github.com/zarkopopovski/jane/services"
)

const phoneLinkedSMS = "Your phone number is now linked to your JANE account. Text this number any time for job search support."

type UserController struct {
	Users          *services.UserService
	Messages       *services.MessageService
	SMS            *services.SMSService
	Mailer         *services.Mailer
	AuthController *AuthController
	PublicURL      string
	Log            logrus.FieldLogger
}

func (uController *UserController) RegisterNewUser(w http.ResponseWriter, r *http.Request) {
	var input services.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		middleware.WriteError(w, r, uController.Log, apperrors.Validation("Invalid request body"))
		return
	}

	user, err := uController.Users.Create(r.Context(), input)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, err)
		return
	}

	go uController.Mailer.SendWelcome(user, uController.PublicURL)

	uController.Log.WithField("user_id", user.Id).Info("User registered")
	middleware.WriteJSON(w, http.StatusCreated, map[string]interface{}{"data": user})
}

func (uController *UserController) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := uController.AuthController.UserID(r)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, err)
		return
	}

	user, err := uController.Users.ByID(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, notFoundAsAuth(err))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": user})
}

func (uController *UserController) UpdateUserDetails(w http.ResponseWriter, r *http.Request) {
	userID, err := uController.AuthController.UserID(r)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, err)
		return
	}

	var input services.UpdateInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		middleware.WriteError(w, r, uController.Log, apperrors.Validation("Invalid request body"))
		return
	}

	user, phoneChanged, err := uController.Users.Update(r.Context(), userID, input)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, notFoundAsAuth(err))
		return
	}

	if phoneChanged {
		phone := *user.PhoneNumber
		go func() {
			if _, err := uController.SMS.Send(context.Background(), phone, phoneLinkedSMS); err != nil {
				uController.Log.WithError(err).WithField("user_id", userID).Warn("Could not send phone link SMS")
			}
		}()
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": user})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (uController *UserController) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, err := uController.AuthController.UserID(r)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, err)
		return
	}

	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, r, uController.Log, apperrors.Validation("Invalid request body"))
		return
	}

	err = uController.Users.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword, req.ConfirmPassword)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, notFoundAsAuth(err))
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (uController *UserController) ListConversations(w http.ResponseWriter, r *http.Request) {
	userID, err := uController.AuthController.UserID(r)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, err)
		return
	}

	conversations, err := uController.Messages.Conversations(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, uController.Log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{"data": conversations})
}

func (uController *UserController) StartConversation(w http.ResponseWriter, r *http.Request) {
	if _, err := uController.AuthController.UserID(r); err != nil {
		middleware.WriteError(w, r, uController.Log, err)
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, map[string]string{
		"conversation_id": uController.Users.NewConversationID(),
	})
}

// notFoundAsAuth hides deleted accounts behind a plain authentication error.
func notFoundAsAuth(err error) error {
	if errors.Is(err, services.ErrUserNotFound) {
		return errUnauthorized
	}
	return err
}
