package services

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/models"
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

const minPasswordLength = 8

var ErrUserNotFound = errors.New("user not found")

type RegisterInput struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
	PhoneNumber     string `json:"phone_number"`
}

// UpdateInput carries profile changes. Nil fields are left untouched.
type UpdateInput struct {
	Email       *string `json:"email"`
	FirstName   *string `json:"first_name"`
	LastName    *string `json:"last_name"`
	PhoneNumber *string `json:"phone_number"`
}

// PhoneLinker attaches stored SMS history to a user account.
type PhoneLinker interface {
	LinkUser(ctx context.Context, userID int64, phone string) (int64, error)
}

type UserService struct {
	db     *db.DBManager
	linker PhoneLinker
	log    logrus.FieldLogger
}

func NewUserService(dbm *db.DBManager, linker PhoneLinker, log logrus.FieldLogger) *UserService {
	return &UserService{
		db:     dbm,
		linker: linker,
		log:    log,
	}
}

func (in *RegisterInput) normalize() {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
}

func (in *RegisterInput) Validate() error {
	switch {
	case in.Username == "" || in.Email == "" || in.Password == "":
		return apperrors.Validation("All fields are required")
	case in.Password != in.ConfirmPassword:
		return apperrors.Validation("Passwords do not match")
	case !usernamePattern.MatchString(in.Username):
		return apperrors.Validation("Username must be 3-20 characters and contain only letters, numbers, and underscores")
	case !emailPattern.MatchString(in.Email):
		return apperrors.Validation("Invalid email address")
	case len(in.Password) < minPasswordLength:
		return apperrors.Validation("Password must be at least 8 characters")
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Create registers a new account and links any SMS history for its phone.
func (s *UserService) Create(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.normalize()
	if err := in.Validate(); err != nil {
		return nil, err
	}

	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, apperrors.Database("Failed to hash password", err)
	}

	user := &models.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		PhoneNumber:  nullable(in.PhoneNumber),
		IsActive:     true,
		DateJoined:   time.Now().UTC(),
	}

	var exists int
	err = s.db.DB.GetContext(ctx, &exists, "SELECT COUNT(*) FROM users WHERE username=$1 OR email=$2", user.Username, user.Email)
	if err != nil {
		return nil, apperrors.Database("Failed to create user", err)
	}
	if exists > 0 {
		return nil, apperrors.Validation("Username or email already exists")
	}

	query := `INSERT INTO users(username, email, password_hash, first_name, last_name, phone_number, is_active, date_joined)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`

	err = s.db.DB.QueryRowxContext(ctx, query, user.Username, user.Email, user.PasswordHash, user.FirstName,
		user.LastName, user.PhoneNumber, user.IsActive, user.DateJoined).Scan(&user.Id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperrors.Validation("Username or email already exists")
		}
		return nil, apperrors.Database("Failed to create user", err)
	}

	if user.PhoneNumber != nil && s.linker != nil {
		if _, err := s.linker.LinkUser(ctx, user.Id, *user.PhoneNumber); err != nil {
			s.log.WithError(err).Warn("Could not link SMS history")
		}
	}

	s.log.WithField("user_id", user.Id).Info("User registered")
	return user, nil
}

// Authenticate accepts a username or an email as login.
func (s *UserService) Authenticate(ctx context.Context, login, password string) (*models.User, error) {
	login = strings.TrimSpace(login)
	if login == "" || password == "" {
		return nil, apperrors.Validation("Username/email and password are required")
	}

	var user models.User
	err := s.db.DB.GetContext(ctx, &user, "SELECT * FROM users WHERE username=$1 OR email=$1 LIMIT 1", login)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Database("Failed to load user", err)
	}
	if err != nil || !user.IsActive || !checkPassword(user.PasswordHash, password) {
		return nil, apperrors.Authentication("Invalid username/email or password")
	}

	now := time.Now().UTC()
	if _, err := s.db.DB.ExecContext(ctx, "UPDATE users SET last_login=$1 WHERE id=$2", now, user.Id); err != nil {
		return nil, apperrors.Database("Failed to update last login", err)
	}
	user.LastLogin = &now

	return &user, nil
}

func (s *UserService) ByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getBy(ctx, "id", id)
}

func (s *UserService) ByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.getBy(ctx, "phone_number", phone)
}

func (s *UserService) getBy(ctx context.Context, column string, value interface{}) (*models.User, error) {
	var user models.User
	err := s.db.DB.GetContext(ctx, &user, "SELECT * FROM users WHERE "+column+"=$1", value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, apperrors.Database("Failed to load user", err)
	}
	return &user, nil
}

// Update applies profile changes. It reports whether the phone number changed.
func (s *UserService) Update(ctx context.Context, id int64, in UpdateInput) (*models.User, bool, error) {
	user, err := s.ByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	if in.Email != nil {
		email := strings.TrimSpace(*in.Email)
		if email != "" {
			if !emailPattern.MatchString(email) {
				return nil, false, apperrors.Validation("Invalid email address")
			}
			user.Email = email
		}
	}
	if in.FirstName != nil {
		user.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		user.LastName = strings.TrimSpace(*in.LastName)
	}

	phoneChanged := false
	if in.PhoneNumber != nil {
		phone := nullable(strings.TrimSpace(*in.PhoneNumber))
		phoneChanged = phone != nil && (user.PhoneNumber == nil || *user.PhoneNumber != *phone)
		user.PhoneNumber = phone
	}

	query := "UPDATE users SET email=$1, first_name=$2, last_name=$3, phone_number=$4 WHERE id=$5"
	if _, err := s.db.DB.ExecContext(ctx, query, user.Email, user.FirstName, user.LastName, user.PhoneNumber, user.Id); err != nil {
		if isUniqueViolation(err) {
			return nil, false, apperrors.Validation("Email or phone number already exists")
		}
		return nil, false, apperrors.Database("Failed to update user", err)
	}

	if phoneChanged && s.linker != nil {
		if _, err := s.linker.LinkUser(ctx, user.Id, *user.PhoneNumber); err != nil {
			s.log.WithError(err).Warn("Could not link SMS history")
		}
	}
	return user, phoneChanged, nil
}

func (s *UserService) ChangePassword(ctx context.Context, id int64, current, next, confirm string) error {
	if current == "" || next == "" || confirm == "" {
		return apperrors.Validation("All fields are required")
	}
	if next != confirm {
		return apperrors.Validation("New passwords do not match")
	}
	if len(next) < minPasswordLength {
		return apperrors.Validation("New password must be at least 8 characters")
	}

	user, err := s.ByID(ctx, id)
	if err != nil {
		return err
	}
	if !checkPassword(user.PasswordHash, current) {
		return apperrors.Validation("Current password is incorrect")
	}

	hash, err := hashPassword(next)
	if err != nil {
		return apperrors.Database("Failed to hash password", err)
	}
	if _, err := s.db.DB.ExecContext(ctx, "UPDATE users SET password_hash=$1 WHERE id=$2", hash, id); err != nil {
		return apperrors.Database("Failed to change password", err)
	}
	return nil
}

// NewConversationID returns a fresh random conversation id.
func (s *UserService) NewConversationID() string {
	return uuid.NewString()
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
