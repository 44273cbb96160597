package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zarkopopovski/jane/apperrors"
)

type MockPhoneLinker struct {
	mock.Mock
}

func (m *MockPhoneLinker) LinkUser(ctx context.Context, userID int64, phone string) (int64, error) {
	args := m.Called(ctx, userID, phone)
	return args.Get(0).(int64), args.Error(1)
}

func validInput() RegisterInput {
	return RegisterInput{
		Username:        "jane_doe",
		Email:           "jane@example.com",
		Password:        "correct-horse",
		ConfirmPassword: "correct-horse",
	}
}

func TestRegisterValidation(t *testing.T) {
	cases := map[string]func(*RegisterInput){
		"missing fields": func(in *RegisterInput) { in.Email = "" },
		"mismatch":       func(in *RegisterInput) { in.ConfirmPassword = "other-pass" },
		"bad username":   func(in *RegisterInput) { in.Username = "no spaces!" },
		"short username": func(in *RegisterInput) { in.Username = "ab" },
		"bad email":      func(in *RegisterInput) { in.Email = "jane@localhost" },
		"short password": func(in *RegisterInput) { in.Password, in.ConfirmPassword = "short", "short" },
	}

	svc := NewUserService(newTestDB(t), nil, discard)
	for name, mutate := range cases {
		in := validInput()
		mutate(&in)

		_, err := svc.Create(context.Background(), in)
		require.ErrorIs(t, err, apperrors.ErrValidation, name)
	}
}

func TestCreateAndAuthenticate(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(newTestDB(t), nil, discard)

	user, err := svc.Create(ctx, validInput())
	require.NoError(t, err)
	require.NotZero(t, user.Id)
	require.NotEqual(t, "correct-horse", user.PasswordHash)

	byName, err := svc.Authenticate(ctx, "jane_doe", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, user.Id, byName.Id)
	require.NotNil(t, byName.LastLogin)

	byEmail, err := svc.Authenticate(ctx, "jane@example.com", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, user.Id, byEmail.Id)

	_, err = svc.Authenticate(ctx, "jane_doe", "wrong-password")
	require.ErrorIs(t, err, apperrors.ErrAuthentication)

	_, err = svc.Authenticate(ctx, "nobody", "correct-horse")
	require.ErrorIs(t, err, apperrors.ErrAuthentication)
}

func TestDuplicateUser(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(newTestDB(t), nil, discard)

	_, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	_, err = svc.Create(ctx, validInput())
	require.ErrorIs(t, err, apperrors.ErrValidation)
	require.Contains(t, err.Error(), "Username or email already exists")
}

func TestCreateLinksPhone(t *testing.T) {
	linker := new(MockPhoneLinker)
	linker.On("LinkUser", mock.Anything, mock.AnythingOfType("int64"), "+15551234567").Return(int64(3), nil).Once()

	svc := NewUserService(newTestDB(t), linker, discard)

	in := validInput()
	in.PhoneNumber = "+15551234567"
	_, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	linker.AssertExpectations(t)
}

func TestUpdateReportsPhoneChange(t *testing.T) {
	ctx := context.Background()
	linker := new(MockPhoneLinker)
	linker.On("LinkUser", mock.Anything, mock.Anything, "+15557654321").Return(int64(0), nil).Once()

	svc := NewUserService(newTestDB(t), linker, discard)
	user, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	first := "Jane"
	updated, changed, err := svc.Update(ctx, user.Id, UpdateInput{FirstName: &first})
	require.NoError(t, err)
	require.False(t, changed)
	require.Equal(t, "Jane", updated.FirstName)

	phone := "+15557654321"
	updated, changed, err = svc.Update(ctx, user.Id, UpdateInput{PhoneNumber: &phone})
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, phone, *updated.PhoneNumber)

	// same number again is not a change
	_, changed, err = svc.Update(ctx, user.Id, UpdateInput{PhoneNumber: &phone})
	require.NoError(t, err)
	require.False(t, changed)

	bad := "not-an-email"
	_, _, err = svc.Update(ctx, user.Id, UpdateInput{Email: &bad})
	require.ErrorIs(t, err, apperrors.ErrValidation)

	linker.AssertExpectations(t)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	svc := NewUserService(newTestDB(t), nil, discard)
	user, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	err = svc.ChangePassword(ctx, user.Id, "wrong-current", "new-password", "new-password")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	err = svc.ChangePassword(ctx, user.Id, "correct-horse", "new-password", "different")
	require.ErrorIs(t, err, apperrors.ErrValidation)

	require.NoError(t, svc.ChangePassword(ctx, user.Id, "correct-horse", "new-password", "new-password"))

	_, err = svc.Authenticate(ctx, "jane_doe", "new-password")
	require.NoError(t, err)
}

func TestByIDNotFound(t *testing.T) {
	svc := NewUserService(newTestDB(t), nil, discard)

	_, err := svc.ByID(context.Background(), 42)
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestNewConversationID(t *testing.T) {
	svc := NewUserService(newTestDB(t), nil, discard)

	id := svc.NewConversationID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	require.NotEqual(t, id, svc.NewConversationID())
}
