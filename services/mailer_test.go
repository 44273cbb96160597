package services

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"github.com/zarkopopovski/jane/config"
	"github.com/zarkopopovski/jane/models"
)

type MockMailSender struct {
	mock.Mock
}

func (m *MockMailSender) DialAndSend(msgs ...*gomail.Message) error {
	return m.Called(msgs).Error(0)
}

func TestSendWelcome(t *testing.T) {
	cfg := config.MailConfig{Contact: "jane@example.org", Server: "smtp.example.org"}
	user := &models.User{Id: 7, Username: "sam", Email: "sam@example.com"}

	sender := new(MockMailSender)
	sender.On("DialAndSend", mock.MatchedBy(func(msgs []*gomail.Message) bool {
		return len(msgs) == 1 &&
			msgs[0].GetHeader("To")[0] == "sam@example.com" &&
			msgs[0].GetHeader("Subject")[0] == "Welcome to JANE"
	})).Return(nil).Once()

	NewMailerWithSender(cfg, sender, discard).SendWelcome(user, "https://jane.example.org")
	sender.AssertExpectations(t)
}

func TestSendWelcomeSwallowsErrors(t *testing.T) {
	sender := new(MockMailSender)
	sender.On("DialAndSend", mock.Anything).Return(errors.New("dial tcp: refused"))

	require.NotPanics(t, func() {
		NewMailerWithSender(config.MailConfig{}, sender, discard).SendWelcome(&models.User{Email: "x@example.com"}, "")
	})
}

func TestMailerDisabledWithoutSMTP(t *testing.T) {
	m := NewMailer(config.MailConfig{}, discard)
	require.Nil(t, m.sender)

	require.NotPanics(t, func() { m.SendWelcome(&models.User{}, "") })
}
