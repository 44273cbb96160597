package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/zarkopopovski/jane/config"
	"github.com/zarkopopovski/jane/db"
	"github.com/zarkopopovski/jane/logger"
)

func newTestDB(t *testing.T) *db.DBManager {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	m, err := db.NewMemoryConnection(name)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func testConfig(env string) *config.Config {
	return &config.Config{
		Env: env,
		OpenAI: config.OpenAIConfig{
			Model: "gpt-4o-mini",
		},
		Twilio: config.TwilioConfig{
			PhoneNumber: "+15550000000",
		},
		Cache: config.CacheConfig{
			TTLSeconds: 3600,
		},
		HistoryLimit: 5,
	}
}

type MockLLM struct {
	mock.Mock
}

func (m *MockLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	args := m.Called(ctx, messages)
	resp, _ := args.Get(0).(*llms.ContentResponse)
	return resp, args.Error(1)
}

func completion(text string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text}},
	}
}

// clock is a settable time source for the cache service.
type clock struct {
	t time.Time
}

func (c *clock) now() time.Time {
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

var discard = logger.Discard()
