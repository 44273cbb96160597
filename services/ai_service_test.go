package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/config"
	"github.com/zarkopopovski/jane/models"
)

func newAIService(t *testing.T, env string, llm LLM) (*AIService, *clock) {
	cache := NewCacheService(newTestDB(t), discard)
	c := newClock()
	cache.now = c.now
	return NewAIService(testConfig(env), llm, cache, discard), c
}

func TestDevelopmentModeMocksResponse(t *testing.T) {
	llm := new(MockLLM)
	svc, _ := newAIService(t, config.EnvDevelopment, llm)

	got, err := svc.JobCoachingAdvice(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.Equal(t, "Development mode response: You said 'hello'", got)
	llm.AssertNotCalled(t, "GenerateContent", mock.Anything, mock.Anything)
}

func TestCachedResponseSkipsModel(t *testing.T) {
	ctx := context.Background()
	llm := new(MockLLM)
	llm.On("GenerateContent", mock.Anything, mock.Anything).Return(completion("Update your resume."), nil).Once()

	svc, _ := newAIService(t, config.EnvProduction, llm)

	first, err := svc.JobCoachingAdvice(ctx, "resume tips?", nil)
	require.NoError(t, err)
	second, err := svc.JobCoachingAdvice(ctx, "resume tips?", nil)
	require.NoError(t, err)

	require.Equal(t, "Update your resume.", first)
	require.Equal(t, first, second)
	llm.AssertNumberOfCalls(t, "GenerateContent", 1)
}

func TestExpiredResponseIsRecomputed(t *testing.T) {
	ctx := context.Background()
	llm := new(MockLLM)
	llm.On("GenerateContent", mock.Anything, mock.Anything).Return(completion("old"), nil).Once()
	llm.On("GenerateContent", mock.Anything, mock.Anything).Return(completion("new"), nil).Once()

	svc, c := newAIService(t, config.EnvProduction, llm)

	got, err := svc.JobCoachingAdvice(ctx, "interview?", nil)
	require.NoError(t, err)
	require.Equal(t, "old", got)

	c.advance(2 * time.Hour)

	got, err = svc.JobCoachingAdvice(ctx, "interview?", nil)
	require.NoError(t, err)
	require.Equal(t, "new", got)

	cached, ok, err := svc.cache.Get(ctx, ResponseKey("interview?"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "new", cached)
}

func TestContextBypassesCache(t *testing.T) {
	ctx := context.Background()
	history := []models.ChatMessage{
		{Role: "user", Content: "I want to work in retail"},
		{Role: "assistant", Content: "Great choice."},
	}

	llm := new(MockLLM)
	llm.On("GenerateContent", mock.Anything, mock.MatchedBy(func(msgs []llms.MessageContent) bool {
		return len(msgs) == 4 &&
			msgs[0].Role == llms.ChatMessageTypeSystem &&
			msgs[1].Role == llms.ChatMessageTypeHuman &&
			msgs[2].Role == llms.ChatMessageTypeAI &&
			msgs[3].Role == llms.ChatMessageTypeHuman
	})).Return(completion("with context"), nil).Twice()

	svc, _ := newAIService(t, config.EnvProduction, llm)
	require.NoError(t, svc.cache.Set(ctx, ResponseKey("next steps?"), "cached", time.Hour))

	for i := 0; i < 2; i++ {
		got, err := svc.JobCoachingAdvice(ctx, "next steps?", history)
		require.NoError(t, err)
		require.Equal(t, "with context", got)
	}

	cached, _, err := svc.cache.Get(ctx, ResponseKey("next steps?"))
	require.NoError(t, err)
	require.Equal(t, "cached", cached)
	llm.AssertExpectations(t)
}

func TestProviderFailureIsAPIError(t *testing.T) {
	llm := new(MockLLM)
	llm.On("GenerateContent", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused"))

	svc, _ := newAIService(t, config.EnvProduction, llm)

	_, err := svc.JobCoachingAdvice(context.Background(), "hi", nil)
	require.ErrorIs(t, err, apperrors.ErrAPI)
	require.Equal(t, 503, apperrors.StatusCode(err))

	_, ok, cerr := svc.cache.Get(context.Background(), ResponseKey("hi"))
	require.NoError(t, cerr)
	require.False(t, ok)
}

func TestRoleType(t *testing.T) {
	require.Equal(t, llms.ChatMessageTypeAI, roleType("assistant"))
	require.Equal(t, llms.ChatMessageTypeSystem, roleType("system"))
	require.Equal(t, llms.ChatMessageTypeHuman, roleType("user"))
}
