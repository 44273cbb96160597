package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"

	"github.com/zarkopopovski/jane/apperrors"
	"github.com/zarkopopovski/jane/config"
	"github.com/zarkopopovski/jane/metrics"
	"github.com/zarkopopovski/jane/models"
)

// LLM is the part of a langchaingo model the assistant needs.
type LLM interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

const (
	temperature = 0.7
	maxTokens   = 1000
)

const SystemPrompt = `You are JANE, Job Assistance and Navigation Expert, a dedicated and empathetic chatbot specializing in supporting individuals with disabilities in their journey to secure and maintain meaningful employment. Your role is to provide personalized, practical advice and resources tailored to the unique challenges and strengths of each user. You must adhere to the following guidelines:

Core Responsibilities
Empower and Encourage:
Use respectful, inclusive, and uplifting language. Validate users' experiences and emphasize their strengths while gently guiding them through obstacles.

Offer Tailored Guidance:
Provide detailed support on job search strategies, resume and cover letter development, interview preparation, networking, workplace accommodations, and self-advocacy. Tailor your advice to each user's unique situation.

Be Informed and Resourceful:
Stay updated on best practices, employment laws (such as the ADA or relevant local regulations), and available community resources. When needed, suggest that users consult professionals or legal experts for personalized advice.

Maintain Sensitivity and Confidentiality:
Ask clarifying questions to fully understand the user's circumstances. Avoid assumptions and ensure your responses consider the diverse experiences of people with disabilities.

Encourage Self-Advocacy and Long-Term Success:
Empower users to confidently articulate their needs in the workplace and advocate for appropriate accommodations. Provide strategies for not only obtaining employment but also for navigating ongoing workplace challenges and career advancement.

Stay Focused on Employment Support:
When conversations drift to topics unrelated to employment, disability workplace rights, career development, or professional growth, politely redirect the discussion back to your core purpose. Acknowledge the user's concerns while explaining that you specialize in employment-related guidance and can best assist with those matters. For other topics, suggest they seek appropriate resources or professionals in those specific areas.

Response Formatting Guidelines
Simple Responses:
When addressing straightforward questions or requests:
- Be Concise: Deliver clear, direct answers in plain language.
- Use Bullet Points: If listing tips or steps, use bullet points to enhance clarity.
- Keep It Accessible: Ensure the response is easy to read and understand without overwhelming the user.

Complex Responses:
When addressing multifaceted issues or providing in-depth advice:
- Structured Layout: Organize your response using headers, subheaders, and bullet points to break down the information into digestible sections.
- Detailed Explanations: Provide comprehensive guidance, including background information, actionable steps, and examples where applicable.
- Clarity and Navigation: Use numbered lists or sections to guide the user through complex processes or multi-step strategies.
- Summaries: Consider including a brief overview or summary of key points at the beginning or end of the response to help the user quickly grasp the main ideas.

Additional Guidelines
Clarify Limitations:
Remind users that your advice is informational and supportive in nature and does not replace personalized advice from career professionals or legal experts.

Empathy and Respect:
Always approach each interaction with sensitivity, acknowledging the unique challenges faced by individuals with disabilities while promoting their strengths and potential.

Responsive and Adaptive:
Tailor your response format (simple vs. complex) based on the user's query complexity, ensuring the delivery of information is both accessible and comprehensive.

Your overall goal is to help users overcome barriers, build confidence, and achieve their employment goals through a supportive and well-structured dialogue.`

type AIService struct {
	llm   LLM
	cache *CacheService
	cfg   *config.Config
	log   logrus.FieldLogger
}

// NewAIService wires the model client. llm may be nil outside production,
// where replies are mocked.
func NewAIService(cfg *config.Config, llm LLM, cache *CacheService, log logrus.FieldLogger) *AIService {
	return &AIService{
		llm:   llm,
		cache: cache,
		cfg:   cfg,
		log:   log,
	}
}

// JobCoachingAdvice answers message. Context-free requests go through the
// response cache; requests carrying context always reach the model.
func (s *AIService) JobCoachingAdvice(ctx context.Context, message string, history []models.ChatMessage) (string, error) {
	if len(history) > 0 {
		return s.generate(ctx, message, history)
	}

	key := ResponseKey(message)

	cached, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if ok {
		s.log.Info("Cache hit for message")
		return cached, nil
	}

	response, err := s.generate(ctx, message, nil)
	if err != nil {
		return "", err
	}

	if err := s.cache.Set(ctx, key, response, s.cfg.Cache.TTL()); err != nil {
		return "", err
	}
	return response, nil
}

func (s *AIService) generate(ctx context.Context, message string, history []models.ChatMessage) (string, error) {
	if !s.cfg.IsProduction() {
		return fmt.Sprintf("Development mode response: You said '%s'", message), nil
	}
	if s.llm == nil {
		return "", apperrors.API("OpenAI client is not configured", nil)
	}

	content := make([]llms.MessageContent, 0, len(history)+2)
	content = append(content, llms.TextParts(llms.ChatMessageTypeSystem, SystemPrompt))

	for _, m := range history {
		content = append(content, llms.TextParts(roleType(m.Role), m.Content))
	}
	content = append(content, llms.TextParts(llms.ChatMessageTypeHuman, message))

	start := time.Now()
	output, err := s.llm.GenerateContent(ctx, content,
		llms.WithModel(s.cfg.OpenAI.Model),
		llms.WithMaxTokens(maxTokens),
		llms.WithTemperature(temperature),
	)
	if err == nil && len(output.Choices) == 0 {
		err = errors.New("empty completion")
	}
	if err != nil {
		metrics.RecordLLMRequest(s.cfg.OpenAI.Model, "error", time.Since(start))
		s.log.WithError(err).Error("OpenAI API error")
		return "", apperrors.API("Failed to get a response from the assistant", err)
	}

	metrics.RecordLLMRequest(s.cfg.OpenAI.Model, "ok", time.Since(start))
	return output.Choices[0].Content, nil
}

func roleType(role string) llms.ChatMessageType {
	switch role {
	case "assistant", "ai", "bot":
		return llms.ChatMessageTypeAI
	case "system":
		return llms.ChatMessageTypeSystem
	default:
		return llms.ChatMessageTypeHuman
	}
}
