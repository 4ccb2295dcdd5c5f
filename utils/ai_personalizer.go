package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"outreach/models"
)

const (
	DefaultAITimeout      = 30 * time.Second
	DefaultOpenAIModel    = "gpt-4o-mini"
	DefaultDeepSeekModel  = "deepseek-chat"
	DefaultDeepSeekURL    = "https://api.deepseek.com"
	aiMaxTokens           = 500
	aiTemperature         = 0.7
	aiBreakerFailures     = 3
	aiBreakerOpenDuration = time.Minute
)

const aiSystemPrompt = "You are an expert at writing personalized cold emails. " +
	"Generate content based on the contact information and website data provided. " +
	"Use the website information to make the content more relevant and specific to their business. " +
	"Keep it professional, concise, and engaging. " +
	"Only return the requested content without any additional formatting or explanation."

// PersonalizationRequest is one AI generation for a contact.
type PersonalizationRequest struct {
	Prompt         string
	Contact        *models.Contact
	Account        *models.EmailAccount
	User           *models.User
	WebsiteURL     string
	WebsiteContent string
}

// PersonalizationResult is the generated text. When Fallback is set, Text is
// the template-substituted prompt and Err says why the provider was not used.
type PersonalizationResult struct {
	Text     string
	Provider string
	Model    string
	Latency  time.Duration
	Fallback bool
	Err      error
}

// Personalizer generates personalized text. Implementations never fail; they
// fall back to template substitution instead.
type Personalizer interface {
	Generate(ctx context.Context, req PersonalizationRequest) PersonalizationResult
}

type AIPersonalizerConfig struct {
	OpenAIBaseURL   string
	DeepSeekBaseURL string
	Timeout         time.Duration
}

// AIPersonalizer calls an OpenAI compatible chat completion endpoint chosen by
// the user's provider setting. Each (provider, user) pair has its own circuit
// breaker so a bad key only short-circuits its owner.
type AIPersonalizer struct {
	cfg    AIPersonalizerConfig
	logger *logrus.Entry

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewAIPersonalizer(cfg AIPersonalizerConfig, logger *logrus.Entry) *AIPersonalizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAITimeout
	}
	if cfg.DeepSeekBaseURL == "" {
		cfg.DeepSeekBaseURL = DefaultDeepSeekURL
	}
	if logger == nil {
		logger = logrus.WithField("component", "ai_personalizer")
	}
	return &AIPersonalizer{
		cfg:      cfg,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// backend resolves provider, API key, model and base URL from user settings.
func (p *AIPersonalizer) backend(user *models.User) (provider, apiKey, model, baseURL string) {
	if user != nil && strings.EqualFold(user.AIProvider, models.AIProviderDeepSeek) {
		model = user.DeepSeekModel
		if model == "" {
			model = DefaultDeepSeekModel
		}
		return models.AIProviderDeepSeek, user.DeepSeekAPIKey, model, p.cfg.DeepSeekBaseURL
	}

	model = DefaultOpenAIModel
	if user != nil {
		apiKey = user.OpenAIAPIKey
		if user.OpenAIModel != "" {
			model = user.OpenAIModel
		}
	}
	return models.AIProviderOpenAI, apiKey, model, p.cfg.OpenAIBaseURL
}

func (p *AIPersonalizer) breaker(provider string, userID uint) *gobreaker.CircuitBreaker {
	key := fmt.Sprintf("%s:%d", provider, userID)

	p.mu.Lock()
	defer p.mu.Unlock()
	if cb, ok := p.breakers[key]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: 1,
		Timeout:     aiBreakerOpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= aiBreakerFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			p.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("AI circuit breaker state changed")
		},
	})
	p.breakers[key] = cb
	return cb
}

func (p *AIPersonalizer) Generate(ctx context.Context, req PersonalizationRequest) PersonalizationResult {
	start := time.Now()
	provider, apiKey, model, baseURL := p.backend(req.User)

	fallback := func(err error) PersonalizationResult {
		p.logger.WithFields(logrus.Fields{
			"provider":   provider,
			"contact_id": req.Contact.ID,
			"error":      err.Error(),
		}).Warn("AI personalization failed, using template fallback")
		return PersonalizationResult{
			Text:     PersonalizeContent(req.Prompt, req.Contact, req.Account),
			Provider: provider,
			Model:    model,
			Latency:  time.Since(start),
			Fallback: true,
			Err:      err,
		}
	}

	if apiKey == "" {
		return fallback(fmt.Errorf("%s API key not configured", provider))
	}

	var userID uint
	if req.User != nil {
		userID = req.User.ID
	}

	out, err := p.breaker(provider, userID).Execute(func() (interface{}, error) {
		return p.complete(ctx, apiKey, baseURL, model, req)
	})
	if err != nil {
		return fallback(err)
	}

	return PersonalizationResult{
		Text:     out.(string),
		Provider: provider,
		Model:    model,
		Latency:  time.Since(start),
	}
}

func (p *AIPersonalizer) complete(ctx context.Context, apiKey, baseURL, model string, req PersonalizationRequest) (string, error) {
	clientCfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	client := openai.NewClientWithConfig(clientCfg)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: aiSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(req)},
		},
		MaxTokens:   aiMaxTokens,
		Temperature: aiTemperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("completion returned no choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("completion returned empty content")
	}
	return text, nil
}

func buildUserPrompt(req PersonalizationRequest) string {
	c := req.Contact
	var sb strings.Builder
	sb.WriteString("Contact Information:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", c.FullName())
	fmt.Fprintf(&sb, "- Company: %s\n", c.Company)
	fmt.Fprintf(&sb, "- Position: %s\n", c.Position)
	fmt.Fprintf(&sb, "- Email: %s\n", c.Email)
	fmt.Fprintf(&sb, "- Phone: %s\n", c.Phone)
	fmt.Fprintf(&sb, "- Website: %s\n", c.Website)
	fmt.Fprintf(&sb, "- Location: %s, %s, %s\n", c.City, c.State, c.Country)
	fmt.Fprintf(&sb, "- Industry: %s\n", c.Industry)
	fmt.Fprintf(&sb, "- Personalization Notes: %s\n", c.Personalization)

	if req.WebsiteContent != "" {
		sb.WriteString("\nWebsite Information:\n")
		fmt.Fprintf(&sb, "- Website URL: %s\n", req.WebsiteURL)
		fmt.Fprintf(&sb, "- Website Content: %s\n", req.WebsiteContent)
	}

	fmt.Fprintf(&sb, "\nPrompt: %s\n\n", req.Prompt)
	sb.WriteString("Generate the personalized content based on the contact and website information above:")
	return sb.String()
}
