package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
)

// GeminiService implements the LLMService interface using the Google Gemini
// API, with both blocking and streamed generation.
type GeminiService struct {
	config  *common.GeminiConfig
	logger  arbor.ILogger
	client  *genai.Client
	timeout time.Duration
}

// convertMessagesToGemini converts []interfaces.Message to Gemini Content
// format. System messages are extracted separately for SystemInstruction; the
// first one wins.
func convertMessagesToGemini(messages []interfaces.Message) ([]*genai.Content, string, error) {
	if len(messages) == 0 {
		return nil, "", fmt.Errorf("messages cannot be empty")
	}

	hasUserMessage := false
	for _, msg := range messages {
		if msg.Role == "user" {
			hasUserMessage = true
			break
		}
	}
	if !hasUserMessage {
		return nil, "", fmt.Errorf("at least one message must have role 'user'")
	}

	contents := make([]*genai.Content, 0, len(messages))
	var systemText string
	for _, msg := range messages {
		if msg.Role == "system" {
			if systemText == "" {
				systemText = msg.Content
			}
			continue
		}

		var geminiRole string
		switch msg.Role {
		case "assistant":
			geminiRole = genai.RoleModel
		default:
			geminiRole = genai.RoleUser
		}

		part := genai.NewPartFromText(msg.Content)
		contents = append(contents, &genai.Content{
			Role:  geminiRole,
			Parts: []*genai.Part{part},
		})
	}

	return contents, systemText, nil
}

// NewGeminiService creates a new Gemini LLM service instance
func NewGeminiService(geminiConfig *common.GeminiConfig, logger arbor.ILogger) (*GeminiService, error) {
	if geminiConfig.APIKey == "" {
		return nil, fmt.Errorf("Google API key is required for Gemini service (set GEMINI_API_KEY or gemini.api_key in config)")
	}

	if geminiConfig.Model == "" {
		geminiConfig.Model = "gemini-2.0-flash"
	}

	timeout, err := time.ParseDuration(geminiConfig.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid timeout duration '%s': %w", geminiConfig.Timeout, err)
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  geminiConfig.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize genai client: %w", err)
	}

	service := &GeminiService{
		config:  geminiConfig,
		logger:  logger,
		client:  client,
		timeout: timeout,
	}

	logger.Debug().
		Str("model", geminiConfig.Model).
		Dur("timeout", timeout).
		Float32("temperature", geminiConfig.Temperature).
		Msg("Gemini LLM service initialized successfully")

	return service, nil
}

// buildRequest assembles the contents, model and config shared by blocking
// and streaming calls.
func (s *GeminiService) buildRequest(req *interfaces.GenerateRequest) ([]*genai.Content, string, *genai.GenerateContentConfig, error) {
	contents, systemText, err := convertMessagesToGemini(req.Messages)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to convert messages to Gemini format: %w", err)
	}

	model := req.Model
	if model == "" {
		model = s.config.Model
	}

	temperature := req.Temperature
	if temperature <= 0 {
		temperature = s.config.Temperature
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(temperature),
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.config.MaxTokens
	}
	if maxTokens > 0 {
		config.MaxOutputTokens = int32(maxTokens)
	}

	// A request-level system instruction overrides any system-role message
	if req.SystemInstruction != "" {
		systemText = req.SystemInstruction
	}
	if systemText != "" {
		config.SystemInstruction = genai.NewContentFromText(systemText, genai.RoleUser)
	}

	return contents, model, config, nil
}

// extractText collects the text parts of the first candidate that has any
func extractText(resp *genai.GenerateContentResponse) string {
	var text strings.Builder
	if resp != nil && len(resp.Candidates) > 0 {
		for _, candidate := range resp.Candidates {
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					text.WriteString(part.Text)
				}
			}
			if text.Len() > 0 {
				break
			}
		}
	}
	return text.String()
}

// Generate produces a completion in one blocking call
func (s *GeminiService) Generate(ctx context.Context, req *interfaces.GenerateRequest) (*interfaces.GenerateResult, error) {
	contents, model, config, err := s.buildRequest(req)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Str("model", model).
		Int("message_count", len(contents)).
		Msg("Starting Gemini completion")

	resp, err := s.client.Models.GenerateContent(timeoutCtx, model, contents, config)
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("model", model).
			Msg("Gemini completion failed")
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}

	text := extractText(resp)
	if text == "" {
		return nil, fmt.Errorf("no response generated from Gemini API")
	}

	result := &interfaces.GenerateResult{
		Text:  text,
		Model: model,
	}
	if resp.UsageMetadata != nil {
		result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	s.logger.Debug().
		Str("model", model).
		Int("response_length", len(result.Text)).
		Int("prompt_tokens", result.PromptTokens).
		Int("completion_tokens", result.CompletionTokens).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini completion completed successfully")

	return result, nil
}

// GenerateStream produces a completion while invoking onToken for each text
// chunk, then returns the accumulated text and token counts.
func (s *GeminiService) GenerateStream(ctx context.Context, req *interfaces.GenerateRequest, onToken interfaces.TokenHandler) (*interfaces.GenerateResult, error) {
	contents, model, config, err := s.buildRequest(req)
	if err != nil {
		return nil, err
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	startTime := time.Now()
	s.logger.Debug().
		Str("model", model).
		Int("message_count", len(contents)).
		Msg("Starting Gemini streamed completion")

	var text strings.Builder
	result := &interfaces.GenerateResult{Model: model}

	for resp, err := range s.client.Models.GenerateContentStream(timeoutCtx, model, contents, config) {
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("model", model).
				Msg("Gemini streamed completion failed")
			return nil, fmt.Errorf("Gemini streaming API call failed: %w", err)
		}

		chunk := extractText(resp)
		if chunk != "" {
			text.WriteString(chunk)
			if onToken != nil {
				onToken(chunk)
			}
		}

		// Usage arrives cumulatively; the last chunk carries the final tally
		if resp.UsageMetadata != nil {
			result.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
			result.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
	}

	if text.Len() == 0 {
		return nil, fmt.Errorf("no response generated from Gemini API")
	}
	result.Text = text.String()

	s.logger.Debug().
		Str("model", model).
		Int("response_length", len(result.Text)).
		Int("prompt_tokens", result.PromptTokens).
		Int("completion_tokens", result.CompletionTokens).
		Dur("duration", time.Since(startTime)).
		Msg("Gemini streamed completion completed successfully")

	return result, nil
}

// Close releases resources and performs cleanup operations
func (s *GeminiService) Close() error {
	s.logger.Debug().Msg("Closing Gemini LLM service")
	return nil
}
