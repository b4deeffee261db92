package llm

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/radekstepan/therascript-sub007/internal/common"
	"github.com/radekstepan/therascript-sub007/internal/interfaces"
)

// ProviderType represents the AI provider type
type ProviderType string

const (
	// ProviderClaude uses Anthropic Claude API
	ProviderClaude ProviderType = "claude"
	// ProviderGemini uses Google Gemini API
	ProviderGemini ProviderType = "gemini"
)

// Factory creates and caches LLM services per provider and routes model
// names to the right one.
type Factory struct {
	claudeConfig *common.ClaudeConfig
	geminiConfig *common.GeminiConfig
	llmConfig    *common.LLMConfig
	logger       arbor.ILogger

	mu     sync.Mutex
	claude *ClaudeService
	gemini *GeminiService
}

// NewFactory creates a new provider factory
func NewFactory(
	claudeConfig *common.ClaudeConfig,
	geminiConfig *common.GeminiConfig,
	llmConfig *common.LLMConfig,
	logger arbor.ILogger,
) *Factory {
	return &Factory{
		claudeConfig: claudeConfig,
		geminiConfig: geminiConfig,
		llmConfig:    llmConfig,
		logger:       logger,
	}
}

// DetectProvider determines the provider type from a model string.
// Model strings can be:
//   - "claude-sonnet-4-20250514" -> Claude
//   - "claude/claude-sonnet-4-20250514" -> Claude (with prefix)
//   - "gemini-2.0-flash" -> Gemini
//   - Empty string -> uses default provider from config
func (f *Factory) DetectProvider(model string) ProviderType {
	if model == "" {
		return ProviderType(f.llmConfig.DefaultProvider)
	}

	model = strings.ToLower(model)

	if strings.HasPrefix(model, "claude/") || strings.HasPrefix(model, "anthropic/") {
		return ProviderClaude
	}
	if strings.HasPrefix(model, "gemini/") || strings.HasPrefix(model, "google/") {
		return ProviderGemini
	}

	if strings.HasPrefix(model, "claude-") {
		return ProviderClaude
	}
	if strings.HasPrefix(model, "gemini-") {
		return ProviderGemini
	}

	return ProviderType(f.llmConfig.DefaultProvider)
}

// NormalizeModel removes the provider prefix from a model name if present
func (f *Factory) NormalizeModel(model string) string {
	prefixes := []string{"claude/", "anthropic/", "gemini/", "google/"}
	for _, prefix := range prefixes {
		if strings.HasPrefix(strings.ToLower(model), prefix) {
			return model[len(prefix):]
		}
	}
	return model
}

// ServiceFor resolves a model name (possibly empty) to an LLM service and the
// concrete model to request from it.
func (f *Factory) ServiceFor(model string) (interfaces.LLMService, string, error) {
	if model == "" {
		model = f.llmConfig.DefaultModel
	}

	provider := f.DetectProvider(model)
	resolved := f.NormalizeModel(model)

	f.mu.Lock()
	defer f.mu.Unlock()

	switch provider {
	case ProviderClaude:
		if f.claude == nil {
			service, err := NewClaudeService(f.claudeConfig, f.logger)
			if err != nil {
				return nil, "", fmt.Errorf("failed to initialize Claude service: %w", err)
			}
			f.claude = service
		}
		if resolved == "" {
			resolved = f.claudeConfig.Model
		}
		return f.claude, resolved, nil

	case ProviderGemini:
		if f.gemini == nil {
			service, err := NewGeminiService(f.geminiConfig, f.logger)
			if err != nil {
				return nil, "", fmt.Errorf("failed to initialize Gemini service: %w", err)
			}
			f.gemini = service
		}
		if resolved == "" {
			resolved = f.geminiConfig.Model
		}
		return f.gemini, resolved, nil

	default:
		return nil, "", fmt.Errorf("unknown LLM provider: %s", provider)
	}
}

// Close releases all cached provider clients
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.claude != nil {
		f.claude.Close()
		f.claude = nil
	}
	if f.gemini != nil {
		f.gemini.Close()
		f.gemini = nil
	}
	return nil
}
