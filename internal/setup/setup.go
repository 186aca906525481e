package setup

import (
	"fmt"

	"github.com/lattice-docs/graphrag/internal/util"
	"github.com/lattice-docs/graphrag/pkg/ai"
	aiollama "github.com/lattice-docs/graphrag/pkg/ai/ollama"
	aiopenai "github.com/lattice-docs/graphrag/pkg/ai/openai"
	"github.com/lattice-docs/graphrag/pkg/logger"
	"github.com/lattice-docs/graphrag/pkg/logger/console"
)

const deepseekBaseURL = "https://api.deepseek.com"

// InitLogging installs the console backend on the global logger.
func InitLogging(debug bool) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug: debug || util.GetEnvBool("LOG_DEBUG", false),
		JSON:  util.GetEnvBool("LOG_JSON", false),
	}))
}

// NewAIClientFromEnv builds the model client selected by AI_ADAPTER:
// "openai" (default), "deepseek" (OpenAI-compatible endpoint), or
// "ollama". Model names and endpoints come from AI_* variables.
func NewAIClientFromEnv() (ai.GraphAIClient, error) {
	adapter := util.GetEnvString("AI_ADAPTER", "openai")

	switch adapter {
	case "ollama":
		return aiollama.NewGraphOllamaClient(aiollama.NewGraphOllamaClientParams{
			EmbeddingModel:  util.GetEnvString("AI_EMBED_MODEL", "nomic-embed-text"),
			ChatModel:       util.GetEnvString("AI_CHAT_MODEL", "qwen2.5:7b"),
			ExtractionModel: util.GetEnvString("AI_EXTRACT_MODEL", "qwen2.5:7b"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvInt("AI_MAX_CONCURRENT", 2)),
		})
	case "deepseek":
		key := util.FirstEnv("DEEPSEEK_API_KEY", "AI_CHAT_KEY")
		if key == "" {
			return nil, fmt.Errorf("adapter %q requires DEEPSEEK_API_KEY", adapter)
		}
		return aiopenai.NewGraphOpenAIClient(aiopenai.NewGraphOpenAIClientParams{
			EmbeddingModel:  util.GetEnvString("AI_EMBED_MODEL", "text-embedding-3-small"),
			ChatModel:       util.GetEnvString("AI_CHAT_MODEL", "deepseek-chat"),
			ExtractionModel: util.GetEnvString("AI_EXTRACT_MODEL", "deepseek-chat"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.FirstEnv("AI_EMBED_KEY", "OPENAI_API_KEY"),
			ChatURL:      util.GetEnvString("AI_CHAT_URL", deepseekBaseURL),
			ChatKey:      key,
		}), nil
	case "openai":
		return aiopenai.NewGraphOpenAIClient(aiopenai.NewGraphOpenAIClientParams{
			EmbeddingModel:  util.GetEnvString("AI_EMBED_MODEL", "text-embedding-3-small"),
			ChatModel:       util.GetEnvString("AI_CHAT_MODEL", "gpt-4o-mini"),
			ExtractionModel: util.GetEnvString("AI_EXTRACT_MODEL", "gpt-4o-mini"),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.FirstEnv("AI_EMBED_KEY", "OPENAI_API_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.FirstEnv("AI_CHAT_KEY", "OPENAI_API_KEY"),
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}
