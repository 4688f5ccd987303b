package main

import (
	"log"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	PaperlessURL   string `yaml:"paperless_url"`
	PaperlessToken string `yaml:"paperless_token"`

	LLMProvider     string `yaml:"llm_provider"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GatekeeperModel string `yaml:"gatekeeper_model"`
	SpecialistModel string `yaml:"specialist_model"`
	VisionModel     string `yaml:"vision_model"`
	LLMMaxTokens    int    `yaml:"llm_max_tokens"`

	DBPath        string `yaml:"db_path"`
	TemplatesPath string `yaml:"templates_path"`

	MaxContentChars int     `yaml:"max_content_chars"`
	MaxConcurrent   int     `yaml:"max_concurrent"`
	OCRMinChars     int     `yaml:"ocr_min_chars"`
	OCRMinAlnum     float64 `yaml:"ocr_min_alnum_ratio"`

	InboxTag     string `yaml:"inbox_tag"`
	ProcessedTag string `yaml:"processed_tag"`
	ReviewTag    string `yaml:"review_tag"`
	ApprovedTag  string `yaml:"approved_tag"`
	RejectedTag  string `yaml:"rejected_tag"`

	WatchSchedule string `yaml:"watch_schedule"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.PaperlessURL, "PAPERLESS_URL")
	envOverride(&cfg.PaperlessToken, "PAPERLESS_TOKEN")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GatekeeperModel, "GATEKEEPER_MODEL")
	envOverride(&cfg.SpecialistModel, "SPECIALIST_MODEL")
	envOverride(&cfg.VisionModel, "VISION_MODEL")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.TemplatesPath, "TEMPLATES_PATH")
	envOverrideInt(&cfg.MaxContentChars, "MAX_CONTENT_CHARS")
	envOverrideInt(&cfg.MaxConcurrent, "MAX_CONCURRENT")
	envOverrideInt(&cfg.OCRMinChars, "OCR_MIN_CHARS")
	envOverrideFloat(&cfg.OCRMinAlnum, "OCR_MIN_ALNUM_RATIO")
	envOverride(&cfg.InboxTag, "INBOX_TAG")
	envOverride(&cfg.ProcessedTag, "PROCESSED_TAG")
	envOverride(&cfg.ReviewTag, "REVIEW_TAG")
	envOverride(&cfg.ApprovedTag, "APPROVED_TAG")
	envOverride(&cfg.RejectedTag, "REJECTED_TAG")
	envOverride(&cfg.WatchSchedule, "WATCH_SCHEDULE")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")

	// Defaults
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.GatekeeperModel == "" {
		if cfg.LLMProvider == "openai" {
			cfg.GatekeeperModel = defaultOpenAIGatekeeperModel
		} else {
			cfg.GatekeeperModel = defaultGatekeeperModel
		}
	}
	if cfg.SpecialistModel == "" {
		if cfg.LLMProvider == "openai" {
			cfg.SpecialistModel = defaultOpenAISpecialistModel
		} else {
			cfg.SpecialistModel = defaultSpecialistModel
		}
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.SpecialistModel
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 1024
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./docsqueeze.db"
	}
	if cfg.TemplatesPath == "" {
		cfg.TemplatesPath = "templates.yaml"
	}
	if cfg.MaxContentChars == 0 {
		cfg.MaxContentChars = 25000
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 3
	}
	if cfg.OCRMinChars == 0 {
		cfg.OCRMinChars = 200
	}
	if cfg.OCRMinAlnum == 0 {
		cfg.OCRMinAlnum = 0.5
	}
	if cfg.InboxTag == "" {
		cfg.InboxTag = "inbox"
	}
	if cfg.ProcessedTag == "" {
		cfg.ProcessedTag = "ai-processed"
	}
	if cfg.ReviewTag == "" {
		cfg.ReviewTag = "ai-review-needed"
	}
	if cfg.ApprovedTag == "" {
		cfg.ApprovedTag = "ai-approved"
	}
	if cfg.RejectedTag == "" {
		cfg.RejectedTag = "ai-rejected"
	}

	cfg.PaperlessURL = strings.TrimRight(cfg.PaperlessURL, "/")

	// Validate required fields
	required := map[string]string{
		"paperless_url":   cfg.PaperlessURL,
		"paperless_token": cfg.PaperlessToken,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if cfg.MaxConcurrent < 1 {
		log.Fatalf("invalid max_concurrent '%d': must be >= 1", cfg.MaxConcurrent)
	}
	if cfg.OCRMinAlnum < 0 || cfg.OCRMinAlnum > 1 {
		log.Fatalf("invalid ocr_min_alnum_ratio '%f': must be between 0 and 1", cfg.OCRMinAlnum)
	}
	if cfg.MaxContentChars < 1000 {
		log.Fatalf("invalid max_content_chars '%d': must be >= 1000", cfg.MaxContentChars)
	}

	return cfg
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}
