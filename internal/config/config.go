package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8000

	DefaultEmbeddingProvider  = "api"
	DefaultEmbeddingModel     = "all-MiniLM-L6-v2"
	DefaultEmbeddingDimension = 384
	DefaultEmbeddingTimeoutMs = 30000
	DefaultEmbeddingBatchSize = 32
	DefaultEmbeddingWorkers   = 2

	DefaultRetrievalLimit       = 3
	DefaultRetrievalConcurrency = 3
	DefaultBlobBucket           = "ragfiles"

	DefaultLLMTimeoutMs   = 60000
	DefaultLLMTemperature = 0.7
	DefaultLLMMaxTokens   = 1024
	DefaultClaudeModel    = "claude-sonnet-4-5-20250929"

	DefaultHelpdeskTimeoutMs   = 30000
	DefaultZohoAccountsURL     = "https://accounts.zoho.in"
	DefaultZohoDeskURL         = "https://desk.zoho.in"
	DefaultZohoScopes          = "Desk.tickets.ALL,Desk.contacts.CREATE"
	DefaultZendeskURLTemplate  = "https://%s.zendesk.com"
	DefaultBackfillSchedule    = "0 */10 * * * *"
	DefaultBackfillBatchSize   = 20
	DefaultWidgetInactivity    = "5m"
	DefaultWidgetPlatform      = "zoho desk"
	DefaultMaxUploadBytes      = 10 * 1024 * 1024
	DefaultServerShutdownGrace = 10 * time.Second
)

// DefaultLanguages mirrors the language picker offered to widget users.
var DefaultLanguages = []string{
	"English", "Spanish", "French", "German", "Italian",
	"Portuguese", "Russian", "Chinese", "Japanese", "Korean",
}

type Config struct {
	Server    ServerConfig    `json:"server"`
	Data      DataConfig      `json:"data"`
	Embedding EmbeddingConfig `json:"embedding"`
	Retrieval RetrievalConfig `json:"retrieval"`
	LLM       LLMConfig       `json:"llm"`
	Helpdesk  HelpdeskConfig  `json:"helpdesk"`
	Agents    AgentsConfig    `json:"agents"`
	Backfill  BackfillConfig  `json:"backfill"`
	Widget    WidgetConfig    `json:"widget"`
	Languages []string        `json:"languages,omitempty"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type DataConfig struct {
	DBPath        string `json:"dbPath,omitempty"`
	BlobDir       string `json:"blobDir,omitempty"`
	Bucket        string `json:"bucket,omitempty"`
	PublicBaseURL string `json:"publicBaseUrl,omitempty"`
}

type EmbeddingConfig struct {
	Provider  string `json:"provider,omitempty"` // "api" (default) or "ollama"
	BaseURL   string `json:"baseUrl,omitempty"`
	APIKey    string `json:"apiKey,omitempty"`
	Model     string `json:"model,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
	Workers   int    `json:"workers,omitempty"`
}

type RetrievalConfig struct {
	Limit            int `json:"limit,omitempty"`
	FetchConcurrency int `json:"fetchConcurrency,omitempty"`
}

type LLMConfig struct {
	TimeoutMs   int                       `json:"timeoutMs,omitempty"`
	Temperature float64                   `json:"temperature,omitempty"`
	MaxTokens   int                       `json:"maxTokens,omitempty"`
	Providers   map[string]ProviderConfig `json:"providers,omitempty"`
}

// ProviderConfig overrides the built-in endpoint or model of one LLM provider.
type ProviderConfig struct {
	BaseURL string `json:"baseUrl,omitempty"`
	Model   string `json:"model,omitempty"`
}

type HelpdeskConfig struct {
	TimeoutMs          int    `json:"timeoutMs,omitempty"`
	ZohoAccountsURL    string `json:"zohoAccountsUrl,omitempty"`
	ZohoDeskURL        string `json:"zohoDeskUrl,omitempty"`
	ZohoScopes         string `json:"zohoScopes,omitempty"`
	ZendeskURLTemplate string `json:"zendeskUrlTemplate,omitempty"`
}

type AgentsConfig struct {
	CatalogPath string `json:"catalogPath,omitempty"`
}

type BackfillConfig struct {
	Enabled   bool   `json:"enabled"`
	Schedule  string `json:"schedule,omitempty"`
	BatchSize int    `json:"batchSize,omitempty"`
}

type WidgetConfig struct {
	Enabled           bool   `json:"enabled"`
	InactivityTimeout string `json:"inactivityTimeout,omitempty"`
	DefaultPlatform   string `json:"defaultPlatform,omitempty"`
}

// InactivityDuration parses InactivityTimeout, falling back to the default.
func (w WidgetConfig) InactivityDuration() time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(w.InactivityTimeout))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(DefaultWidgetInactivity)
	}
	return d
}

func DefaultConfig() *Config {
	dir := ConfigDir()
	return &Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Data: DataConfig{
			DBPath:  filepath.Join(dir, "data", "crewdesk.db"),
			BlobDir: filepath.Join(dir, "blobs"),
			Bucket:  DefaultBlobBucket,
		},
		Embedding: EmbeddingConfig{
			Provider:  DefaultEmbeddingProvider,
			Model:     DefaultEmbeddingModel,
			Dimension: DefaultEmbeddingDimension,
			TimeoutMs: DefaultEmbeddingTimeoutMs,
			BatchSize: DefaultEmbeddingBatchSize,
			Workers:   DefaultEmbeddingWorkers,
		},
		Retrieval: RetrievalConfig{
			Limit:            DefaultRetrievalLimit,
			FetchConcurrency: DefaultRetrievalConcurrency,
		},
		LLM: LLMConfig{
			TimeoutMs:   DefaultLLMTimeoutMs,
			Temperature: DefaultLLMTemperature,
			MaxTokens:   DefaultLLMMaxTokens,
		},
		Helpdesk: HelpdeskConfig{
			TimeoutMs:          DefaultHelpdeskTimeoutMs,
			ZohoAccountsURL:    DefaultZohoAccountsURL,
			ZohoDeskURL:        DefaultZohoDeskURL,
			ZohoScopes:         DefaultZohoScopes,
			ZendeskURLTemplate: DefaultZendeskURLTemplate,
		},
		Agents: AgentsConfig{
			CatalogPath: filepath.Join(dir, "agents.yaml"),
		},
		Backfill: BackfillConfig{
			Enabled:   true,
			Schedule:  DefaultBackfillSchedule,
			BatchSize: DefaultBackfillBatchSize,
		},
		Widget: WidgetConfig{
			Enabled:           true,
			InactivityTimeout: DefaultWidgetInactivity,
			DefaultPlatform:   DefaultWidgetPlatform,
		},
		Languages: append([]string(nil), DefaultLanguages...),
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".crewdesk")
}

// ConfigPath honours CREWDESK_CONFIG before the per-user default.
func ConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("CREWDESK_CONFIG")); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	// A missing .env is the normal case outside development.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if host := os.Getenv("CREWDESK_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("CREWDESK_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = parsed
		}
	}
	if dbPath := os.Getenv("CREWDESK_DB_PATH"); dbPath != "" {
		cfg.Data.DBPath = dbPath
	}
	if blobDir := os.Getenv("CREWDESK_BLOB_DIR"); blobDir != "" {
		cfg.Data.BlobDir = blobDir
	}
	if base := os.Getenv("CREWDESK_PUBLIC_BASE_URL"); base != "" {
		cfg.Data.PublicBaseURL = base
	}
	if provider := os.Getenv("CREWDESK_EMBEDDING_PROVIDER"); provider != "" {
		cfg.Embedding.Provider = provider
	}
	if url := os.Getenv("CREWDESK_EMBEDDING_BASE_URL"); url != "" {
		cfg.Embedding.BaseURL = url
	}
	if key := os.Getenv("CREWDESK_EMBEDDING_API_KEY"); key != "" {
		cfg.Embedding.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = key
	}
	if model := os.Getenv("CREWDESK_EMBEDDING_MODEL"); model != "" {
		cfg.Embedding.Model = model
	}
	if workers := os.Getenv("CREWDESK_EMBEDDING_WORKERS"); workers != "" {
		if parsed, err := strconv.Atoi(workers); err == nil {
			cfg.Embedding.Workers = parsed
		}
	}
	if catalog := os.Getenv("CREWDESK_AGENTS_PATH"); catalog != "" {
		cfg.Agents.CatalogPath = catalog
	}
	if enabled := os.Getenv("CREWDESK_BACKFILL_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Backfill.Enabled = parsed
		}
	}
	if enabled := os.Getenv("CREWDESK_WIDGET_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Widget.Enabled = parsed
		}
	}
	if url := os.Getenv("CREWDESK_ZOHO_ACCOUNTS_URL"); url != "" {
		cfg.Helpdesk.ZohoAccountsURL = url
	}
	if url := os.Getenv("CREWDESK_ZOHO_DESK_URL"); url != "" {
		cfg.Helpdesk.ZohoDeskURL = url
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()
	if cfg.Server.Host == "" {
		cfg.Server.Host = defaults.Server.Host
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if cfg.Data.DBPath == "" {
		cfg.Data.DBPath = defaults.Data.DBPath
	}
	if cfg.Data.BlobDir == "" {
		cfg.Data.BlobDir = defaults.Data.BlobDir
	}
	if cfg.Data.Bucket == "" {
		cfg.Data.Bucket = defaults.Data.Bucket
	}
	if cfg.Embedding.Workers <= 0 {
		cfg.Embedding.Workers = DefaultEmbeddingWorkers
	}
	if cfg.Retrieval.Limit <= 0 {
		cfg.Retrieval.Limit = DefaultRetrievalLimit
	}
	if cfg.Retrieval.FetchConcurrency <= 0 {
		cfg.Retrieval.FetchConcurrency = DefaultRetrievalConcurrency
	}
	if cfg.LLM.TimeoutMs <= 0 {
		cfg.LLM.TimeoutMs = DefaultLLMTimeoutMs
	}
	if cfg.LLM.Temperature <= 0 {
		cfg.LLM.Temperature = DefaultLLMTemperature
	}
	if cfg.Helpdesk.TimeoutMs <= 0 {
		cfg.Helpdesk.TimeoutMs = DefaultHelpdeskTimeoutMs
	}
	if cfg.Helpdesk.ZohoAccountsURL == "" {
		cfg.Helpdesk.ZohoAccountsURL = DefaultZohoAccountsURL
	}
	if cfg.Helpdesk.ZohoDeskURL == "" {
		cfg.Helpdesk.ZohoDeskURL = DefaultZohoDeskURL
	}
	if cfg.Helpdesk.ZohoScopes == "" {
		cfg.Helpdesk.ZohoScopes = DefaultZohoScopes
	}
	if cfg.Helpdesk.ZendeskURLTemplate == "" {
		cfg.Helpdesk.ZendeskURLTemplate = DefaultZendeskURLTemplate
	}
	if cfg.Agents.CatalogPath == "" {
		cfg.Agents.CatalogPath = defaults.Agents.CatalogPath
	}
	if cfg.Backfill.Schedule == "" {
		cfg.Backfill.Schedule = DefaultBackfillSchedule
	}
	if cfg.Backfill.BatchSize <= 0 {
		cfg.Backfill.BatchSize = DefaultBackfillBatchSize
	}
	if cfg.Widget.InactivityTimeout == "" {
		cfg.Widget.InactivityTimeout = DefaultWidgetInactivity
	}
	if cfg.Widget.DefaultPlatform == "" {
		cfg.Widget.DefaultPlatform = DefaultWidgetPlatform
	}
	if len(cfg.Languages) == 0 {
		cfg.Languages = append([]string(nil), DefaultLanguages...)
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	switch strings.ToLower(strings.TrimSpace(c.Embedding.Provider)) {
	case "", "api", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("embedding.provider must be api or ollama, got %q", c.Embedding.Provider))
	}
	if !strings.Contains(c.Helpdesk.ZendeskURLTemplate, "%s") {
		problems = append(problems, "helpdesk.zendeskUrlTemplate must contain %s for the subdomain")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}
