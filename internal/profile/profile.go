package profile

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the configuration to start the advisor server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for the HTTP server
	Addr string
	// Port is the binding port for the HTTP server
	Port int
	// DSN points to the sqlite database holding durable session state
	DSN string
	// Version is the current version of the server
	Version string

	// LLM configuration
	LLMAPIKey  string // ADVISOR_LLM_API_KEY
	LLMBaseURL string // ADVISOR_LLM_BASE_URL (default: https://api.openai.com/v1)
	LLMModel   string // ADVISOR_LLM_MODEL (default: gpt-4o-mini)

	// OICommand is the open-interest RPC server executable.
	OICommand string // ADVISOR_OI_COMMAND
	// MarketDataCommand is the market-data RPC server executable.
	MarketDataCommand string // ADVISOR_MARKET_DATA_COMMAND

	// Conversation tuning
	SessionTTL       time.Duration // ADVISOR_SESSION_TTL (default: 1h)
	ToolPoolSize     int           // ADVISOR_TOOL_POOL_SIZE (default: 10)
	ToolCallTimeout  time.Duration // ADVISOR_TOOL_CALL_TIMEOUT (default: 30s)
	ToolBatchTimeout time.Duration // ADVISOR_TOOL_BATCH_TIMEOUT (default: 2m)
	MaxToolRounds    int           // ADVISOR_MAX_TOOL_ROUNDS (default: 5)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMConfigured reports whether a model endpoint can be reached.
func (p *Profile) IsLLMConfigured() bool {
	return p.LLMAPIKey != "" || p.LLMBaseURL != ""
}

// ListenAddr returns the host:port the HTTP server binds to.
func (p *Profile) ListenAddr() string {
	return fmt.Sprintf("%s:%d", p.Addr, p.Port)
}

// FromEnv loads configuration from ADVISOR_* environment variables.
func FromEnv(version string) (*Profile, error) {
	v := viper.New()
	v.SetEnvPrefix("advisor")
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("addr", "")
	v.SetDefault("port", 8090)
	v.SetDefault("dsn", "advisor.db")
	v.SetDefault("llm_base_url", "https://api.openai.com/v1")
	v.SetDefault("llm_model", "gpt-4o-mini")
	v.SetDefault("session_ttl", time.Hour)
	v.SetDefault("tool_pool_size", 10)
	v.SetDefault("tool_call_timeout", 30*time.Second)
	v.SetDefault("tool_batch_timeout", 2*time.Minute)
	v.SetDefault("max_tool_rounds", 5)

	profile := &Profile{
		Mode:              v.GetString("mode"),
		Addr:              v.GetString("addr"),
		Port:              v.GetInt("port"),
		DSN:               v.GetString("dsn"),
		Version:           version,
		LLMAPIKey:         v.GetString("llm_api_key"),
		LLMBaseURL:        v.GetString("llm_base_url"),
		LLMModel:          v.GetString("llm_model"),
		OICommand:         v.GetString("oi_command"),
		MarketDataCommand: v.GetString("market_data_command"),
		SessionTTL:        v.GetDuration("session_ttl"),
		ToolPoolSize:      v.GetInt("tool_pool_size"),
		ToolCallTimeout:   v.GetDuration("tool_call_timeout"),
		ToolBatchTimeout:  v.GetDuration("tool_batch_timeout"),
		MaxToolRounds:     v.GetInt("max_tool_rounds"),
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Validate checks the profile for nonsensical values.
func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}
	if p.DSN == "" {
		return errors.New("dsn is required")
	}
	if p.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if p.ToolPoolSize <= 0 {
		return errors.New("tool pool size must be positive")
	}
	if p.ToolCallTimeout <= 0 {
		return errors.New("tool call timeout must be positive")
	}
	if p.MaxToolRounds <= 0 {
		return errors.New("max tool rounds must be positive")
	}
	return nil
}
