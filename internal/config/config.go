package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm"`
	Index    IndexConfig    `mapstructure:"index"`
	Answer   AnswerConfig   `mapstructure:"answer"`
	Parsing  ParsingConfig  `mapstructure:"parsing"`
	Metadata MetadataConfig `mapstructure:"metadata"`
	Log      LogConfig      `mapstructure:"log"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Audit    AuditConfig    `mapstructure:"audit"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	EmbedModel  string  `mapstructure:"embed_model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	// Per-role overrides. Keys are call roles ("summary", "citation",
	// "answer"). Each override inherits unset fields from the
	// top-level LLM config.
	Roles map[string]LLMRoleOverride `mapstructure:"roles"`
}

// LLMRoleOverride allows per-role LLM provider configuration.
type LLMRoleOverride struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

// ResolveForRole returns an LLMConfig with role-specific overrides applied.
func (c LLMConfig) ResolveForRole(role string) LLMConfig {
	override, ok := c.Roles[role]
	if !ok {
		return c
	}
	resolved := c
	if override.Provider != "" {
		resolved.Provider = override.Provider
	}
	if override.Model != "" {
		resolved.Model = override.Model
	}
	if override.APIKey != "" {
		resolved.APIKey = override.APIKey
	}
	if override.BaseURL != "" {
		resolved.BaseURL = override.BaseURL
	}
	return resolved
}

// IndexConfig selects and configures the semantic index backend.
type IndexConfig struct {
	// Backend is "memory" (default) or "qdrant".
	Backend    string  `mapstructure:"backend"`
	Host       string  `mapstructure:"host"`
	Port       int     `mapstructure:"port"`
	Collection string  `mapstructure:"collection"`
	MMRLambda  float64 `mapstructure:"mmr_lambda"`
}

// AnswerConfig tunes evidence gathering and answer synthesis.
type AnswerConfig struct {
	EvidenceK       int     `mapstructure:"evidence_k"`
	MaxConcurrent   int     `mapstructure:"max_concurrent"`
	MaxSources      int     `mapstructure:"max_sources"`
	CutoffScore     float64 `mapstructure:"cutoff_score"`
	AnswerLength    string  `mapstructure:"answer_length"`
	SummaryLength   string  `mapstructure:"summary_length"`
	GroupByQuestion bool    `mapstructure:"group_by_question"`
}

// ParsingConfig tunes document chunking.
type ParsingConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
}

// MetadataConfig configures bibliographic enrichment.
type MetadataConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Mailto  string `mapstructure:"mailto"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuditConfig configures the NDJSON audit trail.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TracingConfig configures trace export.
type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	// Check for empty API key with active provider (skip "none" provider)
	if c.LLM.Provider != "" && c.LLM.Provider != "none" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}

	// Check temperature range [0, 2.0]
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}

	// Check for negative max_tokens
	if c.LLM.MaxTokens < 0 {
		warnings = append(warnings, fmt.Sprintf("LLM max_tokens %d is negative", c.LLM.MaxTokens))
	}

	if c.Index.Backend != "" && c.Index.Backend != "memory" && c.Index.Backend != "qdrant" {
		warnings = append(warnings, fmt.Sprintf("index backend '%s' is not recognized, expected memory or qdrant", c.Index.Backend))
	}

	if c.Index.MMRLambda < 0 || c.Index.MMRLambda > 1 {
		warnings = append(warnings, fmt.Sprintf("index mmr_lambda %.2f is outside range [0.0, 1.0]", c.Index.MMRLambda))
	}

	if c.Parsing.ChunkSize > 0 && c.Parsing.Overlap >= c.Parsing.ChunkSize {
		warnings = append(warnings, fmt.Sprintf("parsing overlap %d is not smaller than chunk_size %d", c.Parsing.Overlap, c.Parsing.ChunkSize))
	}

	return warnings
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("DOCTROVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
