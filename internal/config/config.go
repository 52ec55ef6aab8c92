// Package config loads vyuha configuration. Sources are applied lowest to
// highest priority: built-in defaults, a YAML file, VYUHA_* environment
// variables. Command-line flags are applied on top by cmd/vyuha.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/vyuha/vyuha-explorer/internal/ai"
	"github.com/vyuha/vyuha-explorer/internal/client"
	"github.com/vyuha/vyuha-explorer/internal/expand"
	"github.com/vyuha/vyuha-explorer/internal/layout"
	"github.com/vyuha/vyuha-explorer/internal/query"
	"github.com/vyuha/vyuha-explorer/internal/session"
)

// ============================================================================
// CONFIGURATION TYPES
// ============================================================================

// Config is the complete application configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level" validate:"oneof=debug info warn error"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	AI        AIConfig        `yaml:"ai"`
	Expansion ExpansionConfig `yaml:"expansion"`
	Layout    LayoutConfig    `yaml:"layout"`
	Sessions  SessionsConfig  `yaml:"sessions"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gte=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" validate:"gte=0"`

	// ExpandRate and ExpandBurst bound POST /graph/expand per server.
	ExpandRate  float64 `yaml:"expand_rate" validate:"gt=0"`
	ExpandBurst int     `yaml:"expand_burst" validate:"gte=1"`

	CORSOrigins []string `yaml:"cors_origins"`
}

// StorageConfig locates the entity store.
type StorageConfig struct {
	DBPath string `yaml:"db_path" validate:"required"`
}

// AIConfig selects the embedding provider. An empty provider disables
// embedding generation; stored vectors remain usable for semantic expansion.
type AIConfig struct {
	Provider       string `yaml:"provider" validate:"omitempty,oneof=bedrock ollama"`
	Region         string `yaml:"region" validate:"required_if=Provider bedrock"`
	EmbeddingModel string `yaml:"embedding_model"`
	Dimensions     int    `yaml:"dimensions" validate:"gte=0"`
	OllamaURL      string `yaml:"ollama_url" validate:"omitempty,url"`
}

// Enabled reports whether a provider is configured.
func (c AIConfig) Enabled() bool { return c.Provider != "" }

// ProviderConfig converts the section for ai.NewEmbedder.
func (c AIConfig) ProviderConfig() ai.ProviderConfig {
	return ai.ProviderConfig{
		Kind:           ai.ProviderKind(c.Provider),
		Region:         c.Region,
		EmbeddingModel: c.EmbeddingModel,
		Dimensions:     c.Dimensions,
		OllamaURL:      c.OllamaURL,
	}
}

// ExpansionConfig bounds neighbourhood requests, both served and issued.
type ExpansionConfig struct {
	DefaultLimit int     `yaml:"default_limit" validate:"gte=1,lte=500"`
	MaxLimit     int     `yaml:"max_limit" validate:"gtefield=DefaultLimit,lte=500"`
	SemanticTopK int     `yaml:"semantic_top_k" validate:"gte=1,lte=100"`
	MinScore     float64 `yaml:"min_score" validate:"gte=-1,lte=1"`

	// Semantic is the default for session expansions.
	Semantic bool `yaml:"semantic"`

	// UpstreamURL, when set, makes sessions fetch from a remote server
	// instead of the local store.
	UpstreamURL        string        `yaml:"upstream_url" validate:"omitempty,url"`
	Timeout            time.Duration `yaml:"timeout" validate:"gte=0"`
	BreakerThreshold   uint32        `yaml:"breaker_threshold"`
	BreakerOpenTimeout time.Duration `yaml:"breaker_open_timeout" validate:"gte=0"`
}

// QueryConfig converts the section for query.NewExpander.
func (c ExpansionConfig) QueryConfig() query.Config {
	return query.Config{
		DefaultLimit: c.DefaultLimit,
		MaxLimit:     c.MaxLimit,
		SemanticTopK: c.SemanticTopK,
		MinScore:     c.MinScore,
	}
}

// ClientConfig converts the section for client.New.
func (c ExpansionConfig) ClientConfig() client.Config {
	return client.Config{
		BaseURL:          c.UpstreamURL,
		Timeout:          c.Timeout,
		FailureThreshold: c.BreakerThreshold,
		OpenTimeout:      c.BreakerOpenTimeout,
	}
}

// LayoutConfig holds the default layout of new sessions.
type LayoutConfig struct {
	Mode             string         `yaml:"mode" validate:"layoutmode"`
	RelayoutOnExpand bool           `yaml:"relayout_on_expand"`
	Options          layout.Options `yaml:",inline"`
}

// SessionsConfig controls session eviction.
type SessionsConfig struct {
	IdleTTL       time.Duration `yaml:"idle_ttl" validate:"gte=0"`
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"gte=0"`
}

// SessionConfig assembles the defaults every session starts with.
func (c *Config) SessionConfig() (session.Config, error) {
	kind, err := layout.ParseKind(c.Layout.Mode)
	if err != nil {
		return session.Config{}, err
	}
	return session.Config{
		Layout:           kind,
		LayoutOptions:    c.Layout.Options,
		RelayoutOnExpand: c.Layout.RelayoutOnExpand,
		Expand: expand.Options{
			IncludeSemantic: c.Expansion.Semantic,
			Limit:           c.Expansion.DefaultLimit,
		},
		IdleTTL:       c.Sessions.IdleTTL,
		SweepInterval: c.Sessions.SweepInterval,
	}, nil
}

// ============================================================================
// DEFAULTS
// ============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	q := query.DefaultConfig()
	cl := client.DefaultConfig()
	s := session.DefaultConfig()
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			ExpandRate:   20,
			ExpandBurst:  40,
			CORSOrigins:  []string{"http://localhost:5173"},
		},
		Storage: StorageConfig{DBPath: "./vyuha.db"},
		AI: AIConfig{
			Region:    "us-east-1",
			OllamaURL: "http://localhost:11434",
		},
		Expansion: ExpansionConfig{
			DefaultLimit:       q.DefaultLimit,
			MaxLimit:           q.MaxLimit,
			SemanticTopK:       q.SemanticTopK,
			MinScore:           q.MinScore,
			Timeout:            cl.Timeout,
			BreakerThreshold:   cl.FailureThreshold,
			BreakerOpenTimeout: cl.OpenTimeout,
		},
		Layout: LayoutConfig{
			Mode:    s.Layout.String(),
			Options: layout.DefaultOptions(),
		},
		Sessions: SessionsConfig{
			IdleTTL:       s.IdleTTL,
			SweepInterval: s.SweepInterval,
		},
	}
}

// ============================================================================
// LOADING
// ============================================================================

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the process environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %s: %w", path, err)
		}
		defer f.Close()
		if err := cfg.decodeYAML(f); err != nil {
			return nil, fmt.Errorf("config: %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays r onto cfg. Unknown keys are an error so typos do not
// silently fall back to defaults.
func (c *Config) decodeYAML(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv overrides fields from VYUHA_* variables. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("VYUHA_LOG_LEVEL", &c.LogLevel)
	str("VYUHA_ADDR", &c.Server.Addr)
	if v, ok := lookup("VYUHA_PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			errs = append(errs, fmt.Errorf("VYUHA_PORT: %w", err))
		} else {
			c.Server.Addr = ":" + v
		}
	}
	str("VYUHA_DB_PATH", &c.Storage.DBPath)
	str("VYUHA_AI_PROVIDER", &c.AI.Provider)
	str("VYUHA_AI_REGION", &c.AI.Region)
	str("VYUHA_AI_EMBED_MODEL", &c.AI.EmbeddingModel)
	str("VYUHA_OLLAMA_URL", &c.AI.OllamaURL)
	str("VYUHA_UPSTREAM_URL", &c.Expansion.UpstreamURL)
	integer("VYUHA_EXPAND_LIMIT", &c.Expansion.DefaultLimit)
	boolean("VYUHA_EXPAND_SEMANTIC", &c.Expansion.Semantic)
	str("VYUHA_LAYOUT", &c.Layout.Mode)
	boolean("VYUHA_RELAYOUT_ON_EXPAND", &c.Layout.RelayoutOnExpand)
	duration("VYUHA_SESSION_TTL", &c.Sessions.IdleTTL)

	if len(errs) > 0 {
		return fmt.Errorf("config: environment: %w", errors.Join(errs...))
	}
	return nil
}

// ============================================================================
// VALIDATION
// ============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report yaml key names in error messages.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("layoutmode", func(fl validator.FieldLevel) bool {
		_, err := layout.ParseKind(fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validate: %w", err)
	}
	msgs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Errorf("%s: failed %q (value %v)", fieldPath(fe), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("config: invalid: %w", errors.Join(msgs...))
}

// fieldPath drops the root struct name: "Config.server.addr" → "server.addr".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
