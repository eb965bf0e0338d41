package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models agora.yml.
type Config struct {
	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`
	Selection SelectionConfig `yaml:"selection" json:"selection"`
	Executor  ExecutorConfig  `yaml:"executor" json:"executor"`
	Generator GeneratorConfig `yaml:"generator" json:"generator"`
	Server    struct {
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type SchedulerConfig struct {
	MinIntervalMinutes int     `yaml:"min_interval_minutes" json:"min_interval_minutes"`
	MaxIntervalMinutes int     `yaml:"max_interval_minutes" json:"max_interval_minutes"`
	Jitter             float64 `yaml:"jitter" json:"jitter"`
	RecentWindow       int     `yaml:"recent_window" json:"recent_window"`
	MaxAgentsPerTick   int     `yaml:"max_agents_per_tick" json:"max_agents_per_tick"`
}

type SelectionConfig struct {
	Weights           map[string]float64 `yaml:"weights" json:"weights"`
	RepetitionPenalty float64            `yaml:"repetition_penalty" json:"repetition_penalty"`
	Fallback          string             `yaml:"fallback" json:"fallback"`
}

type ExecutorConfig struct {
	DefaultChannel    string  `yaml:"default_channel" json:"default_channel"`
	CommentCandidates int     `yaml:"comment_candidates" json:"comment_candidates"`
	VoteCandidates    int     `yaml:"vote_candidates" json:"vote_candidates"`
	UpvoteRatio       float64 `yaml:"upvote_ratio" json:"upvote_ratio"`
	PreviewLength     int     `yaml:"preview_length" json:"preview_length"`
	PostMaxLength     int     `yaml:"post_max_length" json:"post_max_length"`
	CommentMaxLength  int     `yaml:"comment_max_length" json:"comment_max_length"`
	Tone              string  `yaml:"tone" json:"tone"`
	Language          string  `yaml:"language" json:"language"`
	SkipOwnPosts      bool    `yaml:"skip_own_posts" json:"skip_own_posts"`
}

type GeneratorConfig struct {
	Kind      string `yaml:"kind" json:"kind"`
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
	TimeoutMS int    `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

type WebhookConfig struct {
	URL       string   `yaml:"url" json:"url"`
	Secret    string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events    []string `yaml:"events,omitempty" json:"events,omitempty"`
	Enabled   *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutMS int      `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with agora config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	s := c.Scheduler
	if s.MinIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler.min_interval_minutes must be positive")
	}
	if s.MaxIntervalMinutes < s.MinIntervalMinutes {
		return fmt.Errorf("scheduler.max_interval_minutes must be >= min_interval_minutes")
	}
	if s.Jitter < 0 || s.Jitter >= 1 {
		return fmt.Errorf("scheduler.jitter must be in [0,1)")
	}
	if s.RecentWindow < 2 {
		return fmt.Errorf("scheduler.recent_window must be at least 2")
	}
	if s.MaxAgentsPerTick < 0 {
		return fmt.Errorf("scheduler.max_agents_per_tick must not be negative")
	}
	for name := range c.Selection.Weights {
		switch name {
		case "post", "comment", "vote":
		default:
			return fmt.Errorf("selection.weights has unknown activity type %s", name)
		}
	}
	switch c.Selection.Fallback {
	case "post", "comment", "vote":
	default:
		return fmt.Errorf("selection.fallback must be one of post, comment, vote")
	}
	if c.Selection.RepetitionPenalty < 0 || c.Selection.RepetitionPenalty > 1 {
		return fmt.Errorf("selection.repetition_penalty must be in [0,1]")
	}
	e := c.Executor
	if e.DefaultChannel == "" {
		return fmt.Errorf("executor.default_channel is required")
	}
	if e.UpvoteRatio < 0 || e.UpvoteRatio > 1 {
		return fmt.Errorf("executor.upvote_ratio must be in [0,1]")
	}
	if e.CommentCandidates <= 0 || e.VoteCandidates <= 0 {
		return fmt.Errorf("executor candidate windows must be positive")
	}
	if e.PreviewLength <= 0 {
		return fmt.Errorf("executor.preview_length must be positive")
	}
	switch c.Generator.Kind {
	case "template":
	case "http":
		if c.Generator.Endpoint == "" {
			return fmt.Errorf("generator.endpoint is required for kind http")
		}
	default:
		return fmt.Errorf("generator.kind must be template or http")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "agora.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `scheduler:
  min_interval_minutes: 30
  max_interval_minutes: 180
  jitter: 0.3
  # repetition penalty compares the two most recent activities; minimum 2
  recent_window: 5
  max_agents_per_tick: 0

selection:
  weights:
    post: 0.3
    comment: 0.5
    vote: 0.2
  repetition_penalty: 0.3
  fallback: comment

executor:
  default_channel: general
  comment_candidates: 10
  vote_candidates: 20
  upvote_ratio: 0.8
  preview_length: 100
  post_max_length: 2000
  comment_max_length: 300
  tone: casual
  language: en
  skip_own_posts: true

generator:
  kind: template
  timeout_ms: 30000

server:
  base_path: /v0
`
