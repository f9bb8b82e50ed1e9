package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/ifuryst/murmur/pkg/logger"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Logger    logger.Config   `yaml:"logger"`
	Queue     QueueConfig     `yaml:"queue"`
	Approval  ApprovalConfig  `yaml:"approval"`
	Generator GeneratorConfig `yaml:"generator"`
	Image     ImageConfig     `yaml:"image"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Publisher PublisherConfig `yaml:"publisher"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	APIKey   string `yaml:"api_key"`
	// PublicBaseURL is used to build approval links sent to reviewers.
	PublicBaseURL string `yaml:"public_base_url"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// DSN is the key/value form used by the gorm postgres driver.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=%s",
		d.Host, d.Username, d.Password, d.Database, d.Port, d.SSLMode, d.TimeZone)
}

// URL is the form expected by golang-migrate.
func (d DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.Username, d.Password, d.Host, d.Port, d.Database, d.SSLMode)
}

// RetryPolicyConfig mirrors queue.RetryPolicy in config form.
type RetryPolicyConfig struct {
	Attempts int    `yaml:"attempts"`
	Backoff  string `yaml:"backoff"` // exponential | fixed
	Delay    string `yaml:"delay"`
}

func (r RetryPolicyConfig) DelayDuration() time.Duration {
	return parseDuration(r.Delay, 5*time.Second)
}

type QueueConfig struct {
	PollInterval string                       `yaml:"poll_interval"`
	Lease        string                       `yaml:"lease"`
	Concurrency  int                          `yaml:"concurrency"`
	Stages       map[string]RetryPolicyConfig `yaml:"stages"`
}

func (q QueueConfig) PollIntervalDuration() time.Duration {
	return parseDuration(q.PollInterval, time.Second)
}

func (q QueueConfig) LeaseDuration() time.Duration {
	return parseDuration(q.Lease, 5*time.Minute)
}

type ApprovalConfig struct {
	Timeout string `yaml:"timeout"`
}

func (a ApprovalConfig) TimeoutDuration() time.Duration {
	return parseDuration(a.Timeout, 45*time.Minute)
}

type GeneratorConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

func (g GeneratorConfig) TimeoutDuration() time.Duration {
	return parseDuration(g.Timeout, 60*time.Second)
}

type ImageConfig struct {
	BaseURL string `yaml:"base_url"`
	Width   int    `yaml:"width"`
	Height  int    `yaml:"height"`
	// Verify issues a GET so the image is rendered before approval.
	Verify  bool   `yaml:"verify"`
	Timeout string `yaml:"timeout"`
}

func (i ImageConfig) TimeoutDuration() time.Duration {
	return parseDuration(i.Timeout, 60*time.Second)
}

type NotifierConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Email    EmailConfig    `yaml:"email"`
}

// EmailConfig is the SMTP relay used to mail approval requests.
type EmailConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
	// TLS is one of mandatory, opportunistic, ssl or none.
	TLS     string `yaml:"tls"`
	Timeout string `yaml:"timeout"`
}

func (e EmailConfig) TimeoutDuration() time.Duration {
	return parseDuration(e.Timeout, 15*time.Second)
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	BaseURL  string `yaml:"base_url"`
}

type PublisherConfig struct {
	Twitter   TwitterConfig   `yaml:"twitter"`
	Instagram InstagramConfig `yaml:"instagram"`
	Facebook  FacebookConfig  `yaml:"facebook"`
	LinkedIn  LinkedInConfig  `yaml:"linkedin"`
	Threads   ThreadsConfig   `yaml:"threads"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
	Timeout   string          `yaml:"timeout"`
}

func (p PublisherConfig) TimeoutDuration() time.Duration {
	return parseDuration(p.Timeout, 30*time.Second)
}

type TwitterConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	BearerToken string `yaml:"bearer_token"`
}

type InstagramConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	AccountID    string `yaml:"account_id"`
	AccessToken  string `yaml:"access_token"`
	PollInterval string `yaml:"poll_interval"`
	MaxPolls     int    `yaml:"max_polls"`
}

func (i InstagramConfig) PollIntervalDuration() time.Duration {
	return parseDuration(i.PollInterval, 2*time.Second)
}

type FacebookConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	PageID      string `yaml:"page_id"`
	AccessToken string `yaml:"access_token"`
}

type LinkedInConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
}

type ThreadsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	BaseURL      string `yaml:"base_url"`
	UserID       string `yaml:"user_id"`
	AccessToken  string `yaml:"access_token"`
	PollInterval string `yaml:"poll_interval"`
	MaxPolls     int    `yaml:"max_polls"`
}

func (t ThreadsConfig) PollIntervalDuration() time.Duration {
	return parseDuration(t.PollInterval, 2*time.Second)
}

type YouTubeConfig struct {
	Enabled     bool   `yaml:"enabled"`
	BaseURL     string `yaml:"base_url"`
	AccessToken string `yaml:"access_token"`
}

type SchedulerConfig struct {
	ReconcileInterval string `yaml:"reconcile_interval"`
	// StaleAfter is how long a hand-off may look unfinished before the sweep resumes it.
	StaleAfter string `yaml:"stale_after"`
	// PublishInterval is how often scheduled contents are checked for being due.
	PublishInterval string `yaml:"publish_interval"`
	StatsInterval   string `yaml:"stats_interval"`
	RetentionDays   int    `yaml:"retention_days"`
	Enabled         bool   `yaml:"enabled"`
}

func (s SchedulerConfig) ReconcileIntervalDuration() time.Duration {
	return parseDuration(s.ReconcileInterval, 5*time.Minute)
}

func (s SchedulerConfig) StaleAfterDuration() time.Duration {
	return parseDuration(s.StaleAfter, 10*time.Minute)
}

func (s SchedulerConfig) PublishIntervalDuration() time.Duration {
	return parseDuration(s.PublishInterval, time.Minute)
}

func (s SchedulerConfig) StatsIntervalDuration() time.Duration {
	return parseDuration(s.StatsInterval, 15*time.Minute)
}

// Stage names as used in the queue section.
const (
	StageContentGeneration = "content-generation"
	StageImageGeneration   = "image-generation"
	StageApprovalDispatch  = "approval-dispatch"
	StagePublishing        = "publishing"
)

func defaultStagePolicies() map[string]RetryPolicyConfig {
	return map[string]RetryPolicyConfig{
		StageContentGeneration: {Attempts: 3, Backoff: "exponential", Delay: "5s"},
		StageImageGeneration:   {Attempts: 3, Backoff: "exponential", Delay: "5s"},
		StageApprovalDispatch:  {Attempts: 3, Backoff: "exponential", Delay: "5s"},
		StagePublishing:        {Attempts: 3, Backoff: "exponential", Delay: "10s"},
	}
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns a config with every default applied and nothing loaded.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5334
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Server.PublicBaseURL == "" {
		cfg.Server.PublicBaseURL = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "postgres"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Queue.Concurrency <= 0 {
		cfg.Queue.Concurrency = 2
	}

	// Stage policies: fill missing stages and missing fields
	defaults := defaultStagePolicies()
	if cfg.Queue.Stages == nil {
		cfg.Queue.Stages = make(map[string]RetryPolicyConfig)
	}
	for stage, def := range defaults {
		p := cfg.Queue.Stages[stage]
		if p.Attempts <= 0 {
			p.Attempts = def.Attempts
		}
		if p.Backoff == "" {
			p.Backoff = def.Backoff
		}
		if p.Delay == "" {
			p.Delay = def.Delay
		}
		cfg.Queue.Stages[stage] = p
	}

	if cfg.Approval.Timeout == "" {
		cfg.Approval.Timeout = "45m"
	}
	if cfg.Generator.BaseURL == "" {
		cfg.Generator.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Generator.Model == "" {
		cfg.Generator.Model = "gpt-4o-mini"
	}
	if cfg.Generator.Temperature == 0 {
		cfg.Generator.Temperature = 0.7
	}
	if cfg.Image.BaseURL == "" {
		cfg.Image.BaseURL = "https://image.pollinations.ai"
	}
	if cfg.Image.Width == 0 {
		cfg.Image.Width = 1024
	}
	if cfg.Image.Height == 0 {
		cfg.Image.Height = 1024
	}
	if cfg.Notifier.Telegram.BaseURL == "" {
		cfg.Notifier.Telegram.BaseURL = "https://api.telegram.org"
	}
	if cfg.Notifier.Email.Port == 0 {
		cfg.Notifier.Email.Port = 587
	}
	if cfg.Notifier.Email.TLS == "" {
		cfg.Notifier.Email.TLS = "mandatory"
	}
	if cfg.Publisher.Twitter.BaseURL == "" {
		cfg.Publisher.Twitter.BaseURL = "https://api.twitter.com/2"
	}
	if cfg.Publisher.Instagram.BaseURL == "" {
		cfg.Publisher.Instagram.BaseURL = "https://graph.facebook.com/v18.0"
	}
	if cfg.Publisher.Instagram.MaxPolls == 0 {
		cfg.Publisher.Instagram.MaxPolls = 10
	}
	if cfg.Publisher.Instagram.PollInterval == "" {
		cfg.Publisher.Instagram.PollInterval = "2s"
	}
	if cfg.Publisher.Facebook.BaseURL == "" {
		cfg.Publisher.Facebook.BaseURL = "https://graph.facebook.com/v18.0"
	}
	if cfg.Publisher.LinkedIn.BaseURL == "" {
		cfg.Publisher.LinkedIn.BaseURL = "https://api.linkedin.com/v2"
	}
	if cfg.Publisher.Threads.BaseURL == "" {
		cfg.Publisher.Threads.BaseURL = "https://graph.threads.net/v1.0"
	}
	if cfg.Publisher.Threads.MaxPolls == 0 {
		cfg.Publisher.Threads.MaxPolls = 10
	}
	if cfg.Publisher.Threads.PollInterval == "" {
		cfg.Publisher.Threads.PollInterval = "2s"
	}
	if cfg.Publisher.YouTube.BaseURL == "" {
		cfg.Publisher.YouTube.BaseURL = "https://www.googleapis.com"
	}
	if cfg.Scheduler.RetentionDays == 0 {
		cfg.Scheduler.RetentionDays = 90
	}
	if cfg.Scheduler.ReconcileInterval == "" {
		cfg.Scheduler.ReconcileInterval = "5m"
	}
	if cfg.Scheduler.StaleAfter == "" {
		cfg.Scheduler.StaleAfter = "10m"
	}
	if cfg.Scheduler.PublishInterval == "" {
		cfg.Scheduler.PublishInterval = "1m"
	}
	if cfg.Scheduler.StatsInterval == "" {
		cfg.Scheduler.StatsInterval = "15m"
	}
}

// ParseDuration is time.ParseDuration with a fallback for empty or invalid input.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	return parseDuration(s, fallback)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
