package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hamychatgpt/Rasad-v2/internal/logger"
)

// Config is the whole collector configuration. It is built once at startup and
// passed by value into every component constructor.
type Config struct {
	Log             logger.Config    `yaml:"log"`
	Server          ServerConfig     `yaml:"server"`
	Database        DatabaseConfig   `yaml:"database"`
	Redis           RedisConfig      `yaml:"redis"`
	Fetch           FetchConfig      `yaml:"fetch"`
	Scheduling      SchedulingConfig `yaml:"scheduling"`
	Collection      CollectionConfig `yaml:"collection"`
	Keywords        []Keyword        `yaml:"keywords"`
	TrackedAccounts []TrackedAccount `yaml:"tracked_accounts"`
	AccountsFile    string           `yaml:"accounts_file" env:"ACCOUNTS_FILE"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr" env:"HTTP_LISTEN_ADDR"` // e.g. ":8080"
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"HTTP_REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the persistent store settings. Driver "memory" keeps
// everything in process and is meant for dry runs.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DB_DRIVER"`
	DSN      string `yaml:"connection_string" env:"DB_CONNECTION_STRING"`
	Host     string `yaml:"host" env:"PG_HOST"`
	Port     int    `yaml:"port" env:"PG_PORT"`
	User     string `yaml:"user" env:"PG_USER"`
	Password string `yaml:"password" env:"PG_PASSWORD"`
	Name     string `yaml:"name" env:"PG_DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"PG_SSLMODE"`
	MaxConns int    `yaml:"max_connections" env:"PG_MAX_CONNS"`
}

// BuildDSN composes a keyword/value DSN compatible with pgxpool, unless an
// explicit connection string is configured.
func (c DatabaseConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// RedisConfig configures the state-transition event channel. An empty
// address disables publishing.
type RedisConfig struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL"`
}

type FetchConfig struct {
	BaseURL          string        `yaml:"base_url" env:"FETCH_BASE_URL"`
	Timeout          time.Duration `yaml:"timeout" env:"FETCH_TIMEOUT"`
	MaxPostsPerQuery int           `yaml:"max_posts_per_query"`
	BreakerDelay     time.Duration `yaml:"breaker_delay"`
}

// SchedulingConfig holds the base intervals the per-topic cadence is derived from.
type SchedulingConfig struct {
	NormalInterval   time.Duration `yaml:"default_interval" env:"SCHED_NORMAL_INTERVAL"`
	CriticalInterval time.Duration `yaml:"critical_interval" env:"SCHED_CRITICAL_INTERVAL"`
	ArchiveInterval  time.Duration `yaml:"archive_interval"`
	Tick             string        `yaml:"tick" env:"SCHED_TICK"`
	TopicPause       time.Duration `yaml:"topic_pause"`
	Workers          int           `yaml:"workers" env:"SCHED_WORKERS"`
	// CriticalHold de-escalates a topic that stayed critical this long. Zero disables it.
	CriticalHold time.Duration `yaml:"critical_hold"`
	// EscalateImportance is the tracked-account importance from which a new
	// post escalates that account's topic.
	EscalateImportance int `yaml:"escalate_importance"`
}

type CollectionConfig struct {
	KeywordLimit         int  `yaml:"keyword_limit"`
	AccountLimit         int  `yaml:"account_limit"`
	CollectReplies       bool `yaml:"collect_replies"`
	ReplyPostLimit       int  `yaml:"reply_post_limit"`
	ReplyLimit           int  `yaml:"reply_limit"`
	BackfillDays         int  `yaml:"backfill_days"`
	BackfillLimit        int  `yaml:"backfill_limit"`
	ExtractHashtagTopics bool `yaml:"extract_hashtag_topics"`
}

// Keyword is a monitored search term.
type Keyword struct {
	Text       string `yaml:"text"`
	Importance int    `yaml:"importance"`
	Category   string `yaml:"category"`
}

// RoleManager marks a tracked account whose posts put every topic in critical mode.
const RoleManager = "manager"

// TrackedAccount is a platform account whose posts are collected directly.
type TrackedAccount struct {
	Handle     string `yaml:"username"`
	ID         string `yaml:"id"`
	Importance int    `yaml:"importance"`
	Role       string `yaml:"role"`
}

// IsManager reports whether posts by this account trigger a global escalation.
func (t TrackedAccount) IsManager() bool {
	return strings.EqualFold(t.Role, RoleManager)
}

const defaultImportance = 5

// SetDefaults fills every unset field.
func (c *Config) SetDefaults() {
	c.Log.SetDefaults()

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = ":8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 5 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}
	if c.Database.Host == "" {
		c.Database.Host = "postgres"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "app"
	}
	if c.Database.Name == "" {
		c.Database.Name = "rasad"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}

	if c.Redis.Channel == "" {
		c.Redis.Channel = "rasad:events"
	}

	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 15 * time.Second
	}
	if c.Fetch.MaxPostsPerQuery == 0 {
		c.Fetch.MaxPostsPerQuery = 100
	}
	if c.Fetch.BreakerDelay == 0 {
		c.Fetch.BreakerDelay = 30 * time.Second
	}

	s := &c.Scheduling
	if s.NormalInterval == 0 {
		s.NormalInterval = 20 * time.Minute
	}
	if s.CriticalInterval == 0 {
		s.CriticalInterval = 5 * time.Minute
	}
	if s.ArchiveInterval == 0 {
		s.ArchiveInterval = time.Hour
	}
	if s.Tick == "" {
		s.Tick = "@every 30s"
	}
	if s.TopicPause == 0 {
		s.TopicPause = 2 * time.Second
	}
	if s.Workers == 0 {
		s.Workers = 4
	}
	if s.EscalateImportance == 0 {
		s.EscalateImportance = 8
	}
	// critical polling is never slower than normal polling
	if s.CriticalInterval > s.NormalInterval {
		s.CriticalInterval = s.NormalInterval
	}

	col := &c.Collection
	if col.KeywordLimit == 0 {
		col.KeywordLimit = 100
	}
	if col.AccountLimit == 0 {
		col.AccountLimit = 20
	}
	if col.ReplyPostLimit == 0 {
		col.ReplyPostLimit = 20
	}
	if col.ReplyLimit == 0 {
		col.ReplyLimit = 50
	}
	if col.BackfillDays == 0 {
		col.BackfillDays = 7
	}
	if col.BackfillLimit == 0 {
		col.BackfillLimit = 500
	}

	for i := range c.Keywords {
		c.Keywords[i].Text = strings.TrimSpace(c.Keywords[i].Text)
		if c.Keywords[i].Importance == 0 {
			c.Keywords[i].Importance = defaultImportance
		}
	}
	for i := range c.TrackedAccounts {
		c.TrackedAccounts[i].Handle = NormalizeHandle(c.TrackedAccounts[i].Handle)
		if c.TrackedAccounts[i].Importance == 0 {
			c.TrackedAccounts[i].Importance = defaultImportance
		}
	}
}

// MinBaseInterval keeps the fastest derived interval at one second or more.
const MinBaseInterval = 2 * time.Second

var (
	ErrInvalidImportance = errors.New("importance must be between 0 and 10")
	ErrInvalidInterval   = errors.New("invalid base interval")
	ErrDuplicateTopic    = errors.New("duplicate topic")
)

// Validate rejects configs the scheduler and ingestion cannot run with.
func (c *Config) Validate() error {
	if c.Scheduling.NormalInterval < MinBaseInterval || c.Scheduling.CriticalInterval < MinBaseInterval {
		return fmt.Errorf("base intervals must be at least %s: %w", MinBaseInterval, ErrInvalidInterval)
	}
	if c.Database.Driver != "postgres" && c.Database.Driver != "memory" {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	seen := make(map[string]struct{})
	for _, k := range c.Keywords {
		if k.Text == "" {
			return errors.New("keyword text is required")
		}
		if k.Importance < 0 || k.Importance > 10 {
			return fmt.Errorf("keyword %q: %w", k.Text, ErrInvalidImportance)
		}
		if _, dup := seen[k.Text]; dup {
			return fmt.Errorf("keyword %q: %w", k.Text, ErrDuplicateTopic)
		}
		seen[k.Text] = struct{}{}
	}
	for _, a := range c.TrackedAccounts {
		if a.Handle == "" {
			return errors.New("tracked account username is required")
		}
		if a.Importance < 0 || a.Importance > 10 {
			return fmt.Errorf("tracked account %q: %w", a.Handle, ErrInvalidImportance)
		}
		if _, dup := seen[AccountTopic(a.Handle)]; dup {
			return fmt.Errorf("tracked account %q: %w", a.Handle, ErrDuplicateTopic)
		}
		seen[AccountTopic(a.Handle)] = struct{}{}
	}
	return nil
}

// TrackedByHandle indexes tracked accounts by normalized handle.
func (c Config) TrackedByHandle() map[string]TrackedAccount {
	out := make(map[string]TrackedAccount, len(c.TrackedAccounts))
	for _, a := range c.TrackedAccounts {
		out[NormalizeHandle(a.Handle)] = a
	}
	return out
}

// NormalizeHandle lowercases a handle and strips the leading @.
func NormalizeHandle(h string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(h), "@"))
}

// AccountTopic is the scheduler topic name of a tracked account.
func AccountTopic(handle string) string {
	return "@" + NormalizeHandle(handle)
}
