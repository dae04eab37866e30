// Package config loads and validates questwatch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/questwatch/internal/locale"
	"github.com/JakeFAU/questwatch/internal/quest"
)

// Role selects which pipeline shape the process runs.
type Role string

// Supported roles.
const (
	RoleStandalone Role = "standalone"
	RoleAgent      Role = "agent"
	RoleCollector  Role = "collector"
)

// Storage backends accepted by storage.backend.
const (
	BackendMemory   = "memory"
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Role        Role           `mapstructure:"role"`
	Upstream    UpstreamConfig `mapstructure:"upstream"`
	Region      RegionConfig   `mapstructure:"region"`
	Poll        PollConfig     `mapstructure:"poll"`
	Filter      FilterConfig   `mapstructure:"filter"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Sinks       []quest.Sink   `mapstructure:"sinks"`
	WebhookURLs []string       `mapstructure:"webhook_urls"`
	Notify      NotifyConfig   `mapstructure:"notify"`
	Cluster     ClusterConfig  `mapstructure:"cluster"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// UpstreamConfig describes the quest API.
type UpstreamConfig struct {
	BaseURL      string            `mapstructure:"base_url"`
	Token        string            `mapstructure:"token"`
	UserAgent    string            `mapstructure:"user_agent"`
	LocaleHeader string            `mapstructure:"locale_header"`
	QuestURLBase string            `mapstructure:"quest_url_base"`
	AssetBaseURL string            `mapstructure:"asset_base_url"`
	Timeout      time.Duration     `mapstructure:"timeout"`
	Headers      map[string]string `mapstructure:"headers"`
}

// RegionConfig holds a single locale code or "all".
type RegionConfig struct {
	Code string `mapstructure:"code"`
}

// PollConfig governs the local driver schedule.
type PollConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	RunOnce        bool          `mapstructure:"run_once"`
	JitterMin      time.Duration `mapstructure:"jitter_min"`
	JitterMax      time.Duration `mapstructure:"jitter_max"`
	InitialSendAll bool          `mapstructure:"initial_send_all"`
}

// FilterConfig selects the reward category that reaches the seen-set.
type FilterConfig struct {
	Reward string `mapstructure:"reward"`
}

// StorageConfig selects and parameterizes the seen-set backend.
type StorageConfig struct {
	Backend string      `mapstructure:"backend"`
	Path    string      `mapstructure:"path"`
	DSN     string      `mapstructure:"dsn"`
	Table   string      `mapstructure:"table"`
	Redis   RedisConfig `mapstructure:"redis"`
	GCS     GCSConfig   `mapstructure:"gcs"`
}

// RedisConfig points at the redis seen-set hash.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// GCSConfig locates the seen-set snapshot object.
type GCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// NotifyConfig tunes outbound deliveries.
type NotifyConfig struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	PerSinkRPS float64       `mapstructure:"per_sink_rps"`
	Username   string        `mapstructure:"username"`
	AvatarURL  string        `mapstructure:"avatar_url"`
}

// ClusterConfig covers the agent/collector channel.
type ClusterConfig struct {
	Token        string `mapstructure:"token"`
	IngestPort   int    `mapstructure:"ingest_port"`
	CollectorURL string `mapstructure:"collector_url"`
	Source       string `mapstructure:"source"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// LoadDotEnv populates the process environment from the given .env files.
// Missing files are ignored; existing variables are never overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("QUESTWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("role", string(RoleCollector))
	v.SetDefault("upstream.base_url", "")
	v.SetDefault("upstream.token", "")
	v.SetDefault("upstream.user_agent", "questwatch/0.1")
	v.SetDefault("upstream.locale_header", "X-Locale")
	v.SetDefault("upstream.quest_url_base", "https://discord.com/quests/")
	v.SetDefault("upstream.asset_base_url", "https://cdn.discordapp.com/")
	v.SetDefault("upstream.timeout", 15*time.Second)
	v.SetDefault("region.code", "en-US")
	v.SetDefault("poll.interval", 30*time.Minute)
	v.SetDefault("poll.run_once", false)
	v.SetDefault("poll.jitter_min", 60*time.Second)
	v.SetDefault("poll.jitter_max", 70*time.Second)
	v.SetDefault("poll.initial_send_all", false)
	v.SetDefault("filter.reward", string(quest.FilterAll))
	v.SetDefault("storage.backend", BackendJSON)
	v.SetDefault("storage.path", "./known-quests.json")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.table", "seen_quests")
	v.SetDefault("storage.redis.addr", "localhost:6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key", "questwatch:seen")
	v.SetDefault("storage.gcs.bucket", "")
	v.SetDefault("storage.gcs.object", "questwatch/known-quests.json")
	v.SetDefault("webhook_urls", []string{})
	v.SetDefault("notify.timeout", 10*time.Second)
	v.SetDefault("notify.per_sink_rps", 4.0)
	v.SetDefault("notify.username", "Quest Notifier")
	v.SetDefault("notify.avatar_url", "")
	v.SetDefault("cluster.token", "")
	v.SetDefault("cluster.ingest_port", 8080)
	v.SetDefault("cluster.collector_url", "")
	v.SetDefault("cluster.source", "agent")
	v.SetDefault("cluster.max_body_bytes", 4<<20)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch c.Role {
	case RoleStandalone, RoleAgent, RoleCollector:
	default:
		return fmt.Errorf("role must be one of standalone, agent, collector; got %q", c.Role)
	}
	if _, err := quest.ParseFilter(c.Filter.Reward); err != nil {
		return fmt.Errorf("filter.reward: %w", err)
	}
	if strings.TrimSpace(c.Region.Code) == "" {
		return fmt.Errorf("region.code must be set")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url must be set")
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be > 0")
	}
	if !c.Poll.RunOnce && c.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be > 0 unless poll.run_once is set")
	}
	if c.Poll.JitterMin < 0 || c.Poll.JitterMin > c.Poll.JitterMax {
		return fmt.Errorf("poll.jitter_min must be >= 0 and <= poll.jitter_max")
	}

	if c.Role == RoleAgent {
		if c.Cluster.CollectorURL == "" {
			return fmt.Errorf("cluster.collector_url must be set for the agent role")
		}
		if _, err := url.ParseRequestURI(c.Cluster.CollectorURL); err != nil {
			return fmt.Errorf("cluster.collector_url: %w", err)
		}
		if c.Cluster.Token == "" {
			return fmt.Errorf("cluster.token must be set for the agent role")
		}
		return nil
	}

	if c.Role == RoleCollector {
		if c.Cluster.Token == "" {
			return fmt.Errorf("cluster.token must be set for the collector role")
		}
		if c.Cluster.IngestPort <= 0 {
			return fmt.Errorf("cluster.ingest_port must be > 0")
		}
		if c.Cluster.MaxBodyBytes <= 0 {
			return fmt.Errorf("cluster.max_body_bytes must be > 0")
		}
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	if c.Notify.Timeout <= 0 {
		return fmt.Errorf("notify.timeout must be > 0")
	}
	if c.Notify.PerSinkRPS < 0 {
		return fmt.Errorf("notify.per_sink_rps must be >= 0")
	}
	sinks := c.AllSinks()
	if len(sinks) == 0 {
		return fmt.Errorf("at least one sink (sinks or webhook_urls) must be configured")
	}
	seen := make(map[string]bool, len(sinks))
	for i, s := range sinks {
		if err := validateSink(s); err != nil {
			return fmt.Errorf("sinks[%d]: %w", i, err)
		}
		if seen[s.Name] {
			return fmt.Errorf("sinks[%d]: duplicate sink name %q", i, s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}

func (c Config) validateStorage() error {
	s := c.Storage
	switch s.Backend {
	case BackendMemory:
	case BackendJSON, BackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("storage.path must be set for the %s backend", s.Backend)
		}
	case BackendPostgres:
		if s.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	case BackendRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("storage.redis.addr must be set for the redis backend")
		}
	case BackendGCS:
		if s.GCS.Bucket == "" || s.GCS.Object == "" {
			return fmt.Errorf("storage.gcs.bucket and storage.gcs.object must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", s.Backend)
	}
	return nil
}

func validateSink(s quest.Sink) error {
	switch s.Kind {
	case quest.SinkWebhook, "":
		u, err := url.ParseRequestURI(s.URL)
		if err != nil {
			return fmt.Errorf("webhook url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("webhook url must be http or https")
		}
	case quest.SinkPubSub:
		if s.ProjectID == "" || s.Topic == "" {
			return fmt.Errorf("pubsub sink needs project_id and topic")
		}
	default:
		return fmt.Errorf("unknown sink kind %q", s.Kind)
	}
	return nil
}

// AllSinks merges the structured sink list with the webhook_urls shorthand.
// Webhook sinks without an explicit kind are normalized to "webhook".
func (c Config) AllSinks() []quest.Sink {
	sinks := make([]quest.Sink, 0, len(c.Sinks)+len(c.WebhookURLs))
	for _, s := range c.Sinks {
		if s.Kind == "" {
			s.Kind = quest.SinkWebhook
		}
		sinks = append(sinks, s)
	}
	for _, raw := range c.WebhookURLs {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		sinks = append(sinks, quest.Sink{Kind: quest.SinkWebhook, URL: raw})
	}

	// Names key pacing buckets and metric labels, so they must be unique.
	used := make(map[string]bool, len(sinks))
	for _, s := range sinks {
		if s.Name != "" {
			used[s.Name] = true
		}
	}
	for i := range sinks {
		if sinks[i].Name != "" {
			continue
		}
		name := fmt.Sprintf("%s-%d", sinks[i].Kind, i+1)
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s-%d-%d", sinks[i].Kind, i+1, n)
		}
		used[name] = true
		sinks[i].Name = name
	}
	return sinks
}

// Regions expands region.code into the ordered list a tick visits.
func (c Config) Regions() []string {
	return locale.Resolve(c.Region.Code)
}

// RewardFilter returns the parsed reward filter. Validate guarantees it parses.
func (c Config) RewardFilter() quest.Filter {
	f, err := quest.ParseFilter(c.Filter.Reward)
	if err != nil {
		return quest.FilterAll
	}
	return f
}
