package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config models rewardjar.yml.
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Database DatabaseConfig  `yaml:"database"`
	Queue    QueueConfig     `yaml:"queue"`
	Apple    AppleConfig     `yaml:"apple"`
	Google   GoogleConfig    `yaml:"google"`
	NATS     NATSConfig      `yaml:"nats"`
	Redis    RedisConfig     `yaml:"redis"`
	Auth     AuthConfig      `yaml:"auth"`
	Log      LogConfig       `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	BaseURL        string        `yaml:"base_url"`
	CORSOrigins    []string      `yaml:"cors_origins"`
	RateLimit      int           `yaml:"rate_limit"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type DatabaseConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	Workspace string `yaml:"workspace"`
}

// QueueConfig tunes the wallet request queue and its workers.
type QueueConfig struct {
	MaxRetries         int           `yaml:"max_retries"`
	BackoffBase        time.Duration `yaml:"backoff_base"`
	BackoffMax         time.Duration `yaml:"backoff_max"`
	PollInterval       time.Duration `yaml:"poll_interval"`
	ClaimBatch         int           `yaml:"claim_batch"`
	Concurrency        int           `yaml:"concurrency"`
	StaleAfter         time.Duration `yaml:"stale_after"`
	WaitTimeout        time.Duration `yaml:"wait_timeout"`
	WaitInterval       time.Duration `yaml:"wait_interval"`
	CompletedRetention time.Duration `yaml:"completed_retention"`
	FailedRetention    time.Duration `yaml:"failed_retention"`
	HealthWindow       time.Duration `yaml:"health_window"`
}

type AppleConfig struct {
	TeamIdentifier     string `yaml:"team_identifier"`
	PassTypeIdentifier string `yaml:"pass_type_identifier"`
	OrganizationName   string `yaml:"organization_name"`
	SignerCert         string `yaml:"signer_cert"`
	SignerKey          string `yaml:"signer_key"`
	WWDRCert           string `yaml:"wwdr_cert"`
	P12                string `yaml:"p12"`
	P12Password        string `yaml:"p12_password"`
	AssetsDir          string `yaml:"assets_dir"`
	WebServiceURL      string `yaml:"web_service_url"`
}

type GoogleConfig struct {
	IssuerID       string   `yaml:"issuer_id"`
	ServiceAccount string   `yaml:"service_account"`
	Origins        []string `yaml:"origins"`
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Token         string        `yaml:"token"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	WakeSubject   string        `yaml:"wake_subject"`
	RelayInterval time.Duration `yaml:"relay_interval"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	// TestToken unlocks the POST wallet test endpoints when set.
	TestToken string `yaml:"test_token"`
}

// WebhookConfig receives relayed events over HTTP. Events filters by event
// type; empty means all.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Events  []string      `yaml:"events"`
	Timeout time.Duration `yaml:"timeout"`
	Enabled *bool         `yaml:"enabled"`
}

// Active reports whether the webhook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return strings.TrimSpace(w.URL) != "" && (w.Enabled == nil || *w.Enabled)
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case "", "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("config.database.driver must be sqlite or postgres")
	}
	if strings.EqualFold(c.Database.Driver, "postgres") && c.Database.DSN == "" {
		return fmt.Errorf("config.database.dsn is required for postgres")
	}
	q := c.Queue
	if q.MaxRetries < 0 {
		return fmt.Errorf("config.queue.max_retries must not be negative")
	}
	if q.BackoffBase <= 0 {
		return fmt.Errorf("config.queue.backoff_base must be positive")
	}
	if q.BackoffMax < q.BackoffBase {
		return fmt.Errorf("config.queue.backoff_max must be at least backoff_base")
	}
	if q.PollInterval <= 0 {
		return fmt.Errorf("config.queue.poll_interval must be positive")
	}
	if q.ClaimBatch <= 0 {
		return fmt.Errorf("config.queue.claim_batch must be positive")
	}
	if q.Concurrency <= 0 {
		return fmt.Errorf("config.queue.concurrency must be positive")
	}
	if q.WaitTimeout <= 0 || q.WaitInterval <= 0 {
		return fmt.Errorf("config.queue.wait_timeout and wait_interval must be positive")
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config.server.rate_limit must not be negative")
	}
	if c.Server.RequestTimeout > 0 && c.Server.RequestTimeout <= q.WaitTimeout {
		return fmt.Errorf("config.server.request_timeout must exceed queue.wait_timeout")
	}
	for i, w := range c.Webhooks {
		if w.Enabled != nil && !*w.Enabled {
			continue
		}
		if strings.TrimSpace(w.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("config.log.format must be json or console")
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "rewardjar.yml")
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config from raw YAML bytes on top of the defaults and validates it.
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

// LoadOptional reads the workspace config, falling back to the defaults when
// the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Load reads the workspace config, loads a .env file when present and applies
// environment overrides. The result is validated after the overlay.
func Load(workspace string) (*Config, error) {
	envFile := filepath.Join(workspaceOrDot(workspace), ".env")
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetEnvPrefix("REWARDJAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := ApplyEnv(v, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func workspaceOrDot(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}

type binding struct {
	key   string
	alias []string
	set   func(v *viper.Viper, key string)
}

func str(dst *string) func(*viper.Viper, string) {
	return func(v *viper.Viper, key string) { *dst = v.GetString(key) }
}

func integer(dst *int) func(*viper.Viper, string) {
	return func(v *viper.Viper, key string) { *dst = v.GetInt(key) }
}

func duration(dst *time.Duration) func(*viper.Viper, string) {
	return func(v *viper.Viper, key string) { *dst = v.GetDuration(key) }
}

func list(dst *[]string) func(*viper.Viper, string) {
	return func(v *viper.Viper, key string) {
		var out []string
		for _, item := range strings.Split(v.GetString(key), ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		*dst = out
	}
}

// ApplyEnv overlays environment values known to v onto cfg. Every key is
// read as REWARDJAR_<SECTION>_<FIELD>; some also accept an unprefixed name.
func ApplyEnv(v *viper.Viper, cfg *Config) error {
	bindings := []binding{
		{"server.addr", nil, str(&cfg.Server.Addr)},
		{"server.base_url", []string{"BASE_URL"}, str(&cfg.Server.BaseURL)},
		{"server.cors_origins", nil, list(&cfg.Server.CORSOrigins)},
		{"server.rate_limit", nil, integer(&cfg.Server.RateLimit)},
		{"server.request_timeout", nil, duration(&cfg.Server.RequestTimeout)},
		{"database.driver", nil, str(&cfg.Database.Driver)},
		{"database.dsn", []string{"DATABASE_URL"}, str(&cfg.Database.DSN)},
		{"database.workspace", nil, str(&cfg.Database.Workspace)},
		{"queue.max_retries", nil, integer(&cfg.Queue.MaxRetries)},
		{"queue.backoff_base", nil, duration(&cfg.Queue.BackoffBase)},
		{"queue.backoff_max", nil, duration(&cfg.Queue.BackoffMax)},
		{"queue.poll_interval", nil, duration(&cfg.Queue.PollInterval)},
		{"queue.claim_batch", nil, integer(&cfg.Queue.ClaimBatch)},
		{"queue.concurrency", nil, integer(&cfg.Queue.Concurrency)},
		{"queue.stale_after", nil, duration(&cfg.Queue.StaleAfter)},
		{"queue.wait_timeout", nil, duration(&cfg.Queue.WaitTimeout)},
		{"apple.team_identifier", []string{"APPLE_TEAM_IDENTIFIER"}, str(&cfg.Apple.TeamIdentifier)},
		{"apple.pass_type_identifier", []string{"APPLE_PASS_TYPE_IDENTIFIER"}, str(&cfg.Apple.PassTypeIdentifier)},
		{"apple.organization_name", nil, str(&cfg.Apple.OrganizationName)},
		{"apple.signer_cert", []string{"APPLE_CERT_PEM", "APPLE_CERT_PATH"}, str(&cfg.Apple.SignerCert)},
		{"apple.signer_key", []string{"APPLE_KEY_PEM", "APPLE_KEY_PATH"}, str(&cfg.Apple.SignerKey)},
		{"apple.wwdr_cert", []string{"APPLE_WWDR_PEM", "APPLE_WWDR_PATH"}, str(&cfg.Apple.WWDRCert)},
		{"apple.p12", []string{"APPLE_P12_PATH"}, str(&cfg.Apple.P12)},
		{"apple.p12_password", []string{"APPLE_P12_PASSWORD"}, str(&cfg.Apple.P12Password)},
		{"apple.assets_dir", nil, str(&cfg.Apple.AssetsDir)},
		{"apple.web_service_url", nil, str(&cfg.Apple.WebServiceURL)},
		{"google.issuer_id", []string{"GOOGLE_WALLET_ISSUER_ID"}, str(&cfg.Google.IssuerID)},
		{"google.service_account", []string{"GOOGLE_SERVICE_ACCOUNT_JSON"}, str(&cfg.Google.ServiceAccount)},
		{"google.origins", nil, list(&cfg.Google.Origins)},
		{"nats.url", []string{"NATS_URL"}, str(&cfg.NATS.URL)},
		{"nats.token", []string{"NATS_TOKEN"}, str(&cfg.NATS.Token)},
		{"nats.subject_prefix", nil, str(&cfg.NATS.SubjectPrefix)},
		{"redis.addr", []string{"REDIS_ADDR"}, str(&cfg.Redis.Addr)},
		{"redis.password", []string{"REDIS_PASSWORD"}, str(&cfg.Redis.Password)},
		{"redis.db", nil, integer(&cfg.Redis.DB)},
		{"redis.ttl", nil, duration(&cfg.Redis.TTL)},
		{"auth.jwt_secret", []string{"JWT_SECRET"}, str(&cfg.Auth.JWTSecret)},
		{"auth.test_token", []string{"WALLET_TEST_TOKEN"}, str(&cfg.Auth.TestToken)},
		{"log.level", []string{"LOG_LEVEL"}, str(&cfg.Log.Level)},
		{"log.format", nil, str(&cfg.Log.Format)},
	}
	for _, b := range bindings {
		names := append([]string{"REWARDJAR_" + strings.ToUpper(strings.ReplaceAll(b.key, ".", "_"))}, b.alias...)
		if err := v.BindEnv(append([]string{b.key}, names...)...); err != nil {
			return fmt.Errorf("bind %s: %w", b.key, err)
		}
		if v.IsSet(b.key) {
			b.set(v, b.key)
		}
	}
	return nil
}

const defaultTemplate = `server:
  addr: ":8080"
  base_url: "http://localhost:8080"
  cors_origins: ["*"]
  rate_limit: 120
  request_timeout: 60s

database:
  driver: sqlite
  workspace: "."

queue:
  max_retries: 3
  backoff_base: 30s
  backoff_max: 30m
  poll_interval: 2s
  claim_batch: 10
  concurrency: 4
  stale_after: 10m
  wait_timeout: 30s
  wait_interval: 500ms
  completed_retention: 168h
  failed_retention: 720h
  health_window: 1h

apple:
  organization_name: RewardJar

google:
  origins: []

nats:
  subject_prefix: rewardjar
  wake_subject: rewardjar.queue.wake
  relay_interval: 2s

redis:
  db: 0
  ttl: 10m

log:
  level: info
  format: json
`
