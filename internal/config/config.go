package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/pelletier/go-toml/v2"

	"github.com/telecomverify/telecom/internal/verification"
)

// DefaultPath is the config file read when no path is given.
const DefaultPath = "telecom.toml"

// Config is the top-level telecom configuration.
type Config struct {
	Server    ServerConfig     `toml:"server"`
	Balancer  BalancerConfig   `toml:"balancer"`
	Dispatch  DispatchConfig   `toml:"dispatch"`
	Token     TokenConfig      `toml:"token"`
	Events    EventsConfig     `toml:"events"`
	Report    ReportConfig     `toml:"report"`
	Logging   LoggingConfig    `toml:"logging"`
	Providers []ProviderConfig `toml:"providers"`
}

type ServerConfig struct {
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
	RateLimit          int      `toml:"rate_limit"` // POST /verify requests per minute per IP, 0 = unlimited
	ShutdownTimeout    int      `toml:"shutdown_timeout"`
}

type BalancerConfig struct {
	Kind        string    `toml:"kind"`         // "round-robin" (rr) or "best" (b)
	Scoring     string    `toml:"scoring"`      // "count", "rate" or "weighted"
	StepWeights []float64 `toml:"step_weights"` // weighted scoring, one per ladder step, ascending
}

type DispatchConfig struct {
	Channel          string   `toml:"channel"`            // "sms" or "voice"
	Escalate         bool     `toml:"escalate"`           // climb sms, sms, voice, voice per request
	AttemptTimeoutMs int      `toml:"attempt_timeout_ms"` // 0 disables the bound
	CodeLength       int      `toml:"code_length"`
	AllowedCountries []string `toml:"allowed_countries"` // ISO 3166-1 alpha-2, empty = all
}

type TokenConfig struct {
	Secret   string `toml:"secret"`   // empty = random per process
	Duration int    `toml:"duration"` // seconds
}

type EventsConfig struct {
	NATSURL    string `toml:"nats_url"` // empty disables attempt events
	QueueSize  int    `toml:"queue_size"`
	MaxRetries int    `toml:"max_retries"`
}

type ReportConfig struct {
	Schedule string `toml:"schedule"` // cron expression, empty disables
	Window   string `toml:"window"`   // e.g. "1h"; empty ranks the whole log
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"` // optional; logs are also written here
}

// ProviderConfig describes one carrier. Which fields apply depends on Type.
type ProviderConfig struct {
	Name            string `toml:"name"`
	Type            string `toml:"type"` // mock, log, twilio, sns, webhook
	SMSFailurePct   int    `toml:"sms_failure_pct,omitempty"`
	VoiceFailurePct int    `toml:"voice_failure_pct,omitempty"`
	AccountSID      string `toml:"account_sid,omitempty"`
	AuthToken       string `toml:"auth_token,omitempty"`
	From            string `toml:"from,omitempty"`
	BaseURL         string `toml:"base_url,omitempty"`
	URL             string `toml:"url,omitempty"`
	Secret          string `toml:"secret,omitempty"`
	Region          string `toml:"region,omitempty"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               5000,
			CORSAllowedOrigins: []string{"*"},
			RateLimit:          60,
			ShutdownTimeout:    10,
		},
		Balancer: BalancerConfig{
			Kind:        "round-robin",
			Scoring:     "count",
			StepWeights: slices.Clone(verification.DefaultStepWeights[:]),
		},
		Dispatch: DispatchConfig{
			Channel:          "sms",
			AttemptTimeoutMs: 10000,
			CodeLength:       6,
		},
		Token: TokenConfig{
			Duration: 900,
		},
		Events: EventsConfig{
			QueueSize:  1024,
			MaxRetries: 3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Providers: []ProviderConfig{
			{Name: "alpha", Type: "mock", SMSFailurePct: 5, VoiceFailurePct: 10},
			{Name: "bravo", Type: "mock", SMSFailurePct: 20, VoiceFailurePct: 25},
			{Name: "charlie", Type: "mock", SMSFailurePct: 40, VoiceFailurePct: 50},
		},
	}
}

// Load reads configuration with priority: defaults → telecom.toml → env vars → CLI flags.
// A [[providers]] list in the file replaces the default providers.
func Load(configPath string, flags map[string]string) (*Config, error) {
	cfg := Default()

	if configPath == "" {
		configPath = DefaultPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		var listed struct {
			Providers []ProviderConfig `toml:"providers"`
		}
		if err := toml.Unmarshal(data, &listed); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
		if len(listed.Providers) > 0 {
			cfg.Providers = nil
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	applyFlags(cfg, flags)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rate_limit must be non-negative, got %d", c.Server.RateLimit)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout must be non-negative, got %d", c.Server.ShutdownTimeout)
	}
	switch strings.ToLower(c.Balancer.Kind) {
	case "rr", "round-robin", "b", "best":
	default:
		return fmt.Errorf("balancer.kind must be \"round-robin\" (rr) or \"best\" (b), got %q", c.Balancer.Kind)
	}
	switch strings.ToLower(c.Balancer.Scoring) {
	case "", "count", "rate", "weighted":
	default:
		return fmt.Errorf("balancer.scoring must be \"count\", \"rate\" or \"weighted\", got %q", c.Balancer.Scoring)
	}
	if _, err := c.Balancer.Weights(); err != nil {
		return err
	}
	switch strings.ToLower(c.Dispatch.Channel) {
	case "sms", "voice":
	default:
		return fmt.Errorf("dispatch.channel must be \"sms\" or \"voice\", got %q", c.Dispatch.Channel)
	}
	if c.Dispatch.AttemptTimeoutMs < 0 {
		return fmt.Errorf("dispatch.attempt_timeout_ms must be non-negative, got %d", c.Dispatch.AttemptTimeoutMs)
	}
	if c.Dispatch.CodeLength < 4 || c.Dispatch.CodeLength > 10 {
		return fmt.Errorf("dispatch.code_length must be between 4 and 10, got %d", c.Dispatch.CodeLength)
	}
	for _, cc := range c.Dispatch.AllowedCountries {
		if len(cc) != 2 || strings.ToUpper(cc) != cc {
			return fmt.Errorf("dispatch.allowed_countries: %q is not an uppercase ISO 3166-1 alpha-2 code", cc)
		}
	}
	if c.Token.Duration < 1 {
		return fmt.Errorf("token.duration must be at least 1 second, got %d", c.Token.Duration)
	}
	if c.Token.Secret != "" && len(c.Token.Secret) < 32 {
		return fmt.Errorf("token.secret must be at least 32 characters, got %d", len(c.Token.Secret))
	}
	if c.Events.QueueSize < 1 {
		return fmt.Errorf("events.queue_size must be at least 1, got %d", c.Events.QueueSize)
	}
	if c.Events.MaxRetries < 0 {
		return fmt.Errorf("events.max_retries must be non-negative, got %d", c.Events.MaxRetries)
	}
	if c.Report.Schedule != "" && !gronx.New().IsValid(c.Report.Schedule) {
		return fmt.Errorf("report.schedule: invalid cron expression %q", c.Report.Schedule)
	}
	if _, err := c.Report.WindowDuration(); err != nil {
		return err
	}
	if c.Logging.Level != "" {
		switch c.Logging.Level {
		case "debug", "info", "warn", "error":
		default:
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error; got %q", c.Logging.Level)
		}
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"text\", got %q", c.Logging.Format)
	}
	return c.validateProviders()
}

func (c *Config) validateProviders() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one [[providers]] entry is required")
	}
	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("providers[%d].name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case "mock":
			if p.SMSFailurePct < 0 || p.SMSFailurePct > 100 {
				return fmt.Errorf("providers.%s.sms_failure_pct must be between 0 and 100, got %d", p.Name, p.SMSFailurePct)
			}
			if p.VoiceFailurePct < 0 || p.VoiceFailurePct > 100 {
				return fmt.Errorf("providers.%s.voice_failure_pct must be between 0 and 100, got %d", p.Name, p.VoiceFailurePct)
			}
		case "log":
		case "twilio":
			if p.AccountSID == "" || p.AuthToken == "" || p.From == "" {
				return fmt.Errorf("providers.%s: account_sid, auth_token and from are required for twilio", p.Name)
			}
		case "sns":
		case "webhook":
			if p.URL == "" {
				return fmt.Errorf("providers.%s.url is required for webhook", p.Name)
			}
		default:
			return fmt.Errorf("providers.%s.type must be one of: mock, log, twilio, sns, webhook; got %q", p.Name, p.Type)
		}
	}
	return nil
}

// Address returns the host:port string for the server to listen on.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// BaseURL returns the URL CLI client commands use to reach the server,
// replacing the bind-all address with localhost.
func (c *Config) BaseURL() string {
	host := c.Server.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Server.Port)
}

// Weights returns balancer.step_weights validated for weighted scoring.
func (c *BalancerConfig) Weights() (verification.StepWeights, error) {
	w, err := verification.NewStepWeights(c.StepWeights)
	if err != nil {
		return w, fmt.Errorf("balancer.step_weights: %w", err)
	}
	return w, nil
}

// AttemptTimeout returns dispatch.attempt_timeout_ms as a duration.
func (c *DispatchConfig) AttemptTimeout() time.Duration {
	return time.Duration(c.AttemptTimeoutMs) * time.Millisecond
}

// WindowDuration parses report.window. Zero means the whole log.
func (c *ReportConfig) WindowDuration() (time.Duration, error) {
	if c.Window == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Window)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("report.window must be a positive duration like \"1h\", got %q", c.Window)
	}
	return d, nil
}

// GenerateDefault writes a commented default telecom.toml to the given path.
func GenerateDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultTOML), 0o644)
}

// ToTOML returns the config serialized as TOML.
func (c *Config) ToTOML() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// envInt reads an integer from the named environment variable.
// Returns an error if the value is set but not a valid integer.
func envInt(name string, dest *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %q is not an integer", name, v)
	}
	*dest = n
	return nil
}

func envList(name string, dest *[]string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	*dest = out
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("TELECOM_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if err := envInt("TELECOM_SERVER_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := envInt("TELECOM_SERVER_RATE_LIMIT", &cfg.Server.RateLimit); err != nil {
		return err
	}
	envList("TELECOM_CORS_ORIGINS", &cfg.Server.CORSAllowedOrigins)
	if v := os.Getenv("TELECOM_BALANCER"); v != "" {
		cfg.Balancer.Kind = v
	}
	if v := os.Getenv("TELECOM_SCORING"); v != "" {
		cfg.Balancer.Scoring = v
	}
	if v := os.Getenv("TELECOM_CHANNEL"); v != "" {
		cfg.Dispatch.Channel = v
	}
	if v := os.Getenv("TELECOM_ESCALATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid value for TELECOM_ESCALATE: %q is not a boolean", v)
		}
		cfg.Dispatch.Escalate = b
	}
	if err := envInt("TELECOM_ATTEMPT_TIMEOUT_MS", &cfg.Dispatch.AttemptTimeoutMs); err != nil {
		return err
	}
	if err := envInt("TELECOM_CODE_LENGTH", &cfg.Dispatch.CodeLength); err != nil {
		return err
	}
	envList("TELECOM_ALLOWED_COUNTRIES", &cfg.Dispatch.AllowedCountries)
	if v := os.Getenv("TELECOM_TOKEN_SECRET"); v != "" {
		cfg.Token.Secret = v
	}
	if err := envInt("TELECOM_TOKEN_DURATION", &cfg.Token.Duration); err != nil {
		return err
	}
	if v := os.Getenv("TELECOM_NATS_URL"); v != "" {
		cfg.Events.NATSURL = v
	}
	if v := os.Getenv("TELECOM_REPORT_SCHEDULE"); v != "" {
		cfg.Report.Schedule = v
	}
	if v := os.Getenv("TELECOM_REPORT_WINDOW"); v != "" {
		cfg.Report.Window = v
	}
	if v := os.Getenv("TELECOM_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TELECOM_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("TELECOM_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
	return nil
}

func applyFlags(cfg *Config, flags map[string]string) {
	if flags == nil {
		return
	}
	if v, ok := flags["port"]; ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v, ok := flags["host"]; ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := flags["balancer"]; ok && v != "" {
		cfg.Balancer.Kind = v
	}
	if v, ok := flags["channel"]; ok && v != "" {
		cfg.Dispatch.Channel = v
	}
	if v, ok := flags["escalate"]; ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Dispatch.Escalate = b
		}
	}
}

// validKeys is the complete set of dot-separated scalar config keys.
var validKeys = map[string]bool{
	"server.host": true, "server.port": true, "server.cors_allowed_origins": true,
	"server.rate_limit": true, "server.shutdown_timeout": true,
	"balancer.kind": true, "balancer.scoring": true, "balancer.step_weights": true,
	"dispatch.channel": true, "dispatch.escalate": true, "dispatch.attempt_timeout_ms": true,
	"dispatch.code_length": true, "dispatch.allowed_countries": true,
	"token.secret": true, "token.duration": true,
	"events.nats_url": true, "events.queue_size": true, "events.max_retries": true,
	"report.schedule": true, "report.window": true,
	"logging.level": true, "logging.format": true, "logging.file": true,
}

// IsValidKey returns true if the dotted key is a recognized config key.
func IsValidKey(key string) bool {
	return validKeys[key]
}

// GetValue returns the value for a dotted config key (e.g. "server.port").
func GetValue(cfg *Config, key string) (any, error) {
	switch key {
	case "server.host":
		return cfg.Server.Host, nil
	case "server.port":
		return cfg.Server.Port, nil
	case "server.cors_allowed_origins":
		return strings.Join(cfg.Server.CORSAllowedOrigins, ","), nil
	case "server.rate_limit":
		return cfg.Server.RateLimit, nil
	case "server.shutdown_timeout":
		return cfg.Server.ShutdownTimeout, nil
	case "balancer.kind":
		return cfg.Balancer.Kind, nil
	case "balancer.scoring":
		return cfg.Balancer.Scoring, nil
	case "balancer.step_weights":
		parts := make([]string, len(cfg.Balancer.StepWeights))
		for i, w := range cfg.Balancer.StepWeights {
			parts[i] = strconv.FormatFloat(w, 'g', -1, 64)
		}
		return strings.Join(parts, ","), nil
	case "dispatch.channel":
		return cfg.Dispatch.Channel, nil
	case "dispatch.escalate":
		return cfg.Dispatch.Escalate, nil
	case "dispatch.attempt_timeout_ms":
		return cfg.Dispatch.AttemptTimeoutMs, nil
	case "dispatch.code_length":
		return cfg.Dispatch.CodeLength, nil
	case "dispatch.allowed_countries":
		return strings.Join(cfg.Dispatch.AllowedCountries, ","), nil
	case "token.secret":
		return cfg.Token.Secret, nil
	case "token.duration":
		return cfg.Token.Duration, nil
	case "events.nats_url":
		return cfg.Events.NATSURL, nil
	case "events.queue_size":
		return cfg.Events.QueueSize, nil
	case "events.max_retries":
		return cfg.Events.MaxRetries, nil
	case "report.schedule":
		return cfg.Report.Schedule, nil
	case "report.window":
		return cfg.Report.Window, nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "logging.format":
		return cfg.Logging.Format, nil
	case "logging.file":
		return cfg.Logging.File, nil
	default:
		return nil, fmt.Errorf("unknown configuration key: %s", key)
	}
}

// SetValue reads the existing TOML file, updates a single key, and writes it back.
// Creates the file with just the key if it doesn't exist.
func SetValue(configPath, key, value string) error {
	var data map[string]any
	if raw, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("parsing %s: %w", configPath, err)
		}
	}
	if data == nil {
		data = make(map[string]any)
	}

	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid key format: %s (expected section.field)", key)
	}
	section, field := parts[0], parts[1]

	sectionMap, ok := data[section].(map[string]any)
	if !ok {
		sectionMap = make(map[string]any)
		data[section] = sectionMap
	}
	sectionMap[field] = coerceValue(key, value)

	out, err := toml.Marshal(data)
	if err != nil {
		return fmt.Errorf("serializing config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	return os.WriteFile(configPath, out, 0o644)
}

// coerceValue converts a string value to the appropriate Go type for TOML serialization.
func coerceValue(key, value string) any {
	switch key {
	case "server.cors_allowed_origins", "dispatch.allowed_countries":
		var out []string
		for _, s := range strings.Split(value, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case "balancer.step_weights":
		var out []float64
		for _, s := range strings.Split(value, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return value
			}
			out = append(out, f)
		}
		return out
	case "dispatch.escalate":
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	case "server.port", "server.rate_limit", "server.shutdown_timeout",
		"dispatch.attempt_timeout_ms", "dispatch.code_length",
		"token.duration", "events.queue_size", "events.max_retries":
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return value
}

const defaultTOML = `# telecom verification dispatcher configuration

[server]
# Address to listen on.
host = "0.0.0.0"
port = 5000

# CORS allowed origins. Use ["*"] to allow all.
cors_allowed_origins = ["*"]

# POST /verify requests per minute per client IP. 0 disables rate limiting.
rate_limit = 60

# Seconds to wait for in-flight requests during shutdown.
shutdown_timeout = 10

[balancer]
# Provider selection: "round-robin" (alias "rr") or "best" (alias "b").
# best picks the provider with the lowest score, rotating among ties.
kind = "round-robin"

# Ranking score: "count" (failures, default), "rate" (failures / attempts)
# or "weighted" (mean step weight, see step_weights).
scoring = "count"

# Weights of the five verification steps for weighted scoring, in ladder
# order: first sms, second sms, first voice, second voice, unreachable.
# Must be ascending.
step_weights = [1.0, 2.0, 3.0, 4.0, 5.0]

[dispatch]
# Delivery channel for every attempt: "sms" or "voice".
channel = "sms"

# Climb sms, sms, voice, voice on the selected carrier until one delivers.
# The channel above is ignored while escalating.
escalate = false

# Upper bound for a single provider attempt, in milliseconds. 0 disables it.
attempt_timeout_ms = 10000

# Digits in generated verification codes.
code_length = 6

# Restrict numbers to these countries (ISO 3166-1 alpha-2). Empty allows all.
# allowed_countries = ["US", "GB"]

[token]
# HMAC secret for verification tokens. Must be at least 32 characters.
# Leave unset to generate a random secret on every start.
# secret = ""

# Token lifetime in seconds.
duration = 900

[events]
# NATS server for attempt events (JetStream subject verification.attempts.<carrier>).
# Leave unset to disable.
# nats_url = "nats://localhost:4222"
queue_size = 1024
max_retries = 3

[report]
# Cron expression for logging the current ranking. Leave unset to disable.
# schedule = "*/5 * * * *"
# Restrict the report to recent attempts.
# window = "1h"

[logging]
# Log level: debug, info, warn, error.
level = "info"

# Log format: json or text.
format = "json"

# Also write logs to this file.
# file = "telecom.log"

# Providers, in balancer order. Types: mock, log, twilio, sns, webhook.
[[providers]]
name = "alpha"
type = "mock"
sms_failure_pct = 5
voice_failure_pct = 10

[[providers]]
name = "bravo"
type = "mock"
sms_failure_pct = 20
voice_failure_pct = 25

[[providers]]
name = "charlie"
type = "mock"
sms_failure_pct = 40
voice_failure_pct = 50

# [[providers]]
# name = "twilio"
# type = "twilio"
# account_sid = ""
# auth_token = ""
# from = "+15550000000"

# [[providers]]
# name = "aws"
# type = "sns"
# region = "us-east-1"

# [[providers]]
# name = "gateway"
# type = "webhook"
# url = "https://carrier.example.com/verify"
# secret = ""
`
