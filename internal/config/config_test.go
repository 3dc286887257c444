package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/telecomverify/telecom/internal/testutil"
	"github.com/telecomverify/telecom/internal/verification"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	testutil.Equal(t, "0.0.0.0", cfg.Server.Host)
	testutil.Equal(t, 5000, cfg.Server.Port)
	testutil.Equal(t, 60, cfg.Server.RateLimit)
	testutil.Equal(t, 10, cfg.Server.ShutdownTimeout)
	testutil.SliceLen(t, cfg.Server.CORSAllowedOrigins, 1)
	testutil.Equal(t, "*", cfg.Server.CORSAllowedOrigins[0])

	testutil.Equal(t, "round-robin", cfg.Balancer.Kind)
	testutil.Equal(t, "count", cfg.Balancer.Scoring)
	testutil.SliceLen(t, cfg.Balancer.StepWeights, 5)
	testutil.Equal(t, 5.0, cfg.Balancer.StepWeights[4])
	testutil.False(t, cfg.Dispatch.Escalate)

	testutil.Equal(t, "sms", cfg.Dispatch.Channel)
	testutil.Equal(t, 10000, cfg.Dispatch.AttemptTimeoutMs)
	testutil.Equal(t, 10*time.Second, cfg.Dispatch.AttemptTimeout())
	testutil.Equal(t, 6, cfg.Dispatch.CodeLength)
	testutil.SliceLen(t, cfg.Dispatch.AllowedCountries, 0)

	testutil.Equal(t, "", cfg.Token.Secret)
	testutil.Equal(t, 900, cfg.Token.Duration)

	testutil.Equal(t, "", cfg.Events.NATSURL)
	testutil.Equal(t, 1024, cfg.Events.QueueSize)
	testutil.Equal(t, 3, cfg.Events.MaxRetries)

	testutil.Equal(t, "", cfg.Report.Schedule)

	testutil.Equal(t, "info", cfg.Logging.Level)
	testutil.Equal(t, "json", cfg.Logging.Format)

	testutil.SliceLen(t, cfg.Providers, 3)
	testutil.Equal(t, "alpha", cfg.Providers[0].Name)
	testutil.Equal(t, "mock", cfg.Providers[0].Type)

	testutil.NoError(t, cfg.Validate())
}

func TestAddress(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{name: "default", host: "0.0.0.0", port: 5000, want: "0.0.0.0:5000"},
		{name: "localhost", host: "127.0.0.1", port: 3000, want: "127.0.0.1:3000"},
		{name: "custom host", host: "verify.local", port: 443, want: "verify.local:443"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Server: ServerConfig{Host: tt.host, Port: tt.port}}
			testutil.Equal(t, tt.want, cfg.Address())
		})
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name string
		host string
		port int
		want string
	}{
		{name: "default replaces 0.0.0.0", host: "0.0.0.0", port: 5000, want: "http://localhost:5000"},
		{name: "empty host uses localhost", host: "", port: 5000, want: "http://localhost:5000"},
		{name: "custom host preserved", host: "verify.local", port: 3000, want: "http://verify.local:3000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Server: ServerConfig{Host: tt.host, Port: tt.port}}
			testutil.Equal(t, tt.want, cfg.BaseURL())
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			modify: func(c *Config) {},
		},
		{
			name:    "port zero",
			modify:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port must be between 1 and 65535",
		},
		{
			name:    "port too high",
			modify:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "server.port must be between 1 and 65535",
		},
		{
			name:    "negative rate limit",
			modify:  func(c *Config) { c.Server.RateLimit = -1 },
			wantErr: "server.rate_limit must be non-negative",
		},
		{
			name:   "balancer alias rr",
			modify: func(c *Config) { c.Balancer.Kind = "rr" },
		},
		{
			name:   "balancer alias b",
			modify: func(c *Config) { c.Balancer.Kind = "b" },
		},
		{
			name:    "unknown balancer",
			modify:  func(c *Config) { c.Balancer.Kind = "random" },
			wantErr: "balancer.kind must be",
		},
		{
			name:    "unknown scoring",
			modify:  func(c *Config) { c.Balancer.Scoring = "median" },
			wantErr: "balancer.scoring must be",
		},
		{
			name:   "voice channel",
			modify: func(c *Config) { c.Dispatch.Channel = "voice" },
		},
		{
			name:    "unknown channel",
			modify:  func(c *Config) { c.Dispatch.Channel = "fax" },
			wantErr: "dispatch.channel must be",
		},
		{
			name:    "negative timeout",
			modify:  func(c *Config) { c.Dispatch.AttemptTimeoutMs = -5 },
			wantErr: "dispatch.attempt_timeout_ms must be non-negative",
		},
		{
			name:    "code too short",
			modify:  func(c *Config) { c.Dispatch.CodeLength = 3 },
			wantErr: "dispatch.code_length must be between 4 and 10",
		},
		{
			name:    "lowercase country",
			modify:  func(c *Config) { c.Dispatch.AllowedCountries = []string{"us"} },
			wantErr: "dispatch.allowed_countries",
		},
		{
			name:    "short token secret",
			modify:  func(c *Config) { c.Token.Secret = "short" },
			wantErr: "token.secret must be at least 32 characters",
		},
		{
			name:    "zero token duration",
			modify:  func(c *Config) { c.Token.Duration = 0 },
			wantErr: "token.duration must be at least 1",
		},
		{
			name:    "zero queue",
			modify:  func(c *Config) { c.Events.QueueSize = 0 },
			wantErr: "events.queue_size must be at least 1",
		},
		{
			name:   "valid cron",
			modify: func(c *Config) { c.Report.Schedule = "*/5 * * * *" },
		},
		{
			name:    "invalid cron",
			modify:  func(c *Config) { c.Report.Schedule = "every minute" },
			wantErr: "report.schedule: invalid cron expression",
		},
		{
			name:    "invalid window",
			modify:  func(c *Config) { c.Report.Window = "-1h" },
			wantErr: "report.window must be a positive duration",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "logging.level must be one of",
		},
		{
			name:    "invalid log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format must be",
		},
		{
			name:    "no providers",
			modify:  func(c *Config) { c.Providers = nil },
			wantErr: "at least one [[providers]] entry is required",
		},
		{
			name:    "provider without name",
			modify:  func(c *Config) { c.Providers[0].Name = "" },
			wantErr: "providers[0].name is required",
		},
		{
			name:    "duplicate provider",
			modify:  func(c *Config) { c.Providers[1].Name = "alpha" },
			wantErr: "duplicate name \"alpha\"",
		},
		{
			name:    "mock percentage out of range",
			modify:  func(c *Config) { c.Providers[0].SMSFailurePct = 101 },
			wantErr: "providers.alpha.sms_failure_pct must be between 0 and 100",
		},
		{
			name:    "twilio missing credentials",
			modify:  func(c *Config) { c.Providers = []ProviderConfig{{Name: "t", Type: "twilio"}} },
			wantErr: "account_sid, auth_token and from are required",
		},
		{
			name:    "webhook missing url",
			modify:  func(c *Config) { c.Providers = []ProviderConfig{{Name: "w", Type: "webhook"}} },
			wantErr: "providers.w.url is required",
		},
		{
			name:    "unknown provider type",
			modify:  func(c *Config) { c.Providers[0].Type = "carrier-pigeon" },
			wantErr: "providers.alpha.type must be one of",
		},
		{
			name:   "sns and log providers",
			modify: func(c *Config) { c.Providers = []ProviderConfig{{Name: "s", Type: "sns"}, {Name: "l", Type: "log"}} },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				testutil.NoError(t, err)
			} else {
				testutil.ErrorContains(t, err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telecom.toml")
	content := `
[server]
host = "127.0.0.1"
port = 6000

[balancer]
kind = "best"
scoring = "rate"

[dispatch]
channel = "voice"
allowed_countries = ["US", "GB"]

[[providers]]
name = "only"
type = "mock"
sms_failure_pct = 0
voice_failure_pct = 100
`
	testutil.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, nil)
	testutil.NoError(t, err)
	testutil.Equal(t, "127.0.0.1", cfg.Server.Host)
	testutil.Equal(t, 6000, cfg.Server.Port)
	testutil.Equal(t, "best", cfg.Balancer.Kind)
	testutil.Equal(t, "rate", cfg.Balancer.Scoring)
	testutil.Equal(t, "voice", cfg.Dispatch.Channel)
	testutil.SliceLen(t, cfg.Dispatch.AllowedCountries, 2)
	// Unset keys keep their defaults.
	testutil.Equal(t, 6, cfg.Dispatch.CodeLength)
	// File providers replace the defaults.
	testutil.SliceLen(t, cfg.Providers, 1)
	testutil.Equal(t, "only", cfg.Providers[0].Name)
	testutil.Equal(t, 100, cfg.Providers[0].VoiceFailurePct)
}

func TestLoadEscalationAndStepWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telecom.toml")
	content := `
[balancer]
scoring = "weighted"
step_weights = [0.0, 1.0, 1.0, 4.0, 10.0]

[dispatch]
escalate = true
`
	testutil.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path, nil)
	testutil.NoError(t, err)
	testutil.Equal(t, "weighted", cfg.Balancer.Scoring)
	testutil.True(t, cfg.Dispatch.Escalate)
	w, err := cfg.Balancer.Weights()
	testutil.NoError(t, err)
	testutil.Equal(t, verification.StepWeights{0, 1, 1, 4, 10}, w)

	// Loading into a config must not leak into the package defaults.
	testutil.Equal(t, 1.0, Default().Balancer.StepWeights[0])
}

func TestValidateStepWeights(t *testing.T) {
	cfg := Default()
	cfg.Balancer.StepWeights = []float64{5, 4, 3, 2, 1}
	testutil.ErrorContains(t, cfg.Validate(), "balancer.step_weights")

	cfg.Balancer.StepWeights = []float64{1, 2}
	testutil.ErrorContains(t, cfg.Validate(), "expected 5 values")

	cfg.Balancer.StepWeights = []float64{1, 1, 2, 2, 3}
	cfg.Balancer.Scoring = "weighted"
	testutil.NoError(t, cfg.Validate())

	cfg.Balancer.Scoring = "median"
	testutil.ErrorContains(t, cfg.Validate(), "balancer.scoring")
}

func TestEscalateFromEnvAndFlags(t *testing.T) {
	t.Setenv("TELECOM_ESCALATE", "true")
	cfg := Default()
	testutil.NoError(t, applyEnv(cfg))
	testutil.True(t, cfg.Dispatch.Escalate)

	applyFlags(cfg, map[string]string{"escalate": "false"})
	testutil.False(t, cfg.Dispatch.Escalate)

	t.Setenv("TELECOM_ESCALATE", "maybe")
	testutil.ErrorContains(t, applyEnv(Default()), "TELECOM_ESCALATE")
}

func TestLoadFileWithoutProvidersKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telecom.toml")
	testutil.NoError(t, os.WriteFile(path, []byte("[server]\nport = 7000\n"), 0o644))

	cfg, err := Load(path, nil)
	testutil.NoError(t, err)
	testutil.Equal(t, 7000, cfg.Server.Port)
	testutil.SliceLen(t, cfg.Providers, 3)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.toml"), nil)
	testutil.NoError(t, err)
	testutil.Equal(t, 5000, cfg.Server.Port)
}

func TestLoadInvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telecom.toml")
	testutil.NoError(t, os.WriteFile(path, []byte("[server\nport = "), 0o644))

	_, err := Load(path, nil)
	testutil.ErrorContains(t, err, "parsing")
}

func TestLoadInvalidValueFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telecom.toml")
	testutil.NoError(t, os.WriteFile(path, []byte("[balancer]\nkind = \"weighted\"\n"), 0o644))

	_, err := Load(path, nil)
	testutil.ErrorContains(t, err, "config validation")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TELECOM_SERVER_HOST", "envhost")
	t.Setenv("TELECOM_SERVER_PORT", "9999")
	t.Setenv("TELECOM_SERVER_RATE_LIMIT", "0")
	t.Setenv("TELECOM_BALANCER", "b")
	t.Setenv("TELECOM_SCORING", "rate")
	t.Setenv("TELECOM_CHANNEL", "voice")
	t.Setenv("TELECOM_ATTEMPT_TIMEOUT_MS", "250")
	t.Setenv("TELECOM_CODE_LENGTH", "8")
	t.Setenv("TELECOM_ALLOWED_COUNTRIES", "US, GB")
	t.Setenv("TELECOM_TOKEN_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("TELECOM_NATS_URL", "nats://localhost:4222")
	t.Setenv("TELECOM_REPORT_SCHEDULE", "@hourly")
	t.Setenv("TELECOM_LOG_LEVEL", "debug")
	t.Setenv("TELECOM_LOG_FORMAT", "text")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"), nil)
	testutil.NoError(t, err)
	testutil.Equal(t, "envhost", cfg.Server.Host)
	testutil.Equal(t, 9999, cfg.Server.Port)
	testutil.Equal(t, 0, cfg.Server.RateLimit)
	testutil.Equal(t, "b", cfg.Balancer.Kind)
	testutil.Equal(t, "rate", cfg.Balancer.Scoring)
	testutil.Equal(t, "voice", cfg.Dispatch.Channel)
	testutil.Equal(t, 250*time.Millisecond, cfg.Dispatch.AttemptTimeout())
	testutil.Equal(t, 8, cfg.Dispatch.CodeLength)
	testutil.SliceLen(t, cfg.Dispatch.AllowedCountries, 2)
	testutil.Equal(t, "GB", cfg.Dispatch.AllowedCountries[1])
	testutil.Equal(t, "nats://localhost:4222", cfg.Events.NATSURL)
	testutil.Equal(t, "@hourly", cfg.Report.Schedule)
	testutil.Equal(t, "debug", cfg.Logging.Level)
	testutil.Equal(t, "text", cfg.Logging.Format)
}

func TestLoadFlagOverrides(t *testing.T) {
	flags := map[string]string{
		"port":     "3000",
		"host":     "flaghost",
		"balancer": "best",
		"channel":  "voice",
	}
	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"), flags)
	testutil.NoError(t, err)
	testutil.Equal(t, 3000, cfg.Server.Port)
	testutil.Equal(t, "flaghost", cfg.Server.Host)
	testutil.Equal(t, "best", cfg.Balancer.Kind)
	testutil.Equal(t, "voice", cfg.Dispatch.Channel)
}

func TestLoadPriority(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telecom.toml")
	testutil.NoError(t, os.WriteFile(path, []byte("[server]\nport = 6000\n"), 0o644))

	t.Setenv("TELECOM_SERVER_PORT", "7000")

	cfg, err := Load(path, map[string]string{"port": "8000"})
	testutil.NoError(t, err)
	testutil.Equal(t, 8000, cfg.Server.Port)

	cfg, err = Load(path, nil)
	testutil.NoError(t, err)
	testutil.Equal(t, 7000, cfg.Server.Port)
}

func TestApplyEnvInvalidInt(t *testing.T) {
	t.Setenv("TELECOM_SERVER_PORT", "not-a-number")
	cfg := Default()
	err := applyEnv(cfg)
	testutil.ErrorContains(t, err, "TELECOM_SERVER_PORT")
}

func TestApplyFlagsNilSafe(t *testing.T) {
	cfg := Default()
	applyFlags(cfg, nil)
	testutil.Equal(t, 5000, cfg.Server.Port)
}

func TestApplyFlagsEmptyValues(t *testing.T) {
	cfg := Default()
	applyFlags(cfg, map[string]string{"port": "", "host": "", "balancer": ""})
	testutil.Equal(t, 5000, cfg.Server.Port)
	testutil.Equal(t, "0.0.0.0", cfg.Server.Host)
	testutil.Equal(t, "round-robin", cfg.Balancer.Kind)
}

func TestGenerateDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "telecom.toml")
	testutil.NoError(t, GenerateDefault(path))

	data, err := os.ReadFile(path)
	testutil.NoError(t, err)
	testutil.Contains(t, string(data), "[server]")
	testutil.Contains(t, string(data), "port = 5000")
	testutil.Contains(t, string(data), "[[providers]]")

	// The generated file loads and validates.
	cfg, err := Load(path, nil)
	testutil.NoError(t, err)
	testutil.SliceLen(t, cfg.Providers, 3)
	testutil.Equal(t, 40, cfg.Providers[2].SMSFailurePct)
}

func TestToTOML(t *testing.T) {
	cfg := Default()
	out, err := cfg.ToTOML()
	testutil.NoError(t, err)
	testutil.Contains(t, out, "[server]")
	testutil.Contains(t, out, "[[providers]]")
	testutil.Contains(t, out, "alpha")
}

func TestReportWindowDuration(t *testing.T) {
	r := ReportConfig{}
	d, err := r.WindowDuration()
	testutil.NoError(t, err)
	testutil.Equal(t, time.Duration(0), d)

	r.Window = "90m"
	d, err = r.WindowDuration()
	testutil.NoError(t, err)
	testutil.Equal(t, 90*time.Minute, d)

	r.Window = "soon"
	_, err = r.WindowDuration()
	testutil.NotNil(t, err)
}

func TestIsValidKey(t *testing.T) {
	for _, key := range []string{"server.port", "balancer.kind", "dispatch.channel", "token.secret", "report.schedule", "logging.file"} {
		testutil.True(t, IsValidKey(key), key)
	}
	for _, key := range []string{"", "server", "database.url", "providers.name"} {
		testutil.False(t, IsValidKey(key), key)
	}
}

func TestGetValue(t *testing.T) {
	cfg := Default()
	cfg.Dispatch.AllowedCountries = []string{"US", "GB"}

	tests := []struct {
		key  string
		want any
	}{
		{"server.port", 5000},
		{"server.cors_allowed_origins", "*"},
		{"balancer.kind", "round-robin"},
		{"dispatch.code_length", 6},
		{"dispatch.allowed_countries", "US,GB"},
		{"token.duration", 900},
		{"logging.format", "json"},
		{"balancer.step_weights", "1,2,3,4,5"},
		{"dispatch.escalate", false},
	}
	for _, tt := range tests {
		got, err := GetValue(cfg, tt.key)
		testutil.NoError(t, err)
		testutil.Equal(t, tt.want, got)
	}

	_, err := GetValue(cfg, "nope.nope")
	testutil.ErrorContains(t, err, "unknown configuration key")
}

func TestSetValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telecom.toml")

	testutil.NoError(t, SetValue(path, "server.port", "3000"))
	data, err := os.ReadFile(path)
	testutil.NoError(t, err)
	testutil.Contains(t, string(data), "port = 3000")

	testutil.NoError(t, SetValue(path, "balancer.kind", "best"))

	cfg, err := Load(path, nil)
	testutil.NoError(t, err)
	testutil.Equal(t, 3000, cfg.Server.Port)
	testutil.Equal(t, "best", cfg.Balancer.Kind)
}

func TestSetValueInvalidKey(t *testing.T) {
	err := SetValue(filepath.Join(t.TempDir(), "telecom.toml"), "invalid", "value")
	testutil.ErrorContains(t, err, "invalid key format")
}

func TestSetValuePreservesExisting(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "telecom.toml")
	testutil.NoError(t, os.WriteFile(path, []byte("[server]\nhost = \"10.0.0.1\"\n"), 0o644))

	testutil.NoError(t, SetValue(path, "server.port", "4000"))

	cfg, err := Load(path, nil)
	testutil.NoError(t, err)
	testutil.Equal(t, "10.0.0.1", cfg.Server.Host)
	testutil.Equal(t, 4000, cfg.Server.Port)
}

func TestCoerceValue(t *testing.T) {
	testutil.Equal(t, any(3000), coerceValue("server.port", "3000"))
	testutil.Equal(t, any("abc"), coerceValue("server.port", "abc"))
	testutil.Equal(t, any("best"), coerceValue("balancer.kind", "best"))

	list, ok := coerceValue("dispatch.allowed_countries", "US, GB").([]string)
	testutil.True(t, ok)
	testutil.SliceLen(t, list, 2)

	testutil.Equal(t, any(true), coerceValue("dispatch.escalate", "true"))
	weights, ok := coerceValue("balancer.step_weights", "1, 2, 3, 4.5, 9").([]float64)
	testutil.True(t, ok)
	testutil.SliceLen(t, weights, 5)
	testutil.Equal(t, 4.5, weights[3])
	testutil.Equal(t, any("1,x"), coerceValue("balancer.step_weights", "1,x"))
}

func TestSetValueStepWeightsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telecom.toml")
	testutil.NoError(t, SetValue(path, "balancer.step_weights", "1,1,2,3,8"))
	testutil.NoError(t, SetValue(path, "dispatch.escalate", "true"))

	cfg, err := Load(path, nil)
	testutil.NoError(t, err)
	testutil.True(t, cfg.Dispatch.Escalate)
	testutil.Equal(t, 8.0, cfg.Balancer.StepWeights[4])
}
