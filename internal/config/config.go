package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/bytes"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvStaging     = "staging"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// minSecretBytes is the shortest JWT secret accepted outside development.
const minSecretBytes = 32

// Config holds the application configuration
type Config struct {
	Env         string
	AppName     string
	FrontendURL string
	Timezone    string
	Location    *time.Location

	Server     ServerConfig
	JWT        JWTConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Minio      MinioConfig
	Email      EmailConfig
	SMS        SMSConfig
	Google     GoogleConfig
	RateLimit  RateLimitConfig
	Scheduler  SchedulerConfig
	PublicLink PublicLinkConfig
	Logging    LoggingConfig

	DeliveryTimeout  time.Duration
	AuditJournalPath string
}

type ServerConfig struct {
	Port int
	// UploadLimit is the raw body limit accepted by echo, e.g. "50M".
	UploadLimit      string
	UploadLimitBytes int64
}

type JWTConfig struct {
	Secret         string
	KeyID          string
	PreviousSecret string
	PreviousKeyID  string
	AccessTTL      time.Duration
	RefreshTTL     time.Duration
	// Generated is set when no secret was configured and one was made up.
	Generated bool
}

type DatabaseConfig struct {
	URL     string
	Timeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MinioConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	Bucket        string
	UploadTimeout time.Duration
}

type EmailConfig struct {
	Provider       string
	SendGridAPIKey string
	From           string
	FromName       string
	SMTPHost       string
	SMTPPort       int
	SMTPUsername   string
	SMTPPassword   string
}

type SMSConfig struct {
	Provider           string
	AWSRegion          string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	SenderID           string
	TwilioAccountSID   string
	TwilioAuthToken    string
	TwilioFrom         string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type RateLimitConfig struct {
	Window time.Duration
	Max    int
}

type SchedulerConfig struct {
	Tick              time.Duration
	ReminderSweep     time.Duration
	ReminderThreshold time.Duration
	BatchSize         int
}

type PublicLinkConfig struct {
	TTL    time.Duration
	MaxTTL time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// IsDeployed reports whether the environment serves real traffic.
func (c *Config) IsDeployed() bool {
	return c.Env == EnvStaging || c.Env == EnvProduction
}

func (c *Config) UsesDatabase() bool { return c.Database.URL != "" }
func (c *Config) UsesRedis() bool    { return c.Redis.Addr != "" }
func (c *Config) UsesMinio() bool    { return c.Minio.Endpoint != "" }
func (c *Config) GoogleEnabled() bool {
	return c.Google.ClientID != ""
}

// Load reads an optional .env file, then the environment and an optional
// YAML file named by CONFIG_FILE. Variables already set win over .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	if err := v.BindEnv("app_env", "APP_ENV", "NODE_ENV"); err != nil {
		return nil, err
	}

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return FromViper(v)
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 5000)
	v.SetDefault("app_env", EnvDevelopment)
	v.SetDefault("app_name", "Fix It by Threalty")
	v.SetDefault("frontend_url", "http://localhost:3000")
	v.SetDefault("app_timezone", "UTC")

	v.SetDefault("jwt_key_id", "primary")
	v.SetDefault("jwt_expires_in", "24h")
	v.SetDefault("jwt_refresh_expires_in", "720h")

	v.SetDefault("db_timeout", "10s")
	v.SetDefault("redis_db", 0)

	v.SetDefault("minio_bucket", "fixit-media")
	v.SetDefault("minio_use_ssl", false)
	v.SetDefault("upload_timeout", "60s")
	v.SetDefault("upload_limit", "50M")

	v.SetDefault("email_provider", "log")
	v.SetDefault("email_from", "no-reply@fixit.local")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("sms_provider", "log")
	v.SetDefault("delivery_timeout", "30s")

	v.SetDefault("rate_limit_window", "15m")
	v.SetDefault("rate_limit_max", 100)

	v.SetDefault("scheduler_tick", "1m")
	v.SetDefault("reminder_sweep", "1h")
	v.SetDefault("reminder_threshold", "72h")
	v.SetDefault("scheduler_batch_size", 100)

	v.SetDefault("public_link_ttl", "168h")
	v.SetDefault("public_link_max_ttl", "720h")

	v.SetDefault("audit_journal_path", "./data/audit-journal.jsonl")
	v.SetDefault("log_level", "info")
}

// FromViper builds and validates a Config from an already populated viper
// instance. Unknown enum values and unparsable durations are errors.
func FromViper(v *viper.Viper) (*Config, error) {
	c := &Config{
		Env:              strings.ToLower(strings.TrimSpace(v.GetString("app_env"))),
		AppName:          v.GetString("app_name"),
		FrontendURL:      strings.TrimRight(v.GetString("frontend_url"), "/"),
		Timezone:         v.GetString("app_timezone"),
		AuditJournalPath: v.GetString("audit_journal_path"),
	}
	c.Server.Port = v.GetInt("port")
	c.Server.UploadLimit = v.GetString("upload_limit")

	c.JWT = JWTConfig{
		Secret:         v.GetString("jwt_secret"),
		KeyID:          v.GetString("jwt_key_id"),
		PreviousSecret: v.GetString("jwt_previous_secret"),
		PreviousKeyID:  v.GetString("jwt_previous_key_id"),
	}
	c.Database.URL = v.GetString("database_url")
	c.Redis = RedisConfig{
		Addr:     v.GetString("redis_addr"),
		Password: v.GetString("redis_password"),
		DB:       v.GetInt("redis_db"),
	}
	c.Minio = MinioConfig{
		Endpoint:  v.GetString("minio_endpoint"),
		AccessKey: v.GetString("minio_access_key"),
		SecretKey: v.GetString("minio_secret_key"),
		UseSSL:    v.GetBool("minio_use_ssl"),
		Bucket:    v.GetString("minio_bucket"),
	}
	c.Email = EmailConfig{
		Provider:       strings.ToLower(v.GetString("email_provider")),
		SendGridAPIKey: v.GetString("sendgrid_api_key"),
		From:           v.GetString("email_from"),
		FromName:       v.GetString("email_from_name"),
		SMTPHost:       v.GetString("smtp_host"),
		SMTPPort:       v.GetInt("smtp_port"),
		SMTPUsername:   v.GetString("smtp_username"),
		SMTPPassword:   v.GetString("smtp_password"),
	}
	if c.Email.FromName == "" {
		c.Email.FromName = c.AppName
	}
	c.SMS = SMSConfig{
		Provider:           strings.ToLower(v.GetString("sms_provider")),
		AWSRegion:          v.GetString("aws_region"),
		AWSAccessKeyID:     v.GetString("aws_access_key_id"),
		AWSSecretAccessKey: v.GetString("aws_secret_access_key"),
		SenderID:           v.GetString("sms_sender_id"),
		TwilioAccountSID:   v.GetString("twilio_account_sid"),
		TwilioAuthToken:    v.GetString("twilio_auth_token"),
		TwilioFrom:         v.GetString("twilio_from"),
	}
	c.Google = GoogleConfig{
		ClientID:     v.GetString("google_client_id"),
		ClientSecret: v.GetString("google_client_secret"),
		RedirectURL:  v.GetString("google_redirect_url"),
	}
	c.RateLimit.Max = v.GetInt("rate_limit_max")
	c.Scheduler.BatchSize = v.GetInt("scheduler_batch_size")
	c.Logging = LoggingConfig{
		Level:  strings.ToLower(v.GetString("log_level")),
		Format: strings.ToLower(v.GetString("log_format")),
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"jwt_expires_in", &c.JWT.AccessTTL},
		{"jwt_refresh_expires_in", &c.JWT.RefreshTTL},
		{"db_timeout", &c.Database.Timeout},
		{"upload_timeout", &c.Minio.UploadTimeout},
		{"delivery_timeout", &c.DeliveryTimeout},
		{"rate_limit_window", &c.RateLimit.Window},
		{"scheduler_tick", &c.Scheduler.Tick},
		{"reminder_sweep", &c.Scheduler.ReminderSweep},
		{"reminder_threshold", &c.Scheduler.ReminderThreshold},
		{"public_link_ttl", &c.PublicLink.TTL},
		{"public_link_max_ttl", &c.PublicLink.MaxTTL},
	}
	for _, d := range durations {
		parsed, err := ParseDuration(v.GetString(d.key))
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", strings.ToUpper(d.key), err)
		}
		*d.dst = parsed
	}

	size, err := ParseSize(c.Server.UploadLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid UPLOAD_LIMIT: %w", err)
	}
	c.Server.UploadLimitBytes = size

	if c.Logging.Format == "" {
		c.Logging.Format = "text"
		if c.IsDeployed() {
			c.Logging.Format = "json"
		}
	}

	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if c.JWT.Secret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		c.JWT.Secret = secret
		c.JWT.Generated = true
	}
	return c, nil
}

func (c *Config) validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	switch c.Env {
	case EnvDevelopment, EnvStaging, EnvProduction, EnvTest:
	default:
		errs = append(errs, fmt.Errorf("APP_ENV must be one of development, staging, production, test (got %q)", c.Env))
	}
	check(c.Server.Port > 0 && c.Server.Port < 65536, "PORT must be between 1 and 65535")

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		errs = append(errs, fmt.Errorf("APP_TIMEZONE %q: %w", c.Timezone, err))
	}
	c.Location = loc

	if c.IsDeployed() {
		check(len(c.JWT.Secret) >= minSecretBytes, "JWT_SECRET must be at least %d bytes in %s", minSecretBytes, c.Env)
	}
	check(c.JWT.KeyID != "", "JWT_KEY_ID is required")
	check(c.JWT.PreviousSecret == "" || c.JWT.PreviousKeyID != "", "JWT_PREVIOUS_KEY_ID is required with JWT_PREVIOUS_SECRET")
	check(c.JWT.PreviousKeyID == "" || c.JWT.PreviousKeyID != c.JWT.KeyID, "JWT_PREVIOUS_KEY_ID must differ from JWT_KEY_ID")
	check(c.JWT.AccessTTL > 0, "JWT_EXPIRES_IN must be positive")
	check(c.JWT.RefreshTTL > 0, "JWT_REFRESH_EXPIRES_IN must be positive")

	check(c.Database.Timeout > 0, "DB_TIMEOUT must be positive")
	check(c.Redis.DB >= 0, "REDIS_DB must not be negative")
	check(c.Minio.Endpoint == "" || c.Minio.Bucket != "", "MINIO_BUCKET is required with MINIO_ENDPOINT")
	check(c.Minio.UploadTimeout > 0, "UPLOAD_TIMEOUT must be positive")
	check(c.Server.UploadLimitBytes > 0, "UPLOAD_LIMIT must be positive")

	switch c.Email.Provider {
	case "sendgrid":
		check(c.Email.SendGridAPIKey != "", "SENDGRID_API_KEY is required with EMAIL_PROVIDER=sendgrid")
	case "smtp":
		check(c.Email.SMTPHost != "", "SMTP_HOST is required with EMAIL_PROVIDER=smtp")
		check(c.Email.SMTPPort > 0, "SMTP_PORT must be positive")
	case "log":
	default:
		errs = append(errs, fmt.Errorf("EMAIL_PROVIDER must be one of sendgrid, smtp, log (got %q)", c.Email.Provider))
	}
	check(c.Email.Provider == "log" || c.Email.From != "", "EMAIL_FROM is required")

	switch c.SMS.Provider {
	case "sns":
		check(c.SMS.AWSRegion != "", "AWS_REGION is required with SMS_PROVIDER=sns")
	case "twilio":
		check(c.SMS.TwilioAccountSID != "" && c.SMS.TwilioAuthToken != "" && c.SMS.TwilioFrom != "",
			"TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM are required with SMS_PROVIDER=twilio")
	case "log":
	default:
		errs = append(errs, fmt.Errorf("SMS_PROVIDER must be one of sns, twilio, log (got %q)", c.SMS.Provider))
	}
	check(c.DeliveryTimeout > 0, "DELIVERY_TIMEOUT must be positive")

	check(c.RateLimit.Window > 0, "RATE_LIMIT_WINDOW must be positive")
	check(c.RateLimit.Max > 0, "RATE_LIMIT_MAX must be positive")

	check(c.Scheduler.Tick > 0, "SCHEDULER_TICK must be positive")
	check(c.Scheduler.ReminderSweep > 0, "REMINDER_SWEEP must be positive")
	check(c.Scheduler.ReminderThreshold > 0, "REMINDER_THRESHOLD must be positive")
	check(c.Scheduler.BatchSize > 0, "SCHEDULER_BATCH_SIZE must be positive")

	check(c.PublicLink.TTL > 0, "PUBLIC_LINK_TTL must be positive")
	check(c.PublicLink.MaxTTL >= c.PublicLink.TTL, "PUBLIC_LINK_MAX_TTL must not be shorter than PUBLIC_LINK_TTL")

	check(c.AuditJournalPath != "", "AUDIT_JOURNAL_PATH is required")

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	check(c.Logging.Format == "text" || c.Logging.Format == "json", "LOG_FORMAT must be text or json (got %q)", c.Logging.Format)

	return errors.Join(errs...)
}

// ParseDuration accepts Go durations plus a whole-day suffix, so "1d" and
// "24h" are equivalent.
func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.New("empty duration")
	}
	if days, ok := strings.CutSuffix(raw, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	return d, nil
}

// ParseSize reads byte sizes such as "50M" with the parser echo's BodyLimit
// uses, so the configured limit and the enforced one agree.
func ParseSize(raw string) (int64, error) {
	n, err := bytes.Parse(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid size %q", raw)
	}
	return n, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, minSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
