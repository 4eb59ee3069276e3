package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration required by the router process.
// All values must come from env (or an optional .env file).
// No business logic should depend on raw environment variables.
type Config struct {
	App    AppConfig
	DB     DBConfig
	Redis  RedisConfig
	Auth   AuthConfig
	Twilio TwilioConfig
	Router RouterConfig

	// StateBackend selects where idempotency keys and agent availability live.
	StateBackend string
	// ConfigBackend selects where routing rules, menus and call records live.
	ConfigBackend string
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type AppConfig struct {
	Env  string
	Port int

	// LogFile adds a rotated JSON log file next to stdout.
	LogFile string
	// SeedFile is a JSON roster and configuration loaded at startup.
	SeedFile string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// PublicBaseURL is the externally reachable base of this service. Webhook
	// signatures are computed against it.
	PublicBaseURL string
}

// Enabled reports whether calls are driven through Twilio. Without it the
// router uses the in-process call control.
func (t TwilioConfig) Enabled() bool {
	return t.AccountSID != "" && t.AuthToken != ""
}

type RouterConfig struct {
	IdempotencyTTL       time.Duration
	RingTimeout          time.Duration
	MaxRingAttempts      int
	IVRMaxDuration       time.Duration
	QueueMaxWait         time.Duration
	QueueSweepInterval   time.Duration
	RuleCacheTTL         time.Duration
	TombstoneTTL         time.Duration
	ProviderRetries      int
	DefaultForwardNumber string
	RecordCalls          bool
	RecorderWorkers      int
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("config: .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds and validates a Config from the process environment.
func FromEnv() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = requiredInt(parseErrs, "APP_PORT")
	c.App.LogFile = strings.TrimSpace(os.Getenv("LOG_FILE"))
	c.App.SeedFile = strings.TrimSpace(os.Getenv("SEED_FILE"))

	c.StateBackend = strings.ToLower(strings.TrimSpace(os.Getenv("STATE_BACKEND")))
	c.ConfigBackend = strings.ToLower(strings.TrimSpace(os.Getenv("CONFIG_BACKEND")))

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = optionalInt(parseErrs, "DB_PORT")
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = optionalInt(parseErrs, "REDIS_PORT")
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = optionalInt(parseErrs, "REDIS_DB")

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optionalDuration(parseErrs, "JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PublicBaseURL = strings.TrimSpace(os.Getenv("TWILIO_PUBLIC_BASE_URL"))

	r := &c.Router
	r.IdempotencyTTL, parseErrs = optionalDuration(parseErrs, "ROUTER_IDEMPOTENCY_TTL")
	r.RingTimeout, parseErrs = optionalDuration(parseErrs, "ROUTER_RING_TIMEOUT")
	r.MaxRingAttempts, parseErrs = optionalInt(parseErrs, "ROUTER_MAX_RING_ATTEMPTS")
	r.IVRMaxDuration, parseErrs = optionalDuration(parseErrs, "ROUTER_IVR_MAX_DURATION")
	r.QueueMaxWait, parseErrs = optionalDuration(parseErrs, "ROUTER_QUEUE_MAX_WAIT")
	r.QueueSweepInterval, parseErrs = optionalDuration(parseErrs, "ROUTER_QUEUE_SWEEP_INTERVAL")
	r.RuleCacheTTL, parseErrs = optionalDuration(parseErrs, "ROUTER_RULE_CACHE_TTL")
	r.TombstoneTTL, parseErrs = optionalDuration(parseErrs, "ROUTER_TOMBSTONE_TTL")
	r.ProviderRetries, parseErrs = optionalInt(parseErrs, "ROUTER_PROVIDER_RETRIES")
	r.DefaultForwardNumber = strings.TrimSpace(os.Getenv("ROUTER_DEFAULT_FORWARD_NUMBER"))
	r.RecordCalls, parseErrs = optionalBool(parseErrs, "ROUTER_RECORD_CALLS")
	r.RecorderWorkers, parseErrs = optionalInt(parseErrs, "ROUTER_RECORDER_WORKERS")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks c and fills in defaults. It has a pointer receiver
// because defaults are written back.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.StateBackend == "" {
		c.StateBackend = BackendMemory
	}
	if c.ConfigBackend == "" {
		c.ConfigBackend = BackendMemory
	}
	switch c.StateBackend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("STATE_BACKEND must be one of memory, redis, got %q", c.StateBackend))
	}
	switch c.ConfigBackend {
	case BackendMemory, BackendPostgres:
	default:
		errs = append(errs, fmt.Errorf("CONFIG_BACKEND must be one of memory, postgres, got %q", c.ConfigBackend))
	}
	if c.IsProduction() {
		// A production router must share state across instances.
		if c.StateBackend != BackendRedis {
			errs = append(errs, errors.New("STATE_BACKEND must be redis in production"))
		}
		if c.ConfigBackend != BackendPostgres {
			errs = append(errs, errors.New("CONFIG_BACKEND must be postgres in production"))
		}
	}

	if c.ConfigBackend == BackendPostgres {
		errs = append(errs, c.validateDB()...)
	}
	if c.StateBackend == BackendRedis {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port == 0 {
			c.Redis.Port = 6379
		}
		if c.Redis.Port < 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
	}
	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	if (c.Twilio.AccountSID == "") != (c.Twilio.AuthToken == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together"))
	}
	if c.Twilio.Enabled() && c.Twilio.PublicBaseURL == "" {
		errs = append(errs, errors.New("TWILIO_PUBLIC_BASE_URL is required with Twilio credentials"))
	}

	errs = append(errs, c.Router.applyDefaults()...)
	return joinErrors(errs)
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port == 0 {
		c.DB.Port = 5432
	}
	if c.DB.Port < 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.DB.SSLMode == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (r *RouterConfig) applyDefaults() []error {
	var errs []error
	if r.IdempotencyTTL <= 0 {
		r.IdempotencyTTL = 24 * time.Hour
	}
	if r.RingTimeout <= 0 {
		r.RingTimeout = 20 * time.Second
	}
	if r.MaxRingAttempts <= 0 {
		r.MaxRingAttempts = 3
	}
	if r.IVRMaxDuration <= 0 {
		r.IVRMaxDuration = 5 * time.Minute
	}
	if r.QueueMaxWait <= 0 {
		r.QueueMaxWait = 5 * time.Minute
	}
	if r.QueueSweepInterval <= 0 {
		r.QueueSweepInterval = time.Second
	}
	if r.RuleCacheTTL <= 0 {
		r.RuleCacheTTL = 30 * time.Second
	}
	if r.TombstoneTTL <= 0 {
		r.TombstoneTTL = 15 * time.Minute
	}
	if r.ProviderRetries < 0 {
		errs = append(errs, fmt.Errorf("ROUTER_PROVIDER_RETRIES must not be negative, got %d", r.ProviderRetries))
	}
	if r.ProviderRetries == 0 {
		r.ProviderRetries = 2
	}
	if r.RecorderWorkers <= 0 {
		r.RecorderWorkers = 2
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func requiredInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, append(errs, fmt.Errorf("%s is required", key))
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optionalInt(errs []error, key string) (int, []error) {
	if strings.TrimSpace(os.Getenv(key)) == "" {
		return 0, errs
	}
	return requiredInt(errs, key)
}

func optionalDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func optionalBool(errs []error, key string) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
