package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/ptbhub/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	External      ExternalConfig
	SMB           SMBConfig
	Excel         ExcelConfig
	WebSocket     WebSocketConfig
	Jobs          JobsConfig
	Cache         CacheConfig
	Observability ObservabilityConfig

	// Permissions is the optional YAML overlay of the permission tables
	Permissions *PermissionsOverlay
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// Development disables Secure cookies and relaxes CORS
	Development    bool
	AllowedOrigins []string
	// SecretKey is the master secret for local JWT signing and SMB key derivation
	SecretKey string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig holds Redis settings. An empty URL disables Redis: the cache
// falls back to process memory and jobs run on the in-process pool.
type RedisConfig struct {
	URL          string
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Enabled reports whether a Redis URL is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// AuthConfig holds token, cookie and session settings
type AuthConfig struct {
	AccessTokenTTL         time.Duration
	RefreshTokenTTL        time.Duration
	AccessCookieName       string
	RefreshCookieName      string
	SessionTouchInterval   time.Duration
	ProfileRefreshInterval time.Duration
	LoginRatePerMinute     int
	// ThrottleEnabled toggles the global API throttle; login limits always apply
	ThrottleEnabled bool
}

// ExternalConfig configures the remote identity provider client
type ExternalConfig struct {
	APIURL         string
	Timeout        time.Duration
	ClientID       string
	ClientSecret   string
	TokenPath      string
	UserPath       string
	IntrospectPath string
	// OIDCIssuer enables signature verification on exchange-token when set
	OIDCIssuer string
}

// SMBConfig holds the environment fallback share and pool tuning
type SMBConfig struct {
	EncryptionKey  string
	Server         string
	Username       string
	Password       string
	ShareName      string
	Domain         string
	Port           int
	PathPrefix     string
	PoolMin        int
	PoolMax        int
	ConnectTimeout time.Duration
	UploadTimeout  time.Duration
	ProbeTimeout   time.Duration
	ConfigCacheTTL time.Duration
}

// Configured reports whether the environment fallback names a server
func (s SMBConfig) Configured() bool {
	return s.Server != "" && s.ShareName != ""
}

// ExcelConfig controls workbook output
type ExcelConfig struct {
	DataRoot string
	TempOnly bool
	Timezone string
}

// WebSocketConfig holds per-connection limits
type WebSocketConfig struct {
	RateLimit       int
	RateWindow      time.Duration
	SendBuffer      int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// JobsConfig holds background executor and schedule settings
type JobsConfig struct {
	QueueName             string
	FallbackWorkers       int
	JobTimeout            time.Duration
	DailySchedule         string
	MonthlySchedule       string
	SessionSweepSchedule  string
	PresenceSweepSchedule string
	ReminderSweepSchedule string
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	Enabled    bool
	MemorySize int
	DefaultTTL time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel           observability.LogLevel
	MetricsEnabled     bool
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// PermissionsOverlay extends the built-in alias and default policy tables
type PermissionsOverlay struct {
	Aliases  map[string][]string `yaml:"aliases"`
	CRUD     []string            `yaml:"crud"`
	ReadOnly []string            `yaml:"read_only"`
}

// LoadDotEnv loads .env files into the process environment when present.
// Variables already set in the environment win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return godotenv.Load(existing...)
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		External:      loadExternalConfig(),
		SMB:           loadSMBConfig(),
		Excel:         loadExcelConfig(),
		WebSocket:     loadWebSocketConfig(),
		Jobs:          loadJobsConfig(),
		Cache:         loadCacheConfig(),
		Observability: loadObservabilityConfig(),
	}

	if path := getEnv("PTBHUB_CONFIG_FILE", ""); path != "" {
		overlay, err := loadPermissionsOverlay(path)
		if err != nil {
			return nil, err
		}
		cfg.Permissions = overlay
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	secret := getEnv("SECRET_KEY", "")
	if secret == "" {
		secret = getEnv("JWT_SECRET", "")
	}
	return ServerConfig{
		Host:            getEnv("PTBHUB_HOST", "0.0.0.0"),
		Port:            getEnv("PTBHUB_PORT", "8000"),
		ReadTimeout:     getEnvDuration("PTBHUB_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("PTBHUB_WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:     getEnvDuration("PTBHUB_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout: getEnvDuration("PTBHUB_SHUTDOWN_TIMEOUT", 30*time.Second),
		Development:     getEnvBool("DEBUG", false),
		AllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		SecretKey:       secret,
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("DATABASE_URL", "postgres://localhost/ptbhub?sslmode=disable"),
		MaxOpenConns:    getEnvInt("DATABASE_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("DATABASE_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("DATABASE_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnectTimeout:  getEnvDuration("DATABASE_CONNECT_TIMEOUT", 10*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:          getEnv("REDIS_URL", ""),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 2*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", time.Second),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		AccessTokenTTL:         getEnvDuration("ACCESS_TOKEN_LIFETIME", time.Hour),
		RefreshTokenTTL:        getEnvDuration("REFRESH_TOKEN_LIFETIME", 7*24*time.Hour),
		AccessCookieName:       getEnv("AUTH_ACCESS_COOKIE", "access_token"),
		RefreshCookieName:      getEnv("AUTH_REFRESH_COOKIE", "refresh_token"),
		SessionTouchInterval:   getEnvDuration("SESSION_TOUCH_INTERVAL", 5*time.Minute),
		ProfileRefreshInterval: getEnvDuration("PROFILE_REFRESH_INTERVAL", time.Hour),
		LoginRatePerMinute:     getEnvInt("LOGIN_RATE_PER_MINUTE", 10),
		ThrottleEnabled:        getEnvBool("API_THROTTLE_ENABLED", false),
	}
}

func loadExternalConfig() ExternalConfig {
	return ExternalConfig{
		APIURL:         strings.TrimRight(getEnv("EXTERNAL_API_URL", ""), "/"),
		Timeout:        getEnvSeconds("EXTERNAL_API_TIMEOUT", 10*time.Second),
		ClientID:       getEnv("EXTERNAL_API_CLIENT_ID", ""),
		ClientSecret:   getEnv("EXTERNAL_API_CLIENT_SECRET", ""),
		TokenPath:      getEnv("EXTERNAL_API_TOKEN_PATH", "/auth/token"),
		UserPath:       getEnv("EXTERNAL_API_USER_PATH", "/auth/me"),
		IntrospectPath: getEnv("EXTERNAL_API_INTROSPECT_PATH", "/auth/introspect"),
		OIDCIssuer:     getEnv("EXTERNAL_OIDC_ISSUER", ""),
	}
}

func loadSMBConfig() SMBConfig {
	return SMBConfig{
		EncryptionKey:  getEnv("SMB_ENCRYPTION_KEY", ""),
		Server:         getEnv("SMB_SERVER", ""),
		Username:       getEnv("SMB_USERNAME", ""),
		Password:       getEnv("SMB_PASSWORD", ""),
		ShareName:      getEnv("SMB_SHARE_NAME", ""),
		Domain:         getEnv("SMB_DOMAIN", ""),
		Port:           getEnvInt("SMB_PORT", 445),
		PathPrefix:     getEnv("SMB_PATH_PREFIX", ""),
		PoolMin:        getEnvInt("SMB_POOL_MIN", 2),
		PoolMax:        getEnvInt("SMB_POOL_MAX", 5),
		ConnectTimeout: getEnvDuration("SMB_CONNECT_TIMEOUT", 15*time.Second),
		UploadTimeout:  getEnvDuration("SMB_UPLOAD_TIMEOUT", 60*time.Second),
		ProbeTimeout:   getEnvDuration("SMB_PROBE_TIMEOUT", 5*time.Second),
		ConfigCacheTTL: getEnvDuration("SMB_CONFIG_CACHE_TTL", 60*time.Second),
	}
}

func loadExcelConfig() ExcelConfig {
	return ExcelConfig{
		DataRoot: getEnv("PTBHUB_DATA_ROOT", "./data"),
		TempOnly: getEnvBool("EXCEL_TEMP_ONLY", false),
		Timezone: getEnv("EXCEL_TIMEZONE", "Asia/Jakarta"),
	}
}

func loadWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		RateLimit:       getEnvInt("WS_RATE_LIMIT", 30),
		RateWindow:      getEnvDuration("WS_RATE_WINDOW", 10*time.Second),
		SendBuffer:      getEnvInt("WS_SEND_BUFFER", 256),
		WriteTimeout:    getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		PingInterval:    getEnvDuration("WS_PING_INTERVAL", 30*time.Second),
		MaxMessageBytes: getEnvInt64("WS_MAX_MESSAGE_BYTES", 64*1024),
		AllowedOrigins:  getEnvList("WS_ALLOWED_ORIGINS", nil),
	}
}

func loadJobsConfig() JobsConfig {
	return JobsConfig{
		QueueName:             getEnv("JOBS_QUEUE", "ptbhub:jobs"),
		FallbackWorkers:       getEnvInt("JOBS_FALLBACK_WORKERS", 2),
		JobTimeout:            getEnvDuration("JOBS_TIMEOUT", 10*time.Minute),
		DailySchedule:         getEnv("JOBS_DAILY_SCHEDULE", "30 0 * * *"),
		MonthlySchedule:       getEnv("JOBS_MONTHLY_SCHEDULE", "0 1 26 * *"),
		SessionSweepSchedule:  getEnv("JOBS_SESSION_SWEEP_SCHEDULE", "*/15 * * * *"),
		PresenceSweepSchedule: getEnv("JOBS_PRESENCE_SWEEP_SCHEDULE", "*/5 * * * *"),
		ReminderSweepSchedule: getEnv("JOBS_REMINDER_SWEEP_SCHEDULE", "* * * * *"),
	}
}

func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:    getEnvBool("CACHE_ENABLED", true),
		MemorySize: getEnvInt("CACHE_MEMORY_SIZE", 4096),
		DefaultTTL: getEnvDuration("CACHE_DEFAULT_TTL", 1800*time.Second),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("OTEL_SERVICE_NAME", "ptbhub"),
		OTelServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("OTEL_INSECURE", true),
	}
}

func loadPermissionsOverlay(path string) (*PermissionsOverlay, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var doc struct {
		Permissions PermissionsOverlay `yaml:"permissions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &doc.Permissions, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server port is required")
	}
	if c.Server.SecretKey == "" {
		return errors.New("SECRET_KEY (or JWT_SECRET) is required")
	}
	if c.Database.URL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if c.SMB.PoolMin < 1 || c.SMB.PoolMax < c.SMB.PoolMin {
		return fmt.Errorf("invalid SMB pool bounds [%d, %d]", c.SMB.PoolMin, c.SMB.PoolMax)
	}
	if c.WebSocket.RateLimit < 1 || c.WebSocket.RateWindow <= 0 {
		return errors.New("websocket rate limit and window must be positive")
	}
	if c.Jobs.FallbackWorkers < 1 {
		return errors.New("JOBS_FALLBACK_WORKERS must be at least 1")
	}
	if _, err := time.LoadLocation(c.Excel.Timezone); err != nil {
		return fmt.Errorf("invalid EXCEL_TIMEZONE %q: %w", c.Excel.Timezone, err)
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return errors.New("OpenTelemetry endpoint is required when OTel is enabled")
	}
	return nil
}

// SMBKeyMaterial returns the secret used for SMB password key derivation
func (c *Config) SMBKeyMaterial() string {
	if c.SMB.EncryptionKey != "" {
		return c.SMB.EncryptionKey
	}
	return c.Server.SecretKey
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvSeconds accepts either a bare number of seconds or a Go duration
func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return getEnvDuration(key, defaultValue)
}

// getEnvList splits a comma-separated variable, dropping empty entries
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
