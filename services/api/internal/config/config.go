package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	StoreBackend      string `yaml:"storeBackend"` // postgres | memory
	DatabaseURL       string `yaml:"databaseURL"`
	DBMaxOpenConns    int    `yaml:"dbMaxOpenConns"`
	DBMaxIdleConns    int    `yaml:"dbMaxIdleConns"`
	DBConnMaxLifetime string `yaml:"dbConnMaxLifetime"`

	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	JWTSecret           string            `yaml:"jwtSecret"`
	JWTPrivateKeyPath   string            `yaml:"jwtPrivateKeyPath"`
	JWTPublicKeyPath    string            `yaml:"jwtPublicKeyPath"`
	JWTKeyID            string            `yaml:"jwtKeyId"`
	JWTVerifyPublicKeys map[string]string `yaml:"jwtVerifyPublicKeys"`
	JWTIssuer           string            `yaml:"jwtIssuer"`
	JWTAudience         string            `yaml:"jwtAudience"`
	JWTLeeway           string            `yaml:"jwtLeeway"`
	AnonTokenTTL        string            `yaml:"anonTokenTTL"`
	AdminTokenTTL       string            `yaml:"adminTokenTTL"`

	ImageHost          string `yaml:"imageHost"` // minio | memory
	MinioEndpoint      string `yaml:"minioEndpoint"`
	MinioAccessKey     string `yaml:"minioAccessKey"`
	MinioSecretKey     string `yaml:"minioSecretKey"`
	MinioBucket        string `yaml:"minioBucket"`
	MinioUseSSL        bool   `yaml:"minioUseSSL"`
	MinioPublicBaseURL string `yaml:"minioPublicBaseURL"`
	MinioPublicRead    bool   `yaml:"minioPublicRead"`

	Generator           string `yaml:"generator"` // placeholder | openai
	GenerationDelay     string `yaml:"generationDelay"`
	GenerationWorkers   int    `yaml:"generationWorkers"`
	GenerationQueueSize int    `yaml:"generationQueueSize"`
	OpenAIAPIKey        string `yaml:"openaiApiKey"`
	OpenAIBaseURL       string `yaml:"openaiBaseURL"`
	OpenAIImageModel    string `yaml:"openaiImageModel"`
	OpenAIMaxRetries    int    `yaml:"openaiMaxRetries"`

	MaxUploadBytes int64 `yaml:"maxUploadBytes"`
	MaxUploadFiles int   `yaml:"maxUploadFiles"`

	TrustedProxyCIDRs           []string `yaml:"trustedProxyCidrs"`
	LoginRateLimitPerMinute     int      `yaml:"loginRateLimitPerMinute"`
	AnonTokenRateLimitPerMinute int      `yaml:"anonTokenRateLimitPerMinute"`

	StartupRetryAttempts int    `yaml:"startupRetryAttempts"`
	StartupRetryDelay    string `yaml:"startupRetryDelay"`
}

// Default returns the settings used when neither file nor env set a value.
func Default() FileConfig {
	return FileConfig{
		Port:                        "5000",
		LogLevel:                    "info",
		StoreBackend:                "postgres",
		DBMaxOpenConns:              20,
		DBMaxIdleConns:              10,
		DBConnMaxLifetime:           "30m",
		JWTLeeway:                   "30s",
		AnonTokenTTL:                "720h",
		AdminTokenTTL:               "24h",
		ImageHost:                   "minio",
		MinioBucket:                 "prompt-images",
		Generator:                   "placeholder",
		GenerationDelay:             "1s",
		GenerationWorkers:           4,
		GenerationQueueSize:         256,
		OpenAIImageModel:            "dall-e-3",
		MaxUploadBytes:              5 << 20,
		MaxUploadFiles:              10,
		LoginRateLimitPerMinute:     10,
		AnonTokenRateLimitPerMinute: 30,
		StartupRetryAttempts:        10,
		StartupRetryDelay:           "2s",
	}
}

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Load reads config from path (defaults to config.yaml) on top of Default,
// then applies environment overrides. A missing file is not an error.
func Load(path string) (FileConfig, error) {
	cfg := Default()
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case !os.IsNotExist(err):
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString("PORT", &cfg.Port)
	setString("LOG_LEVEL", &cfg.LogLevel)
	setString("STORE_BACKEND", &cfg.StoreBackend)
	setString("DATABASE_URL", &cfg.DatabaseURL)
	setInt("DB_MAX_OPEN_CONNS", &cfg.DBMaxOpenConns)
	setInt("DB_MAX_IDLE_CONNS", &cfg.DBMaxIdleConns)
	setString("DB_CONN_MAX_LIFETIME", &cfg.DBConnMaxLifetime)
	setString("REDIS_ADDR", &cfg.RedisAddr)
	setString("REDIS_PASSWORD", &cfg.RedisPassword)

	setString("JWT_SECRET", &cfg.JWTSecret)
	setString("JWT_PRIVATE_KEY_PATH", &cfg.JWTPrivateKeyPath)
	setString("JWT_PUBLIC_KEY_PATH", &cfg.JWTPublicKeyPath)
	setString("JWT_KEY_ID", &cfg.JWTKeyID)
	setString("JWT_ISSUER", &cfg.JWTIssuer)
	setString("JWT_AUDIENCE", &cfg.JWTAudience)
	setString("JWT_LEEWAY", &cfg.JWTLeeway)
	setString("ANON_TOKEN_TTL", &cfg.AnonTokenTTL)
	setString("ADMIN_TOKEN_TTL", &cfg.AdminTokenTTL)

	setString("IMAGE_HOST", &cfg.ImageHost)
	setString("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	setString("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	setString("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	setString("MINIO_BUCKET", &cfg.MinioBucket)
	setBool("MINIO_USE_SSL", &cfg.MinioUseSSL)
	setString("MINIO_PUBLIC_BASE_URL", &cfg.MinioPublicBaseURL)
	setBool("MINIO_PUBLIC_READ", &cfg.MinioPublicRead)

	setString("GENERATOR", &cfg.Generator)
	setString("GENERATION_DELAY", &cfg.GenerationDelay)
	setInt("GENERATION_WORKERS", &cfg.GenerationWorkers)
	setInt("GENERATION_QUEUE_SIZE", &cfg.GenerationQueueSize)
	setString("OPENAI_API_KEY", &cfg.OpenAIAPIKey)
	setString("OPENAI_BASE_URL", &cfg.OpenAIBaseURL)
	setString("OPENAI_IMAGE_MODEL", &cfg.OpenAIImageModel)
	setInt("OPENAI_MAX_RETRIES", &cfg.OpenAIMaxRetries)

	if v := strings.TrimSpace(os.Getenv("MAX_UPLOAD_BYTES")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	setInt("MAX_UPLOAD_FILES", &cfg.MaxUploadFiles)
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	setInt("LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	setInt("ANON_TOKEN_RATE_LIMIT_PER_MINUTE", &cfg.AnonTokenRateLimitPerMinute)
	setInt("STARTUP_RETRY_ATTEMPTS", &cfg.StartupRetryAttempts)
	setString("STARTUP_RETRY_DELAY", &cfg.StartupRetryDelay)
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	switch cfg.StoreBackend {
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres store (set in config.yaml or DATABASE_URL)")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown storeBackend %q (want postgres or memory)", cfg.StoreBackend)
	}
	if strings.TrimSpace(cfg.JWTPrivateKeyPath) == "" && len(cfg.JWTSecret) < 16 {
		return errors.New("config: jwtSecret of at least 16 bytes is required unless jwtPrivateKeyPath is set (JWT_SECRET)")
	}
	switch cfg.ImageHost {
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint and minioBucket are required for the minio image host")
		}
	case "memory":
	default:
		return fmt.Errorf("config: unknown imageHost %q (want minio or memory)", cfg.ImageHost)
	}
	switch cfg.Generator {
	case "placeholder":
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return errors.New("config: openaiApiKey is required for the openai generator (OPENAI_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown generator %q (want placeholder or openai)", cfg.Generator)
	}
	if cfg.GenerationWorkers <= 0 || cfg.GenerationQueueSize <= 0 {
		return errors.New("config: generationWorkers and generationQueueSize must be > 0")
	}
	if cfg.MaxUploadBytes <= 0 || cfg.MaxUploadFiles <= 0 {
		return errors.New("config: maxUploadBytes and maxUploadFiles must be > 0")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.AnonTokenRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if (cfg.LoginRateLimitPerMinute > 0 || cfg.AnonTokenRateLimitPerMinute > 0) && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for rate limiting (set REDIS_ADDR or disable the limits)")
	}
	for name, value := range map[string]string{
		"dbConnMaxLifetime": cfg.DBConnMaxLifetime,
		"jwtLeeway":         cfg.JWTLeeway,
		"anonTokenTTL":      cfg.AnonTokenTTL,
		"adminTokenTTL":     cfg.AdminTokenTTL,
		"generationDelay":   cfg.GenerationDelay,
		"startupRetryDelay": cfg.StartupRetryDelay,
	} {
		if _, err := ParseDuration(name, value); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// ParseDuration parses an optional duration setting. Empty means zero.
func ParseDuration(name, value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

// MustDuration is ParseDuration for values already checked by Load.
func MustDuration(value string) time.Duration {
	dur, _ := ParseDuration("", value)
	return dur
}
