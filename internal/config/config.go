package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"posadmin/backend/internal/domain"
)

// EnvPrefix namespaces every variable; the short names in the tags are
// accepted as well (PORT and POSADMIN_APP_PORT both work).
const EnvPrefix = "POSADMIN"

type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	GenAI     GenAIConfig
	Inventory InventoryConfig
}

type AppConfig struct {
	Env            string   `envconfig:"APP_ENV" default:"dev"`
	Port           string   `envconfig:"PORT" default:"8080"`
	LogLevel       string   `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat      string   `envconfig:"LOG_FORMAT" default:"json"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"http://127.0.0.1:3000"`
	DefaultStoreID string   `envconfig:"DEFAULT_STORE_ID" default:"main-store"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, "dev")
}

type DBConfig struct {
	URL             string        `envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"30"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"8"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
	AutoMigrate     bool          `envconfig:"DB_AUTO_MIGRATE" default:"true"`
}

type RedisConfig struct {
	Addr        string        `envconfig:"REDIS_ADDR"`
	Password    string        `envconfig:"REDIS_PASSWORD"`
	DB          int           `envconfig:"REDIS_DB" default:"0"`
	ForecastTTL time.Duration `envconfig:"FORECAST_CACHE_TTL" default:"6h"`
}

type AuthConfig struct {
	Secret         string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	LoginAttempts  int           `envconfig:"LOGIN_ATTEMPTS_PER_MINUTE" default:"5"`
}

type GenAIConfig struct {
	APIKey  string        `envconfig:"GENAI_API_KEY"`
	Model   string        `envconfig:"GENAI_MODEL" default:"gemini-2.0-flash"`
	Timeout time.Duration `envconfig:"GENAI_TIMEOUT" default:"20s"`
}

type InventoryConfig struct {
	StockPolicy string `envconfig:"STOCK_POLICY" default:"reject"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	if _, err := domain.ParseStockPolicy(cfg.Inventory.StockPolicy); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StockPolicy returns the parsed inventory policy; Load has already validated it.
func (c Config) StockPolicy() domain.StockPolicy {
	policy, err := domain.ParseStockPolicy(c.Inventory.StockPolicy)
	if err != nil {
		return domain.StockPolicyReject
	}
	return policy
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.App.Port)
}
