package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server     ServerConfig
	App        AppConfig
	Cache      CacheConfig
	Store      StoreConfig
	Database   DatabaseConfig
	Ledger     LedgerConfig
	Game       GameConfig
	Roles      RoleConfig
	Oracle     OracleConfig
	Randomness RandomnessConfig
	Notify     NotifyConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"traitfusion-api"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Debug       bool   `envconfig:"APP_DEBUG" default:"false"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`

	// APIKeys maps keys to caller identities: "identity:key,identity:key".
	APIKeys string `envconfig:"API_KEYS" default:""`
}

// CacheConfig holds attribute read cache settings.
type CacheConfig struct {
	Type string        `envconfig:"CACHE_TYPE" default:"memory"` // memory, redis or none
	TTL  time.Duration `envconfig:"CACHE_TTL" default:"5m"`

	RedisHost     string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort     int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
	RedisPrefix   string `envconfig:"REDIS_PREFIX" default:"traitfusion:attr:"`
}

// StoreConfig holds trait store settings.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"sqlite"` // sqlite, postgres, mysql or badger
	Path string `envconfig:"STORE_PATH" default:"./data/traits.db"`
	// Badger data directory
	Dir string `envconfig:"STORE_DIR" default:"./data/badger"`
	// PostgreSQL settings
	Host     string `envconfig:"STORE_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_PORT" default:"5432"`
	Name     string `envconfig:"STORE_NAME" default:"traitfusion"`
	User     string `envconfig:"STORE_USER" default:"postgres"`
	Password string `envconfig:"STORE_PASS" default:""`
	SSLMode  string `envconfig:"STORE_SSLMODE" default:"disable"`
}

// DatabaseConfig holds MySQL connection settings (mysql store and ledger).
type DatabaseConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	Name     string `envconfig:"DB_NAME" default:"traitfusion"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASS" default:""`
}

// LedgerConfig selects the reward ledger and collectible registry.
type LedgerConfig struct {
	Type string `envconfig:"LEDGER_TYPE" default:"memory"` // memory or mysql
}

// GameConfig holds the economic tuning of the game collection.
type GameConfig struct {
	Collection           string `envconfig:"GAME_COLLECTION" default:"traitfusion"`
	FightReward          uint64 `envconfig:"GAME_FIGHT_REWARD" default:"10"`
	PotionCost           uint64 `envconfig:"GAME_POTION_COST" default:"5"`
	LootBoxCost          uint64 `envconfig:"GAME_LOOTBOX_COST" default:"20"`
	StepsMilestoneReward uint64 `envconfig:"GAME_STEPS_MILESTONE_REWARD" default:"50"`
	QuestReward          uint64 `envconfig:"GAME_QUEST_REWARD" default:"25"`
	DailyResetSchedule   string `envconfig:"GAME_DAILY_RESET_SCHEDULE" default:"@daily"`
}

// RoleConfig lists the identities granted each capability.
type RoleConfig struct {
	Engine []string `envconfig:"ROLE_ENGINE" default:"engine"`
	Oracle []string `envconfig:"ROLE_ORACLE" default:"oracle"`
	Bridge []string `envconfig:"ROLE_BRIDGE" default:"bridge"`
}

// OracleConfig holds oracle adapter settings.
type OracleConfig struct {
	RequestTTL      time.Duration `envconfig:"ORACLE_REQUEST_TTL" default:"24h"`
	JanitorSchedule string        `envconfig:"ORACLE_JANITOR_SCHEDULE" default:"@every 10m"`
}

// RandomnessConfig holds local randomness beacon settings.
type RandomnessConfig struct {
	Delay   time.Duration `envconfig:"RANDOMNESS_DELAY" default:"2s"`
	Values  int           `envconfig:"RANDOMNESS_VALUES" default:"1"`
	Retries int           `envconfig:"RANDOMNESS_RETRIES" default:"3"`
}

// NotifyConfig holds change-notification sinks.
type NotifyConfig struct {
	Log          bool   `envconfig:"NOTIFY_LOG" default:"true"`
	RedisStream  string `envconfig:"NOTIFY_REDIS_STREAM" default:""`
	StreamMaxLen int64  `envconfig:"NOTIFY_STREAM_MAXLEN" default:"10000"`
	FeedSize     int    `envconfig:"NOTIFY_FEED_SIZE" default:"1000"`

	MongoURI        string `envconfig:"MONGODB_URI" default:""`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"traitfusion"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"events"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsDevelopment returns true if running in development mode.
func (a *AppConfig) IsDevelopment() bool {
	return a.Environment == "development"
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// ParseAPIKeys parses "identity:key" pairs into a key -> identity map.
func ParseAPIKeys(raw string) (map[string]string, error) {
	keys := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		identity, key, ok := strings.Cut(pair, ":")
		identity, key = strings.TrimSpace(identity), strings.TrimSpace(key)
		if !ok || identity == "" || key == "" {
			return nil, fmt.Errorf("invalid API_KEYS entry %q, want identity:key", pair)
		}
		if _, dup := keys[key]; dup {
			return nil, fmt.Errorf("duplicate key in API_KEYS for %q", identity)
		}
		keys[key] = identity
	}
	return keys, nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	keys, err := ParseAPIKeys(cfg.App.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.IsProduction() && len(keys) == 0 {
		return nil, fmt.Errorf("failed to load config: API_KEYS is required when APP_ENV=production")
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
