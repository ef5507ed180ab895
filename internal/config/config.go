package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env      string         `mapstructure:"Env"`
	Server   ServerConfig   `mapstructure:"Server"`
	Database DatabaseConfig `mapstructure:"Database"`
	Redis    RedisConfig    `mapstructure:"Redis"`
	Deploy   DeployConfig   `mapstructure:"Deploy"`
	Log      LogConfig      `mapstructure:"Log"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"Port"`
	PublicBaseURL   string        `mapstructure:"PublicBaseURL"`
	RequestTimeout  time.Duration `mapstructure:"RequestTimeout"`
	ShutdownTimeout time.Duration `mapstructure:"ShutdownTimeout"`
	AllowedOrigins  []string      `mapstructure:"AllowedOrigins"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"Host"`
	Port           string `mapstructure:"Port"`
	User           string `mapstructure:"User"`
	Password       string `mapstructure:"Password"`
	Name           string `mapstructure:"Name"`
	SSLMode        string `mapstructure:"SSLMode"`
	MaxOpenConns   int    `mapstructure:"MaxOpenConns"`
	MaxIdleConns   int    `mapstructure:"MaxIdleConns"`
	MigrationsPath string `mapstructure:"MigrationsPath"`
}

// RedisConfig - пустой Addr означает блокировки внутри процесса
type RedisConfig struct {
	Addr     string `mapstructure:"Addr"`
	Password string `mapstructure:"Password"`
	DB       int    `mapstructure:"DB"`
}

// DeployConfig - ограничения и параметры конвейера развертывания.
// Нулевые лимиты архива означают отсутствие ограничения.
type DeployConfig struct {
	MaxArchiveBytes      int64         `mapstructure:"MaxArchiveBytes"`
	MaxArchiveEntries    int           `mapstructure:"MaxArchiveEntries"`
	MaxUncompressedBytes int64         `mapstructure:"MaxUncompressedBytes"`
	CopyConcurrency      int           `mapstructure:"CopyConcurrency"`
	LeaseTTL             time.Duration `mapstructure:"LeaseTTL"`
	StalePendingAfter    time.Duration `mapstructure:"StalePendingAfter"`
}

type LogConfig struct {
	Level  string `mapstructure:"Level"`
	Format string `mapstructure:"Format"`
}

var envBindings = map[string]string{
	"Env":                         "APP_ENV",
	"Server.Port":                 "HTTP_PORT",
	"Server.PublicBaseURL":        "PUBLIC_BASE_URL",
	"Server.RequestTimeout":       "REQUEST_TIMEOUT",
	"Server.ShutdownTimeout":      "SHUTDOWN_TIMEOUT",
	"Server.AllowedOrigins":       "ALLOWED_ORIGINS",
	"Database.Host":               "DATABASE_HOST",
	"Database.Port":               "DATABASE_PORT",
	"Database.User":               "DATABASE_USER",
	"Database.Password":           "DATABASE_PASSWORD",
	"Database.Name":               "DATABASE_NAME",
	"Database.SSLMode":            "DATABASE_SSLMODE",
	"Database.MaxOpenConns":       "DATABASE_MAX_OPEN_CONNS",
	"Database.MaxIdleConns":       "DATABASE_MAX_IDLE_CONNS",
	"Database.MigrationsPath":     "DATABASE_MIGRATIONS_PATH",
	"Redis.Addr":                  "REDIS_ADDR",
	"Redis.Password":              "REDIS_PASSWORD",
	"Redis.DB":                    "REDIS_DB",
	"Deploy.MaxArchiveBytes":      "DEPLOY_MAX_ARCHIVE_BYTES",
	"Deploy.MaxArchiveEntries":    "DEPLOY_MAX_ARCHIVE_ENTRIES",
	"Deploy.MaxUncompressedBytes": "DEPLOY_MAX_UNCOMPRESSED_BYTES",
	"Deploy.CopyConcurrency":      "DEPLOY_COPY_CONCURRENCY",
	"Deploy.LeaseTTL":             "DEPLOY_LEASE_TTL",
	"Deploy.StalePendingAfter":    "DEPLOY_STALE_PENDING_AFTER",
	"Log.Level":                   "LOG_LEVEL",
	"Log.Format":                  "LOG_FORMAT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("Env", EnvDevelopment)
	v.SetDefault("Server.Port", "2525")
	v.SetDefault("Server.PublicBaseURL", "http://localhost:2525")
	v.SetDefault("Server.RequestTimeout", 5*time.Minute)
	v.SetDefault("Server.ShutdownTimeout", 30*time.Second)
	v.SetDefault("Server.AllowedOrigins", []string{"*"})
	v.SetDefault("Database.Port", "5432")
	v.SetDefault("Database.SSLMode", "disable")
	v.SetDefault("Database.MaxOpenConns", 25)
	v.SetDefault("Database.MaxIdleConns", 5)
	v.SetDefault("Database.MigrationsPath", "file://migrations")
	v.SetDefault("Deploy.MaxArchiveBytes", int64(100<<20))
	v.SetDefault("Deploy.MaxArchiveEntries", 10000)
	v.SetDefault("Deploy.MaxUncompressedBytes", int64(512<<20))
	v.SetDefault("Deploy.CopyConcurrency", 8)
	v.SetDefault("Deploy.LeaseTTL", 10*time.Minute)
	v.SetDefault("Deploy.StalePendingAfter", time.Hour)
	v.SetDefault("Log.Level", "info")
	v.SetDefault("Log.Format", "json")
}

// NewConfig читает конфигурацию из env-файла, переменные окружения имеют приоритет
func NewConfig(path string) (*Config, error) {
	// .env в рабочей директории подхватываем, если он есть
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("env")
	setDefaults(v)

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	// Ключи env-файла совпадают с именами переменных окружения,
	// переносим их в структурные ключи, если переменная не задана
	for key, env := range envBindings {
		fileKey := strings.ToLower(env)
		if os.Getenv(env) == "" && v.InConfig(fileKey) {
			v.Set(key, v.Get(fileKey))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
		return fmt.Errorf("database configuration is incomplete: host=%s, port=%s, user=%s, name=%s",
			c.Database.Host, c.Database.Port, c.Database.User, c.Database.Name)
	}
	if c.Deploy.CopyConcurrency < 1 {
		c.Deploy.CopyConcurrency = 1
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// GetURL возвращает строку подключения в формате, который ожидает migrate
func (c *DatabaseConfig) GetURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}
