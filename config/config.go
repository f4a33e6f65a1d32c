package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config содержит все настройки сервиса
type Config struct {
	AppName  string
	Version  string
	LogLevel string
	ENV      string

	Server struct {
		Host            string
		Port            int
		ReadTimeout     time.Duration
		WriteTimeout    time.Duration
		ShutdownTimeout time.Duration
	}

	Postgres struct {
		Host     string
		Port     int
		User     string
		Password string
		DBName   string
		SSLMode  string
		Timeout  time.Duration
		PoolSize int // размер пула соединений
	}

	Redis struct {
		Host              string
		Port              int
		Password          string
		DB                int
		DefaultExpiration time.Duration // срок действия кэша по умолчанию
		LockTTL           time.Duration // срок жизни блокировки обработчика сущности
	}

	Kafka struct {
		Brokers           []string `mapstructure:"brokers"`
		GroupID           string   `mapstructure:"group_id"`
		NotificationTopic string   `mapstructure:"notification_topic"`
		DeadLetterTopic   string   `mapstructure:"dead_letter_topic"`
	}

	// Source описывает платформу, присылающую уведомления об изменениях
	Source struct {
		BaseURL     string
		AuthURL     string
		Timeout     time.Duration
		MaxParallel int // предел параллельных запросов вариантов
	}

	// Target описывает платформу, каталог которой поддерживается в актуальном состоянии
	Target struct {
		BaseURL       string
		TokenURL      string
		DeviceAuthURL string
		ClientID      string
		Timeout       time.Duration
	}

	Metrics struct {
		Enabled bool
		Port    int `mapstructure:"port"`
	}

	Security struct {
		JWTSecret string
	}

	Resilience struct {
		MaxRetries    int           // максимальное число повторных доставок уведомления
		RetryWaitTime time.Duration // время ожидания между попытками захвата блокировки
	}
}

// Load загружает конфигурацию из файла и переменных окружения
func Load(configPath string) (*Config, error) {
	configFile := "config"
	if configPath != "" {
		configFile = configPath
	}

	var cfg Config

	viper.SetConfigName(configFile)
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("../config")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
		// Продолжаем, если файл не найден, будем использовать только переменные окружения
	}

	setDefaults()
	bindEnvVariables()

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка десериализации конфигурации: %w", err)
	}

	cfg.ENV = viper.GetString("env")
	if cfg.ENV == "" {
		cfg.ENV = "development"
		if envVar := os.Getenv("APP_ENV"); envVar != "" {
			cfg.ENV = envVar
		}
	}

	return &cfg, nil
}

// setDefaults устанавливает значения по умолчанию
func setDefaults() {
	viper.SetDefault("appName", "catalog-sync")
	viper.SetDefault("version", "1.0.0")
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("env", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", "10s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "5s")

	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", 5432)
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.dbname", "catalog_sync")
	viper.SetDefault("postgres.sslmode", "disable")
	viper.SetDefault("postgres.timeout", "5s")
	viper.SetDefault("postgres.poolSize", 10)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.defaultExpiration", "10m")
	viper.SetDefault("redis.lockTTL", "60s")

	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.groupID", "catalog-sync")
	viper.SetDefault("kafka.notificationTopic", "catalog-notifications")
	viper.SetDefault("kafka.deadLetterTopic", "catalog-notifications-dlq")

	viper.SetDefault("source.baseURL", "https://api.source.example.com")
	viper.SetDefault("source.authURL", "https://api.source.example.com/auth")
	viper.SetDefault("source.timeout", "15s")
	viper.SetDefault("source.maxParallel", 8)

	viper.SetDefault("target.baseURL", "https://api.target.example.com")
	viper.SetDefault("target.tokenURL", "https://accounts.target.example.com/oauth/token")
	viper.SetDefault("target.deviceAuthURL", "https://accounts.target.example.com/oauth/device")
	viper.SetDefault("target.clientID", "")
	viper.SetDefault("target.timeout", "15s")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)

	viper.SetDefault("security.jwtSecret", "your-secret-key")

	viper.SetDefault("resilience.maxRetries", 3)
	viper.SetDefault("resilience.retryWaitTime", "100ms")
}

// bindEnvVariables привязывает переменные окружения к конфигурации
func bindEnvVariables() {
	viper.BindEnv("appName", "APP_NAME")
	viper.BindEnv("version", "APP_VERSION")
	viper.BindEnv("logLevel", "LOG_LEVEL")
	viper.BindEnv("env", "APP_ENV")

	viper.BindEnv("server.host", "SERVER_HOST")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.readTimeout", "SERVER_READ_TIMEOUT")
	viper.BindEnv("server.writeTimeout", "SERVER_WRITE_TIMEOUT")
	viper.BindEnv("server.shutdownTimeout", "SERVER_SHUTDOWN_TIMEOUT")

	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.dbname", "POSTGRES_DBNAME")
	viper.BindEnv("postgres.sslmode", "POSTGRES_SSLMODE")
	viper.BindEnv("postgres.timeout", "POSTGRES_TIMEOUT")
	viper.BindEnv("postgres.poolSize", "POSTGRES_POOL_SIZE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")
	viper.BindEnv("redis.defaultExpiration", "REDIS_DEFAULT_EXPIRATION")
	viper.BindEnv("redis.lockTTL", "REDIS_LOCK_TTL")

	viper.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	viper.BindEnv("kafka.groupID", "KAFKA_GROUP_ID")
	viper.BindEnv("kafka.notificationTopic", "KAFKA_NOTIFICATION_TOPIC")
	viper.BindEnv("kafka.deadLetterTopic", "KAFKA_DEAD_LETTER_TOPIC")

	viper.BindEnv("source.baseURL", "SOURCE_BASE_URL")
	viper.BindEnv("source.authURL", "SOURCE_AUTH_URL")
	viper.BindEnv("source.timeout", "SOURCE_TIMEOUT")
	viper.BindEnv("source.maxParallel", "SOURCE_MAX_PARALLEL")

	viper.BindEnv("target.baseURL", "TARGET_BASE_URL")
	viper.BindEnv("target.tokenURL", "TARGET_TOKEN_URL")
	viper.BindEnv("target.deviceAuthURL", "TARGET_DEVICE_AUTH_URL")
	viper.BindEnv("target.clientID", "TARGET_CLIENT_ID")
	viper.BindEnv("target.timeout", "TARGET_TIMEOUT")

	viper.BindEnv("metrics.enabled", "METRICS_ENABLED")
	viper.BindEnv("metrics.port", "METRICS_PORT")

	viper.BindEnv("security.jwtSecret", "JWT_SECRET")

	viper.BindEnv("resilience.maxRetries", "RESILIENCE_MAX_RETRIES")
	viper.BindEnv("resilience.retryWaitTime", "RESILIENCE_RETRY_WAIT_TIME")
}
