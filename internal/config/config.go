package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	Server        ServerConfig        `json:"server"`
	Database      DatabaseConfig      `json:"database"`
	AWS           AWSConfig           `json:"aws"`
	Notifications NotificationsConfig `json:"notifications"`
	Kafka         KafkaConfig         `json:"kafka"`
	Lock          LockConfig          `json:"lock"`
	Schedules     SchedulesConfig     `json:"schedules"`
	Jobs          JobsConfig          `json:"jobs"`
	Logging       LoggingConfig       `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig represents database configuration. Driver "memory" keeps
// forms in process, for local runs without Postgres.
type DatabaseConfig struct {
	Driver         string        `json:"driver"`
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	User           string        `json:"user"`
	Password       string        `json:"password"`
	DBName         string        `json:"db_name"`
	SSLMode        string        `json:"ssl_mode"`
	MaxConnections int           `json:"max_connections"`
	MaxIdleConns   int           `json:"max_idle_conns"`
	MaxLifetime    time.Duration `json:"max_lifetime"`
}

// AWSConfig holds the shared client settings. Endpoint and static keys are
// only set against local emulators.
type AWSConfig struct {
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Bucket          string `json:"bucket"`
}

// NotificationsConfig selects the publisher ("sns", "kafka" or "none") and
// its destinations: topic ARNs for SNS, topic names for Kafka.
type NotificationsConfig struct {
	Provider string       `json:"provider"`
	Topics   TopicsConfig `json:"topics"`
}

type TopicsConfig struct {
	FormRPartA     string `json:"formr_parta"`
	FormRPartB     string `json:"formr_partb"`
	LTFT           string `json:"ltft"`
	LTFTAssignment string `json:"ltft_assignment"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
}

// LockConfig selects the job lock ("dynamodb", "redis" or "none").
type LockConfig struct {
	Provider      string        `json:"provider"`
	Table         string        `json:"table"`
	RedisAddr     string        `json:"redis_addr"`
	RedisPassword string        `json:"redis_password"`
	KeyPrefix     string        `json:"key_prefix"`
	LockAtMostFor time.Duration `json:"lock_at_most_for"`
}

// SchedulesConfig holds a cron expression, with seconds, per refresh job. An
// empty expression disables the schedule.
type SchedulesConfig struct {
	PublishFormRPartA string `json:"publish_formr_parta"`
	PublishFormRPartB string `json:"publish_formr_partb"`
	PublishLTFT       string `json:"publish_ltft"`
}

// ByJob keys the expressions by job name.
func (s SchedulesConfig) ByJob() map[string]string {
	return map[string]string{
		"formr-parta": s.PublishFormRPartA,
		"formr-partb": s.PublishFormRPartB,
		"ltft":        s.PublishLTFT,
	}
}

type JobsConfig struct {
	PageSize int `json:"page_size"`
}

// LoggingConfig
type LoggingConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

// LoadConfig loads configuration from .env, the config file and environment
// variables, in increasing precedence. A missing file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := defaultConfig()

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if err := overrideWithEnv(config); err != nil {
		return nil, err
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			DBName:         "trainee_forms",
			SSLMode:        "disable",
			MaxConnections: 25,
			MaxIdleConns:   5,
			MaxLifetime:    30 * time.Minute,
		},
		AWS: AWSConfig{
			Region: "eu-west-2",
			Bucket: "trainee-forms",
		},
		Notifications: NotificationsConfig{Provider: "sns"},
		Lock: LockConfig{
			Provider:      "dynamodb",
			Table:         "ShedLock",
			KeyPrefix:     "lock:",
			LockAtMostFor: 15 * time.Minute,
		},
		Schedules: SchedulesConfig{
			PublishFormRPartA: "0 0 1 * * *",
			PublishFormRPartB: "0 30 1 * * *",
			PublishLTFT:       "0 0 2 * * *",
		},
		Jobs:    JobsConfig{PageSize: 100},
		Logging: LoggingConfig{Level: "info"},
	}
}

func overrideWithEnv(config *Config) error {
	textVars := map[string]*string{
		"SERVER_HOST":                  &config.Server.Host,
		"DATABASE_DRIVER":              &config.Database.Driver,
		"DATABASE_HOST":                &config.Database.Host,
		"DATABASE_USER":                &config.Database.User,
		"DATABASE_PASSWORD":            &config.Database.Password,
		"DATABASE_DBNAME":              &config.Database.DBName,
		"DATABASE_SSLMODE":             &config.Database.SSLMode,
		"AWS_REGION":                   &config.AWS.Region,
		"AWS_ENDPOINT_URL":             &config.AWS.Endpoint,
		"AWS_ACCESS_KEY_ID":            &config.AWS.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY":        &config.AWS.SecretAccessKey,
		"S3_BUCKET":                    &config.AWS.Bucket,
		"NOTIFICATIONS_PROVIDER":       &config.Notifications.Provider,
		"TOPIC_FORMR_PARTA":            &config.Notifications.Topics.FormRPartA,
		"TOPIC_FORMR_PARTB":            &config.Notifications.Topics.FormRPartB,
		"TOPIC_LTFT":                   &config.Notifications.Topics.LTFT,
		"TOPIC_LTFT_ASSIGNMENT":        &config.Notifications.Topics.LTFTAssignment,
		"LOCK_PROVIDER":                &config.Lock.Provider,
		"LOCK_TABLE":                   &config.Lock.Table,
		"REDIS_ADDR":                   &config.Lock.RedisAddr,
		"REDIS_PASSWORD":               &config.Lock.RedisPassword,
		"SCHEDULE_PUBLISH_FORMR_PARTA": &config.Schedules.PublishFormRPartA,
		"SCHEDULE_PUBLISH_FORMR_PARTB": &config.Schedules.PublishFormRPartB,
		"SCHEDULE_PUBLISH_LTFT":        &config.Schedules.PublishLTFT,
		"LOG_LEVEL":                    &config.Logging.Level,
	}
	for key, field := range textVars {
		if value, ok := os.LookupEnv(key); ok {
			*field = value
		}
	}

	intVars := map[string]*int{
		"SERVER_PORT":    &config.Server.Port,
		"DATABASE_PORT":  &config.Database.Port,
		"JOBS_PAGE_SIZE": &config.Jobs.PageSize,
	}
	for key, field := range intVars {
		if value := os.Getenv(key); value != "" {
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*field = n
		}
	}

	if value := os.Getenv("LOCK_AT_MOST_FOR"); value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid LOCK_AT_MOST_FOR: %w", err)
		}
		config.Lock.LockAtMostFor = d
	}
	if value := os.Getenv("KAFKA_BROKERS"); value != "" {
		config.Kafka.Brokers = splitList(value)
	}
	if env := os.Getenv("ENV"); env == "local" || env == "development" {
		config.Logging.Development = true
	}
	return nil
}

func splitList(value string) []string {
	var items []string
	for item := range strings.SplitSeq(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// GetDatabaseURL returns the database connection string
func (c *DatabaseConfig) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode)
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewLogger builds the application logger at the configured level.
func (c *LoggingConfig) NewLogger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	cfg := zap.NewProductionConfig()
	if c.Development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = level
	return cfg.Build()
}
