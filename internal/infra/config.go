package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xela07ax/groupflow/internal/admission"
	"github.com/xela07ax/groupflow/internal/approvers"
	"github.com/xela07ax/groupflow/internal/audit"
	"github.com/xela07ax/groupflow/internal/directory"
	"github.com/xela07ax/groupflow/internal/sequence"
)

// Config: корневая структура конфигурации сервиса.
type Config struct {
	Server    ServerConfig     `mapstructure:"server"`
	Database  DatabaseConfig   `mapstructure:"database"`
	Redis     RedisConfig      `mapstructure:"redis"`
	Auth      AuthConfig       `mapstructure:"auth"`
	Directory DirectoryConfig  `mapstructure:"directory"`
	Admission admission.Limits `mapstructure:"admission"`
	Approvers approvers.Config `mapstructure:"approvers"`
	Sequence  sequence.Config  `mapstructure:"sequence"`
	Audit     audit.Config     `mapstructure:"audit"`
	Notify    NotifyConfig     `mapstructure:"notify"`
	Logger    LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	GRPCPort        int           `mapstructure:"grpc_port"` // grpc.health.v1
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Драйверы журнала заявок.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig описывает хранилище заявок.
type DatabaseConfig struct {
	Driver     string `mapstructure:"driver"` // postgres, sqlite
	URL        string `mapstructure:"url"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (Pub/Sub и счетчики).
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит пути к RSA ключам и настройки JWT.
type AuthConfig struct {
	PublicKeyPath  string        `mapstructure:"public_key_path"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	PublicKey      []byte
	PrivateKey     []byte
}

// Режимы шлюза каталога.
const (
	DirectoryHTTP   = "http"
	DirectoryMemory = "memory"
)

// DirectoryConfig выбирает шлюз каталога: удаленный сервис или каталог в памяти.
type DirectoryConfig struct {
	Mode                   string `mapstructure:"mode"`
	directory.ClientConfig `mapstructure:",squash"`
}

// NotifyConfig: куда уходят события заявок.
type NotifyConfig struct {
	Backend string `mapstructure:"backend"` // redis, log
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
// Пустой path: поиск config.yaml в текущей папке и в ./configs.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	// 2. Переменные окружения: DIRECTORY_URL=... перекроет directory.url
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Установка дефолтных значений
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Если файла нет: работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключи из файла или прямо из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")
	cfg.Auth.PrivateKey = loadKeyResource(cfg.Auth.PrivateKeyPath, "AUTH_PRIVATE_KEY_DATA")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9091)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	// пустые значения нужны, чтобы AutomaticEnv видел ключи при Unmarshal
	v.SetDefault("database.url", "")
	v.SetDefault("directory.url", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("auth.public_key_path", "")
	v.SetDefault("auth.private_key_path", "")

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.sqlite_path", "groupflow.db")
	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("auth.token_ttl", 8*time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)

	v.SetDefault("directory.mode", DirectoryHTTP)
	v.SetDefault("directory.timeout", 10*time.Second)
	v.SetDefault("directory.rate_limit", 100)
	v.SetDefault("directory.rate_burst", 20)
	v.SetDefault("directory.cb_max_requests", 1)
	v.SetDefault("directory.cb_interval", 60*time.Second)
	v.SetDefault("directory.cb_timeout", 30*time.Second)
	v.SetDefault("directory.cb_failures", 5)
	v.SetDefault("directory.retry_attempts", 3)

	v.SetDefault("admission.not_approved_limit", admission.DefaultNotApprovedLimit)
	v.SetDefault("admission.approved_limit", admission.DefaultApprovedLimit)

	v.SetDefault("approvers.ranks", approvers.DefaultRanks)
	v.SetDefault("approvers.auto_approve_ranks", []string{})
	v.SetDefault("approvers.cache_ttl", approvers.DefaultTTL)

	v.SetDefault("sequence.backend", "db")
	v.SetDefault("sequence.width", sequence.DefaultWidth)
	v.SetDefault("sequence.prefixes", sequence.DefaultPrefixes)
	v.SetDefault("sequence.validated_types", sequence.DefaultValidatedTypes)

	v.SetDefault("audit.buffer_size", 10000)
	v.SetDefault("audit.batch_size", 100)
	v.SetDefault("audit.flush_interval", 500*time.Millisecond)

	v.SetDefault("notify.backend", "redis")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url is required for driver %q", DriverPostgres)
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	switch c.Directory.Mode {
	case DirectoryHTTP:
		if c.Directory.URL == "" {
			return fmt.Errorf("directory.url is required in %q mode", DirectoryHTTP)
		}
	case DirectoryMemory:
	default:
		return fmt.Errorf("unknown directory.mode %q", c.Directory.Mode)
	}
	switch c.Sequence.Backend {
	case "db", "redis":
	default:
		return fmt.Errorf("unknown sequence.backend %q", c.Sequence.Backend)
	}
	if c.Admission.NotApproved > c.Admission.Approved {
		return fmt.Errorf("admission.not_approved_limit (%d) exceeds admission.approved_limit (%d)",
			c.Admission.NotApproved, c.Admission.Approved)
	}
	return nil
}

// loadKeyResource: PEM из ENV, иначе из файла по пути из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
