package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// 注文ステータス遷移ポリシー
const (
	PolicyPermissive = "permissive"
	PolicyStrict     = "strict"
	PolicyFile       = "file"
)

// Configはアプリ全体の設定
type Config struct {
	Port  string // サーバーポート（8080）
	GoEnv string // dev/prod

	DBDriver         string // postgres / sqlite
	DatabaseURL      string // あればPOSTGRES_*より優先
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string
	SQLitePath       string

	JWTSecret string        // JWT署名シークレット
	TokenTTL  time.Duration // アクセストークンの有効期間

	AMQPURL      string // 空ならイベント発行しない
	AMQPExchange string

	RedisAddr         string // 空ならレシートの重複チェックはDBのみ
	RedisPassword     string
	RedisDB           int
	PaymentReceiptTTL time.Duration

	PaymentAccountPrefix string // AccountReferenceの接頭辞（ORDER42）

	StatusPolicy     string
	StatusPolicyFile string
	RestockOnCancel  bool

	LogLevel    string
	TraceStdout bool
}

// Loadは環境変数
func Load() (Config, error) {
	var err error
	cfg := Config{
		Port:  getenv("PORT", "8080"),
		GoEnv: getenv("GO_ENV", "dev"),

		DBDriver:         getenv("DB_DRIVER", DriverPostgres),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     getenv("POSTGRES_USER", "postgres"),
		PostgresPassword: getenv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getenv("POSTGRES_DB", "agriconnect"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getenv("SQLITE_PATH", "agriconnect.db"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: getenv("AMQP_EXCHANGE", "order_exchange"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		PaymentAccountPrefix: getenv("PAYMENT_ACCOUNT_PREFIX", "ORDER"),

		StatusPolicy:     getenv("ORDER_STATUS_POLICY", PolicyPermissive),
		StatusPolicyFile: os.Getenv("ORDER_STATUS_POLICY_FILE"),

		LogLevel: getenv("LOG_LEVEL", "info"),
	}

	if cfg.PostgresPort, err = atoiDefault("POSTGRES_PORT", 5432); err != nil {
		return Config{}, err
	}
	if cfg.RedisDB, err = atoiDefault("REDIS_DB", 0); err != nil {
		return Config{}, err
	}
	if cfg.TokenTTL, err = durationDefault("TOKEN_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PaymentReceiptTTL, err = durationDefault("PAYMENT_RECEIPT_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.RestockOnCancel, err = boolDefault("RESTOCK_ON_CANCEL", false); err != nil {
		return Config{}, err
	}
	if cfg.TraceStdout, err = boolDefault("TRACE_STDOUT", false); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// 必須チェック
func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be number: %w", err)
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("DB_DRIVER must be %s or %s", DriverPostgres, DriverSQLite)
	}
	switch c.StatusPolicy {
	case PolicyPermissive, PolicyStrict:
	case PolicyFile:
		if c.StatusPolicyFile == "" {
			return fmt.Errorf("ORDER_STATUS_POLICY_FILE is required when ORDER_STATUS_POLICY=file")
		}
	default:
		return fmt.Errorf("ORDER_STATUS_POLICY must be permissive, strict or file")
	}
	if c.PaymentAccountPrefix == "" {
		return fmt.Errorf("PAYMENT_ACCOUNT_PREFIX is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("TOKEN_TTL must be positive")
	}
	return nil
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func durationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	return d, nil
}

func boolDefault(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s must be bool: %w", key, err)
	}
	return b, nil
}
