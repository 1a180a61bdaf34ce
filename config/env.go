package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"comanda-pos/internal/utils"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Backend  BackendConfig
	Channel  ChannelConfig
	Redis    RedisConfig
	Session  SessionConfig
	Terminal TerminalConfig
	Timeouts TimeoutConfig
	Gateway  GatewayConfig
	DB       DBConfig
	Auth     AuthConfig
}

type BackendConfig struct {
	APIURL      string
	SocketURL   string
	HTTPTimeout time.Duration
}

type ChannelConfig struct {
	Driver         string
	ReconnectDelay time.Duration
	DialTimeout    time.Duration
}

type SessionConfig struct {
	// Store is "redis" or "memory".
	Store string
}

type TerminalConfig struct {
	Shop              string
	PaymentMethods    []string
	ServiceChargeRate decimal.Decimal
}

type TimeoutConfig struct {
	TabList       time.Duration
	ItemFetch     time.Duration
	GuardCooldown time.Duration
	UndoCooldown  time.Duration
}

type GatewayConfig struct {
	Port      string
	RateLimit string
}

type DBConfig struct {
	DSN string
}

type AuthConfig struct {
	// JWTSecret, when set, makes the gateway verify bearer tokens before
	// accepting a sign-in.
	JWTSecret string
}

func LoadConfig() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	redisPool, _ := strconv.Atoi(getEnv("REDIS_POOL_SIZE", "10"))

	return Config{
		Backend: BackendConfig{
			APIURL:      getEnv("POS_API_URL", "http://localhost:5000"),
			SocketURL:   getEnv("POS_SOCKET_URL", "ws://localhost:5000/socket"),
			HTTPTimeout: getDuration("POS_HTTP_TIMEOUT", 12*time.Second),
		},
		Channel: ChannelConfig{
			Driver:         getEnv("POS_CHANNEL_DRIVER", "ws"),
			ReconnectDelay: getDuration("POS_RECONNECT_DELAY", 500*time.Millisecond),
			DialTimeout:    getDuration("POS_SOCKET_TIMEOUT", 20*time.Second),
		},
		Redis: RedisConfig{
			Host:         getEnv("REDIS_HOST", "localhost"),
			Port:         getEnv("REDIS_PORT", "6379"),
			Password:     getEnv("REDIS_PASSWORD", ""),
			DB:           redisDB,
			PoolSize:     redisPool,
			ClusterAddrs: getList("REDIS_CLUSTER_ADDRS", nil),
		},
		Session: SessionConfig{
			Store: getEnv("POS_SESSION_STORE", "redis"),
		},
		Terminal: TerminalConfig{
			Shop:              getEnv("POS_SHOP", ""),
			PaymentMethods:    getList("POS_PAYMENT_METHODS", []string{"Crédito", "Débito", "Dinheiro", "Pix"}),
			ServiceChargeRate: utils.RateFromPercent(getDecimal("POS_SERVICE_CHARGE", decimal.New(10, -2))),
		},
		Timeouts: TimeoutConfig{
			TabList:       getDuration("POS_TABLIST_TIMEOUT", 8*time.Second),
			ItemFetch:     getDuration("POS_ITEM_TIMEOUT", 9*time.Second),
			GuardCooldown: getDuration("POS_GUARD_COOLDOWN", 300*time.Millisecond),
			UndoCooldown:  getDuration("POS_UNDO_COOLDOWN", 1200*time.Millisecond),
		},
		Gateway: GatewayConfig{
			Port:      getEnv("PORT", "8080"),
			RateLimit: getEnv("POS_RATE_LIMIT", "120-M"),
		},
		DB: DBConfig{
			DSN: getEnv("POS_DSN", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("POS_JWT_SECRET", ""),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Invalid %s=%q, using %s", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

func getDecimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(strings.Replace(raw, ",", ".", 1))
	if err != nil || d.IsNegative() {
		log.Printf("Invalid %s=%q, using %s", key, raw, defaultValue)
		return defaultValue
	}
	return d
}

func getList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
