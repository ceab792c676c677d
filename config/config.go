// Package config holds the env-driven settings for each daemon. A .env file
// in the working directory is loaded first when present.
package config

import (
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Engine configures the matching engine daemon.
type Engine struct {
	Tickers          []string `env:"VELA_TICKERS" envDefault:"GME"`
	ListenAddr       string   `env:"VELA_ENGINE_LISTEN" envDefault:"127.0.0.1:9101"`
	InboundQueueSize int      `env:"VELA_ENGINE_QUEUE" envDefault:"1024"`
	PollTimeoutMS    int      `env:"VELA_ENGINE_POLL_MS" envDefault:"100"`
}

// OrderManager configures the order manager daemon.
type OrderManager struct {
	ListenAddr       string `env:"VELA_OM_LISTEN" envDefault:"127.0.0.1:9102"`
	EngineURL        string `env:"VELA_OM_ENGINE_URL" envDefault:"ws://127.0.0.1:9101/"`
	InboundQueueSize int    `env:"VELA_OM_QUEUE" envDefault:"1024"`
	PollTimeoutMS    int    `env:"VELA_OM_POLL_MS" envDefault:"100"`
	BalanceDir       string `env:"VELA_OM_BALANCE_DIR" envDefault:"vela-balances"`
	InitialCredit    int64  `env:"VELA_OM_INITIAL_CREDIT" envDefault:"100000000"`
}

// MarketData configures the market-data processor daemon.
type MarketData struct {
	ListenAddr     string   `env:"VELA_MDP_LISTEN" envDefault:"127.0.0.1:9103"`
	KafkaBrokers   []string `env:"VELA_KAFKA_BROKERS" envDefault:"127.0.0.1:9092"`
	KafkaTopic     string   `env:"VELA_KAFKA_TOPIC" envDefault:"vela.trades"`
	KafkaEnabled   bool     `env:"VELA_KAFKA_ENABLED" envDefault:"false"`
	PollIntervalUS int      `env:"VELA_MDP_POLL_US" envDefault:"500"`
}

// Gateway configures the FIX gateway daemon.
type Gateway struct {
	SettingsPath    string `env:"VELA_FIX_SETTINGS" envDefault:"configs/gateway.cfg"`
	OrderManagerURL string `env:"VELA_GW_OM_URL" envDefault:"ws://127.0.0.1:9102/"`
	QueueSize       int    `env:"VELA_GW_QUEUE" envDefault:"1024"`
}

// TradeTail configures the Kafka trade follower.
type TradeTail struct {
	KafkaBrokers []string `env:"VELA_KAFKA_BROKERS" envDefault:"127.0.0.1:9092"`
	KafkaTopic   string   `env:"VELA_KAFKA_TOPIC" envDefault:"vela.trades"`
	Group        string   `env:"VELA_TAIL_GROUP" envDefault:"vela-trade-tail"`
}

// Load parses T from the environment, after best-effort .env loading.
func Load[T any]() (T, error) {
	_ = godotenv.Load()
	return env.ParseAs[T]()
}
