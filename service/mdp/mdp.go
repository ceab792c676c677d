// Package mdp is the market-data processor: the consumer side of the
// shared-memory rings. It creates and owns both rings, drains them on a
// poll loop, fans the JSON stream out to websocket subscribers and pushes
// trades to Kafka.
package mdp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vela/config"
	"vela/domain/market"
	"vela/infra/kafka"
	"vela/infra/shm"
	"vela/transport/ws"
)

// tradePublisher is the Kafka side of the fan-out; nil disables it.
type tradePublisher interface {
	Send(ctx context.Context, key, value []byte) error
}

// streamFrame is the envelope subscribers receive.
type streamFrame struct {
	Stream string `json:"stream"`
	Data   any    `json:"data"`
}

// Service owns the trade and depth rings and the subscriber fan-out.
type Service struct {
	log      *zap.Logger
	srv      *ws.Server
	trades   *shm.Ring[market.Trade]
	depth    *shm.Ring[market.BookDepth]
	producer tradePublisher
	interval time.Duration

	done    chan struct{}
	stopped chan struct{}
}

// New creates both shared-memory rings as their owner and wires the
// optional Kafka producer. Start the processor before the matching engine
// so the engine attaches to initialized rings.
func New(cfg config.MarketData, log *zap.Logger) (*Service, error) {
	trades, err := shm.Create[market.Trade](market.TradeShmPrefix, market.TradeRingCapacity)
	if err != nil {
		return nil, fmt.Errorf("create trade ring: %w", err)
	}
	depth, err := shm.Create[market.BookDepth](market.DepthShmPrefix, market.DepthRingCapacity)
	if err != nil {
		trades.Close()
		return nil, fmt.Errorf("create depth ring: %w", err)
	}

	var producer tradePublisher
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	srv := ws.NewServer(cfg.ListenAddr, 64, log)
	return newService(srv, trades, depth, producer,
		time.Duration(cfg.PollIntervalUS)*time.Microsecond, log), nil
}

func newService(srv *ws.Server, trades *shm.Ring[market.Trade], depth *shm.Ring[market.BookDepth],
	producer tradePublisher, interval time.Duration, log *zap.Logger) *Service {
	return &Service{
		log:      log,
		srv:      srv,
		trades:   trades,
		depth:    depth,
		producer: producer,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Addr returns the subscriber listen address once started.
func (s *Service) Addr() string { return s.srv.Addr() }

// Start binds the listener and runs the poll loop in the background.
func (s *Service) Start() error {
	if err := s.srv.Start(); err != nil {
		return err
	}
	go s.loop()
	s.log.Info("market-data processor up",
		zap.Int("trade_ring", s.trades.Cap()), zap.Int("depth_ring", s.depth.Cap()))
	return nil
}

func (s *Service) loop() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		default:
		}
		if s.drain() == 0 {
			time.Sleep(s.interval)
		}
	}
}

// drain empties both rings once and returns how many records moved.
func (s *Service) drain() int {
	moved := 0
	for {
		trade, ok := s.trades.TryPop()
		if !ok {
			break
		}
		moved++
		s.publishTrade(trade)
	}
	for {
		snap, ok := s.depth.TryPop()
		if !ok {
			break
		}
		moved++
		s.publishDepth(snap)
	}
	return moved
}

func (s *Service) publishTrade(trade market.Trade) {
	payload, err := json.Marshal(streamFrame{Stream: "trades", Data: trade.Message()})
	if err != nil {
		s.log.Error("marshal trade", zap.Error(err))
		return
	}
	s.srv.Broadcast(payload)

	if s.producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.producer.Send(ctx, []byte(trade.Ticker.String()), payload); err != nil {
		s.log.Warn("kafka publish failed", zap.Error(err))
	}
}

func (s *Service) publishDepth(snap market.BookDepth) {
	payload, err := json.Marshal(streamFrame{Stream: "depth", Data: snap.Message()})
	if err != nil {
		s.log.Error("marshal depth", zap.Error(err))
		return
	}
	s.srv.Broadcast(payload)
}

// Close stops the loop and unlinks the shared-memory segments.
func (s *Service) Close(ctx context.Context) error {
	close(s.done)
	<-s.stopped
	if c, ok := s.producer.(*kafka.Producer); ok {
		c.Close()
	}
	s.trades.Close()
	s.depth.Close()
	return s.srv.Close(ctx)
}
