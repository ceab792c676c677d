// Package engine drives one order book per configured ticker. Each book is
// owned by a single goroutine fed from a request channel; the dispatch loop
// routes decoded containers by ticker, so instruments match in parallel
// without sharing state.
package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vela/config"
	"vela/domain/market"
	"vela/domain/orderbook"
	"vela/infra/sequence"
	"vela/infra/shm"
	"vela/transport/msg"
	"vela/transport/ws"
)

// DepthSink receives a book snapshot after every mutation. TryPublish must
// not block; a false return drops the snapshot, the next mutation supersedes
// it anyway.
type DepthSink interface {
	TryPublish(market.BookDepth) bool
}

type tradeRingSink struct{ ring *shm.Ring[market.Trade] }

func (s tradeRingSink) TryPublish(t market.Trade) bool { return s.ring.TryPush(t) }

type depthRingSink struct{ ring *shm.Ring[market.BookDepth] }

func (s depthRingSink) TryPublish(d market.BookDepth) bool { return s.ring.TryPush(d) }

type request struct {
	container any
	peer      *ws.Peer
}

// instrument pairs one book with the goroutine state that owns it.
type instrument struct {
	log      *zap.Logger
	book     *orderbook.Book
	depth    DepthSink
	requests chan request
	clOrd    map[string]int64
	orderIDs *sequence.Sequencer
}

func newInstrument(ticker string, trades orderbook.TradeSink, depth DepthSink,
	tradeIDs, orderIDs *sequence.Sequencer, log *zap.Logger) *instrument {
	return &instrument{
		log:      log.With(zap.String("ticker", ticker)),
		book:     orderbook.New(ticker, trades, tradeIDs),
		depth:    depth,
		requests: make(chan request, 256),
		clOrd:    make(map[string]int64),
		orderIDs: orderIDs,
	}
}

func (inst *instrument) run() {
	for req := range inst.requests {
		var reply any
		switch c := req.container.(type) {
		case msg.NewOrderSingle:
			reply = inst.handleNew(c)
		case msg.CancelOrder:
			reply = inst.handleCancel(c)
		case msg.FillCostRequest:
			reply = inst.handleFillCost(c)
		default:
			inst.log.Warn("unexpected container", zap.Any("container", req.container))
			continue
		}
		if req.peer == nil {
			continue
		}
		payload, err := msg.Encode(reply)
		if err != nil {
			inst.log.Error("encode reply", zap.Error(err))
			continue
		}
		if err := req.peer.Send(payload); err != nil {
			inst.log.Warn("send reply", zap.Error(err))
		}
	}
}

func (inst *instrument) handleNew(c msg.NewOrderSingle) msg.ExecutionReport {
	reject := func(reason string) msg.ExecutionReport {
		return msg.ExecutionReport{ClOrdID: c.ClOrdID, Ticker: c.Ticker, Status: msg.StatusRejected, Reason: reason}
	}

	side, err := market.ParseSide(c.Side)
	if err != nil {
		return reject(err.Error())
	}
	if _, ok := inst.clOrd[c.ClOrdID]; ok {
		return reject(fmt.Sprintf("duplicate client order id %q", c.ClOrdID))
	}

	var price int64
	switch c.OrdType {
	case msg.OrdTypeMarket:
		price = market.MarketPrice(side)
	case msg.OrdTypeLimit:
		price = market.ToInternal(c.Price)
	default:
		return reject(fmt.Sprintf("unknown order type %q", c.OrdType))
	}

	orderID := int64(inst.orderIDs.Next())
	if err := inst.book.AddOrder(orderID, price, int64(c.Quantity), side); err != nil {
		return reject(err.Error())
	}
	inst.clOrd[c.ClOrdID] = orderID
	inst.publishDepth()

	return msg.ExecutionReport{ClOrdID: c.ClOrdID, OrderID: orderID, Ticker: c.Ticker, Status: msg.StatusAccepted}
}

func (inst *instrument) handleCancel(c msg.CancelOrder) msg.ExecutionReport {
	orderID := c.OrderID
	if orderID == 0 {
		id, ok := inst.clOrd[c.ClOrdID]
		if !ok {
			return msg.ExecutionReport{ClOrdID: c.ClOrdID, Ticker: c.Ticker, Status: msg.StatusRejected,
				Reason: fmt.Sprintf("unknown client order id %q", c.ClOrdID)}
		}
		orderID = id
	}

	if err := inst.book.CancelOrder(orderID); err != nil {
		return msg.ExecutionReport{ClOrdID: c.ClOrdID, OrderID: orderID, Ticker: c.Ticker,
			Status: msg.StatusRejected, Reason: err.Error()}
	}
	delete(inst.clOrd, c.ClOrdID)
	inst.publishDepth()

	return msg.ExecutionReport{ClOrdID: c.ClOrdID, OrderID: orderID, Ticker: c.Ticker, Status: msg.StatusCanceled}
}

func (inst *instrument) handleFillCost(c msg.FillCostRequest) msg.FillCostResponse {
	side, err := market.ParseSide(c.Side)
	if err != nil {
		return msg.FillCostResponse{ReqID: c.ReqID, Ticker: c.Ticker, Reason: err.Error()}
	}
	cost, err := inst.book.FillCost(int64(c.Quantity), side)
	if err != nil {
		return msg.FillCostResponse{ReqID: c.ReqID, Ticker: c.Ticker, Reason: err.Error()}
	}
	return msg.FillCostResponse{ReqID: c.ReqID, Ticker: c.Ticker, Cost: market.ToDecimal(cost)}
}

func (inst *instrument) publishDepth() {
	if inst.depth == nil {
		return
	}
	if !inst.depth.TryPublish(inst.book.Depth()) {
		inst.log.Debug("depth ring full, snapshot dropped")
	}
}

// Service is the matching engine daemon: a websocket front, a dispatch loop
// and the per-ticker instruments. It attaches to the trade and depth rings
// owned by the market-data processor.
type Service struct {
	log         *zap.Logger
	srv         *ws.Server
	trades      *shm.Ring[market.Trade]
	depth       *shm.Ring[market.BookDepth]
	instruments map[string]*instrument
	pollTimeout time.Duration
	done        chan struct{}
	stopped     chan struct{}
}

// New attaches to the shared-memory rings and builds the service. The
// market-data processor must have created the rings already.
func New(cfg config.Engine, log *zap.Logger) (*Service, error) {
	trades, err := shm.Open[market.Trade](market.TradeShmPrefix, market.TradeRingCapacity)
	if err != nil {
		return nil, fmt.Errorf("attach trade ring: %w", err)
	}
	depth, err := shm.Open[market.BookDepth](market.DepthShmPrefix, market.DepthRingCapacity)
	if err != nil {
		trades.Close()
		return nil, fmt.Errorf("attach depth ring: %w", err)
	}
	return newService(cfg, trades, depth, log), nil
}

func newService(cfg config.Engine, trades *shm.Ring[market.Trade], depth *shm.Ring[market.BookDepth], log *zap.Logger) *Service {
	s := &Service{
		log:         log,
		srv:         ws.NewServer(cfg.ListenAddr, cfg.InboundQueueSize, log),
		trades:      trades,
		depth:       depth,
		instruments: make(map[string]*instrument),
		pollTimeout: time.Duration(cfg.PollTimeoutMS) * time.Millisecond,
		done:        make(chan struct{}),
		stopped:     make(chan struct{}),
	}

	tradeIDs := sequence.New(0)
	orderIDs := sequence.New(0)
	for _, ticker := range cfg.Tickers {
		inst := newInstrument(ticker, tradeRingSink{trades}, depthRingSink{depth}, tradeIDs, orderIDs, log)
		s.instruments[ticker] = inst
		go inst.run()
	}
	return s
}

// Addr returns the websocket listen address once started.
func (s *Service) Addr() string { return s.srv.Addr() }

// Start binds the listener and runs the dispatch loop in the background.
func (s *Service) Start() error {
	if err := s.srv.Start(); err != nil {
		return err
	}
	go s.dispatch()
	s.log.Info("matching engine up", zap.Int("instruments", len(s.instruments)))
	return nil
}

func (s *Service) dispatch() {
	defer close(s.stopped)
	for {
		select {
		case <-s.done:
			return
		default:
		}

		in, ok := s.srv.Dequeue(s.pollTimeout)
		if !ok {
			continue
		}
		container, err := msg.Decode(in.Payload)
		if err != nil {
			s.log.Warn("bad frame", zap.Error(err))
			continue
		}

		ticker, clOrdID := routingKey(container)
		inst, ok := s.instruments[ticker]
		if !ok {
			s.rejectUnknownTicker(in.Peer, container, ticker, clOrdID)
			continue
		}
		inst.requests <- request{container: container, peer: in.Peer}
	}
}

func routingKey(container any) (ticker, clOrdID string) {
	switch c := container.(type) {
	case msg.NewOrderSingle:
		return c.Ticker, c.ClOrdID
	case msg.CancelOrder:
		return c.Ticker, c.ClOrdID
	case msg.FillCostRequest:
		return c.Ticker, ""
	}
	return "", ""
}

func (s *Service) rejectUnknownTicker(peer *ws.Peer, container any, ticker, clOrdID string) {
	reason := fmt.Sprintf("unknown ticker %q", ticker)
	var reply any
	switch c := container.(type) {
	case msg.FillCostRequest:
		reply = msg.FillCostResponse{ReqID: c.ReqID, Ticker: ticker, Reason: reason}
	default:
		reply = msg.ExecutionReport{ClOrdID: clOrdID, Ticker: ticker, Status: msg.StatusRejected, Reason: reason}
	}
	payload, err := msg.Encode(reply)
	if err != nil {
		s.log.Error("encode reject", zap.Error(err))
		return
	}
	if err := peer.Send(payload); err != nil {
		s.log.Warn("send reject", zap.Error(err))
	}
}

// Close stops the dispatch loop, the instruments and the ring attachments.
func (s *Service) Close(ctx context.Context) error {
	close(s.done)
	<-s.stopped
	for _, inst := range s.instruments {
		close(inst.requests)
	}
	s.trades.Close()
	s.depth.Close()
	return s.srv.Close(ctx)
}
