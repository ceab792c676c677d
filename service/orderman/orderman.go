// Package orderman sits between the FIX gateways and the matching engine.
// It admits orders against participant balances, prices market buys with a
// fill-cost query before committing funds, and routes engine reports back
// to the gateway that originated each order.
package orderman

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vela/config"
	"vela/domain/market"
	"vela/infra/sequence"
	"vela/transport/msg"
	"vela/transport/ws"
)

// engineLink is the upstream connection to the matching engine.
type engineLink interface {
	Send([]byte) error
	Dequeue(timeout time.Duration) ([]byte, bool)
}

// replier is the downstream side of one gateway connection.
type replier interface {
	Send([]byte) error
}

// pendingOrder tracks an order forwarded to the engine until it reaches a
// terminal state, so reports find their gateway and debits can be refunded.
type pendingOrder struct {
	peer        replier
	participant string
	ticker      string
	debit       int64
}

// costWait is an outstanding fill-cost query. order is set when the query
// prices a market buy the manager still has to commit; nil when it is a
// gateway query passed through verbatim.
type costWait struct {
	peer  replier
	order *msg.NewOrderSingle
}

// Service is the order manager daemon. All state is owned by the single
// loop goroutine; handlers are never called concurrently.
type Service struct {
	log      *zap.Logger
	srv      *ws.Server
	engine   engineLink
	balances *BalanceStore
	poll     time.Duration
	reqIDs   *sequence.Sequencer

	orders    map[string]*pendingOrder
	costWaits map[string]costWait

	done    chan struct{}
	stopped chan struct{}
}

// New opens the balance store, dials the engine and builds the service.
func New(cfg config.OrderManager, log *zap.Logger) (*Service, error) {
	balances, err := OpenBalanceStore(cfg.BalanceDir, cfg.InitialCredit)
	if err != nil {
		return nil, err
	}
	engine, err := ws.Dial(cfg.EngineURL, cfg.InboundQueueSize, log)
	if err != nil {
		balances.Close()
		return nil, fmt.Errorf("dial engine: %w", err)
	}
	srv := ws.NewServer(cfg.ListenAddr, cfg.InboundQueueSize, log)
	return newService(srv, engine, balances, time.Duration(cfg.PollTimeoutMS)*time.Millisecond, log), nil
}

func newService(srv *ws.Server, engine engineLink, balances *BalanceStore, poll time.Duration, log *zap.Logger) *Service {
	return &Service{
		log:       log,
		srv:       srv,
		engine:    engine,
		balances:  balances,
		poll:      poll,
		reqIDs:    sequence.New(0),
		orders:    make(map[string]*pendingOrder),
		costWaits: make(map[string]costWait),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
}

// Addr returns the gateway-facing listen address once started.
func (s *Service) Addr() string { return s.srv.Addr() }

// Start binds the listener and runs the loop in the background.
func (s *Service) Start() error {
	if err := s.srv.Start(); err != nil {
		return err
	}
	go s.loop()
	s.log.Info("order manager up")
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

		if in, ok := s.srv.Dequeue(s.poll); ok {
			container, err := msg.Decode(in.Payload)
			if err != nil {
				s.log.Warn("bad gateway frame", zap.Error(err))
			} else {
				s.handleGateway(container, in.Peer)
			}
		}
		for {
			payload, ok := s.engine.Dequeue(0)
			if !ok {
				break
			}
			container, err := msg.Decode(payload)
			if err != nil {
				s.log.Warn("bad engine frame", zap.Error(err))
				continue
			}
			s.handleEngine(container)
		}
	}
}

func (s *Service) handleGateway(container any, peer replier) {
	switch c := container.(type) {
	case msg.NewOrderSingle:
		s.handleNewOrder(c, peer)
	case msg.CancelOrder:
		s.handleCancel(c, peer)
	case msg.FillCostRequest:
		s.costWaits[c.ReqID] = costWait{peer: peer}
		s.forward(c)
	default:
		s.log.Warn("unexpected gateway container", zap.Any("container", container))
	}
}

// handleNewOrder admits the order against the participant's balance. Sells
// and market sells pass straight through; limit buys debit price*quantity
// up front; market buys are priced by the engine first.
func (s *Service) handleNewOrder(c msg.NewOrderSingle, peer replier) {
	side, err := market.ParseSide(c.Side)
	if err != nil {
		s.reply(peer, msg.ExecutionReport{ClOrdID: c.ClOrdID, Ticker: c.Ticker,
			Status: msg.StatusRejected, Reason: err.Error()})
		return
	}
	if side != market.Bid {
		s.commitOrder(c, 0, peer)
		return
	}

	if c.OrdType == msg.OrdTypeMarket {
		reqID := fmt.Sprintf("om-%d", s.reqIDs.Next())
		s.costWaits[reqID] = costWait{peer: peer, order: &c}
		s.forward(msg.FillCostRequest{ReqID: reqID, Ticker: c.Ticker, Side: c.Side, Quantity: c.Quantity})
		return
	}

	debit := market.ToInternal(c.Price) * int64(c.Quantity)
	s.commitOrder(c, debit, peer)
}

// commitOrder debits the participant and forwards the order to the engine,
// refunding if the forward itself fails.
func (s *Service) commitOrder(c msg.NewOrderSingle, debit int64, peer replier) {
	if debit > 0 {
		if _, err := s.balances.Apply(c.ParticipantID, c.Ticker, -debit); err != nil {
			s.reply(peer, msg.ExecutionReport{ClOrdID: c.ClOrdID, Ticker: c.Ticker,
				Status: msg.StatusRejected, Reason: err.Error()})
			return
		}
	}

	s.orders[c.ClOrdID] = &pendingOrder{peer: peer, participant: c.ParticipantID, ticker: c.Ticker, debit: debit}
	if !s.forward(c) {
		s.refund(s.orders[c.ClOrdID])
		delete(s.orders, c.ClOrdID)
		s.reply(peer, msg.ExecutionReport{ClOrdID: c.ClOrdID, Ticker: c.Ticker,
			Status: msg.StatusRejected, Reason: "engine unavailable"})
	}
}

func (s *Service) handleCancel(c msg.CancelOrder, peer replier) {
	entry, ok := s.orders[c.ClOrdID]
	if !ok {
		s.reply(peer, msg.ExecutionReport{ClOrdID: c.ClOrdID, Ticker: c.Ticker,
			Status: msg.StatusRejected, Reason: fmt.Sprintf("unknown client order id %q", c.ClOrdID)})
		return
	}
	entry.peer = peer
	s.forward(c)
}

func (s *Service) handleEngine(container any) {
	switch c := container.(type) {
	case msg.ExecutionReport:
		entry, ok := s.orders[c.ClOrdID]
		if !ok {
			s.log.Warn("report for unknown order", zap.String("cl_ord_id", c.ClOrdID))
			return
		}
		switch c.Status {
		case msg.StatusCanceled, msg.StatusRejected:
			s.refund(entry)
			delete(s.orders, c.ClOrdID)
		}
		s.reply(entry.peer, c)

	case msg.FillCostResponse:
		wait, ok := s.costWaits[c.ReqID]
		if !ok {
			s.log.Warn("fill cost response for unknown request", zap.String("req_id", c.ReqID))
			return
		}
		delete(s.costWaits, c.ReqID)
		if wait.order == nil {
			s.reply(wait.peer, c)
			return
		}
		s.resumeMarketBuy(*wait.order, c, wait.peer)

	default:
		s.log.Warn("unexpected engine container", zap.Any("container", container))
	}
}

// resumeMarketBuy picks a priced market buy back up: the quoted cost is the
// debit, an unpriceable book is a reject.
func (s *Service) resumeMarketBuy(c msg.NewOrderSingle, cost msg.FillCostResponse, peer replier) {
	if cost.Reason != "" {
		s.reply(peer, msg.ExecutionReport{ClOrdID: c.ClOrdID, Ticker: c.Ticker,
			Status: msg.StatusRejected, Reason: "cannot price market order: " + cost.Reason})
		return
	}
	s.commitOrder(c, market.ToInternal(cost.Cost), peer)
}

func (s *Service) refund(entry *pendingOrder) {
	if entry.debit == 0 {
		return
	}
	if _, err := s.balances.Apply(entry.participant, entry.ticker, entry.debit); err != nil {
		s.log.Error("refund failed", zap.String("participant", entry.participant), zap.Error(err))
	}
}

func (s *Service) forward(container any) bool {
	payload, err := msg.Encode(container)
	if err != nil {
		s.log.Error("encode forward", zap.Error(err))
		return false
	}
	if err := s.engine.Send(payload); err != nil {
		s.log.Warn("engine send failed", zap.Error(err))
		return false
	}
	return true
}

func (s *Service) reply(peer replier, container any) {
	payload, err := msg.Encode(container)
	if err != nil {
		s.log.Error("encode reply", zap.Error(err))
		return
	}
	if err := peer.Send(payload); err != nil {
		s.log.Warn("gateway send failed", zap.Error(err))
	}
}

// Close stops the loop and releases the engine link and balance store.
func (s *Service) Close(ctx context.Context) error {
	close(s.done)
	<-s.stopped
	if c, ok := s.engine.(*ws.Client); ok {
		c.Close()
	}
	s.balances.Close()
	return s.srv.Close(ctx)
}
