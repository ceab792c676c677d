// Package gateway terminates FIX 4.4 sessions and bridges them onto the
// order manager. Incoming NewOrderSingle and OrderCancelRequest messages
// become transport containers; execution reports flow back to the FIX
// session that placed the order.
package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/executionreport"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"vela/infra/sequence"
	"vela/transport/msg"
)

// upstream is the websocket link to the order manager.
type upstream interface {
	Send(payload []byte) error
	Dequeue(timeout time.Duration) ([]byte, bool)
}

// pending holds what the gateway must remember about an in-flight order to
// build its execution reports.
type pending struct {
	session  quickfix.SessionID
	symbol   string
	side     enum.Side
	quantity decimal.Decimal
}

// App is the quickfix application. It embeds the message router so FromApp
// dispatches straight to the typed handlers.
type App struct {
	*quickfix.MessageRouter
	log    *zap.Logger
	om     upstream
	execID *sequence.Sequencer

	mu     sync.Mutex
	orders map[string]pending

	done    chan struct{}
	stopped chan struct{}
}

// NewApp wires the router and starts the report pump draining the order
// manager link.
func NewApp(om upstream, log *zap.Logger) *App {
	a := &App{
		MessageRouter: quickfix.NewMessageRouter(),
		log:           log,
		om:            om,
		execID:        sequence.New(0),
		orders:        make(map[string]pending),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	a.AddRoute(newordersingle.Route(a.onNewOrderSingle))
	a.AddRoute(ordercancelrequest.Route(a.onOrderCancelRequest))
	go a.pump()
	return a
}

// OnCreate implements quickfix.Application.
func (a *App) OnCreate(sessionID quickfix.SessionID) {}

// OnLogon implements quickfix.Application.
func (a *App) OnLogon(sessionID quickfix.SessionID) {
	a.log.Info("fix logon", zap.String("session", sessionID.String()))
}

// OnLogout implements quickfix.Application.
func (a *App) OnLogout(sessionID quickfix.SessionID) {
	a.log.Info("fix logout", zap.String("session", sessionID.String()))
}

// ToAdmin implements quickfix.Application.
func (a *App) ToAdmin(message *quickfix.Message, sessionID quickfix.SessionID) {}

// ToApp implements quickfix.Application.
func (a *App) ToApp(message *quickfix.Message, sessionID quickfix.SessionID) error { return nil }

// FromAdmin implements quickfix.Application.
func (a *App) FromAdmin(message *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return nil
}

// FromApp implements quickfix.Application.
func (a *App) FromApp(message *quickfix.Message, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	return a.Route(message, sessionID)
}

func (a *App) onNewOrderSingle(m newordersingle.NewOrderSingle, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, err := m.GetClOrdID()
	if err != nil {
		return err
	}
	symbol, err := m.GetSymbol()
	if err != nil {
		return err
	}
	fixSide, err := m.GetSide()
	if err != nil {
		return err
	}
	ordType, err := m.GetOrdType()
	if err != nil {
		return err
	}
	quantity, err := m.GetOrderQty()
	if err != nil {
		return err
	}

	side, convErr := sideFromFIX(fixSide)
	if convErr != nil {
		return quickfix.ValueIsIncorrect(tag.Side)
	}

	container := msg.NewOrderSingle{
		ClOrdID:       clOrdID,
		ParticipantID: sessionID.TargetCompID,
		Ticker:        symbol,
		Side:          side,
		Quantity:      quantity.InexactFloat64(),
	}
	switch ordType {
	case enum.OrdType_LIMIT:
		price, err := m.GetPrice()
		if err != nil {
			return err
		}
		container.OrdType = msg.OrdTypeLimit
		container.Price = price.InexactFloat64()
	case enum.OrdType_MARKET:
		container.OrdType = msg.OrdTypeMarket
	default:
		return quickfix.ValueIsIncorrect(tag.OrdType)
	}

	a.mu.Lock()
	a.orders[clOrdID] = pending{session: sessionID, symbol: symbol, side: fixSide, quantity: quantity}
	a.mu.Unlock()

	if sendErr := a.forward(container); sendErr != nil {
		a.log.Error("forward order", zap.String("cl_ord_id", clOrdID), zap.Error(sendErr))
	}
	return nil
}

func (a *App) onOrderCancelRequest(m ordercancelrequest.OrderCancelRequest, sessionID quickfix.SessionID) quickfix.MessageRejectError {
	clOrdID, err := m.GetOrigClOrdID()
	if err != nil {
		return err
	}
	symbol, err := m.GetSymbol()
	if err != nil {
		return err
	}

	if sendErr := a.forward(msg.CancelOrder{
		ClOrdID:       clOrdID,
		ParticipantID: sessionID.TargetCompID,
		Ticker:        symbol,
	}); sendErr != nil {
		a.log.Error("forward cancel", zap.String("cl_ord_id", clOrdID), zap.Error(sendErr))
	}
	return nil
}

func (a *App) forward(container any) error {
	payload, err := msg.Encode(container)
	if err != nil {
		return err
	}
	return a.om.Send(payload)
}

// pump drains the order manager link and turns execution reports back into
// FIX messages on the originating session.
func (a *App) pump() {
	defer close(a.stopped)
	for {
		select {
		case <-a.done:
			return
		default:
		}
		payload, ok := a.om.Dequeue(100 * time.Millisecond)
		if !ok {
			continue
		}
		container, err := msg.Decode(payload)
		if err != nil {
			a.log.Warn("bad upstream frame", zap.Error(err))
			continue
		}
		rep, ok := container.(msg.ExecutionReport)
		if !ok {
			a.log.Warn("unexpected upstream container", zap.Any("container", container))
			continue
		}
		a.deliver(rep)
	}
}

func (a *App) deliver(rep msg.ExecutionReport) {
	a.mu.Lock()
	entry, ok := a.orders[rep.ClOrdID]
	if ok && rep.Status != msg.StatusAccepted {
		delete(a.orders, rep.ClOrdID)
	}
	a.mu.Unlock()
	if !ok {
		a.log.Warn("report for unknown order", zap.String("cl_ord_id", rep.ClOrdID))
		return
	}

	fixRep := a.buildExecutionReport(rep, entry)
	if err := quickfix.SendToTarget(fixRep, entry.session); err != nil {
		a.log.Warn("send execution report", zap.Error(err))
	}
}

func (a *App) buildExecutionReport(rep msg.ExecutionReport, entry pending) executionreport.ExecutionReport {
	execType, ordStatus := statusToFIX(rep.Status)

	leaves := entry.quantity
	if rep.Status != msg.StatusAccepted {
		leaves = decimal.Zero
	}

	m := executionreport.New(
		field.NewOrderID(fmt.Sprintf("%d", rep.OrderID)),
		field.NewExecID(fmt.Sprintf("exec-%d", a.execID.Next())),
		field.NewExecType(execType),
		field.NewOrdStatus(ordStatus),
		field.NewSide(entry.side),
		field.NewLeavesQty(leaves, 0),
		field.NewCumQty(decimal.Zero, 0),
		field.NewAvgPx(decimal.Zero, 2),
	)
	m.SetClOrdID(rep.ClOrdID)
	m.SetSymbol(entry.symbol)
	m.SetOrderQty(entry.quantity, 0)
	if rep.Reason != "" {
		m.SetText(rep.Reason)
	}
	return m
}

func sideFromFIX(side enum.Side) (string, error) {
	switch side {
	case enum.Side_BUY:
		return "bid", nil
	case enum.Side_SELL:
		return "ask", nil
	}
	return "", fmt.Errorf("unsupported side %q", side)
}

func statusToFIX(status string) (enum.ExecType, enum.OrdStatus) {
	switch status {
	case msg.StatusAccepted:
		return enum.ExecType_NEW, enum.OrdStatus_NEW
	case msg.StatusCanceled:
		return enum.ExecType_CANCELED, enum.OrdStatus_CANCELED
	default:
		return enum.ExecType_REJECTED, enum.OrdStatus_REJECTED
	}
}

// Close stops the report pump.
func (a *App) Close() {
	close(a.done)
	<-a.stopped
}
