package orderman

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vela/transport/msg"
)

type fakeEngine struct {
	sent []any
}

func (f *fakeEngine) Send(payload []byte) error {
	container, err := msg.Decode(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, container)
	return nil
}

func (f *fakeEngine) Dequeue(time.Duration) ([]byte, bool) { return nil, false }

func (f *fakeEngine) last() any { return f.sent[len(f.sent)-1] }

type fakePeer struct {
	sent []any
}

func (f *fakePeer) Send(payload []byte) error {
	container, err := msg.Decode(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, container)
	return nil
}

func (f *fakePeer) last() any { return f.sent[len(f.sent)-1] }

func testService(t *testing.T, credit int64) (*Service, *fakeEngine) {
	t.Helper()
	balances, err := OpenBalanceStore(filepath.Join(t.TempDir(), "balances"), credit)
	require.NoError(t, err)
	t.Cleanup(func() { balances.Close() })

	engine := &fakeEngine{}
	return newService(nil, engine, balances, 10*time.Millisecond, zap.NewNop()), engine
}

func limitBuy(clOrdID string, price, qty float64) msg.NewOrderSingle {
	return msg.NewOrderSingle{
		ClOrdID: clOrdID, ParticipantID: "broker-1", Ticker: "GME",
		Side: "bid", OrdType: msg.OrdTypeLimit, Price: price, Quantity: qty,
	}
}

func TestLimitBuyDebitsAndForwards(t *testing.T) {
	s, engine := testService(t, 10_000)
	peer := &fakePeer{}

	s.handleGateway(limitBuy("c1", 50, 1), peer)

	require.Len(t, engine.sent, 1)
	fwd, ok := engine.last().(msg.NewOrderSingle)
	require.True(t, ok)
	assert.Equal(t, "c1", fwd.ClOrdID)

	bal, err := s.balances.Balance("broker-1", "GME")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000-50*100), bal)

	s.handleEngine(msg.ExecutionReport{ClOrdID: "c1", OrderID: 7, Ticker: "GME", Status: msg.StatusAccepted})
	rep, ok := peer.last().(msg.ExecutionReport)
	require.True(t, ok)
	assert.Equal(t, msg.StatusAccepted, rep.Status)
	assert.Equal(t, int64(7), rep.OrderID)
}

func TestLimitBuyInsufficientBalance(t *testing.T) {
	s, engine := testService(t, 100)
	peer := &fakePeer{}

	s.handleGateway(limitBuy("c1", 50, 1), peer)

	assert.Empty(t, engine.sent)
	rep, ok := peer.last().(msg.ExecutionReport)
	require.True(t, ok)
	assert.Equal(t, msg.StatusRejected, rep.Status)
	assert.Contains(t, rep.Reason, "insufficient balance")
}

func TestSellForwardsWithoutDebit(t *testing.T) {
	s, engine := testService(t, 1000)
	peer := &fakePeer{}

	s.handleGateway(msg.NewOrderSingle{
		ClOrdID: "c1", ParticipantID: "broker-1", Ticker: "GME",
		Side: "ask", OrdType: msg.OrdTypeLimit, Price: 50, Quantity: 1,
	}, peer)

	require.Len(t, engine.sent, 1)
	bal, err := s.balances.Balance("broker-1", "GME")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal)
}

func TestMarketBuyPricedBeforeCommit(t *testing.T) {
	s, engine := testService(t, 10_000)
	peer := &fakePeer{}

	s.handleGateway(msg.NewOrderSingle{
		ClOrdID: "c1", ParticipantID: "broker-1", Ticker: "GME",
		Side: "bid", OrdType: msg.OrdTypeMarket, Quantity: 2,
	}, peer)

	require.Len(t, engine.sent, 1)
	req, ok := engine.last().(msg.FillCostRequest)
	require.True(t, ok)
	assert.Equal(t, float64(2), req.Quantity)

	s.handleEngine(msg.FillCostResponse{ReqID: req.ReqID, Ticker: "GME", Cost: 90})

	require.Len(t, engine.sent, 2)
	fwd, ok := engine.last().(msg.NewOrderSingle)
	require.True(t, ok)
	assert.Equal(t, msg.OrdTypeMarket, fwd.OrdType)

	bal, err := s.balances.Balance("broker-1", "GME")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000-90*100), bal)
}

func TestMarketBuyUnpriceableRejected(t *testing.T) {
	s, engine := testService(t, 10_000)
	peer := &fakePeer{}

	s.handleGateway(msg.NewOrderSingle{
		ClOrdID: "c1", ParticipantID: "broker-1", Ticker: "GME",
		Side: "bid", OrdType: msg.OrdTypeMarket, Quantity: 2,
	}, peer)
	req := engine.last().(msg.FillCostRequest)

	s.handleEngine(msg.FillCostResponse{ReqID: req.ReqID, Ticker: "GME", Reason: "empty book side: ask"})

	require.Len(t, engine.sent, 1)
	rep, ok := peer.last().(msg.ExecutionReport)
	require.True(t, ok)
	assert.Equal(t, msg.StatusRejected, rep.Status)
	assert.Contains(t, rep.Reason, "cannot price")
}

func TestCancelRefundsDebit(t *testing.T) {
	s, engine := testService(t, 10_000)
	peer := &fakePeer{}

	s.handleGateway(limitBuy("c1", 50, 1), peer)
	s.handleEngine(msg.ExecutionReport{ClOrdID: "c1", OrderID: 7, Ticker: "GME", Status: msg.StatusAccepted})

	s.handleGateway(msg.CancelOrder{ClOrdID: "c1", ParticipantID: "broker-1", Ticker: "GME"}, peer)
	_, ok := engine.last().(msg.CancelOrder)
	require.True(t, ok)

	s.handleEngine(msg.ExecutionReport{ClOrdID: "c1", OrderID: 7, Ticker: "GME", Status: msg.StatusCanceled})

	bal, err := s.balances.Balance("broker-1", "GME")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal)

	rep := peer.last().(msg.ExecutionReport)
	assert.Equal(t, msg.StatusCanceled, rep.Status)
}

func TestEngineRejectRefundsDebit(t *testing.T) {
	s, _ := testService(t, 10_000)
	peer := &fakePeer{}

	s.handleGateway(limitBuy("c1", 50, 1), peer)
	s.handleEngine(msg.ExecutionReport{ClOrdID: "c1", Ticker: "GME", Status: msg.StatusRejected, Reason: "duplicate order id"})

	bal, err := s.balances.Balance("broker-1", "GME")
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), bal)
}

func TestCancelUnknownOrderRejectedLocally(t *testing.T) {
	s, engine := testService(t, 10_000)
	peer := &fakePeer{}

	s.handleGateway(msg.CancelOrder{ClOrdID: "nope", Ticker: "GME"}, peer)

	assert.Empty(t, engine.sent)
	rep := peer.last().(msg.ExecutionReport)
	assert.Equal(t, msg.StatusRejected, rep.Status)
}

func TestFillCostPassthrough(t *testing.T) {
	s, engine := testService(t, 10_000)
	peer := &fakePeer{}

	s.handleGateway(msg.FillCostRequest{ReqID: "g1", Ticker: "GME", Side: "bid", Quantity: 5}, peer)
	req := engine.last().(msg.FillCostRequest)
	assert.Equal(t, "g1", req.ReqID)

	s.handleEngine(msg.FillCostResponse{ReqID: "g1", Ticker: "GME", Cost: 123.45})
	resp, ok := peer.last().(msg.FillCostResponse)
	require.True(t, ok)
	assert.InDelta(t, 123.45, resp.Cost, 1e-9)
}
