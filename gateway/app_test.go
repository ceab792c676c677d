package gateway

import (
	"testing"
	"time"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/field"
	"github.com/quickfixgo/fix44/newordersingle"
	"github.com/quickfixgo/fix44/ordercancelrequest"
	"github.com/quickfixgo/quickfix"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vela/transport/msg"
)

type fakeUpstream struct {
	sent []any
}

func (f *fakeUpstream) Send(payload []byte) error {
	container, err := msg.Decode(payload)
	if err != nil {
		return err
	}
	f.sent = append(f.sent, container)
	return nil
}

func (f *fakeUpstream) Dequeue(time.Duration) ([]byte, bool) { return nil, false }

func testApp(t *testing.T) (*App, *fakeUpstream) {
	t.Helper()
	om := &fakeUpstream{}
	a := NewApp(om, zap.NewNop())
	t.Cleanup(a.Close)
	return a, om
}

func testSession() quickfix.SessionID {
	return quickfix.SessionID{BeginString: "FIX.4.4", SenderCompID: "VELA", TargetCompID: "BROKER1"}
}

func TestNewOrderSingleLimitForwarded(t *testing.T) {
	a, om := testApp(t)

	m := newordersingle.New(
		field.NewClOrdID("c1"),
		field.NewSide(enum.Side_BUY),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(enum.OrdType_LIMIT),
	)
	m.SetSymbol("GME")
	m.SetOrderQty(decimal.NewFromInt(10), 0)
	m.SetPrice(decimal.NewFromFloat(100.50), 2)

	require.Nil(t, a.onNewOrderSingle(m, testSession()))

	require.Len(t, om.sent, 1)
	container, ok := om.sent[0].(msg.NewOrderSingle)
	require.True(t, ok)
	assert.Equal(t, "c1", container.ClOrdID)
	assert.Equal(t, "BROKER1", container.ParticipantID)
	assert.Equal(t, "GME", container.Ticker)
	assert.Equal(t, "bid", container.Side)
	assert.Equal(t, msg.OrdTypeLimit, container.OrdType)
	assert.InDelta(t, 100.50, container.Price, 1e-9)
	assert.InDelta(t, 10, container.Quantity, 1e-9)
}

func TestNewOrderSingleMarketForwarded(t *testing.T) {
	a, om := testApp(t)

	m := newordersingle.New(
		field.NewClOrdID("c2"),
		field.NewSide(enum.Side_SELL),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(enum.OrdType_MARKET),
	)
	m.SetSymbol("GME")
	m.SetOrderQty(decimal.NewFromInt(5), 0)

	require.Nil(t, a.onNewOrderSingle(m, testSession()))

	container := om.sent[0].(msg.NewOrderSingle)
	assert.Equal(t, "ask", container.Side)
	assert.Equal(t, msg.OrdTypeMarket, container.OrdType)
	assert.Zero(t, container.Price)
}

func TestNewOrderSingleUnsupportedTypeRejected(t *testing.T) {
	a, om := testApp(t)

	m := newordersingle.New(
		field.NewClOrdID("c3"),
		field.NewSide(enum.Side_BUY),
		field.NewTransactTime(time.Now()),
		field.NewOrdType(enum.OrdType_STOP),
	)
	m.SetSymbol("GME")
	m.SetOrderQty(decimal.NewFromInt(5), 0)

	assert.NotNil(t, a.onNewOrderSingle(m, testSession()))
	assert.Empty(t, om.sent)
}

func TestOrderCancelRequestForwarded(t *testing.T) {
	a, om := testApp(t)

	m := ordercancelrequest.New(
		field.NewOrigClOrdID("c1"),
		field.NewClOrdID("c1-cxl"),
		field.NewSide(enum.Side_BUY),
		field.NewTransactTime(time.Now()),
	)
	m.SetSymbol("GME")

	require.Nil(t, a.onOrderCancelRequest(m, testSession()))

	require.Len(t, om.sent, 1)
	container, ok := om.sent[0].(msg.CancelOrder)
	require.True(t, ok)
	assert.Equal(t, "c1", container.ClOrdID)
	assert.Equal(t, "GME", container.Ticker)
}

func TestBuildExecutionReportMapping(t *testing.T) {
	a, _ := testApp(t)
	entry := pending{
		session:  testSession(),
		symbol:   "GME",
		side:     enum.Side_BUY,
		quantity: decimal.NewFromInt(10),
	}

	m := a.buildExecutionReport(msg.ExecutionReport{
		ClOrdID: "c1", OrderID: 42, Ticker: "GME", Status: msg.StatusAccepted,
	}, entry)

	ordStatus, err := m.GetOrdStatus()
	require.Nil(t, err)
	assert.Equal(t, enum.OrdStatus_NEW, ordStatus)

	orderID, err := m.GetOrderID()
	require.Nil(t, err)
	assert.Equal(t, "42", orderID)

	leaves, err := m.GetLeavesQty()
	require.Nil(t, err)
	assert.True(t, leaves.Equal(decimal.NewFromInt(10)))

	m = a.buildExecutionReport(msg.ExecutionReport{
		ClOrdID: "c1", OrderID: 42, Ticker: "GME", Status: msg.StatusRejected, Reason: "insufficient balance",
	}, entry)

	ordStatus, err = m.GetOrdStatus()
	require.Nil(t, err)
	assert.Equal(t, enum.OrdStatus_REJECTED, ordStatus)

	text, err := m.GetText()
	require.Nil(t, err)
	assert.Equal(t, "insufficient balance", text)

	leaves, err = m.GetLeavesQty()
	require.Nil(t, err)
	assert.True(t, leaves.IsZero())
}

func TestSideConversion(t *testing.T) {
	side, err := sideFromFIX(enum.Side_BUY)
	require.NoError(t, err)
	assert.Equal(t, "bid", side)

	side, err = sideFromFIX(enum.Side_SELL)
	require.NoError(t, err)
	assert.Equal(t, "ask", side)

	_, err = sideFromFIX(enum.Side_CROSS)
	assert.Error(t, err)
}
