// Package msg defines the JSON containers exchanged between the gateway,
// the order manager and the matching engine. Prices and quantities travel
// as decimals and are converted to fixed point at the engine boundary.
package msg

import (
	"encoding/json"
	"fmt"
)

// Type discriminates the payload of an Envelope.
type Type string

const (
	TypeNewOrderSingle   Type = "new_order_single"
	TypeCancelOrder      Type = "cancel_order"
	TypeExecutionReport  Type = "execution_report"
	TypeFillCostRequest  Type = "fill_cost_request"
	TypeFillCostResponse Type = "fill_cost_response"
)

// Envelope is the outer frame of every inter-service message.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Order types accepted on the wire.
const (
	OrdTypeLimit  = "limit"
	OrdTypeMarket = "market"
)

// NewOrderSingle asks the engine to add an order. Price is absent for
// market orders.
type NewOrderSingle struct {
	ClOrdID       string  `json:"cl_ord_id"`
	ParticipantID string  `json:"participant_id"`
	Ticker        string  `json:"ticker"`
	Side          string  `json:"side"`
	OrdType       string  `json:"ord_type"`
	Price         float64 `json:"price,omitempty"`
	Quantity      float64 `json:"quantity"`
}

// CancelOrder asks the engine to remove a resting order.
type CancelOrder struct {
	ClOrdID       string `json:"cl_ord_id"`
	ParticipantID string `json:"participant_id"`
	Ticker        string `json:"ticker"`
	OrderID       int64  `json:"order_id,omitempty"`
}

// Execution report statuses.
const (
	StatusAccepted = "accepted"
	StatusCanceled = "canceled"
	StatusRejected = "rejected"
)

// ExecutionReport is the engine's answer to an order request.
type ExecutionReport struct {
	ClOrdID string `json:"cl_ord_id"`
	OrderID int64  `json:"order_id,omitempty"`
	Ticker  string `json:"ticker"`
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
}

// FillCostRequest prices a prospective order against the current book
// without executing it.
type FillCostRequest struct {
	ReqID    string  `json:"req_id"`
	Ticker   string  `json:"ticker"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
}

// FillCostResponse carries the estimated notional cost, or the reason the
// book could not price it.
type FillCostResponse struct {
	ReqID  string  `json:"req_id"`
	Ticker string  `json:"ticker"`
	Cost   float64 `json:"cost"`
	Reason string  `json:"reason,omitempty"`
}

// Encode wraps a container in its envelope.
func Encode(v any) ([]byte, error) {
	var typ Type
	switch v.(type) {
	case NewOrderSingle, *NewOrderSingle:
		typ = TypeNewOrderSingle
	case CancelOrder, *CancelOrder:
		typ = TypeCancelOrder
	case ExecutionReport, *ExecutionReport:
		typ = TypeExecutionReport
	case FillCostRequest, *FillCostRequest:
		typ = TypeFillCostRequest
	case FillCostResponse, *FillCostResponse:
		typ = TypeFillCostResponse
	default:
		return nil, fmt.Errorf("unknown container type %T", v)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Payload: payload})
}

// Decode unwraps an envelope into its typed container.
func Decode(data []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	var (
		v   any
		err error
	)
	switch env.Type {
	case TypeNewOrderSingle:
		var c NewOrderSingle
		err = json.Unmarshal(env.Payload, &c)
		v = c
	case TypeCancelOrder:
		var c CancelOrder
		err = json.Unmarshal(env.Payload, &c)
		v = c
	case TypeExecutionReport:
		var c ExecutionReport
		err = json.Unmarshal(env.Payload, &c)
		v = c
	case TypeFillCostRequest:
		var c FillCostRequest
		err = json.Unmarshal(env.Payload, &c)
		v = c
	case TypeFillCostResponse:
		var c FillCostResponse
		err = json.Unmarshal(env.Payload, &c)
		v = c
	default:
		return nil, fmt.Errorf("unknown container type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return v, nil
}
