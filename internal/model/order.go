package model

import "time"

// OrderMode is how an order meets the book.
type OrderMode string

const (
	ModeMaker OrderMode = "MAKER"
	ModeTaker OrderMode = "TAKER"
)

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderPending  OrderStatus = "PENDING"
	OrderFilled   OrderStatus = "FILLED"
	OrderRejected OrderStatus = "REJECTED"
	OrderExpired  OrderStatus = "EXPIRED"
)

// Order buys Size contracts of the outcome token named by Side.
type Order struct {
	ID           string      `json:"id"`
	Seq          int64       `json:"seq"`
	Side         SignalType  `json:"side"`
	Mode         OrderMode   `json:"mode"`
	LimitPrice   float64     `json:"limit_price"`
	Size         float64     `json:"size"`
	Status       OrderStatus `json:"status"`
	FillPrice    float64     `json:"fill_price,omitempty"`
	Reason       string      `json:"reason,omitempty"`
	SnapshotTime time.Time   `json:"snapshot_time"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Trade is a filled order carried to its binary resolution.
type Trade struct {
	ID           string     `json:"id"`
	OrderID      string     `json:"order_id"`
	SignalType   SignalType `json:"signal_type"`
	Mode         OrderMode  `json:"mode"`
	EntryTime    time.Time  `json:"entry_time"`
	EntryPrice   float64    `json:"entry_price"`
	ExitTime     time.Time  `json:"exit_time"`
	ExitPrice    float64    `json:"exit_price"`
	Strike       float64    `json:"strike"`
	SettlePrice  float64    `json:"settle_price"`
	Size         float64    `json:"size"`
	Fees         float64    `json:"fees"`
	PnL          float64    `json:"pnl"`
	Won          bool       `json:"won"`
	RegimeTags   []string   `json:"regime_tags"`
	BalanceAfter float64    `json:"balance_after"`
}

// Position is an open trade awaiting resolution.
type Position struct {
	Order      Order     `json:"order"`
	Signal     Signal    `json:"signal"`
	EntryTime  time.Time `json:"entry_time"`
	ResolvesAt time.Time `json:"resolves_at"`
}

// EquityState is the single-writer account state mutated by settlement.
type EquityState struct {
	Balance          float64   `json:"balance"`
	PeakBalance      float64   `json:"peak_balance"`
	CurrentDrawdown  float64   `json:"current_drawdown"`
	RiskFraction     float64   `json:"risk_fraction"`
	ReferenceBalance float64   `json:"reference_balance"`
	BreakerTripped   bool      `json:"breaker_tripped"`
	TradeCount       int       `json:"trade_count"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// DrawdownFraction is the current drawdown as a fraction of the reference balance.
func (e EquityState) DrawdownFraction() float64 {
	if e.ReferenceBalance <= 0 {
		return 0
	}
	return e.CurrentDrawdown / e.ReferenceBalance
}
