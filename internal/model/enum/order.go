package enum

// OrderSide buy, sell
type OrderSide uint8

const (
	_order_side_beg OrderSide = iota
	OrderSideBuy
	OrderSideSell
	_order_side_end
)

func (s OrderSide) IsAvailable() bool {
	return s > _order_side_beg && s < _order_side_end
}

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// Sign returns +1 for buy and -1 for sell.
func (s OrderSide) Sign() int64 {
	if s == OrderSideSell {
		return -1
	}
	return 1
}

func ParseOrderSide(s string) OrderSide {
	switch s {
	case "BUY", "buy":
		return OrderSideBuy
	case "SELL", "sell":
		return OrderSideSell
	default:
		return _order_side_beg
	}
}

// OrderType market, limit
type OrderType uint8

const (
	_order_type_beg OrderType = iota
	OrderTypeMarket
	OrderTypeLimit
	_order_type_end
)

func (t OrderType) IsAvailable() bool {
	return t > _order_type_beg && t < _order_type_end
}

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

func ParseOrderType(s string) OrderType {
	switch s {
	case "MARKET", "market":
		return OrderTypeMarket
	case "LIMIT", "limit":
		return OrderTypeLimit
	default:
		return _order_type_beg
	}
}

// OrderStatus placed, filled, rejected, canceled
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusPlaced
	OrderStatusFilled
	OrderStatusRejected
	OrderStatusCanceled
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPlaced:
		return "PLACED"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCanceled:
		return true
	default:
		return false
	}
}
