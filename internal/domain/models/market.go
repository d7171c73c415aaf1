package models

// PriceUpdate is one market price tick consumed for risk sweeps.
type PriceUpdate struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}

// Fill is an execution report applied to the portfolio book.
// Matches the executions.fill message schema.
type Fill struct {
	CorrID       string  `json:"corr_id"`
	OrderID      string  `json:"order_id"`
	FillID       string  `json:"fill_id"`
	Instrument   string  `json:"instrument" validate:"required"`
	Side         string  `json:"side" validate:"required,oneof=buy sell BUY SELL"`
	FillQuantity float64 `json:"fill_quantity" validate:"gt=0"`
	FillPrice    float64 `json:"fill_price" validate:"gt=0"`
	FillStatus   string  `json:"fill_status"`
}
