package consumers

import "time"

// Message type header values.
const (
	TypeOrderCreated   = "order-created"
	TypeOrderCancelled = "order-cancelled"
	TypeInvoiceIssued  = "invoice-issued"
)

type OrderCreated struct {
	OrderID    string      `json:"order_id"`
	CustomerID string      `json:"customer_id"`
	Currency   string      `json:"currency"`
	Items      []OrderItem `json:"items"`
	PlacedAt   time.Time   `json:"placed_at"`
}

type OrderItem struct {
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// TotalCents sums the line totals.
func (o OrderCreated) TotalCents() int64 {
	var total int64
	for _, it := range o.Items {
		total += int64(it.Quantity) * it.UnitPriceCents
	}
	return total
}

type OrderCancelled struct {
	OrderID     string    `json:"order_id"`
	Reason      string    `json:"reason"`
	CancelledAt time.Time `json:"cancelled_at"`
}

// InvoiceIssued is published as YAML by the billing system.
type InvoiceIssued struct {
	InvoiceID  string    `yaml:"invoice_id"`
	OrderID    string    `yaml:"order_id"`
	CustomerID string    `yaml:"customer_id"`
	IssuedAt   time.Time `yaml:"issued_at"`
	HTML       string    `yaml:"html"`
}
