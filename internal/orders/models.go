package orders

import "time"

type Product struct {
	ID                string    `json:"id"`
	SellerID          string    `json:"seller_id"`
	Name              string    `json:"name"`
	UnitPriceCents    int64     `json:"unit_price_cents"`
	AvailableQuantity int       `json:"available_quantity"`
	Approved          bool      `json:"approved"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Cart struct {
	ID      string     `json:"id"`
	BuyerID string     `json:"buyer_id"`
	Items   []CartItem `json:"items"`
}

// CartItem keeps the unit price seen when the item was added.
type CartItem struct {
	ProductID      string    `json:"product_id"`
	SellerID       string    `json:"seller_id"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	AddedAt        time.Time `json:"added_at"`
}

func (c Cart) SubtotalCents() int64 {
	var total int64
	for _, it := range c.Items {
		total += it.UnitPriceCents * int64(it.Quantity)
	}
	return total
}

type Address struct {
	Street string `json:"street"`
	Line2  string `json:"line2,omitempty"`
	City   string `json:"city"`
	State  string `json:"state"`
	Zip    string `json:"zip"`
}

func (a Address) Complete() bool {
	return a.Street != "" && a.City != "" && a.State != "" && a.Zip != ""
}

// Profile is the buyer data owned by the identity service; read-only here.
type Profile struct {
	BuyerID string
	Name    string
	Region  string
	Address Address
}

// Market is the delivery-region configuration a checkout is validated against.
type Market struct {
	ID                string
	Region            string
	Timezone          string
	CutoffHour        int // local hour on the day before delivery
	DeliveryDays      []time.Weekday
	MinimumOrderCents int64
	DeliveryFeeCents  int64
	CollectionPointID string // seller operating the pickup location
	CollectionAddress Address
}

func (m Market) Location() *time.Location {
	if loc, err := time.LoadLocation(m.Timezone); err == nil && m.Timezone != "" {
		return loc
	}
	return time.UTC
}

func (m Market) DeliversOn(day time.Weekday) bool {
	for _, d := range m.DeliveryDays {
		if d == day {
			return true
		}
	}
	return false
}

// CutoffFor is the last instant an order may be placed for deliveryDate.
func (m Market) CutoffFor(deliveryDate time.Time) time.Time {
	loc := m.Location()
	d := deliveryDate.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start.AddDate(0, 0, -1).Add(time.Duration(m.CutoffHour) * time.Hour)
}

type Order struct {
	ID               string        `json:"id"`
	BuyerID          string        `json:"buyer_id"`
	CartID           string        `json:"cart_id"`
	MarketID         string        `json:"market_id"`
	DeliveryDate     time.Time     `json:"delivery_date"`
	Status           Status        `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentIntentID  string        `json:"payment_intent_id,omitempty"`
	SubtotalCents    int64         `json:"subtotal_cents"`
	DeliveryFeeCents int64         `json:"delivery_fee_cents"`
	TipCents         int64         `json:"tip_cents"`
	CreditsCents     int64         `json:"credits_cents"`
	TotalCents       int64         `json:"total_cents"`
	BatchID          string        `json:"batch_id,omitempty"`
	Items            []OrderItem   `json:"items,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// OrderItem captures price-at-purchase and is never updated.
type OrderItem struct {
	OrderID        string `json:"order_id"`
	ProductID      string `json:"product_id"`
	SellerID       string `json:"seller_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	SubtotalCents  int64  `json:"subtotal_cents"`
}

type Reservation struct {
	OrderID     string
	ProductID   string
	Qty         int
	Status      string // RESERVED | RELEASED
	OldQuantity int
	NewQuantity int
	CreatedAt   time.Time
}

const (
	ReservationReserved = "RESERVED"
	ReservationReleased = "RELEASED"
)
