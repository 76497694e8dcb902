package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleFrontDesk  = "frontdesk"
	RoleSupervisor = "supervisor"
	RoleWarehouse  = "warehouse"
)

const (
	PaymentCash = "cash"
	PaymentCard = "card"
)

const (
	SessionStatusOpen   = "open"
	SessionStatusClosed = "closed"
)

const (
	AppointmentScheduled = "scheduled"
	AppointmentInRoom    = "in_room"
	AppointmentDone      = "done"
	AppointmentCancelled = "cancelled"
)

const (
	LocationKindSalon     = "salon"
	LocationKindWarehouse = "warehouse"
)

const (
	LineKindService = "service"
	LineKindProduct = "product"
)

type Location struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type Service struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

type Product struct {
	ID     int64           `json:"id"`
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	Active bool            `json:"active"`
}

// Actor is the per-request authorization context. Role and LocationID are
// always resolved from the user store, never from client-supplied claims.
// LocationID is zero for roles that may act on every location.
type Actor struct {
	UserID     int64
	Username   string
	Role       string
	LocationID int64
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID         int64
	Username   string
	Password   string
	Role       string
	LocationID int64
	Active     bool
	CreatedAt  time.Time
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Sale is the immutable financial header of a completed checkout. It is only
// ever deleted as part of compensating rollback before the checkout returns.
type Sale struct {
	ID             int64           `json:"id"`
	LocationID     int64           `json:"location_id"`
	CustomerID     *int64          `json:"customer_id,omitempty"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	PaymentMethod  string          `json:"payment_method"`
	CreatedAt      time.Time       `json:"created_at"`
}

// SaleLine references exactly one of ServiceID/ProductID. UnitPrice is the
// authoritative price snapshotted at checkout time.
type SaleLine struct {
	ID              int64           `json:"id"`
	SaleID          int64           `json:"sale_id"`
	ServiceID       *int64          `json:"service_id,omitempty"`
	ProductID       *int64          `json:"product_id,omitempty"`
	StaffID         *int64          `json:"staff_id,omitempty"`
	Qty             int             `json:"qty"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent float64         `json:"discount_percent"`
	DiscountAmount  decimal.Decimal `json:"discount_amount"`
	NetAmount       decimal.Decimal `json:"net_amount"`
}

// StockMovement is an immutable audit record of one inventory change.
// Exactly one of FromLocationID/ToLocationID may be nil (external in/outflow);
// both set means a transfer between locations.
type StockMovement struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	Qty            int       `json:"qty"`
	FromLocationID *int64    `json:"from_location_id,omitempty"`
	ToLocationID   *int64    `json:"to_location_id,omitempty"`
	Reason         string    `json:"reason"`
	CreatedAt      time.Time `json:"created_at"`
}

const (
	DeltaInflow   = "inflow"
	DeltaOutflow  = "outflow"
	DeltaTransfer = "transfer"
)

// StockDelta is the tagged request form of a stock change. The constructors
// below are the only supported shapes; they remove the ambiguity of a raw
// nullable from/to pair.
type StockDelta struct {
	Kind           string `json:"kind"`
	ProductID      int64  `json:"product_id"`
	Qty            int    `json:"qty"`
	FromLocationID int64  `json:"from_location_id,omitempty"`
	ToLocationID   int64  `json:"to_location_id,omitempty"`
	Reason         string `json:"reason"`
}

func Inflow(productID int64, qty int, to int64, reason string) StockDelta {
	return StockDelta{Kind: DeltaInflow, ProductID: productID, Qty: qty, ToLocationID: to, Reason: reason}
}

func Outflow(productID int64, qty int, from int64, reason string) StockDelta {
	return StockDelta{Kind: DeltaOutflow, ProductID: productID, Qty: qty, FromLocationID: from, Reason: reason}
}

func Transfer(productID int64, qty int, from int64, to int64, reason string) StockDelta {
	return StockDelta{Kind: DeltaTransfer, ProductID: productID, Qty: qty, FromLocationID: from, ToLocationID: to, Reason: reason}
}

// CashSession is one open/close cycle of a location's drawer. At most one row
// per location may have status=open at any time.
type CashSession struct {
	ID           int64            `json:"id"`
	LocationID   int64            `json:"location_id"`
	BusinessDay  string           `json:"business_day"`
	OpeningFloat decimal.Decimal  `json:"opening_float"`
	ClosingFloat *decimal.Decimal `json:"closing_float,omitempty"`
	Status       string           `json:"status"`
	OpenedBy     string           `json:"opened_by"`
	OpenedAt     time.Time        `json:"opened_at"`
	ClosedBy     string           `json:"closed_by,omitempty"`
	ClosedAt     *time.Time       `json:"closed_at,omitempty"`
	Notes        string           `json:"notes,omitempty"`
}

// CashTotals aggregates sales in a time window, partitioned by payment method.
type CashTotals struct {
	Gross decimal.Decimal `json:"gross"`
	Cash  decimal.Decimal `json:"cash"`
	Card  decimal.Decimal `json:"card"`
	Count int64           `json:"count"`
}

type Appointment struct {
	ID          int64     `json:"id"`
	LocationID  int64     `json:"location_id"`
	CustomerID  int64     `json:"customer_id"`
	StaffID     *int64    `json:"staff_id,omitempty"`
	Status      string    `json:"status"`
	SaleID      *int64    `json:"sale_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

type CheckoutLine struct {
	Kind            string  `json:"kind"`
	ID              int64   `json:"id"`
	Qty             int     `json:"qty"`
	StaffID         int64   `json:"staff_id,omitempty"`
	DiscountPercent float64 `json:"discount_percent,omitempty"`
}

type CheckoutRequest struct {
	AppointmentID        int64          `json:"appointment_id,omitempty"`
	LocationID           int64          `json:"location_id,omitempty"`
	CustomerID           int64          `json:"customer_id,omitempty"`
	PaymentMethod        string         `json:"payment_method"`
	Lines                []CheckoutLine `json:"lines"`
	OrderDiscountPercent float64        `json:"order_discount_percent,omitempty"`
}

type CheckoutTotals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Total    decimal.Decimal `json:"total"`
}

type CheckoutResponse struct {
	SaleID    int64          `json:"sale_id"`
	Totals    CheckoutTotals `json:"totals"`
	Warning   string         `json:"warning,omitempty"`
	Duplicate bool           `json:"duplicate"`
}

type CashOpenRequest struct {
	LocationID   int64           `json:"location_id,omitempty"`
	OpeningFloat decimal.Decimal `json:"opening_float"`
}

type CashOpenResponse struct {
	Session             CashSession `json:"session"`
	Reused              bool        `json:"reused"`
	UpdatedOpeningFloat bool        `json:"updated_opening_float"`
}

type CashCloseRequest struct {
	LocationID   int64           `json:"location_id,omitempty"`
	ClosingFloat decimal.Decimal `json:"closing_float"`
	Notes        string          `json:"notes,omitempty"`
}

type CashCloseResponse struct {
	Session       CashSession `json:"session"`
	Totals        CashTotals  `json:"totals"`
	AlreadyClosed bool        `json:"already_closed,omitempty"`
}

type CashStatusResponse struct {
	Open          bool         `json:"open"`
	Session       *CashSession `json:"session,omitempty"`
	DayTotals     CashTotals   `json:"day_totals"`
	SessionTotals *CashTotals  `json:"session_totals,omitempty"`
}

type StockLevel struct {
	LocationID int64 `json:"location_id"`
	ProductID  int64 `json:"product_id"`
	Qty        int   `json:"qty"`
}

type AuditLog struct {
	ID         string    `json:"id"`
	LocationID int64     `json:"location_id"`
	Actor      string    `json:"actor"`
	ActorRole  string    `json:"actor_role"`
	Action     string    `json:"action"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Detail     string    `json:"detail"`
	CreatedAt  time.Time `json:"created_at"`
}
