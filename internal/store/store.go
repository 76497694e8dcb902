package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"bellezza/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrSessionOpen       = errors.New("cash session already open")
)

type Repository interface {
	ListLocations(ctx context.Context) ([]domain.Location, error)
	GetLocationByID(ctx context.Context, id int64) (*domain.Location, error)

	ListServices(ctx context.Context) ([]domain.Service, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetServicesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Service, error)
	GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error)

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error)
	DeleteSale(ctx context.Context, id int64) error
	CreateSaleLines(ctx context.Context, saleID int64, lines []domain.SaleLine) ([]domain.SaleLine, error)
	ListSaleLines(ctx context.Context, saleID int64) ([]domain.SaleLine, error)
	DeleteSaleLines(ctx context.Context, saleID int64) error
	SumSalesByMethod(ctx context.Context, locationID int64, from time.Time, to time.Time) (domain.CashTotals, error)

	GetStock(ctx context.Context, locationID int64, productID int64) (int, error)
	ListStockLevels(ctx context.Context, locationID int64) ([]domain.StockLevel, error)
	// ApplyStockMovement updates the stock-on-hand counters for the affected
	// location(s) and records the movement row in one atomic step. A decrement
	// that would go negative fails with ErrInsufficientStock and writes nothing.
	ApplyStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error)
	ListStockMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error)

	GetOpenCashSession(ctx context.Context, locationID int64) (*domain.CashSession, error)
	GetLatestCashSession(ctx context.Context, locationID int64) (*domain.CashSession, error)
	GetCashSessionByID(ctx context.Context, id int64) (*domain.CashSession, error)
	// CreateCashSession inserts a new open session; it fails with ErrSessionOpen
	// if the location already has one.
	CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error)
	UpdateCashSessionFloat(ctx context.Context, sessionID int64, openingFloat decimal.Decimal) (*domain.CashSession, error)
	// CloseCashSession closes the session only if it is still open; a lost race
	// surfaces as ErrNotFound so the caller can re-read the closed row.
	CloseCashSession(ctx context.Context, sessionID int64, closingFloat decimal.Decimal, closedBy string, notes string, closedAt time.Time) (*domain.CashSession, error)

	GetAppointmentByID(ctx context.Context, id int64) (*domain.Appointment, error)
	CreateAppointment(ctx context.Context, appointment domain.Appointment) (*domain.Appointment, error)
	// MarkAppointmentInRoom transitions scheduled -> in_room with a conditional
	// update; a terminal-state appointment surfaces as ErrInvalidRequest.
	MarkAppointmentInRoom(ctx context.Context, id int64) (*domain.Appointment, error)
	// LinkAppointmentSale sets status=done and the sale link, guarded by
	// status NOT IN (done, cancelled).
	LinkAppointmentSale(ctx context.Context, appointmentID int64, saleID int64) (*domain.Appointment, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, locationID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
