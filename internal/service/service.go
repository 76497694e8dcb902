package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"bellezza/backend/internal/domain"
	"bellezza/backend/internal/pricing"
	"bellezza/backend/internal/store"
)

var (
	ErrForbidden         = errors.New("forbidden")
	ErrCashSessionClosed = errors.New("no open cash session for location")
	ErrNoOpenSession     = errors.New("no open cash session")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	resolver *pricing.Resolver
}

func New(repo store.Repository, resolver *pricing.Resolver) *Service {
	return &Service{repo: repo, resolver: resolver}
}

// authorizeLocation resolves the effective location for a request and enforces
// the caller's scope. Location-scoped roles get their assigned location forced
// server-side; a mismatching explicit location is a hard ErrForbidden.
func (s *Service) authorizeLocation(ctx context.Context, requested int64, roles ...string) (int64, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return 0, ErrForbidden
	}
	if len(roles) > 0 && !roleAllowed(actor.Role, roles) {
		return 0, ErrForbidden
	}

	if actor.LocationID != 0 {
		if requested != 0 && requested != actor.LocationID {
			return 0, ErrForbidden
		}
		return actor.LocationID, nil
	}

	if requested == 0 {
		return 0, store.ErrInvalidRequest
	}
	return requested, nil
}

func roleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (s *Service) ListLocations(ctx context.Context) ([]domain.Location, error) {
	return s.repo.ListLocations(ctx)
}

func (s *Service) ListServices(ctx context.Context) ([]domain.Service, error) {
	return s.repo.ListServices(ctx)
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) OpenCash(ctx context.Context, req domain.CashOpenRequest) (domain.CashOpenResponse, error) {
	locationID, err := s.authorizeLocation(ctx, req.LocationID, domain.RoleFrontDesk, domain.RoleSupervisor)
	if err != nil {
		return domain.CashOpenResponse{}, err
	}
	if req.OpeningFloat.IsNegative() {
		return domain.CashOpenResponse{}, store.ErrInvalidRequest
	}
	if _, err := s.repo.GetLocationByID(ctx, locationID); err != nil {
		return domain.CashOpenResponse{}, err
	}

	existing, err := s.repo.GetOpenCashSession(ctx, locationID)
	if err == nil {
		return s.reuseOpenSession(ctx, *existing, req.OpeningFloat)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.CashOpenResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	now := time.Now().UTC()
	session := domain.CashSession{
		LocationID:   locationID,
		BusinessDay:  now.Format("2006-01-02"),
		OpeningFloat: req.OpeningFloat,
		Status:       domain.SessionStatusOpen,
		OpenedBy:     actor.Username,
		OpenedAt:     now,
	}
	created, err := s.repo.CreateCashSession(ctx, session)
	if err != nil {
		// A concurrent open won the insert; fall back to the idempotent path.
		if errors.Is(err, store.ErrSessionOpen) {
			racing, getErr := s.repo.GetOpenCashSession(ctx, locationID)
			if getErr != nil {
				return domain.CashOpenResponse{}, getErr
			}
			return s.reuseOpenSession(ctx, *racing, req.OpeningFloat)
		}
		return domain.CashOpenResponse{}, err
	}

	s.logAudit(ctx, locationID, "cash_open", "cash_session", fmt.Sprintf("%d", created.ID), fmt.Sprintf("opening_float=%s", created.OpeningFloat))
	return domain.CashOpenResponse{Session: *created}, nil
}

// reuseOpenSession implements the idempotent open: an existing open session is
// returned unchanged, except that a zero opening float may be upgraded once.
func (s *Service) reuseOpenSession(ctx context.Context, existing domain.CashSession, openingFloat decimal.Decimal) (domain.CashOpenResponse, error) {
	if existing.OpeningFloat.IsZero() && openingFloat.IsPositive() {
		updated, err := s.repo.UpdateCashSessionFloat(ctx, existing.ID, openingFloat)
		if err != nil {
			return domain.CashOpenResponse{}, err
		}
		s.logAudit(ctx, existing.LocationID, "cash_open_float_update", "cash_session", fmt.Sprintf("%d", existing.ID), fmt.Sprintf("opening_float=%s", openingFloat))
		return domain.CashOpenResponse{Session: *updated, Reused: true, UpdatedOpeningFloat: true}, nil
	}
	return domain.CashOpenResponse{Session: existing, Reused: true}, nil
}

func (s *Service) CloseCash(ctx context.Context, req domain.CashCloseRequest) (domain.CashCloseResponse, error) {
	locationID, err := s.authorizeLocation(ctx, req.LocationID, domain.RoleFrontDesk, domain.RoleSupervisor)
	if err != nil {
		return domain.CashCloseResponse{}, err
	}

	now := time.Now().UTC()
	session, err := s.repo.GetOpenCashSession(ctx, locationID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return domain.CashCloseResponse{}, err
		}
		// No open session. If one was closed today, a concurrent close (or a
		// retried request) already won; report that instead of erroring.
		latest, latestErr := s.repo.GetLatestCashSession(ctx, locationID)
		if latestErr == nil && latest.Status == domain.SessionStatusClosed && latest.BusinessDay == now.Format("2006-01-02") {
			totals, totalsErr := s.sessionTotals(ctx, *latest)
			if totalsErr != nil {
				return domain.CashCloseResponse{}, totalsErr
			}
			return domain.CashCloseResponse{Session: *latest, Totals: totals, AlreadyClosed: true}, nil
		}
		return domain.CashCloseResponse{}, ErrNoOpenSession
	}

	totals, err := s.repo.SumSalesByMethod(ctx, locationID, session.OpenedAt, now)
	if err != nil {
		return domain.CashCloseResponse{}, err
	}

	actor, _ := ActorFromContext(ctx)
	closed, err := s.repo.CloseCashSession(ctx, session.ID, req.ClosingFloat, actor.Username, req.Notes, now)
	if err != nil {
		// Conditional close found no open row: another request won the race.
		if errors.Is(err, store.ErrNotFound) {
			raced, getErr := s.repo.GetCashSessionByID(ctx, session.ID)
			if getErr != nil {
				return domain.CashCloseResponse{}, getErr
			}
			return domain.CashCloseResponse{Session: *raced, Totals: totals, AlreadyClosed: true}, nil
		}
		return domain.CashCloseResponse{}, err
	}

	s.logAudit(ctx, locationID, "cash_close", "cash_session", fmt.Sprintf("%d", closed.ID),
		fmt.Sprintf("closing_float=%s,gross=%s,count=%d", req.ClosingFloat, totals.Gross, totals.Count))
	return domain.CashCloseResponse{Session: *closed, Totals: totals}, nil
}

func (s *Service) sessionTotals(ctx context.Context, session domain.CashSession) (domain.CashTotals, error) {
	end := time.Now().UTC()
	if session.ClosedAt != nil {
		end = *session.ClosedAt
	}
	return s.repo.SumSalesByMethod(ctx, session.LocationID, session.OpenedAt, end)
}

func (s *Service) CashStatus(ctx context.Context, requestedLocation int64) (domain.CashStatusResponse, error) {
	locationID, err := s.authorizeLocation(ctx, requestedLocation, domain.RoleFrontDesk, domain.RoleSupervisor)
	if err != nil {
		return domain.CashStatusResponse{}, err
	}

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dayTotals, err := s.repo.SumSalesByMethod(ctx, locationID, dayStart, now)
	if err != nil {
		return domain.CashStatusResponse{}, err
	}

	resp := domain.CashStatusResponse{DayTotals: dayTotals}
	session, err := s.repo.GetOpenCashSession(ctx, locationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return resp, nil
		}
		return domain.CashStatusResponse{}, err
	}

	sessionTotals, err := s.repo.SumSalesByMethod(ctx, locationID, session.OpenedAt, now)
	if err != nil {
		return domain.CashStatusResponse{}, err
	}
	resp.Open = true
	resp.Session = session
	resp.SessionTotals = &sessionTotals
	return resp, nil
}

// MoveStock validates a tagged stock delta and applies it atomically through
// the inventory ledger. Every mutation of stock-on-hand counters goes through
// here (or the Checkout orchestrator, which builds the same movement).
func (s *Service) MoveStock(ctx context.Context, delta domain.StockDelta) (domain.StockMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.StockMovement{}, ErrForbidden
	}
	if !roleAllowed(actor.Role, []string{domain.RoleWarehouse, domain.RoleSupervisor, domain.RoleFrontDesk}) {
		return domain.StockMovement{}, ErrForbidden
	}

	movement, err := movementFromDelta(delta)
	if err != nil {
		return domain.StockMovement{}, err
	}

	// Location-scoped callers may only touch their own location.
	if actor.LocationID != 0 {
		if movement.FromLocationID != nil && *movement.FromLocationID != actor.LocationID {
			return domain.StockMovement{}, ErrForbidden
		}
		if movement.ToLocationID != nil && *movement.ToLocationID != actor.LocationID {
			return domain.StockMovement{}, ErrForbidden
		}
	}

	applied, err := s.repo.ApplyStockMovement(ctx, *movement)
	if err != nil {
		return domain.StockMovement{}, err
	}

	auditLocation := int64(0)
	if applied.FromLocationID != nil {
		auditLocation = *applied.FromLocationID
	} else if applied.ToLocationID != nil {
		auditLocation = *applied.ToLocationID
	}
	s.logAudit(ctx, auditLocation, "stock_move", "stock_movement", fmt.Sprintf("%d", applied.ID),
		fmt.Sprintf("kind=%s,product=%d,qty=%d,reason=%s", delta.Kind, delta.ProductID, delta.Qty, delta.Reason))
	return *applied, nil
}

func movementFromDelta(delta domain.StockDelta) (*domain.StockMovement, error) {
	if delta.ProductID == 0 || delta.Qty < 1 {
		return nil, store.ErrInvalidRequest
	}

	movement := domain.StockMovement{
		ProductID: delta.ProductID,
		Qty:       delta.Qty,
		Reason:    delta.Reason,
		CreatedAt: time.Now().UTC(),
	}

	switch delta.Kind {
	case domain.DeltaInflow:
		if delta.ToLocationID == 0 || delta.FromLocationID != 0 {
			return nil, store.ErrInvalidRequest
		}
		to := delta.ToLocationID
		movement.ToLocationID = &to
	case domain.DeltaOutflow:
		if delta.FromLocationID == 0 || delta.ToLocationID != 0 {
			return nil, store.ErrInvalidRequest
		}
		from := delta.FromLocationID
		movement.FromLocationID = &from
	case domain.DeltaTransfer:
		if delta.FromLocationID == 0 || delta.ToLocationID == 0 || delta.FromLocationID == delta.ToLocationID {
			return nil, store.ErrInvalidRequest
		}
		from, to := delta.FromLocationID, delta.ToLocationID
		movement.FromLocationID = &from
		movement.ToLocationID = &to
	default:
		return nil, store.ErrInvalidRequest
	}

	return &movement, nil
}

func (s *Service) ListStockLevels(ctx context.Context, requestedLocation int64) ([]domain.StockLevel, error) {
	locationID, err := s.authorizeLocation(ctx, requestedLocation, domain.RoleFrontDesk, domain.RoleSupervisor, domain.RoleWarehouse)
	if err != nil {
		return nil, err
	}
	return s.repo.ListStockLevels(ctx, locationID)
}

func (s *Service) ListStockMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || !roleAllowed(actor.Role, []string{domain.RoleWarehouse, domain.RoleSupervisor}) {
		return nil, ErrForbidden
	}
	if limit < 1 {
		limit = 100
	}
	return s.repo.ListStockMovements(ctx, productID, limit)
}

// StartAppointment moves an appointment into the in-room state. The store
// transition is conditional on the appointment not being terminal; a caller
// that loses the race observes the resulting state instead of an error.
func (s *Service) StartAppointment(ctx context.Context, appointmentID int64) (domain.Appointment, error) {
	appointment, err := s.repo.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if _, err := s.authorizeLocation(ctx, appointment.LocationID, domain.RoleFrontDesk, domain.RoleSupervisor); err != nil {
		return domain.Appointment{}, err
	}

	updated, err := s.repo.MarkAppointmentInRoom(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRequest) {
			current, getErr := s.repo.GetAppointmentByID(ctx, appointmentID)
			if getErr != nil {
				return domain.Appointment{}, getErr
			}
			return *current, nil
		}
		return domain.Appointment{}, err
	}

	s.logAudit(ctx, updated.LocationID, "appointment_start", "appointment", fmt.Sprintf("%d", updated.ID), "")
	return *updated, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, locationID int64, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleSupervisor {
		return nil, ErrForbidden
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if date == "" {
		from = time.Now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, store.ErrInvalidRequest
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, locationID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, locationID int64, action string, entityType string, entityID string, detail string) {
	actor, _ := ActorFromContext(ctx)
	err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		LocationID: locationID,
		Actor:      actor.Username,
		ActorRole:  actor.Role,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Printf("[service] WARN: failed to write audit log action=%s: %v", action, err)
	}
}
