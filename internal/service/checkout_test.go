package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"bellezza/backend/internal/domain"
	"bellezza/backend/internal/pricing"
	"bellezza/backend/internal/store"
	"bellezza/backend/internal/store/memory"
)

func openSession(t *testing.T, svc *Service, ctx context.Context, locationID int64) {
	t.Helper()
	if _, err := svc.OpenCash(ctx, domain.CashOpenRequest{LocationID: locationID, OpeningFloat: money("50.00")}); err != nil {
		t.Fatalf("open cash failed: %v", err)
	}
}

func TestCheckoutRequiresOpenCashSession(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.Checkout(frontdeskCtx(), domain.CheckoutRequest{
		LocationID:    1,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CheckoutLine{{Kind: domain.LineKindService, ID: 1, Qty: 1}},
	})
	if !errors.Is(err, ErrCashSessionClosed) {
		t.Fatalf("expected ErrCashSessionClosed, got %v", err)
	}
}

func TestCheckoutFromAppointmentLinksSale(t *testing.T) {
	svc, repo := newTestService()
	ctx := frontdeskCtx()
	openSession(t, svc, ctx, 0)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		AppointmentID: 1,
		PaymentMethod: domain.PaymentCash,
		Lines: []domain.CheckoutLine{
			{Kind: domain.LineKindService, ID: 1, Qty: 1, DiscountPercent: 10},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Duplicate || resp.Warning != "" {
		t.Fatalf("expected a clean first checkout, got %+v", resp)
	}
	if !resp.Totals.Total.Equal(money("27.00")) {
		t.Fatalf("expected total 27.00, got %s", resp.Totals.Total)
	}

	appointment, err := repo.GetAppointmentByID(context.Background(), 1)
	if err != nil {
		t.Fatalf("get appointment failed: %v", err)
	}
	if appointment.Status != domain.AppointmentDone {
		t.Fatalf("expected done, got %s", appointment.Status)
	}
	if appointment.SaleID == nil || *appointment.SaleID != resp.SaleID {
		t.Fatalf("expected appointment linked to sale %d", resp.SaleID)
	}

	sale, err := repo.GetSaleByID(context.Background(), resp.SaleID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if sale.CustomerID == nil || *sale.CustomerID != 501 {
		t.Fatalf("expected customer 501 from the appointment")
	}
}

func TestCheckoutProductLinesDecrementStock(t *testing.T) {
	svc, repo := newTestService()
	ctx := frontdeskCtx()
	openSession(t, svc, ctx, 0)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		LocationID:    1,
		PaymentMethod: domain.PaymentCard,
		Lines: []domain.CheckoutLine{
			{Kind: domain.LineKindProduct, ID: 1, Qty: 2},
			{Kind: domain.LineKindService, ID: 3, Qty: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	qty, _ := repo.GetStock(context.Background(), 1, 1)
	if qty != 38 {
		t.Fatalf("expected stock 38 after selling 2, got %d", qty)
	}

	movements, _ := repo.ListStockMovements(context.Background(), 1, 10)
	if len(movements) != 1 {
		t.Fatalf("expected one movement, got %d", len(movements))
	}
	wantReason := fmt.Sprintf("sale #%d", resp.SaleID)
	if movements[0].Reason != wantReason {
		t.Fatalf("expected reason %q, got %q", wantReason, movements[0].Reason)
	}
	if movements[0].FromLocationID == nil || *movements[0].FromLocationID != 1 {
		t.Fatalf("expected outflow from location 1")
	}
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	svc, repo := newTestService()
	ctx := frontdeskCtx()
	openSession(t, svc, ctx, 0)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		LocationID:    1,
		PaymentMethod: domain.PaymentCash,
		Lines: []domain.CheckoutLine{
			{Kind: domain.LineKindProduct, ID: 1, Qty: 9999},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	qty, _ := repo.GetStock(context.Background(), 1, 1)
	if qty != 40 {
		t.Fatalf("expected stock untouched at 40, got %d", qty)
	}
	movements, _ := repo.ListStockMovements(context.Background(), 1, 10)
	if len(movements) != 0 {
		t.Fatalf("expected no movement rows, got %d", len(movements))
	}
	if _, err := repo.GetSaleByID(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected the sale header to be compensated away, got %v", err)
	}
}

// failingLineRepo forces the line-insert step to fail so the compensation path
// can be observed.
type failingLineRepo struct {
	store.Repository
}

func (f failingLineRepo) CreateSaleLines(context.Context, int64, []domain.SaleLine) ([]domain.SaleLine, error) {
	return nil, errors.New("simulated line insert failure")
}

func TestCheckoutCompensatesSaleOnLineFailure(t *testing.T) {
	repo := memory.NewSeeded()
	resolver := pricing.NewResolver(repo, nil, 0)
	svc := New(failingLineRepo{repo}, resolver)
	ctx := frontdeskCtx()
	openSession(t, svc, ctx, 0)

	_, err := svc.Checkout(ctx, domain.CheckoutRequest{
		LocationID:    1,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CheckoutLine{{Kind: domain.LineKindService, ID: 1, Qty: 1}},
	})
	if err == nil {
		t.Fatalf("expected checkout to fail")
	}

	if _, err := repo.GetSaleByID(context.Background(), 1); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected sale header deleted by compensation, got %v", err)
	}
}

func TestCheckoutDuplicateAppointmentReturnsExistingSale(t *testing.T) {
	svc, repo := newTestService()
	ctx := frontdeskCtx()
	openSession(t, svc, ctx, 0)

	req := domain.CheckoutRequest{
		AppointmentID: 1,
		PaymentMethod: domain.PaymentCash,
		Lines: []domain.CheckoutLine{
			{Kind: domain.LineKindProduct, ID: 2, Qty: 1},
		},
	}

	first, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("retried checkout failed: %v", err)
	}
	if !second.Duplicate {
		t.Fatalf("expected duplicate response on retry")
	}
	if second.SaleID != first.SaleID {
		t.Fatalf("expected the original sale %d, got %d", first.SaleID, second.SaleID)
	}
	if !second.Totals.Total.Equal(first.Totals.Total) {
		t.Fatalf("expected matching totals, got %s and %s", first.Totals.Total, second.Totals.Total)
	}

	// The retry must not decrement stock again.
	qty, _ := repo.GetStock(context.Background(), 1, 2)
	if qty != 39 {
		t.Fatalf("expected stock 39 after a single sale, got %d", qty)
	}
}

func TestCheckoutLinkFailureReturnsWarning(t *testing.T) {
	svc, repo := newTestService()
	ctx := frontdeskCtx()
	openSession(t, svc, ctx, 0)

	// The appointment goes terminal between pricing and linking; the sale must
	// still stand.
	repo.CancelAppointment(1)

	resp, err := svc.Checkout(ctx, domain.CheckoutRequest{
		AppointmentID: 1,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CheckoutLine{{Kind: domain.LineKindService, ID: 1, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Warning == "" {
		t.Fatalf("expected a link-failure warning")
	}
	if _, err := repo.GetSaleByID(context.Background(), resp.SaleID); err != nil {
		t.Fatalf("expected the sale to persist: %v", err)
	}
	appointment, _ := repo.GetAppointmentByID(context.Background(), 1)
	if appointment.Status != domain.AppointmentCancelled || appointment.SaleID != nil {
		t.Fatalf("expected cancelled appointment left untouched")
	}
}

func TestCheckoutAccessChecks(t *testing.T) {
	svc, _ := newTestService()
	openSession(t, svc, supervisorCtx(), 2)

	lines := []domain.CheckoutLine{{Kind: domain.LineKindService, ID: 1, Qty: 1}}

	if _, err := svc.Checkout(warehouseCtx(), domain.CheckoutRequest{
		LocationID: 2, PaymentMethod: domain.PaymentCash, Lines: lines,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for warehouse role, got %v", err)
	}

	if _, err := svc.Checkout(frontdeskCtx(), domain.CheckoutRequest{
		LocationID: 2, PaymentMethod: domain.PaymentCash, Lines: lines,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign location, got %v", err)
	}

	// Appointment 2 lives at location 2, outside the front desk actor's scope.
	if _, err := svc.Checkout(frontdeskCtx(), domain.CheckoutRequest{
		AppointmentID: 2, PaymentMethod: domain.PaymentCash, Lines: lines,
	}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign appointment, got %v", err)
	}
}

func TestCheckoutValidation(t *testing.T) {
	svc, _ := newTestService()
	ctx := frontdeskCtx()
	openSession(t, svc, ctx, 0)

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		LocationID:    1,
		PaymentMethod: "crypto",
		Lines:         []domain.CheckoutLine{{Kind: domain.LineKindService, ID: 1, Qty: 1}},
	}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for payment method, got %v", err)
	}

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		LocationID:    1,
		PaymentMethod: domain.PaymentCash,
	}); !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty lines, got %v", err)
	}

	if _, err := svc.Checkout(ctx, domain.CheckoutRequest{
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CheckoutLine{{Kind: domain.LineKindService, ID: 1, Qty: 0}},
	}); !errors.Is(err, pricing.ErrInvalidLine) {
		t.Fatalf("expected ErrInvalidLine for zero qty, got %v", err)
	}
}
