package service

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"bellezza/backend/internal/domain"
	"bellezza/backend/internal/pricing"
	"bellezza/backend/internal/store"
	"bellezza/backend/internal/store/memory"
)

func newTestService() (*Service, *memory.Store) {
	repo := memory.NewSeeded()
	resolver := pricing.NewResolver(repo, nil, 0)
	return New(repo, resolver), repo
}

func frontdeskCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID: 1, Username: "frontdesk", Role: domain.RoleFrontDesk, LocationID: 1,
	})
}

func supervisorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID: 2, Username: "supervisor", Role: domain.RoleSupervisor,
	})
}

func warehouseCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{
		UserID: 3, Username: "warehouse", Role: domain.RoleWarehouse,
	})
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestOpenCashCreatesSession(t *testing.T) {
	svc, _ := newTestService()

	resp, err := svc.OpenCash(frontdeskCtx(), domain.CashOpenRequest{OpeningFloat: money("100.00")})
	if err != nil {
		t.Fatalf("open cash failed: %v", err)
	}
	if resp.Reused {
		t.Fatalf("expected a fresh session")
	}
	if resp.Session.LocationID != 1 {
		t.Fatalf("expected session at location 1, got %d", resp.Session.LocationID)
	}
	if resp.Session.Status != domain.SessionStatusOpen {
		t.Fatalf("expected open status, got %s", resp.Session.Status)
	}
	if !resp.Session.OpeningFloat.Equal(money("100.00")) {
		t.Fatalf("expected opening float 100.00, got %s", resp.Session.OpeningFloat)
	}
}

func TestOpenCashIsIdempotent(t *testing.T) {
	svc, _ := newTestService()
	ctx := frontdeskCtx()

	first, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningFloat: money("100.00")})
	if err != nil {
		t.Fatalf("first open failed: %v", err)
	}
	second, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningFloat: money("250.00")})
	if err != nil {
		t.Fatalf("second open failed: %v", err)
	}
	if !second.Reused {
		t.Fatalf("expected second open to reuse the session")
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("expected same session, got %d and %d", first.Session.ID, second.Session.ID)
	}
	// A non-zero float is never overwritten.
	if !second.Session.OpeningFloat.Equal(money("100.00")) {
		t.Fatalf("expected opening float preserved at 100.00, got %s", second.Session.OpeningFloat)
	}
}

func TestOpenCashUpgradesZeroFloatOnce(t *testing.T) {
	svc, _ := newTestService()
	ctx := frontdeskCtx()

	if _, err := svc.OpenCash(ctx, domain.CashOpenRequest{}); err != nil {
		t.Fatalf("open with zero float failed: %v", err)
	}

	upgraded, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningFloat: money("80.00")})
	if err != nil {
		t.Fatalf("upgrade open failed: %v", err)
	}
	if !upgraded.UpdatedOpeningFloat {
		t.Fatalf("expected the zero opening float to be upgraded")
	}
	if !upgraded.Session.OpeningFloat.Equal(money("80.00")) {
		t.Fatalf("expected opening float 80.00, got %s", upgraded.Session.OpeningFloat)
	}

	again, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningFloat: money("999.00")})
	if err != nil {
		t.Fatalf("third open failed: %v", err)
	}
	if again.UpdatedOpeningFloat {
		t.Fatalf("expected only one float upgrade")
	}
	if !again.Session.OpeningFloat.Equal(money("80.00")) {
		t.Fatalf("expected opening float to stay 80.00, got %s", again.Session.OpeningFloat)
	}
}

func TestOpenCashRejectsNegativeFloat(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.OpenCash(frontdeskCtx(), domain.CashOpenRequest{OpeningFloat: money("-1.00")})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestCloseCashComputesSessionTotals(t *testing.T) {
	svc, _ := newTestService()
	ctx := frontdeskCtx()

	if _, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningFloat: money("50.00")}); err != nil {
		t.Fatalf("open cash failed: %v", err)
	}

	checkout, err := svc.Checkout(ctx, domain.CheckoutRequest{
		LocationID:    1,
		PaymentMethod: domain.PaymentCash,
		Lines: []domain.CheckoutLine{
			{Kind: domain.LineKindService, ID: 2, Qty: 1, DiscountPercent: 10},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	closed, err := svc.CloseCash(ctx, domain.CashCloseRequest{ClosingFloat: money("120.00")})
	if err != nil {
		t.Fatalf("close cash failed: %v", err)
	}
	if closed.AlreadyClosed {
		t.Fatalf("expected a fresh close")
	}
	if closed.Session.Status != domain.SessionStatusClosed {
		t.Fatalf("expected closed status, got %s", closed.Session.Status)
	}
	if !closed.Totals.Cash.Equal(checkout.Totals.Total) {
		t.Fatalf("expected cash totals %s, got %s", checkout.Totals.Total, closed.Totals.Cash)
	}
	if closed.Totals.Count != 1 {
		t.Fatalf("expected 1 sale in totals, got %d", closed.Totals.Count)
	}
}

func TestCloseCashTwiceReturnsAlreadyClosed(t *testing.T) {
	svc, _ := newTestService()
	ctx := frontdeskCtx()

	if _, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningFloat: money("50.00")}); err != nil {
		t.Fatalf("open cash failed: %v", err)
	}
	first, err := svc.CloseCash(ctx, domain.CashCloseRequest{ClosingFloat: money("50.00")})
	if err != nil {
		t.Fatalf("first close failed: %v", err)
	}

	second, err := svc.CloseCash(ctx, domain.CashCloseRequest{ClosingFloat: money("75.00")})
	if err != nil {
		t.Fatalf("second close failed: %v", err)
	}
	if !second.AlreadyClosed {
		t.Fatalf("expected already_closed on a repeated close")
	}
	if second.Session.ID != first.Session.ID {
		t.Fatalf("expected same session, got %d and %d", first.Session.ID, second.Session.ID)
	}
	// The original closing float wins the race.
	if second.Session.ClosingFloat == nil || !second.Session.ClosingFloat.Equal(money("50.00")) {
		t.Fatalf("expected closing float 50.00 preserved")
	}
}

func TestCloseCashWithoutSession(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.CloseCash(supervisorCtx(), domain.CashCloseRequest{LocationID: 2, ClosingFloat: money("10.00")})
	if !errors.Is(err, ErrNoOpenSession) {
		t.Fatalf("expected ErrNoOpenSession, got %v", err)
	}
}

func TestCashStatusReportsSessionAndDayTotals(t *testing.T) {
	svc, _ := newTestService()
	ctx := frontdeskCtx()

	status, err := svc.CashStatus(ctx, 0)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if status.Open {
		t.Fatalf("expected no open session yet")
	}

	if _, err := svc.OpenCash(ctx, domain.CashOpenRequest{OpeningFloat: money("50.00")}); err != nil {
		t.Fatalf("open cash failed: %v", err)
	}
	checkout, err := svc.Checkout(ctx, domain.CheckoutRequest{
		LocationID:    1,
		PaymentMethod: domain.PaymentCard,
		Lines:         []domain.CheckoutLine{{Kind: domain.LineKindService, ID: 1, Qty: 1}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}

	status, err = svc.CashStatus(ctx, 0)
	if err != nil {
		t.Fatalf("status failed: %v", err)
	}
	if !status.Open || status.Session == nil || status.SessionTotals == nil {
		t.Fatalf("expected an open session with totals")
	}
	if !status.SessionTotals.Card.Equal(checkout.Totals.Total) {
		t.Fatalf("expected card totals %s, got %s", checkout.Totals.Total, status.SessionTotals.Card)
	}
	if !status.DayTotals.Gross.Equal(checkout.Totals.Total) {
		t.Fatalf("expected day gross %s, got %s", checkout.Totals.Total, status.DayTotals.Gross)
	}
}

func TestMoveStockTransfer(t *testing.T) {
	svc, repo := newTestService()

	movement, err := svc.MoveStock(warehouseCtx(), domain.Transfer(1, 10, 3, 1, "replenish salon"))
	if err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if movement.FromLocationID == nil || *movement.FromLocationID != 3 {
		t.Fatalf("expected transfer from location 3")
	}

	fromQty, _ := repo.GetStock(context.Background(), 3, 1)
	toQty, _ := repo.GetStock(context.Background(), 1, 1)
	if fromQty != 190 || toQty != 50 {
		t.Fatalf("expected 190/50 after transfer, got %d/%d", fromQty, toQty)
	}
}

func TestMoveStockInsufficientWritesNothing(t *testing.T) {
	svc, repo := newTestService()

	before, _ := repo.ListStockMovements(context.Background(), 0, 100)

	_, err := svc.MoveStock(warehouseCtx(), domain.Outflow(1, 9999, 3, "shrinkage"))
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	qty, _ := repo.GetStock(context.Background(), 3, 1)
	if qty != 200 {
		t.Fatalf("expected stock unchanged at 200, got %d", qty)
	}
	after, _ := repo.ListStockMovements(context.Background(), 0, 100)
	if len(after) != len(before) {
		t.Fatalf("expected no movement row on failure")
	}
}

func TestMoveStockValidatesDeltaShape(t *testing.T) {
	svc, _ := newTestService()
	ctx := warehouseCtx()

	cases := []domain.StockDelta{
		{Kind: domain.DeltaInflow, ProductID: 1, Qty: 5},                                         // missing destination
		{Kind: domain.DeltaOutflow, ProductID: 1, Qty: 5, ToLocationID: 1},                       // outflow with destination
		{Kind: domain.DeltaTransfer, ProductID: 1, Qty: 5, FromLocationID: 1, ToLocationID: 1},   // same endpoints
		{Kind: "adjust", ProductID: 1, Qty: 5, FromLocationID: 1},                                // unknown kind
		{Kind: domain.DeltaInflow, ProductID: 1, Qty: 0, ToLocationID: 1},                        // zero qty
		{Kind: domain.DeltaInflow, ProductID: 1, Qty: 5, FromLocationID: 3, ToLocationID: 1},     // inflow with source
	}
	for i, delta := range cases {
		if _, err := svc.MoveStock(ctx, delta); !errors.Is(err, store.ErrInvalidRequest) {
			t.Fatalf("case %d: expected ErrInvalidRequest, got %v", i, err)
		}
	}
}

func TestMoveStockScopedToOwnLocation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.MoveStock(frontdeskCtx(), domain.Outflow(1, 1, 2, "damaged"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for foreign location, got %v", err)
	}

	if _, err := svc.MoveStock(frontdeskCtx(), domain.Outflow(1, 1, 1, "damaged")); err != nil {
		t.Fatalf("expected own-location outflow to succeed: %v", err)
	}
}

func TestStartAppointment(t *testing.T) {
	svc, repo := newTestService()
	ctx := frontdeskCtx()

	appointment, err := svc.StartAppointment(ctx, 1)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if appointment.Status != domain.AppointmentInRoom {
		t.Fatalf("expected in_room, got %s", appointment.Status)
	}

	// Starting again is idempotent.
	appointment, err = svc.StartAppointment(ctx, 1)
	if err != nil {
		t.Fatalf("repeat start failed: %v", err)
	}
	if appointment.Status != domain.AppointmentInRoom {
		t.Fatalf("expected in_room on repeat, got %s", appointment.Status)
	}

	// A terminal appointment is observed, not transitioned.
	repo.CancelAppointment(1)
	appointment, err = svc.StartAppointment(ctx, 1)
	if err != nil {
		t.Fatalf("start on cancelled appointment errored: %v", err)
	}
	if appointment.Status != domain.AppointmentCancelled {
		t.Fatalf("expected cancelled to be preserved, got %s", appointment.Status)
	}
}

func TestStartAppointmentForeignLocationForbidden(t *testing.T) {
	svc, _ := newTestService()

	// Appointment 2 belongs to location 2; the front desk actor is scoped to 1.
	_, err := svc.StartAppointment(frontdeskCtx(), 2)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAuditLogsRestrictedToSupervisor(t *testing.T) {
	svc, _ := newTestService()

	if _, err := svc.ListAuditLogs(frontdeskCtx(), 0, "", 10); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for front desk, got %v", err)
	}

	if _, err := svc.OpenCash(frontdeskCtx(), domain.CashOpenRequest{OpeningFloat: money("10.00")}); err != nil {
		t.Fatalf("open cash failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(supervisorCtx(), 1, "", 10)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}
	if len(logs) == 0 {
		t.Fatalf("expected the cash open to be audited")
	}
	if logs[0].Action != "cash_open" {
		t.Fatalf("expected cash_open entry, got %s", logs[0].Action)
	}
}

func TestSupervisorMustNameLocation(t *testing.T) {
	svc, _ := newTestService()

	_, err := svc.OpenCash(supervisorCtx(), domain.CashOpenRequest{OpeningFloat: money("10.00")})
	if !errors.Is(err, store.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without location, got %v", err)
	}

	if _, err := svc.OpenCash(supervisorCtx(), domain.CashOpenRequest{LocationID: 2, OpeningFloat: money("10.00")}); err != nil {
		t.Fatalf("supervisor open at explicit location failed: %v", err)
	}
}
