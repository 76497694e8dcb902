package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"bellezza/backend/internal/domain"
	"bellezza/backend/internal/store"
)

type compensator struct {
	label string
	run   func(ctx context.Context) error
}

// saga accumulates compensators as checkout steps commit. On failure they run
// in reverse order; a compensator that itself fails is logged and skipped so
// the rest still run.
type saga struct {
	compensators []compensator
}

func (s *saga) push(label string, run func(ctx context.Context) error) {
	s.compensators = append(s.compensators, compensator{label: label, run: run})
}

func (s *saga) rollback(ctx context.Context) {
	for i := len(s.compensators) - 1; i >= 0; i-- {
		c := s.compensators[i]
		if err := c.run(ctx); err != nil {
			log.Printf("[service] WARN: checkout compensator %q failed: %v", c.label, err)
		}
	}
}

// Checkout runs the sale-closing workflow: validate, price, persist the sale
// header and lines, decrement stock for product lines, then link the source
// appointment. Persistence steps are compensated on failure; stock movements
// are not reversed once written (the ledger is append-only), so they are
// applied last among the compensable steps.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CheckoutResponse{}, ErrForbidden
	}
	if !roleAllowed(actor.Role, []string{domain.RoleFrontDesk, domain.RoleSupervisor}) {
		return domain.CheckoutResponse{}, ErrForbidden
	}
	if req.PaymentMethod != domain.PaymentCash && req.PaymentMethod != domain.PaymentCard {
		return domain.CheckoutResponse{}, store.ErrInvalidRequest
	}
	if len(req.Lines) == 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidRequest
	}

	locationID := req.LocationID
	var customerID *int64
	if req.CustomerID != 0 {
		id := req.CustomerID
		customerID = &id
	}

	var appointment *domain.Appointment
	if req.AppointmentID != 0 {
		var err error
		appointment, err = s.repo.GetAppointmentByID(ctx, req.AppointmentID)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		// Retried checkout for an already-completed appointment returns the
		// existing sale instead of charging twice.
		if appointment.Status == domain.AppointmentDone && appointment.SaleID != nil {
			return s.duplicateCheckoutResponse(ctx, *appointment.SaleID)
		}
		locationID = appointment.LocationID
		if customerID == nil {
			id := appointment.CustomerID
			customerID = &id
		}
	}
	if locationID == 0 {
		locationID = actor.LocationID
	}
	if locationID == 0 {
		return domain.CheckoutResponse{}, store.ErrInvalidRequest
	}
	if actor.LocationID != 0 && actor.LocationID != locationID {
		return domain.CheckoutResponse{}, ErrForbidden
	}

	if _, err := s.repo.GetOpenCashSession(ctx, locationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, ErrCashSessionClosed
		}
		return domain.CheckoutResponse{}, err
	}

	order, err := s.resolver.Price(ctx, req.Lines, req.OrderDiscountPercent)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	var sg saga

	sale, err := s.repo.CreateSale(ctx, domain.Sale{
		LocationID:     locationID,
		CustomerID:     customerID,
		TotalAmount:    order.Total,
		DiscountAmount: order.OrderDiscount,
		PaymentMethod:  req.PaymentMethod,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	sg.push("delete sale", func(ctx context.Context) error {
		return s.repo.DeleteSale(ctx, sale.ID)
	})

	lines := make([]domain.SaleLine, 0, len(order.Lines))
	for _, priced := range order.Lines {
		line := domain.SaleLine{
			SaleID:          sale.ID,
			Qty:             priced.Qty,
			UnitPrice:       priced.UnitPrice,
			DiscountPercent: priced.DiscountPercent,
			DiscountAmount:  priced.Discount,
			NetAmount:       priced.Net,
		}
		id := priced.ID
		if priced.Kind == domain.LineKindService {
			line.ServiceID = &id
		} else {
			line.ProductID = &id
		}
		if priced.StaffID != 0 {
			staffID := priced.StaffID
			line.StaffID = &staffID
		}
		lines = append(lines, line)
	}
	if _, err := s.repo.CreateSaleLines(ctx, sale.ID, lines); err != nil {
		sg.rollback(ctx)
		return domain.CheckoutResponse{}, err
	}
	sg.push("delete sale lines", func(ctx context.Context) error {
		return s.repo.DeleteSaleLines(ctx, sale.ID)
	})

	for _, priced := range order.Lines {
		if priced.Kind != domain.LineKindProduct {
			continue
		}
		delta := domain.Outflow(priced.ID, priced.Qty, locationID, fmt.Sprintf("sale #%d", sale.ID))
		movement, buildErr := movementFromDelta(delta)
		if buildErr != nil {
			sg.rollback(ctx)
			return domain.CheckoutResponse{}, buildErr
		}
		if _, err := s.repo.ApplyStockMovement(ctx, *movement); err != nil {
			sg.rollback(ctx)
			return domain.CheckoutResponse{}, err
		}
	}

	resp := domain.CheckoutResponse{
		SaleID: sale.ID,
		Totals: domain.CheckoutTotals{
			Subtotal: order.Subtotal,
			Discount: order.OrderDiscount,
			Total:    order.Total,
		},
	}

	// The sale is committed at this point. A failed appointment link degrades
	// to a warning rather than undoing the financial records.
	if appointment != nil {
		if _, err := s.repo.LinkAppointmentSale(ctx, appointment.ID, sale.ID); err != nil {
			log.Printf("[service] WARN: sale %d created but appointment %d not linked: %v", sale.ID, appointment.ID, err)
			resp.Warning = fmt.Sprintf("sale recorded but appointment %d could not be marked done", appointment.ID)
		}
	}

	s.logAudit(ctx, locationID, "checkout", "sale", fmt.Sprintf("%d", sale.ID),
		fmt.Sprintf("method=%s,total=%s,lines=%d", req.PaymentMethod, order.Total, len(lines)))
	return resp, nil
}

func (s *Service) duplicateCheckoutResponse(ctx context.Context, saleID int64) (domain.CheckoutResponse, error) {
	sale, err := s.repo.GetSaleByID(ctx, saleID)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	return domain.CheckoutResponse{
		SaleID: sale.ID,
		Totals: domain.CheckoutTotals{
			Subtotal: sale.TotalAmount.Add(sale.DiscountAmount),
			Discount: sale.DiscountAmount,
			Total:    sale.TotalAmount,
		},
		Duplicate: true,
	}, nil
}
