package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"bellezza/backend/internal/domain"
	"bellezza/backend/internal/store"
	"bellezza/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates every table the store needs if it does not exist yet.
// Intended for local and first-boot deployments; production migrations can
// run the same DDL out of band.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS locations (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL DEFAULT 'salon'
		)`,
		`CREATE TABLE IF NOT EXISTS services (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			price NUMERIC(12,2) NOT NULL,
			active BOOLEAN NOT NULL DEFAULT true
		)`,
		`CREATE TABLE IF NOT EXISTS stock_levels (
			location_id BIGINT NOT NULL,
			product_id BIGINT NOT NULL,
			qty INT NOT NULL DEFAULT 0 CHECK (qty >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (location_id, product_id)
		)`,
		`CREATE TABLE IF NOT EXISTS stock_movements (
			id BIGSERIAL PRIMARY KEY,
			product_id BIGINT NOT NULL,
			qty INT NOT NULL,
			from_location_id BIGINT,
			to_location_id BIGINT,
			reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			id BIGSERIAL PRIMARY KEY,
			location_id BIGINT NOT NULL,
			customer_id BIGINT,
			total_amount NUMERIC(12,2) NOT NULL,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			payment_method TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS sale_lines (
			id BIGSERIAL PRIMARY KEY,
			sale_id BIGINT NOT NULL,
			service_id BIGINT,
			product_id BIGINT,
			staff_id BIGINT,
			qty INT NOT NULL,
			unit_price NUMERIC(12,2) NOT NULL,
			discount_percent DOUBLE PRECISION NOT NULL DEFAULT 0,
			discount_amount NUMERIC(12,2) NOT NULL DEFAULT 0,
			net_amount NUMERIC(12,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cash_sessions (
			id BIGSERIAL PRIMARY KEY,
			location_id BIGINT NOT NULL,
			business_day TEXT NOT NULL,
			opening_float NUMERIC(12,2) NOT NULL DEFAULT 0,
			closing_float NUMERIC(12,2),
			status TEXT NOT NULL,
			opened_by TEXT NOT NULL,
			opened_at TIMESTAMPTZ NOT NULL,
			closed_by TEXT NOT NULL DEFAULT '',
			closed_at TIMESTAMPTZ,
			notes TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS cash_sessions_one_open
			ON cash_sessions (location_id) WHERE status = 'open'`,
		`CREATE TABLE IF NOT EXISTS appointments (
			id BIGSERIAL PRIMARY KEY,
			location_id BIGINT NOT NULL,
			customer_id BIGINT NOT NULL,
			staff_id BIGINT,
			status TEXT NOT NULL,
			sale_id BIGINT,
			scheduled_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id TEXT PRIMARY KEY,
			location_id BIGINT NOT NULL,
			actor_username TEXT NOT NULL,
			actor_role TEXT NOT NULL,
			action TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS app_users (
			id BIGSERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL,
			role TEXT NOT NULL,
			location_id BIGINT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ListLocations(ctx context.Context) ([]domain.Location, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind
		FROM locations
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	locations := make([]domain.Location, 0, 8)
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.Name, &loc.Kind); err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return locations, nil
}

func (s *Store) GetLocationByID(ctx context.Context, id int64) (*domain.Location, error) {
	var loc domain.Location
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind
		FROM locations
		WHERE id = $1
	`, id).Scan(&loc.ID, &loc.Name, &loc.Kind)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &loc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]domain.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM services
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	services := make([]domain.Service, 0, 32)
	for rows.Next() {
		var svc domain.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Price, &svc.Active); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetServicesByIDs(ctx context.Context, ids []int64) (map[int64]domain.Service, error) {
	result := make(map[int64]domain.Service, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM services
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var svc domain.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Price, &svc.Active); err != nil {
			return nil, err
		}
		result[svc.ID] = svc
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	result := make(map[int64]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, active
		FROM products
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Active); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.LocationID == 0 || sale.PaymentMethod == "" {
		return nil, store.ErrInvalidRequest
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sales (location_id, customer_id, total_amount, discount_amount, payment_method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, sale.LocationID, nullInt64(sale.CustomerID), sale.TotalAmount, sale.DiscountAmount, sale.PaymentMethod, sale.CreatedAt).Scan(&sale.ID)
	if err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id int64) (*domain.Sale, error) {
	var sale domain.Sale
	var customerID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, location_id, customer_id, total_amount, discount_amount, payment_method, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &sale.LocationID, &customerID, &sale.TotalAmount, &sale.DiscountAmount, &sale.PaymentMethod, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if customerID.Valid {
		sale.CustomerID = &customerID.Int64
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	return &sale, nil
}

func (s *Store) DeleteSale(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSaleLines(ctx context.Context, saleID int64, lines []domain.SaleLine) ([]domain.SaleLine, error) {
	if saleID == 0 || len(lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	created := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		line.SaleID = saleID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO sale_lines (sale_id, service_id, product_id, staff_id, qty, unit_price, discount_percent, discount_amount, net_amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id
		`, saleID, nullInt64(line.ServiceID), nullInt64(line.ProductID), nullInt64(line.StaffID),
			line.Qty, line.UnitPrice, line.DiscountPercent, line.DiscountAmount, line.NetAmount).Scan(&line.ID)
		if err != nil {
			return nil, err
		}
		created = append(created, line)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) ListSaleLines(ctx context.Context, saleID int64) ([]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sale_id, service_id, product_id, staff_id, qty, unit_price, discount_percent, discount_amount, net_amount
		FROM sale_lines
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make([]domain.SaleLine, 0, 8)
	for rows.Next() {
		var line domain.SaleLine
		var serviceID, productID, staffID sql.NullInt64
		if err := rows.Scan(&line.ID, &line.SaleID, &serviceID, &productID, &staffID,
			&line.Qty, &line.UnitPrice, &line.DiscountPercent, &line.DiscountAmount, &line.NetAmount); err != nil {
			return nil, err
		}
		if serviceID.Valid {
			line.ServiceID = &serviceID.Int64
		}
		if productID.Valid {
			line.ProductID = &productID.Int64
		}
		if staffID.Valid {
			line.StaffID = &staffID.Int64
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) DeleteSaleLines(ctx context.Context, saleID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sale_lines WHERE sale_id = $1`, saleID)
	return err
}

func (s *Store) SumSalesByMethod(ctx context.Context, locationID int64, from time.Time, to time.Time) (domain.CashTotals, error) {
	totals := domain.CashTotals{
		Gross: decimal.Zero,
		Cash:  decimal.Zero,
		Card:  decimal.Zero,
	}
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(total_amount), 0),
			COALESCE(SUM(CASE WHEN payment_method = 'cash' THEN total_amount ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN payment_method = 'card' THEN total_amount ELSE 0 END), 0),
			COUNT(*)::bigint
		FROM sales
		WHERE location_id = $1
			AND created_at >= $2
			AND created_at <= $3
	`, locationID, from, to).Scan(&totals.Gross, &totals.Cash, &totals.Card, &totals.Count)
	if err != nil {
		return totals, err
	}
	return totals, nil
}

func (s *Store) GetStock(ctx context.Context, locationID int64, productID int64) (int, error) {
	var qty int
	err := s.db.QueryRowContext(ctx, `
		SELECT qty
		FROM stock_levels
		WHERE location_id = $1 AND product_id = $2
	`, locationID, productID).Scan(&qty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

func (s *Store) ListStockLevels(ctx context.Context, locationID int64) ([]domain.StockLevel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT location_id, product_id, qty
		FROM stock_levels
		WHERE location_id = $1
		ORDER BY product_id
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make([]domain.StockLevel, 0, 64)
	for rows.Next() {
		var level domain.StockLevel
		if err := rows.Scan(&level.LocationID, &level.ProductID, &level.Qty); err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return levels, nil
}

func (s *Store) ApplyStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.ProductID == 0 || movement.Qty < 1 {
		return nil, store.ErrInvalidRequest
	}
	if movement.FromLocationID == nil && movement.ToLocationID == nil {
		return nil, store.ErrInvalidRequest
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if movement.FromLocationID != nil {
		var qty int
		err := tx.QueryRowContext(ctx, `
			SELECT qty
			FROM stock_levels
			WHERE location_id = $1 AND product_id = $2
			FOR UPDATE
		`, *movement.FromLocationID, movement.ProductID).Scan(&qty)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrInsufficientStock
			}
			return nil, err
		}
		if qty < movement.Qty {
			return nil, store.ErrInsufficientStock
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_levels
			SET qty = qty - $1, updated_at = now()
			WHERE location_id = $2 AND product_id = $3
		`, movement.Qty, *movement.FromLocationID, movement.ProductID)
		if err != nil {
			return nil, err
		}
	}

	if movement.ToLocationID != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_levels (location_id, product_id, qty, updated_at)
			VALUES ($1,$2,$3,now())
			ON CONFLICT (location_id, product_id)
			DO UPDATE SET qty = stock_levels.qty + EXCLUDED.qty, updated_at = now()
		`, *movement.ToLocationID, movement.ProductID, movement.Qty)
		if err != nil {
			return nil, err
		}
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO stock_movements (product_id, qty, from_location_id, to_location_id, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, movement.ProductID, movement.Qty, nullInt64(movement.FromLocationID), nullInt64(movement.ToLocationID),
		movement.Reason, movement.CreatedAt).Scan(&movement.ID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	applied := movement
	return &applied, nil
}

func (s *Store) ListStockMovements(ctx context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, product_id, qty, from_location_id, to_location_id, reason, created_at
		FROM stock_movements
		WHERE ($1 = 0 OR product_id = $1)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, limit)
	for rows.Next() {
		var movement domain.StockMovement
		var from, to sql.NullInt64
		if err := rows.Scan(&movement.ID, &movement.ProductID, &movement.Qty, &from, &to, &movement.Reason, &movement.CreatedAt); err != nil {
			return nil, err
		}
		if from.Valid {
			movement.FromLocationID = &from.Int64
		}
		if to.Valid {
			movement.ToLocationID = &to.Int64
		}
		movement.CreatedAt = movement.CreatedAt.UTC()
		movements = append(movements, movement)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func (s *Store) GetOpenCashSession(ctx context.Context, locationID int64) (*domain.CashSession, error) {
	return s.queryCashSession(ctx, `
		SELECT id, location_id, business_day, opening_float, closing_float, status,
			opened_by, opened_at, closed_by, closed_at, notes
		FROM cash_sessions
		WHERE location_id = $1 AND status = 'open'
		ORDER BY opened_at DESC
		LIMIT 1
	`, locationID)
}

func (s *Store) GetLatestCashSession(ctx context.Context, locationID int64) (*domain.CashSession, error) {
	return s.queryCashSession(ctx, `
		SELECT id, location_id, business_day, opening_float, closing_float, status,
			opened_by, opened_at, closed_by, closed_at, notes
		FROM cash_sessions
		WHERE location_id = $1
		ORDER BY opened_at DESC
		LIMIT 1
	`, locationID)
}

func (s *Store) GetCashSessionByID(ctx context.Context, id int64) (*domain.CashSession, error) {
	return s.queryCashSession(ctx, `
		SELECT id, location_id, business_day, opening_float, closing_float, status,
			opened_by, opened_at, closed_by, closed_at, notes
		FROM cash_sessions
		WHERE id = $1
	`, id)
}

func (s *Store) queryCashSession(ctx context.Context, query string, args ...any) (*domain.CashSession, error) {
	var session domain.CashSession
	var closingFloat decimal.NullDecimal
	var closedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&session.ID,
		&session.LocationID,
		&session.BusinessDay,
		&session.OpeningFloat,
		&closingFloat,
		&session.Status,
		&session.OpenedBy,
		&session.OpenedAt,
		&session.ClosedBy,
		&closedAt,
		&session.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closingFloat.Valid {
		session.ClosingFloat = &closingFloat.Decimal
	}
	if closedAt.Valid {
		at := closedAt.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func (s *Store) CreateCashSession(ctx context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.LocationID == 0 || session.BusinessDay == "" || session.OpenedBy == "" {
		return nil, store.ErrInvalidRequest
	}
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusOpen

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cash_sessions (location_id, business_day, opening_float, status, opened_by, opened_at, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id
	`, session.LocationID, session.BusinessDay, session.OpeningFloat, session.Status,
		session.OpenedBy, session.OpenedAt, session.Notes).Scan(&session.ID)
	if err != nil {
		// The partial unique index on (location_id) WHERE status='open' makes
		// a concurrent double-open surface here.
		if isUniqueViolation(err) {
			return nil, store.ErrSessionOpen
		}
		return nil, err
	}

	created := session
	return &created, nil
}

func (s *Store) UpdateCashSessionFloat(ctx context.Context, sessionID int64, openingFloat decimal.Decimal) (*domain.CashSession, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cash_sessions
		SET opening_float = $2
		WHERE id = $1 AND status = 'open'
	`, sessionID, openingFloat)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCashSessionByID(ctx, sessionID)
}

func (s *Store) CloseCashSession(ctx context.Context, sessionID int64, closingFloat decimal.Decimal, closedBy string, notes string, closedAt time.Time) (*domain.CashSession, error) {
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	var session domain.CashSession
	var closingFloatNull decimal.NullDecimal
	var closedAtNull sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		UPDATE cash_sessions
		SET status = 'closed', closing_float = $2, closed_by = $3, notes = $4, closed_at = $5
		WHERE id = $1 AND status = 'open'
		RETURNING id, location_id, business_day, opening_float, closing_float, status,
			opened_by, opened_at, closed_by, closed_at, notes
	`, sessionID, closingFloat, closedBy, notes, closedAt).Scan(
		&session.ID,
		&session.LocationID,
		&session.BusinessDay,
		&session.OpeningFloat,
		&closingFloatNull,
		&session.Status,
		&session.OpenedBy,
		&session.OpenedAt,
		&session.ClosedBy,
		&closedAtNull,
		&session.Notes,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	session.OpenedAt = session.OpenedAt.UTC()
	if closingFloatNull.Valid {
		session.ClosingFloat = &closingFloatNull.Decimal
	}
	if closedAtNull.Valid {
		at := closedAtNull.Time.UTC()
		session.ClosedAt = &at
	}
	return &session, nil
}

func (s *Store) GetAppointmentByID(ctx context.Context, id int64) (*domain.Appointment, error) {
	var appointment domain.Appointment
	var staffID, saleID sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, location_id, customer_id, staff_id, status, sale_id, scheduled_at
		FROM appointments
		WHERE id = $1
	`, id).Scan(&appointment.ID, &appointment.LocationID, &appointment.CustomerID,
		&staffID, &appointment.Status, &saleID, &appointment.ScheduledAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if staffID.Valid {
		appointment.StaffID = &staffID.Int64
	}
	if saleID.Valid {
		appointment.SaleID = &saleID.Int64
	}
	appointment.ScheduledAt = appointment.ScheduledAt.UTC()
	return &appointment, nil
}

func (s *Store) CreateAppointment(ctx context.Context, appointment domain.Appointment) (*domain.Appointment, error) {
	if appointment.LocationID == 0 || appointment.CustomerID == 0 {
		return nil, store.ErrInvalidRequest
	}
	if appointment.Status == "" {
		appointment.Status = domain.AppointmentScheduled
	}
	if appointment.ScheduledAt.IsZero() {
		appointment.ScheduledAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO appointments (location_id, customer_id, staff_id, status, sale_id, scheduled_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, appointment.LocationID, appointment.CustomerID, nullInt64(appointment.StaffID),
		appointment.Status, nullInt64(appointment.SaleID), appointment.ScheduledAt).Scan(&appointment.ID)
	if err != nil {
		return nil, err
	}

	created := appointment
	return &created, nil
}

func (s *Store) MarkAppointmentInRoom(ctx context.Context, id int64) (*domain.Appointment, error) {
	return s.transitionAppointment(ctx, `
		UPDATE appointments
		SET status = 'in_room'
		WHERE id = $1 AND status IN ('scheduled', 'in_room')
		RETURNING id, location_id, customer_id, staff_id, status, sale_id, scheduled_at
	`, id)
}

func (s *Store) LinkAppointmentSale(ctx context.Context, appointmentID int64, saleID int64) (*domain.Appointment, error) {
	return s.transitionAppointment(ctx, `
		UPDATE appointments
		SET status = 'done', sale_id = $2
		WHERE id = $1 AND status NOT IN ('done', 'cancelled')
		RETURNING id, location_id, customer_id, staff_id, status, sale_id, scheduled_at
	`, appointmentID, saleID)
}

// transitionAppointment runs a guarded status update. Zero rows means the
// appointment either does not exist or is past the guard; the caller gets
// ErrInvalidRequest when the row exists and ErrNotFound when it does not.
func (s *Store) transitionAppointment(ctx context.Context, query string, args ...any) (*domain.Appointment, error) {
	var appointment domain.Appointment
	var staffID, saleID sql.NullInt64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&appointment.ID,
		&appointment.LocationID,
		&appointment.CustomerID,
		&staffID,
		&appointment.Status,
		&saleID,
		&appointment.ScheduledAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			id, _ := args[0].(int64)
			if _, lookupErr := s.GetAppointmentByID(ctx, id); lookupErr == nil {
				return nil, store.ErrInvalidRequest
			}
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if staffID.Valid {
		appointment.StaffID = &staffID.Int64
	}
	if saleID.Valid {
		appointment.SaleID = &saleID.Int64
	}
	appointment.ScheduledAt = appointment.ScheduledAt.UTC()
	return &appointment, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, location_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.LocationID, entry.Actor, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, locationID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = 0 OR location_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, locationID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.LocationID, &entry.Actor, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, role, location_id, active, created_at
		FROM app_users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.LocationID, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidRequest
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, location_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.LocationID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidRequest
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, location_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.LocationID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	if username == "" || password == "" {
		return store.ErrInvalidRequest
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
