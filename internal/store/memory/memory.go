package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"bellezza/backend/internal/domain"
	"bellezza/backend/internal/store"
	"bellezza/backend/internal/xid"
)

type Store struct {
	mu sync.RWMutex

	locations    map[int64]domain.Location
	services     map[int64]domain.Service
	products     map[int64]domain.Product
	stock        map[int64]map[int64]int
	movements    []domain.StockMovement
	sales        map[int64]domain.Sale
	saleLines    map[int64][]domain.SaleLine
	sessions     map[int64]domain.CashSession
	openSessions map[int64]int64
	appointments map[int64]domain.Appointment
	auditLogs    []domain.AuditLog
	users        map[string]domain.UserAccount

	nextSaleID        int64
	nextLineID        int64
	nextMovementID    int64
	nextSessionID     int64
	nextAppointmentID int64
	nextUserID        int64
}

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials come from SEED_FRONTDESK_PASSWORD, SEED_SUPERVISOR_PASSWORD and
// SEED_WAREHOUSE_PASSWORD; hardcoded dev defaults are used with a warning when
// unset. Production deployments use PostgreSQL and never hit this path.
func seedUsers() map[string]domain.UserAccount {
	frontdeskPwd := envOr("SEED_FRONTDESK_PASSWORD", "frontdesk123")
	supervisorPwd := envOr("SEED_SUPERVISOR_PASSWORD", "supervisor123")
	warehousePwd := envOr("SEED_WAREHOUSE_PASSWORD", "warehouse123")
	if os.Getenv("SEED_FRONTDESK_PASSWORD") == "" || os.Getenv("SEED_SUPERVISOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_*_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for i, u := range []struct {
		username   string
		password   string
		role       string
		locationID int64
	}{
		{"frontdesk", frontdeskPwd, domain.RoleFrontDesk, 1},
		{"supervisor", supervisorPwd, domain.RoleSupervisor, 0},
		{"warehouse", warehousePwd, domain.RoleWarehouse, 0},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:         int64(i + 1),
			Username:   u.username,
			Password:   string(hash),
			Role:       u.role,
			LocationID: u.locationID,
			Active:     true,
			CreatedAt:  now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func price(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func NewSeeded() *Store {
	locations := map[int64]domain.Location{
		1: {ID: 1, Name: "Salon Centro", Kind: domain.LocationKindSalon},
		2: {ID: 2, Name: "Salon Riviera", Kind: domain.LocationKindSalon},
		3: {ID: 3, Name: "Central Warehouse", Kind: domain.LocationKindWarehouse},
	}

	services := map[int64]domain.Service{
		1: {ID: 1, Name: "Haircut", Price: price("30.00"), Active: true},
		2: {ID: 2, Name: "Color Treatment", Price: price("85.00"), Active: true},
		3: {ID: 3, Name: "Blow Dry", Price: price("25.00"), Active: true},
		4: {ID: 4, Name: "Manicure", Price: price("22.00"), Active: true},
		5: {ID: 5, Name: "Relaxing Massage", Price: price("60.00"), Active: true},
	}

	products := map[int64]domain.Product{
		1: {ID: 1, Name: "Shampoo 250ml", Price: price("14.50"), Active: true},
		2: {ID: 2, Name: "Conditioner 250ml", Price: price("12.00"), Active: true},
		3: {ID: 3, Name: "Argan Oil 100ml", Price: price("28.90"), Active: true},
		4: {ID: 4, Name: "Hair Spray", Price: price("9.90"), Active: true},
		5: {ID: 5, Name: "Nail Polish", Price: price("7.50"), Active: true},
	}

	stock := map[int64]map[int64]int{1: {}, 2: {}, 3: {}}
	for id := range products {
		stock[1][id] = 40
		stock[2][id] = 40
		stock[3][id] = 200
	}

	now := time.Now().UTC()
	appointments := map[int64]domain.Appointment{
		1: {ID: 1, LocationID: 1, CustomerID: 501, Status: domain.AppointmentScheduled, ScheduledAt: now.Add(time.Hour)},
		2: {ID: 2, LocationID: 2, CustomerID: 502, Status: domain.AppointmentScheduled, ScheduledAt: now.Add(2 * time.Hour)},
	}

	return &Store{
		locations:         locations,
		services:          services,
		products:          products,
		stock:             stock,
		movements:         make([]domain.StockMovement, 0, 64),
		sales:             make(map[int64]domain.Sale),
		saleLines:         make(map[int64][]domain.SaleLine),
		sessions:          make(map[int64]domain.CashSession),
		openSessions:      make(map[int64]int64),
		appointments:      appointments,
		auditLogs:         make([]domain.AuditLog, 0, 128),
		users:             seedUsers(),
		nextSaleID:        1,
		nextLineID:        1,
		nextMovementID:    1,
		nextSessionID:     1,
		nextAppointmentID: 3,
		nextUserID:        4,
	}
}

func (s *Store) ListLocations(_ context.Context) ([]domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	locations := make([]domain.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		locations = append(locations, loc)
	}
	slices.SortFunc(locations, func(a, b domain.Location) int {
		return int(a.ID - b.ID)
	})
	return locations, nil
}

func (s *Store) GetLocationByID(_ context.Context, id int64) (*domain.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	loc, exists := s.locations[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyLoc := loc
	return &copyLoc, nil
}

func (s *Store) ListServices(_ context.Context) ([]domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]domain.Service, 0, len(s.services))
	for _, svc := range s.services {
		if !svc.Active {
			continue
		}
		services = append(services, svc)
	}
	slices.SortFunc(services, func(a, b domain.Service) int {
		return strings.Compare(a.Name, b.Name)
	})
	return services, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetServicesByIDs(_ context.Context, ids []int64) (map[int64]domain.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Service, len(ids))
	for _, id := range ids {
		if svc, exists := s.services[id]; exists {
			result[id] = svc
		}
	}
	return result, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []int64) (map[int64]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if p, exists := s.products[id]; exists {
			result[id] = p
		}
	}
	return result, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.LocationID == 0 || sale.PaymentMethod == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sale.ID = s.nextSaleID
	s.nextSaleID++
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	s.sales[sale.ID] = sale
	created := sale
	return &created, nil
}

func (s *Store) GetSaleByID(_ context.Context, id int64) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) DeleteSale(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.sales, id)
	delete(s.saleLines, id)
	return nil
}

func (s *Store) CreateSaleLines(_ context.Context, saleID int64, lines []domain.SaleLine) ([]domain.SaleLine, error) {
	if len(lines) == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sales[saleID]; !exists {
		return nil, store.ErrNotFound
	}

	created := make([]domain.SaleLine, 0, len(lines))
	for _, line := range lines {
		if line.Qty < 1 {
			return nil, store.ErrInvalidRequest
		}
		if (line.ServiceID == nil) == (line.ProductID == nil) {
			return nil, store.ErrInvalidRequest
		}
		line.ID = s.nextLineID
		s.nextLineID++
		line.SaleID = saleID
		created = append(created, line)
	}
	s.saleLines[saleID] = append(s.saleLines[saleID], created...)

	result := make([]domain.SaleLine, len(created))
	copy(result, created)
	return result, nil
}

func (s *Store) ListSaleLines(_ context.Context, saleID int64) ([]domain.SaleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.saleLines[saleID]
	result := make([]domain.SaleLine, len(lines))
	copy(result, lines)
	return result, nil
}

func (s *Store) DeleteSaleLines(_ context.Context, saleID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.saleLines, saleID)
	return nil
}

func (s *Store) SumSalesByMethod(_ context.Context, locationID int64, from time.Time, to time.Time) (domain.CashTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.CashTotals{Gross: decimal.Zero, Cash: decimal.Zero, Card: decimal.Zero}
	for _, sale := range s.sales {
		if sale.LocationID != locationID {
			continue
		}
		if sale.CreatedAt.Before(from) || sale.CreatedAt.After(to) {
			continue
		}
		totals.Gross = totals.Gross.Add(sale.TotalAmount)
		totals.Count++
		switch sale.PaymentMethod {
		case domain.PaymentCash:
			totals.Cash = totals.Cash.Add(sale.TotalAmount)
		case domain.PaymentCard:
			totals.Card = totals.Card.Add(sale.TotalAmount)
		}
	}
	return totals, nil
}

func (s *Store) GetStock(_ context.Context, locationID int64, productID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct, exists := s.stock[locationID]
	if !exists {
		return 0, store.ErrNotFound
	}
	return byProduct[productID], nil
}

func (s *Store) ListStockLevels(_ context.Context, locationID int64) ([]domain.StockLevel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byProduct, exists := s.stock[locationID]
	if !exists {
		return nil, store.ErrNotFound
	}

	levels := make([]domain.StockLevel, 0, len(byProduct))
	for productID, qty := range byProduct {
		levels = append(levels, domain.StockLevel{LocationID: locationID, ProductID: productID, Qty: qty})
	}
	slices.SortFunc(levels, func(a, b domain.StockLevel) int {
		return int(a.ProductID - b.ProductID)
	})
	return levels, nil
}

func (s *Store) ApplyStockMovement(_ context.Context, movement domain.StockMovement) (*domain.StockMovement, error) {
	if movement.Qty < 1 || movement.ProductID == 0 {
		return nil, store.ErrInvalidRequest
	}
	if movement.FromLocationID == nil && movement.ToLocationID == nil {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[movement.ProductID]; !exists {
		return nil, store.ErrNotFound
	}

	// Check the decrement first so a failure leaves counters and the movement
	// log untouched.
	if movement.FromLocationID != nil {
		byProduct, exists := s.stock[*movement.FromLocationID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if byProduct[movement.ProductID] < movement.Qty {
			return nil, store.ErrInsufficientStock
		}
	}
	if movement.ToLocationID != nil {
		if _, exists := s.stock[*movement.ToLocationID]; !exists {
			return nil, store.ErrNotFound
		}
	}

	if movement.FromLocationID != nil {
		s.stock[*movement.FromLocationID][movement.ProductID] -= movement.Qty
	}
	if movement.ToLocationID != nil {
		s.stock[*movement.ToLocationID][movement.ProductID] += movement.Qty
	}

	movement.ID = s.nextMovementID
	s.nextMovementID++
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.movements = append(s.movements, movement)

	created := movement
	return &created, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID int64, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockMovement, 0, limit)
	for i := len(s.movements) - 1; i >= 0; i-- {
		if productID != 0 && s.movements[i].ProductID != productID {
			continue
		}
		result = append(result, s.movements[i])
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetOpenCashSession(_ context.Context, locationID int64) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionID, exists := s.openSessions[locationID]
	if !exists {
		return nil, store.ErrNotFound
	}
	session := s.sessions[sessionID]
	copySession := session
	return &copySession, nil
}

func (s *Store) GetLatestCashSession(_ context.Context, locationID int64) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.CashSession
	for id := range s.sessions {
		session := s.sessions[id]
		if session.LocationID != locationID {
			continue
		}
		if latest == nil || session.OpenedAt.After(latest.OpenedAt) {
			copySession := session
			latest = &copySession
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *Store) GetCashSessionByID(_ context.Context, id int64) (*domain.CashSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, exists := s.sessions[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySession := session
	return &copySession, nil
}

func (s *Store) CreateCashSession(_ context.Context, session domain.CashSession) (*domain.CashSession, error) {
	if session.LocationID == 0 || session.OpenedBy == "" {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.openSessions[session.LocationID]; exists {
		return nil, store.ErrSessionOpen
	}

	session.ID = s.nextSessionID
	s.nextSessionID++
	session.Status = domain.SessionStatusOpen
	session.ClosingFloat = nil
	session.ClosedAt = nil
	session.ClosedBy = ""
	if session.OpenedAt.IsZero() {
		session.OpenedAt = time.Now().UTC()
	}
	if session.BusinessDay == "" {
		session.BusinessDay = session.OpenedAt.Format("2006-01-02")
	}
	s.sessions[session.ID] = session
	s.openSessions[session.LocationID] = session.ID

	created := session
	return &created, nil
}

func (s *Store) UpdateCashSessionFloat(_ context.Context, sessionID int64, openingFloat decimal.Decimal) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}
	session.OpeningFloat = openingFloat
	s.sessions[sessionID] = session

	updated := session
	return &updated, nil
}

func (s *Store) CloseCashSession(_ context.Context, sessionID int64, closingFloat decimal.Decimal, closedBy string, notes string, closedAt time.Time) (*domain.CashSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.sessions[sessionID]
	if !exists || session.Status != domain.SessionStatusOpen {
		return nil, store.ErrNotFound
	}

	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}
	session.Status = domain.SessionStatusClosed
	session.ClosingFloat = &closingFloat
	session.ClosedBy = closedBy
	session.ClosedAt = &closedAt
	session.Notes = notes
	s.sessions[sessionID] = session
	delete(s.openSessions, session.LocationID)

	closed := session
	return &closed, nil
}

func (s *Store) GetAppointmentByID(_ context.Context, id int64) (*domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appointment, exists := s.appointments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyAppointment := appointment
	return &copyAppointment, nil
}

func (s *Store) CreateAppointment(_ context.Context, appointment domain.Appointment) (*domain.Appointment, error) {
	if appointment.LocationID == 0 || appointment.CustomerID == 0 {
		return nil, store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	appointment.ID = s.nextAppointmentID
	s.nextAppointmentID++
	if appointment.Status == "" {
		appointment.Status = domain.AppointmentScheduled
	}
	if appointment.ScheduledAt.IsZero() {
		appointment.ScheduledAt = time.Now().UTC()
	}
	s.appointments[appointment.ID] = appointment

	created := appointment
	return &created, nil
}

func (s *Store) MarkAppointmentInRoom(_ context.Context, id int64) (*domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, exists := s.appointments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if appointment.Status == domain.AppointmentDone || appointment.Status == domain.AppointmentCancelled {
		return nil, store.ErrInvalidRequest
	}

	appointment.Status = domain.AppointmentInRoom
	s.appointments[id] = appointment

	updated := appointment
	return &updated, nil
}

func (s *Store) LinkAppointmentSale(_ context.Context, appointmentID int64, saleID int64) (*domain.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, exists := s.appointments[appointmentID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if appointment.Status == domain.AppointmentDone || appointment.Status == domain.AppointmentCancelled {
		return nil, store.ErrInvalidRequest
	}

	appointment.Status = domain.AppointmentDone
	appointment.SaleID = &saleID
	s.appointments[appointmentID] = appointment

	updated := appointment
	return &updated, nil
}

// CancelAppointment is used by seeding and tests to force terminal states.
func (s *Store) CancelAppointment(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	appointment, exists := s.appointments[id]
	if !exists {
		return
	}
	appointment.Status = domain.AppointmentCancelled
	s.appointments[id] = appointment
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, locationID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if locationID != 0 && entry.LocationID != locationID {
			continue
		}
		if entry.CreatedAt.Before(from) || entry.CreatedAt.After(to) {
			continue
		}
		result = append(result, entry)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrInvalidRequest
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrInvalidRequest
	}
	user.ID = s.nextUserID
	s.nextUserID++
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
