package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/yourorg/travel-orchestrator/internal/domain"
	"github.com/yourorg/travel-orchestrator/internal/failure"
	"github.com/yourorg/travel-orchestrator/internal/logging"
)

// SQLStore implements Repository with sqlx. Queries are written with ?
// placeholders and rebound for the driver.
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to driver ("postgres" or "sqlite") and creates the schema.
func Open(ctx context.Context, driver, dsn string, logger *zap.Logger) (*SQLStore, error) {
	switch driver {
	case "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", driver, err)
	}
	if driver == "sqlite" {
		// One connection keeps ":memory:" databases shared and serialises writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %s: %w", driver, err)
	}
	s := New(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func New(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logging.OrNop(logger).Named("store")}
}

// Migrate creates missing tables for the connected driver.
func (s *SQLStore) Migrate(ctx context.Context) error {
	schema := sqliteSchema
	if s.db.DriverName() == "postgres" {
		schema = postgresSchema
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) GetService(ctx context.Context, serviceID int64) (domain.ServiceCatalogEntry, error) {
	var entry domain.ServiceCatalogEntry
	err := s.db.GetContext(ctx, &entry, s.db.Rebind(
		`SELECT id, kind, name, settlement_account, active, prefer_legacy FROM services WHERE id = ?`), serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ServiceCatalogEntry{}, failure.ErrServiceNotFound
	}
	if err != nil {
		return domain.ServiceCatalogEntry{}, fmt.Errorf("store: get service %d: %w", serviceID, err)
	}
	return entry, nil
}

type descriptorRow struct {
	ID            int64  `db:"id"`
	ServiceID     int64  `db:"service_id"`
	Family        string `db:"family"`
	BaseURL       string `db:"base_url"`
	CredentialRef string `db:"credential_ref"`
}

type pathRow struct {
	DescriptorID int64  `db:"descriptor_id"`
	Operation    string `db:"operation"`
	Path         string `db:"path"`
}

func (s *SQLStore) ResolveDescriptors(ctx context.Context, serviceID int64) ([]domain.ProtocolDescriptor, error) {
	var rows []descriptorRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, service_id, family, base_url, credential_ref FROM descriptors WHERE service_id = ? ORDER BY id`), serviceID); err != nil {
		return nil, fmt.Errorf("store: descriptors of service %d: %w", serviceID, err)
	}
	var paths []pathRow
	if err := s.db.SelectContext(ctx, &paths, s.db.Rebind(
		`SELECT p.descriptor_id, p.operation, p.path FROM descriptor_paths p
		 JOIN descriptors d ON d.id = p.descriptor_id WHERE d.service_id = ?`), serviceID); err != nil {
		return nil, fmt.Errorf("store: descriptor paths of service %d: %w", serviceID, err)
	}
	byDescriptor := make(map[int64]map[domain.Operation]string)
	for _, p := range paths {
		if byDescriptor[p.DescriptorID] == nil {
			byDescriptor[p.DescriptorID] = make(map[domain.Operation]string)
		}
		byDescriptor[p.DescriptorID][domain.Operation(p.Operation)] = p.Path
	}

	out := make([]domain.ProtocolDescriptor, 0, len(rows))
	for _, r := range rows {
		family, err := domain.ParseProtocolFamily(r.Family)
		if err != nil {
			s.logger.Warn("skipping descriptor with unknown family", zap.Int64("service_id", serviceID), zap.String("family", r.Family))
			continue
		}
		out = append(out, domain.ProtocolDescriptor{
			ServiceID:     r.ServiceID,
			Family:        family,
			BaseURL:       r.BaseURL,
			Paths:         byDescriptor[r.ID],
			CredentialRef: r.CredentialRef,
		})
	}
	return out, nil
}

// SaveService upserts a catalog entry and replaces its descriptors.
func (s *SQLStore) SaveService(ctx context.Context, entry domain.ServiceCatalogEntry, descriptors ...domain.ProtocolDescriptor) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO services (id, kind, name, settlement_account, active, prefer_legacy) VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET kind = excluded.kind, name = excluded.name,
			 settlement_account = excluded.settlement_account, active = excluded.active, prefer_legacy = excluded.prefer_legacy`),
			entry.ID, string(entry.Kind), entry.Name, entry.SettlementAccount, entry.Active, entry.PreferLegacy); err != nil {
			return fmt.Errorf("upsert service %d: %w", entry.ID, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM descriptor_paths WHERE descriptor_id IN (SELECT id FROM descriptors WHERE service_id = ?)`), entry.ID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM descriptors WHERE service_id = ?`), entry.ID); err != nil {
			return err
		}
		for _, d := range descriptors {
			var id int64
			if err := tx.QueryRowxContext(ctx, tx.Rebind(
				`INSERT INTO descriptors (service_id, family, base_url, credential_ref) VALUES (?, ?, ?, ?) RETURNING id`),
				entry.ID, string(d.Family), d.BaseURL, d.CredentialRef).Scan(&id); err != nil {
				return fmt.Errorf("insert %s descriptor of service %d: %w", d.Family, entry.ID, err)
			}
			for op, path := range d.Paths {
				if _, err := tx.ExecContext(ctx, tx.Rebind(
					`INSERT INTO descriptor_paths (descriptor_id, operation, path) VALUES (?, ?, ?)`), id, string(op), path); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *SQLStore) FindExternalCustomer(ctx context.Context, customerID, serviceID int64) (string, bool, error) {
	var id string
	err := s.db.GetContext(ctx, &id, s.db.Rebind(
		`SELECT external_id FROM external_customers WHERE customer_id = ? AND service_id = ?`), customerID, serviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: external customer %d/%d: %w", customerID, serviceID, err)
	}
	return id, true, nil
}

func (s *SQLStore) SaveExternalCustomer(ctx context.Context, customerID, serviceID int64, externalID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO external_customers (customer_id, service_id, external_id) VALUES (?, ?, ?)
		 ON CONFLICT (customer_id, service_id) DO UPDATE SET external_id = excluded.external_id`),
		customerID, serviceID, externalID)
	if err != nil {
		return fmt.Errorf("store: save external customer %d/%d: %w", customerID, serviceID, err)
	}
	return nil
}

// SavePurchase writes the purchase, its ordered outcomes and the reservations
// in one transaction.
func (s *SQLStore) SavePurchase(ctx context.Context, purchase domain.PurchaseRecord, reservations []domain.Reservation) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO purchases (id, customer_id, total, created_at) VALUES (?, ?, ?, ?)`),
			purchase.ID, purchase.CustomerID, purchase.Total.StringFixed(2), purchase.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("insert purchase %s: %w", purchase.ID, err)
		}
		for _, o := range purchase.Outcomes {
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				`INSERT INTO purchase_lines (purchase_id, line_index, kind, service_id, title, success, confirmation_code,
				 invoice_url, error_message, failure_code, warning, amount, state) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				purchase.ID, o.LineIndex, string(o.Kind), o.ServiceID, o.Title, o.Success, o.ConfirmationCode,
				o.InvoiceURL, o.ErrorMessage, o.FailureCode, o.Warning, o.Amount.StringFixed(2), string(o.State)); err != nil {
				return fmt.Errorf("insert line %d of purchase %s: %w", o.LineIndex, purchase.ID, err)
			}
		}
		for _, r := range reservations {
			if _, err := tx.ExecContext(ctx, tx.Rebind(
				`INSERT INTO reservations (purchase_id, customer_id, service_id, kind, confirmation_code, title, amount, invoice_url, active)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
				purchase.ID, r.CustomerID, r.ServiceID, string(r.Kind), r.ConfirmationCode, r.Title,
				r.Amount.StringFixed(2), r.InvoiceURL, true); err != nil {
				return fmt.Errorf("insert reservation %s of purchase %s: %w", r.ConfirmationCode, purchase.ID, err)
			}
		}
		return nil
	})
}

type purchaseRow struct {
	ID         string          `db:"id"`
	CustomerID int64           `db:"customer_id"`
	Total      decimal.Decimal `db:"total"`
	CreatedAt  time.Time       `db:"created_at"`
}

type lineRow struct {
	LineIndex        int             `db:"line_index"`
	Kind             string          `db:"kind"`
	ServiceID        int64           `db:"service_id"`
	Title            string          `db:"title"`
	Success          bool            `db:"success"`
	ConfirmationCode string          `db:"confirmation_code"`
	InvoiceURL       string          `db:"invoice_url"`
	ErrorMessage     string          `db:"error_message"`
	FailureCode      string          `db:"failure_code"`
	Warning          string          `db:"warning"`
	Amount           decimal.Decimal `db:"amount"`
	State            string          `db:"state"`
}

func (s *SQLStore) GetPurchase(ctx context.Context, purchaseID string) (domain.PurchaseRecord, error) {
	var p purchaseRow
	err := s.db.GetContext(ctx, &p, s.db.Rebind(
		`SELECT id, customer_id, total, created_at FROM purchases WHERE id = ?`), purchaseID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PurchaseRecord{}, fmt.Errorf("store: purchase %s not found", purchaseID)
	}
	if err != nil {
		return domain.PurchaseRecord{}, fmt.Errorf("store: get purchase %s: %w", purchaseID, err)
	}
	var lines []lineRow
	if err := s.db.SelectContext(ctx, &lines, s.db.Rebind(
		`SELECT line_index, kind, service_id, title, success, confirmation_code, invoice_url, error_message,
		 failure_code, warning, amount, state FROM purchase_lines WHERE purchase_id = ? ORDER BY line_index`), purchaseID); err != nil {
		return domain.PurchaseRecord{}, fmt.Errorf("store: lines of purchase %s: %w", purchaseID, err)
	}
	rec := domain.PurchaseRecord{ID: p.ID, CustomerID: p.CustomerID, Total: p.Total, CreatedAt: p.CreatedAt}
	for _, l := range lines {
		rec.Outcomes = append(rec.Outcomes, domain.ReservationOutcome{
			LineIndex: l.LineIndex, Kind: domain.ProductKind(l.Kind), ServiceID: l.ServiceID, Title: l.Title,
			Success: l.Success, ConfirmationCode: l.ConfirmationCode, InvoiceURL: l.InvoiceURL,
			ErrorMessage: l.ErrorMessage, FailureCode: l.FailureCode, Warning: l.Warning,
			Amount: l.Amount, State: domain.LineState(l.State),
		})
	}
	return rec, nil
}

const reservationColumns = `id, purchase_id, customer_id, service_id, kind, confirmation_code, title, amount,
	invoice_url, active, refund_amount, cancelled_at`

func (s *SQLStore) ListReservations(ctx context.Context, purchaseID string) ([]domain.Reservation, error) {
	var out []domain.Reservation
	if err := s.db.SelectContext(ctx, &out, s.db.Rebind(
		`SELECT `+reservationColumns+` FROM reservations WHERE purchase_id = ? ORDER BY id`), purchaseID); err != nil {
		return nil, fmt.Errorf("store: reservations of purchase %s: %w", purchaseID, err)
	}
	return out, nil
}

func (s *SQLStore) GetReservation(ctx context.Context, reservationID int64) (domain.Reservation, error) {
	var r domain.Reservation
	err := s.db.GetContext(ctx, &r, s.db.Rebind(`SELECT `+reservationColumns+` FROM reservations WHERE id = ?`), reservationID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reservation{}, fmt.Errorf("store: reservation %d: %w", reservationID, failure.ErrReservationNotFound)
	}
	if err != nil {
		return domain.Reservation{}, fmt.Errorf("store: get reservation %d: %w", reservationID, err)
	}
	return r, nil
}

func (s *SQLStore) DeactivateReservation(ctx context.Context, reservationID int64, refund decimal.Decimal, at time.Time) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(
		`UPDATE reservations SET active = ?, refund_amount = ?, cancelled_at = ? WHERE id = ? AND active = ?`),
		false, refund.StringFixed(2), at.UTC(), reservationID, true)
	if err != nil {
		return fmt.Errorf("store: deactivate reservation %d: %w", reservationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: deactivate reservation %d: %w", reservationID, err)
	}
	if n == 0 {
		return fmt.Errorf("store: no active reservation %d: %w", reservationID, failure.ErrReservationNotFound)
	}
	return nil
}

func (s *SQLStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return fmt.Errorf("store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}
