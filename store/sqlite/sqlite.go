/*
Package sqlite provides a SQLite-backed khata.TxStore.

PURPOSE:
  Persists customers and transactions for the ledger engine. The schema
  lives in versioned migrations (migrations/*.sql) applied on New().

KEY TABLES:
  customers:    one row per customer, with balance and optimistic version
  transactions: one row per GIVEN / RECEIVED movement with balance_after
  group_shares: at most one owner wide share token per owner

INDEXES:
  - idx_transactions_customer_order: chronological walk (hot path)
  - idx_transactions_owner_date:     monthly summaries
  - idx_customers_owner:             customer listings

ENCODING:
  Decimals are stored as TEXT to keep exact values. Timestamps are stored
  as fixed-width UTC text, so ORDER BY date, created_at, id on the raw
  columns is the chronological order of the ledger.

CONCURRENCY:
  The pool is limited to a single connection: SQLite allows one writer at
  a time and a second connection would only add SQLITE_BUSY retries. The
  customer version column catches writers in other processes.

USAGE:
  store, err := sqlite.New("./data/khata.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := khata.NewLedger(store)

SEE ALSO:
  - khata/store.go: interface definitions
  - khata/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/smartkhata/khata-engine/khata"
)

// timeLayout is fixed width so lexical order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	_ khata.TxStore = (*Store)(nil)
	_ khata.Store   = (*repo)(nil)
)

// Store implements khata.TxStore using SQLite.
type Store struct {
	*repo
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo runs every query against q, which is the pool or an open transaction.
type repo struct {
	q querier
}

// New opens (creating if needed) the database at dbPath and migrates it.
func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{repo: &repo{q: db}, db: db}, nil
}

func dsn(dbPath string) string {
	return dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx executes fn within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(khata.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(&repo{q: sqlTx}); err != nil {
		sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

const customerColumns = `id, owner_id, name, phone, address, balance, share_token, version, created_at, updated_at`

func (r *repo) CreateCustomer(ctx context.Context, c khata.Customer) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO customers (`+customerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(c.ID), string(c.OwnerID), c.Name, c.Phone, c.Address,
		c.Balance.String(), c.ShareToken, c.Version,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("customer %q already exists: %w", c.ID, err)
	}
	return err
}

func (r *repo) GetCustomer(ctx context.Context, ownerID khata.OwnerID, id khata.CustomerID) (khata.Customer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = ? AND owner_id = ?`,
		string(id), string(ownerID))
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return khata.Customer{}, khata.CustomerNotFound(id)
	}
	return c, err
}

func (r *repo) GetCustomerByShareToken(ctx context.Context, token string) (khata.Customer, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE share_token = ?`, token)
	c, err := scanCustomer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return khata.Customer{}, &khata.NotFoundError{Kind: "khata", ID: token}
	}
	return c, err
}

// ListCustomers loads the owner's customers and filters them in Go:
// balances are decimal text and SQLite's lower() only folds ASCII.
func (r *repo) ListCustomers(ctx context.Context, ownerID khata.OwnerID, filter khata.CustomerFilter) ([]khata.Customer, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE owner_id = ?`, string(ownerID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var customers []khata.Customer
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return khata.FilterCustomers(customers, filter), nil
}

func (r *repo) ListOwners(ctx context.Context) ([]khata.OwnerID, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT DISTINCT owner_id FROM customers ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var owners []khata.OwnerID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, khata.OwnerID(id))
	}
	return owners, rows.Err()
}

func (r *repo) UpdateCustomer(ctx context.Context, c khata.Customer) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE customers
		SET name = ?, phone = ?, address = ?, balance = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND owner_id = ? AND version = ?
	`,
		c.Name, c.Phone, c.Address, c.Balance.String(), formatTime(c.UpdatedAt),
		string(c.ID), string(c.OwnerID), c.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Nothing updated: either gone or a newer version exists.
	var exists int
	err = r.q.QueryRowContext(ctx,
		`SELECT 1 FROM customers WHERE id = ? AND owner_id = ?`,
		string(c.ID), string(c.OwnerID)).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return khata.CustomerNotFound(c.ID)
	}
	if err != nil {
		return err
	}
	return khata.ErrConcurrencyConflict
}

// DeleteCustomer relies on ON DELETE CASCADE for the transactions.
func (r *repo) DeleteCustomer(ctx context.Context, ownerID khata.OwnerID, id khata.CustomerID) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM customers WHERE id = ? AND owner_id = ?`,
		string(id), string(ownerID))
	if err != nil {
		return err
	}
	return requireOneRow(res, khata.CustomerNotFound(id))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

const transactionColumns = `id, customer_id, owner_id, type, amount, description, date, balance_after, created_at`

func (r *repo) InsertTransaction(ctx context.Context, tx khata.Transaction) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		string(tx.ID), string(tx.CustomerID), string(tx.OwnerID), string(tx.Type),
		tx.Amount.String(), tx.Description, formatTime(tx.Date),
		tx.BalanceAfter.String(), formatTime(tx.CreatedAt),
	)
	switch {
	case isForeignKeyError(err):
		return khata.CustomerNotFound(tx.CustomerID)
	case isUniqueConstraintError(err):
		return fmt.Errorf("transaction %q already exists: %w", tx.ID, err)
	}
	return err
}

func (r *repo) GetTransaction(ctx context.Context, ownerID khata.OwnerID, id khata.TransactionID) (khata.Transaction, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE id = ? AND owner_id = ?`,
		string(id), string(ownerID))
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return khata.Transaction{}, khata.TransactionNotFound(id)
	}
	return tx, err
}

func (r *repo) UpdateTransaction(ctx context.Context, tx khata.Transaction) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE transactions
		SET type = ?, amount = ?, description = ?, date = ?, balance_after = ?
		WHERE id = ? AND owner_id = ?
	`,
		string(tx.Type), tx.Amount.String(), tx.Description, formatTime(tx.Date),
		tx.BalanceAfter.String(), string(tx.ID), string(tx.OwnerID),
	)
	if err != nil {
		return err
	}
	return requireOneRow(res, khata.TransactionNotFound(tx.ID))
}

func (r *repo) DeleteTransaction(ctx context.Context, ownerID khata.OwnerID, id khata.TransactionID) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND owner_id = ?`,
		string(id), string(ownerID))
	if err != nil {
		return err
	}
	return requireOneRow(res, khata.TransactionNotFound(id))
}

func (r *repo) ListTransactions(ctx context.Context, customerID khata.CustomerID) ([]khata.Transaction, error) {
	return r.queryTransactions(ctx,
		`SELECT `+transactionColumns+` FROM transactions
		WHERE customer_id = ?
		ORDER BY date, created_at, id`,
		string(customerID))
}

func (r *repo) QueryTransactions(ctx context.Context, q khata.TransactionQuery) ([]khata.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE owner_id = ?`
	args := []any{string(q.OwnerID)}
	if q.CustomerID != "" {
		query += ` AND customer_id = ?`
		args = append(args, string(q.CustomerID))
	}
	if !q.From.IsZero() {
		query += ` AND date >= ?`
		args = append(args, formatTime(q.From))
	}
	if !q.To.IsZero() {
		query += ` AND date < ?`
		args = append(args, formatTime(q.To))
	}
	if q.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(q.Type))
	}
	query += ` ORDER BY date, created_at, id`
	return r.queryTransactions(ctx, query, args...)
}

func (r *repo) queryTransactions(ctx context.Context, query string, args ...any) ([]khata.Transaction, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []khata.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

// =============================================================================
// GROUP SHARES
// =============================================================================

func (r *repo) CreateGroupShare(ctx context.Context, g khata.GroupShare) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO group_shares (owner_id, token, created_at) VALUES (?, ?, ?)`,
		string(g.OwnerID), g.Token, formatTime(g.CreatedAt))
	if isUniqueConstraintError(err) {
		return khata.ErrConcurrencyConflict
	}
	return err
}

func (r *repo) GetGroupShare(ctx context.Context, ownerID khata.OwnerID) (khata.GroupShare, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT owner_id, token, created_at FROM group_shares WHERE owner_id = ?`, string(ownerID))
	g, err := scanGroupShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return khata.GroupShare{}, khata.GroupShareNotFound(string(ownerID))
	}
	return g, err
}

func (r *repo) GetGroupShareByToken(ctx context.Context, token string) (khata.GroupShare, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT owner_id, token, created_at FROM group_shares WHERE token = ?`, token)
	g, err := scanGroupShare(row)
	if errors.Is(err, sql.ErrNoRows) {
		return khata.GroupShare{}, khata.GroupShareNotFound(token)
	}
	return g, err
}

// =============================================================================
// SCANNING
// =============================================================================

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (khata.Customer, error) {
	var (
		c                    khata.Customer
		id, ownerID, balance string
		createdAt, updatedAt string
	)
	if err := row.Scan(&id, &ownerID, &c.Name, &c.Phone, &c.Address, &balance,
		&c.ShareToken, &c.Version, &createdAt, &updatedAt); err != nil {
		return khata.Customer{}, err
	}
	c.ID = khata.CustomerID(id)
	c.OwnerID = khata.OwnerID(ownerID)

	var err error
	if c.Balance, err = decimal.NewFromString(balance); err != nil {
		return khata.Customer{}, fmt.Errorf("customer %s: bad balance %q: %w", id, balance, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return khata.Customer{}, fmt.Errorf("customer %s: %w", id, err)
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return khata.Customer{}, fmt.Errorf("customer %s: %w", id, err)
	}
	return c, nil
}

func scanTransaction(row scanner) (khata.Transaction, error) {
	var (
		tx                                  khata.Transaction
		id, customerID, ownerID, txType     string
		amount, balanceAfter, date, created string
	)
	if err := row.Scan(&id, &customerID, &ownerID, &txType, &amount, &tx.Description,
		&date, &balanceAfter, &created); err != nil {
		return khata.Transaction{}, err
	}
	tx.ID = khata.TransactionID(id)
	tx.CustomerID = khata.CustomerID(customerID)
	tx.OwnerID = khata.OwnerID(ownerID)
	tx.Type = khata.TxType(txType)

	var err error
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return khata.Transaction{}, fmt.Errorf("transaction %s: bad amount %q: %w", id, amount, err)
	}
	if tx.BalanceAfter, err = decimal.NewFromString(balanceAfter); err != nil {
		return khata.Transaction{}, fmt.Errorf("transaction %s: bad balance_after %q: %w", id, balanceAfter, err)
	}
	if tx.Date, err = parseTime(date); err != nil {
		return khata.Transaction{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	if tx.CreatedAt, err = parseTime(created); err != nil {
		return khata.Transaction{}, fmt.Errorf("transaction %s: %w", id, err)
	}
	return tx, nil
}

func scanGroupShare(row scanner) (khata.GroupShare, error) {
	var ownerID, token, createdAt string
	if err := row.Scan(&ownerID, &token, &createdAt); err != nil {
		return khata.GroupShare{}, err
	}
	created, err := parseTime(createdAt)
	if err != nil {
		return khata.GroupShare{}, fmt.Errorf("group share of %s: %w", ownerID, err)
	}
	return khata.GroupShare{OwnerID: khata.OwnerID(ownerID), Token: token, CreatedAt: created}, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
