/*
Package sqlite provides a SQLite-backed implementation of billing.Store.

PURPOSE:
  Persists households, cards, categories, purchases and installments as
  rows, one table per document kind. Every Batch is applied inside a
  single SQL transaction, so a failed write rolls back every other write
  of the same operation.

KEY TABLES:
  households:    Group documents
  members:       Group membership with role and permissions
  cards:         Cards with the used-credit accumulator
  categories:    Household categories
  purchases:     Purchases with paid-installment counter
  installments:  Projected installments, one row per invoice month

MONEY:
  Amounts are stored as INTEGER cents. Validation rejects sub-cent amounts
  before they reach the store, so the conversion is exact, and relative
  updates can be expressed in SQL:

    UPDATE cards SET used_cents = used_cents + ? WHERE id = ? AND group_id = ?

  Update-type writes that affect no row fail the batch with ErrNotFound.

INDEXES:
  - idx_installments_group_month: invoice-month reads (hot path)
  - idx_installments_purchase:    per-purchase cascade and edit paths
  - idx_purchases_group_date:     purchase list, newest first

CONCURRENCY:
  Uses sync.RWMutex for thread-safety plus a single pooled connection, so
  ":memory:" databases are shared by every query. Subscribers are notified
  after the transaction commits and the lock is released.

USAGE:
  store, err := sqlite.New("./data/cards.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  manager := billing.NewManager(store)

MIGRATION:
  Schema is auto-migrated on New(). Open() wraps an existing *sql.DB
  without migrating (tests use it with go-sqlmock).

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/card-engine/billing"
)

// Store implements billing.Store using SQLite.
type Store struct {
	db  *sql.DB
	mu  sync.RWMutex
	hub billing.Hub
}

var _ billing.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := Open(db)
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Open wraps an already opened database. The schema is assumed to exist.
func Open(db *sql.DB) *Store {
	return &Store{db: db}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Subscribers returns the number of live subscriptions.
func (s *Store) Subscribers() int { return s.hub.Len() }

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS households (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		owner_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS members (
		group_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		email TEXT,
		display_name TEXT,
		role TEXT NOT NULL,
		permissions TEXT NOT NULL,
		joined_at TEXT NOT NULL,
		PRIMARY KEY (group_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_user
		ON members(user_id);

	CREATE TABLE IF NOT EXISTS cards (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		name TEXT NOT NULL,
		network TEXT,
		limit_cents INTEGER NOT NULL,
		used_cents INTEGER NOT NULL DEFAULT 0,
		closing_day INTEGER NOT NULL,
		due_day INTEGER NOT NULL,
		color TEXT,
		created_by TEXT,
		created_by_name TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cards_group
		ON cards(group_id);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT,
		created_by TEXT,
		created_by_name TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_categories_group
		ON categories(group_id);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		group_id TEXT NOT NULL,
		description TEXT NOT NULL,
		total_cents INTEGER NOT NULL,
		purchase_date TEXT NOT NULL,
		installment_count INTEGER NOT NULL,
		category TEXT,
		payment_type TEXT NOT NULL,
		card_id TEXT,
		card_name TEXT,
		card_color TEXT,
		paid_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		cancellation_date TEXT,
		created_by TEXT,
		created_by_name TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_group_date
		ON purchases(group_id, purchase_date DESC);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		group_id TEXT,
		purchase_id TEXT NOT NULL,
		card_id TEXT,
		number INTEGER NOT NULL,
		amount_cents INTEGER NOT NULL,
		ref_year INTEGER NOT NULL,
		ref_month INTEGER NOT NULL,
		status TEXT NOT NULL,
		due_date TEXT NOT NULL,
		purchase_description TEXT,
		card_name TEXT,
		category TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_installments_group_month
		ON installments(group_id, ref_year, ref_month);
	CREATE INDEX IF NOT EXISTS idx_installments_purchase
		ON installments(purchase_id, number);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CARDS
// =============================================================================

const cardColumns = `id, group_id, name, network, limit_cents, used_cents, closing_day, due_day,
	color, created_by, created_by_name`

func (s *Store) GetCard(ctx context.Context, groupID billing.GroupID, id billing.CardID) (billing.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE id = ? AND group_id = ?`, id, groupID)
	c, err := scanCard(row)
	if err == sql.ErrNoRows {
		return billing.Card{}, &billing.NotFoundError{Kind: "card", ID: string(id)}
	}
	return c, err
}

func (s *Store) ListCards(ctx context.Context, groupID billing.GroupID) ([]billing.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cardColumns+` FROM cards WHERE group_id = ? ORDER BY name, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	cards := []billing.Card{}
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func scanCard(row scanner) (billing.Card, error) {
	var (
		c                    billing.Card
		limit, used          int64
		network, color       sql.NullString
		createdBy, createdBN sql.NullString
	)
	err := row.Scan(&c.ID, &c.GroupID, &c.Name, &network, &limit, &used,
		&c.ClosingDay, &c.DueDay, &color, &createdBy, &createdBN)
	if err != nil {
		if err == sql.ErrNoRows {
			return c, err
		}
		return c, fmt.Errorf("failed to scan card: %w", err)
	}
	c.Network = network.String
	c.CreditLimit = fromCents(limit)
	c.UsedAmount = fromCents(used)
	c.Color = color.String
	c.CreatedBy = billing.UserID(createdBy.String)
	c.CreatedByName = createdBN.String
	return c, nil
}

// =============================================================================
// PURCHASES
// =============================================================================

const purchaseColumns = `id, group_id, description, total_cents, purchase_date, installment_count,
	category, payment_type, card_id, card_name, card_color, paid_count, status,
	cancellation_date, created_by, created_by_name`

func (s *Store) GetPurchase(ctx context.Context, groupID billing.GroupID, id billing.PurchaseID) (billing.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE id = ? AND group_id = ?`, id, groupID)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return billing.Purchase{}, &billing.NotFoundError{Kind: "purchase", ID: string(id)}
	}
	return p, err
}

func (s *Store) LookupPurchase(ctx context.Context, id billing.PurchaseID) (billing.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE id = ?`, id)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return billing.Purchase{}, &billing.NotFoundError{Kind: "purchase", ID: string(id)}
	}
	return p, err
}

func (s *Store) ListPurchases(ctx context.Context, groupID billing.GroupID) ([]billing.Purchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+purchaseColumns+` FROM purchases WHERE group_id = ? ORDER BY purchase_date DESC, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	purchases := []billing.Purchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func scanPurchase(row scanner) (billing.Purchase, error) {
	var (
		p                        billing.Purchase
		total                    int64
		purchaseDate             string
		category, cardID         sql.NullString
		cardName, cardColor      sql.NullString
		cancellation             sql.NullString
		createdBy, createdByName sql.NullString
	)
	err := row.Scan(&p.ID, &p.GroupID, &p.Description, &total, &purchaseDate, &p.InstallmentCount,
		&category, &p.PaymentType, &cardID, &cardName, &cardColor, &p.PaidInstallmentCount, &p.Status,
		&cancellation, &createdBy, &createdByName)
	if err != nil {
		if err == sql.ErrNoRows {
			return p, err
		}
		return p, fmt.Errorf("failed to scan purchase: %w", err)
	}

	p.TotalAmount = fromCents(total)
	if p.PurchaseDate, err = billing.ParseDate(purchaseDate); err != nil {
		return p, err
	}
	if cancellation.Valid {
		d, err := billing.ParseDate(cancellation.String)
		if err != nil {
			return p, err
		}
		p.CancellationDate = &d
	}
	p.Category = category.String
	p.CardID = billing.CardID(cardID.String)
	p.CardName = cardName.String
	p.CardColor = cardColor.String
	p.CreatedBy = billing.UserID(createdBy.String)
	p.CreatedByName = createdByName.String
	return p, nil
}

// =============================================================================
// INSTALLMENTS
// =============================================================================

const installmentColumns = `id, group_id, purchase_id, card_id, number, amount_cents, ref_year, ref_month,
	status, due_date, purchase_description, card_name, category`

func (s *Store) GetInstallment(ctx context.Context, groupID billing.GroupID, id billing.InstallmentID) (billing.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+installmentColumns+` FROM installments WHERE id = ? AND group_id = ?`, id, groupID)
	inst, err := scanInstallment(row)
	if err == sql.ErrNoRows {
		return billing.Installment{}, &billing.NotFoundError{Kind: "installment", ID: string(id)}
	}
	return inst, err
}

// QueryInstallments translates the query predicates into a WHERE clause.
func (s *Store) QueryInstallments(ctx context.Context, groupID billing.GroupID, q billing.InstallmentQuery) ([]billing.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	where := []string{"group_id = ?"}
	args := []any{groupID}

	if q.PurchaseID != "" {
		where = append(where, "purchase_id = ?")
		args = append(args, q.PurchaseID)
	}
	if q.CardID != "" {
		where = append(where, "card_id = ?")
		args = append(args, q.CardID)
	}
	if q.Month != nil {
		where = append(where, "ref_year = ? AND ref_month = ?")
		args = append(args, q.Month.Year, int(q.Month.Month))
	}
	if q.From != nil {
		where = append(where, "(ref_year * 12 + ref_month) >= ?")
		args = append(args, monthIndex(*q.From))
	}
	if q.To != nil {
		where = append(where, "(ref_year * 12 + ref_month) <= ?")
		args = append(args, monthIndex(*q.To))
	}
	if q.Status != "" {
		where = append(where, "status = ?")
		args = append(args, q.Status)
	}

	query := `SELECT ` + installmentColumns + ` FROM installments WHERE ` + strings.Join(where, " AND ")
	if q.OrderBy == billing.OrderByNumber {
		query += ` ORDER BY purchase_id, number, id`
	} else {
		query += ` ORDER BY due_date, purchase_id, number, id`
	}
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	return s.queryInstallments(ctx, query, args...)
}

func (s *Store) UnattributedInstallments(ctx context.Context) ([]billing.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryInstallments(ctx, `
		SELECT `+installmentColumns+` FROM installments
		WHERE group_id IS NULL OR group_id = '' OR card_id IS NULL OR card_id = ''
		ORDER BY purchase_id, number, id
	`)
}

func (s *Store) queryInstallments(ctx context.Context, query string, args ...any) ([]billing.Installment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query installments: %w", err)
	}
	defer rows.Close()

	installments := []billing.Installment{}
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		installments = append(installments, inst)
	}
	return installments, rows.Err()
}

func scanInstallment(row scanner) (billing.Installment, error) {
	var (
		inst                  billing.Installment
		groupID, cardID       sql.NullString
		amount                int64
		year, month           int
		dueDate               string
		description, cardName sql.NullString
		category              sql.NullString
	)
	err := row.Scan(&inst.ID, &groupID, &inst.PurchaseID, &cardID, &inst.Number, &amount,
		&year, &month, &inst.Status, &dueDate, &description, &cardName, &category)
	if err != nil {
		if err == sql.ErrNoRows {
			return inst, err
		}
		return inst, fmt.Errorf("failed to scan installment: %w", err)
	}

	inst.GroupID = billing.GroupID(groupID.String)
	inst.CardID = billing.CardID(cardID.String)
	inst.Amount = fromCents(amount)
	inst.Month = billing.NewInvoiceMonth(year, time.Month(month))
	if inst.DueDate, err = billing.ParseDate(dueDate); err != nil {
		return inst, err
	}
	inst.PurchaseDescription = description.String
	inst.CardName = cardName.String
	inst.Category = category.String
	return inst, nil
}

// =============================================================================
// CATEGORIES
// =============================================================================

func (s *Store) ListCategories(ctx context.Context, groupID billing.GroupID) ([]billing.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, group_id, name, color, created_by, created_by_name
		FROM categories WHERE group_id = ? ORDER BY name, id
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	categories := []billing.Category{}
	for rows.Next() {
		var (
			c                               billing.Category
			color, createdBy, createdByName sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.GroupID, &c.Name, &color, &createdBy, &createdByName); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		c.Color = color.String
		c.CreatedBy = billing.UserID(createdBy.String)
		c.CreatedByName = createdByName.String
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// =============================================================================
// HOUSEHOLDS
// =============================================================================

func (s *Store) GetGroup(ctx context.Context, id billing.GroupID) (billing.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		g         billing.Group
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, owner_id, created_at FROM households WHERE id = ?`, id,
	).Scan(&g.ID, &g.Name, &g.OwnerID, &createdAt)
	if err == sql.ErrNoRows {
		return billing.Group{}, &billing.NotFoundError{Kind: "group", ID: string(id)}
	}
	if err != nil {
		return billing.Group{}, fmt.Errorf("failed to get household: %w", err)
	}
	g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return g, nil
}

const memberColumns = `group_id, user_id, email, display_name, role, permissions, joined_at`

func (s *Store) GetMember(ctx context.Context, groupID billing.GroupID, userID billing.UserID) (billing.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE group_id = ? AND user_id = ?`, groupID, userID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return billing.Member{}, &billing.NotFoundError{Kind: "member", ID: string(userID)}
	}
	return m, err
}

func (s *Store) FindMembership(ctx context.Context, userID billing.UserID) (billing.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE user_id = ? ORDER BY joined_at, group_id LIMIT 1`, userID)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		return billing.Member{}, &billing.NotFoundError{Kind: "member", ID: string(userID)}
	}
	return m, err
}

func (s *Store) ListMembers(ctx context.Context, groupID billing.GroupID) ([]billing.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM members WHERE group_id = ? ORDER BY joined_at, user_id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	members := []billing.Member{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func scanMember(row scanner) (billing.Member, error) {
	var (
		m                   billing.Member
		email, displayName  sql.NullString
		permissions, joined string
	)
	err := row.Scan(&m.GroupID, &m.UserID, &email, &displayName, &m.Role, &permissions, &joined)
	if err != nil {
		if err == sql.ErrNoRows {
			return m, err
		}
		return m, fmt.Errorf("failed to scan member: %w", err)
	}
	m.Email = email.String
	m.DisplayName = displayName.String
	m.Permissions = decodePermissions(permissions)
	m.JoinedAt, _ = time.Parse(time.RFC3339Nano, joined)
	return m, nil
}

// =============================================================================
// WATCHES
// =============================================================================

func (s *Store) WatchCards(ctx context.Context, groupID billing.GroupID, fn func([]billing.Card, error)) (billing.Subscription, error) {
	load := func(ctx context.Context) ([]billing.Card, error) { return s.ListCards(ctx, groupID) }
	return billing.Watch(ctx, &s.hub, groupID, load, fn), nil
}

func (s *Store) WatchPurchases(ctx context.Context, groupID billing.GroupID, fn func([]billing.Purchase, error)) (billing.Subscription, error) {
	load := func(ctx context.Context) ([]billing.Purchase, error) { return s.ListPurchases(ctx, groupID) }
	return billing.Watch(ctx, &s.hub, groupID, load, fn), nil
}

func (s *Store) WatchInstallments(ctx context.Context, groupID billing.GroupID, q billing.InstallmentQuery, fn func([]billing.Installment, error)) (billing.Subscription, error) {
	load := func(ctx context.Context) ([]billing.Installment, error) { return s.QueryInstallments(ctx, groupID, q) }
	return billing.Watch(ctx, &s.hub, groupID, load, fn), nil
}

// =============================================================================
// COMMIT
// =============================================================================

// Commit applies the batch inside one SQL transaction.
func (s *Store) Commit(ctx context.Context, b *billing.Batch) error {
	if b.Empty() {
		return nil
	}

	s.mu.Lock()
	err := s.commitLocked(ctx, b)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.hub.Notify(b.Groups()...)
	return nil
}

func (s *Store) commitLocked(ctx context.Context, b *billing.Batch) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	for _, w := range b.Writes() {
		if err := applyWrite(ctx, sqlTx, w); err != nil {
			return err
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func applyWrite(ctx context.Context, db execer, w billing.Write) error {
	switch w := w.(type) {
	case billing.PutCard:
		c := w.Card
		return exec(ctx, db, "put card", `
			INSERT OR REPLACE INTO cards (`+cardColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, c.ID, c.GroupID, c.Name, c.Network, toCents(c.CreditLimit), toCents(c.UsedAmount),
			c.ClosingDay, c.DueDay, c.Color, c.CreatedBy, c.CreatedByName)

	case billing.UpdateCardDetails:
		return update(ctx, db, "card", string(w.ID), `
			UPDATE cards SET name = ?, network = ?, limit_cents = ?, closing_day = ?, due_day = ?, color = ?
			WHERE id = ? AND group_id = ?
		`, w.Name, w.Network, toCents(w.CreditLimit), w.ClosingDay, w.DueDay, w.Color, w.ID, w.GroupID)

	case billing.DeleteCard:
		return exec(ctx, db, "delete card",
			`DELETE FROM cards WHERE id = ? AND group_id = ?`, w.ID, w.GroupID)

	case billing.AdjustCardUsed:
		return update(ctx, db, "card", string(w.CardID),
			`UPDATE cards SET used_cents = used_cents + ? WHERE id = ? AND group_id = ?`,
			toCents(w.Delta), w.CardID, w.GroupID)

	case billing.PutPurchase:
		p := w.Purchase
		var cancellation sql.NullString
		if p.CancellationDate != nil {
			cancellation = sql.NullString{String: p.CancellationDate.String(), Valid: true}
		}
		return exec(ctx, db, "put purchase", `
			INSERT OR REPLACE INTO purchases (`+purchaseColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, p.ID, p.GroupID, p.Description, toCents(p.TotalAmount), p.PurchaseDate.String(), p.InstallmentCount,
			p.Category, p.PaymentType, p.CardID, p.CardName, p.CardColor, p.PaidInstallmentCount, p.Status,
			cancellation, p.CreatedBy, p.CreatedByName)

	case billing.UpdatePurchaseDetails:
		return update(ctx, db, "purchase", string(w.ID),
			`UPDATE purchases SET description = ?, category = ? WHERE id = ? AND group_id = ?`,
			w.Description, w.Category, w.ID, w.GroupID)

	case billing.CancelPurchase:
		return update(ctx, db, "purchase", string(w.ID),
			`UPDATE purchases SET status = ?, cancellation_date = ? WHERE id = ? AND group_id = ?`,
			billing.PurchaseCancelled, w.On.String(), w.ID, w.GroupID)

	case billing.DeletePurchase:
		return exec(ctx, db, "delete purchase",
			`DELETE FROM purchases WHERE id = ? AND group_id = ?`, w.ID, w.GroupID)

	case billing.IncrementPaidCount:
		return update(ctx, db, "purchase", string(w.PurchaseID),
			`UPDATE purchases SET paid_count = paid_count + ? WHERE id = ? AND group_id = ?`,
			w.By, w.PurchaseID, w.GroupID)

	case billing.PutInstallment:
		i := w.Installment
		return exec(ctx, db, "put installment", `
			INSERT OR REPLACE INTO installments (`+installmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, i.ID, i.GroupID, i.PurchaseID, i.CardID, i.Number, toCents(i.Amount), i.Month.Year, int(i.Month.Month),
			i.Status, i.DueDate.String(), i.PurchaseDescription, i.CardName, i.Category)

	case billing.DeleteInstallment:
		return exec(ctx, db, "delete installment",
			`DELETE FROM installments WHERE id = ? AND group_id = ?`, w.ID, w.GroupID)

	case billing.MarkInstallmentPaid:
		return update(ctx, db, "installment", string(w.ID),
			`UPDATE installments SET status = ? WHERE id = ? AND group_id = ?`,
			billing.InstallmentPaid, w.ID, w.GroupID)

	case billing.RefreshInstallmentDisplay:
		return update(ctx, db, "installment", string(w.ID), `
			UPDATE installments SET purchase_description = ?, card_name = ?, category = ?
			WHERE id = ? AND group_id = ?
		`, w.PurchaseDescription, w.CardName, w.Category, w.ID, w.GroupID)

	case billing.PutCategory:
		c := w.Category
		return exec(ctx, db, "put category", `
			INSERT OR REPLACE INTO categories (id, group_id, name, color, created_by, created_by_name)
			VALUES (?, ?, ?, ?, ?, ?)
		`, c.ID, c.GroupID, c.Name, c.Color, c.CreatedBy, c.CreatedByName)

	case billing.DeleteCategory:
		return exec(ctx, db, "delete category",
			`DELETE FROM categories WHERE id = ? AND group_id = ?`, w.ID, w.GroupID)

	case billing.PutGroup:
		g := w.Group
		return exec(ctx, db, "put household", `
			INSERT OR REPLACE INTO households (id, name, owner_id, created_at) VALUES (?, ?, ?, ?)
		`, g.ID, g.Name, g.OwnerID, g.CreatedAt.UTC().Format(time.RFC3339Nano))

	case billing.PutMember:
		m := w.Member
		return exec(ctx, db, "put member", `
			INSERT OR REPLACE INTO members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		`, m.GroupID, m.UserID, m.Email, m.DisplayName, m.Role, encodePermissions(m.Permissions),
			m.JoinedAt.UTC().Format(time.RFC3339Nano))

	case billing.DeleteMember:
		return exec(ctx, db, "delete member",
			`DELETE FROM members WHERE group_id = ? AND user_id = ?`, w.GroupID, w.UserID)
	}
	return fmt.Errorf("unsupported write %T", w)
}

func exec(ctx context.Context, db execer, op, query string, args ...any) error {
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	return nil
}

// update runs an UPDATE that must touch exactly one document.
func update(ctx context.Context, db execer, kind, id, query string, args ...any) error {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", kind, err)
	}
	if n == 0 {
		return &billing.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// Helper functions

type scanner interface {
	Scan(dest ...any) error
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

func monthIndex(m billing.InvoiceMonth) int {
	return m.Year*12 + int(m.Month)
}

func encodePermissions(set billing.PermissionSet) string {
	perms := set.List()
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return strings.Join(out, ",")
}

func decodePermissions(s string) billing.PermissionSet {
	set := billing.PermissionSet{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			set[billing.Permission(p)] = true
		}
	}
	return set
}
