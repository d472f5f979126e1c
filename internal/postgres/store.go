package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// Store implements orders.Store on Postgres. Stock rows are locked with
// SELECT ... FOR UPDATE inside WithinTx, so concurrent orders on the same
// product queue up instead of overwriting each other's counts.
type Store struct{ DB *pgxpool.Pool }

var (
	_ orders.Store   = (*Store)(nil)
	_ orders.Catalog = (*Store)(nil)
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const productColumns = `id::text, name, description, price::text, weight::text,
	category_ids::text[], available, image, created_at, updated_at`

const orderColumns = `o.id::text, o.confirmation_date, s.id::text, s.name, o.user_id::text,
	o.created_at, o.updated_at`

func (s *Store) FindProduct(ctx context.Context, id string) (orders.Product, error) {
	return findProduct(ctx, s.DB, id, false)
}

func (s *Store) FindUser(ctx context.Context, id string) (orders.User, error) {
	var u orders.User
	err := s.DB.QueryRow(ctx, `SELECT id::text, username, email, phone, created_at FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.User{}, fmt.Errorf("%w: id=%s", orders.ErrUserNotFound, id)
	}
	return u, err
}

func (s *Store) FindStateByName(ctx context.Context, name orders.State) (orders.StateRecord, error) {
	st, err := scanState(s.DB.QueryRow(ctx, `SELECT id::text, name FROM order_states WHERE name=$1`, string(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.StateRecord{}, fmt.Errorf("%w: name=%s", orders.ErrStateNotFound, name)
	}
	return st, err
}

func (s *Store) FindStateByID(ctx context.Context, id string) (orders.StateRecord, error) {
	st, err := scanState(s.DB.QueryRow(ctx, `SELECT id::text, name FROM order_states WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.StateRecord{}, fmt.Errorf("%w: id=%s", orders.ErrStateNotFound, id)
	}
	return st, err
}

func (s *Store) ListStates(ctx context.Context) ([]orders.StateRecord, error) {
	rows, err := s.DB.Query(ctx, `SELECT id::text, name FROM order_states
		ORDER BY array_position(ARRAY['UNCONFIRMED','CONFIRMED','CANCELLED','DONE'], name), name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []orders.StateRecord
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) SeedStates(ctx context.Context) error {
	for _, name := range orders.AllStates {
		if _, err := s.DB.Exec(ctx, `INSERT INTO order_states(id, name) VALUES ($1, $2)
			ON CONFLICT (name) DO NOTHING`, uuid.NewString(), string(name)); err != nil {
			return fmt.Errorf("seed state %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) FindOrder(ctx context.Context, id string) (orders.Order, error) {
	return findOrder(ctx, s.DB, id, false)
}

func (s *Store) ListOrders(ctx context.Context, filter orders.OrderFilter) ([]orders.Order, error) {
	var (
		where []string
		args  []any
	)
	if filter.State != "" {
		args = append(args, string(filter.State))
		where = append(where, fmt.Sprintf("s.name = $%d", len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where = append(where, fmt.Sprintf("o.user_id::text = $%d", len(args)))
	}
	if filter.ProductID != "" {
		args = append(args, filter.ProductID)
		where = append(where, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id AND i.product_id::text = $%d)", len(args)))
	}
	q := `SELECT ` + orderColumns + ` FROM orders o JOIN order_states s ON s.id = o.state_id`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY o.created_at, o.id`

	rows, err := s.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	index := make(map[string]int, len(out))
	for i, o := range out {
		ids[i] = o.ID
		index[o.ID] = i
	}
	itemRows, err := s.DB.Query(ctx, `SELECT order_id::text, product_id::text, qty FROM order_items
		WHERE order_id = ANY($1::text[]::uuid[]) ORDER BY order_id, position`, ids)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var (
			orderID string
			it      orders.LineItem
		)
		if err := itemRows.Scan(&orderID, &it.ProductID, &it.Quantity); err != nil {
			return nil, err
		}
		i := index[orderID]
		out[i].Items = append(out[i].Items, it)
	}
	return out, itemRows.Err()
}

// WithinTx runs fn in a READ COMMITTED transaction. Row locks taken through
// the Tx carry the isolation the stock protocol needs.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txStore{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateUser(ctx context.Context, u orders.User) (orders.User, error) {
	if strings.TrimSpace(u.Username) == "" {
		return orders.User{}, errors.New("username is required")
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	err := s.DB.QueryRow(ctx, `INSERT INTO users(id, username, email, phone) VALUES ($1,$2,$3,$4)
		RETURNING created_at`, u.ID, u.Username, u.Email, u.Phone).Scan(&u.CreatedAt)
	if isUniqueViolation(err) {
		return orders.User{}, fmt.Errorf("duplicate user: username=%s", u.Username)
	}
	return u, err
}

func (s *Store) CreateProduct(ctx context.Context, p orders.Product) (orders.Product, error) {
	if err := orders.ValidateProduct(p); err != nil {
		return orders.Product{}, err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	err := s.DB.QueryRow(ctx, `INSERT INTO products(id, name, description, price, weight, category_ids, available, image)
		VALUES ($1, $2, $3, $4::text::numeric, $5::text::numeric, $6::text[]::uuid[], $7, $8)
		RETURNING created_at, updated_at`,
		p.ID, p.Name, p.Description, p.Price.String(), p.Weight.String(), p.CategoryIDs, p.Available, p.Image,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return orders.Product{}, err
	}
	return p, nil
}

func (s *Store) EnsureCategory(ctx context.Context, name string) (orders.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return orders.Category{}, errors.New("category name is required")
	}
	var c orders.Category
	err := s.DB.QueryRow(ctx, `INSERT INTO categories(id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id::text, name`, uuid.NewString(), name).Scan(&c.ID, &c.Name)
	return c, err
}

type txStore struct{ tx pgx.Tx }

func (t *txStore) LockProduct(ctx context.Context, id string) (orders.Product, error) {
	return findProduct(ctx, t.tx, id, true)
}

func (t *txStore) SetProductAvailable(ctx context.Context, id string, available int) error {
	ct, err := t.tx.Exec(ctx, `UPDATE products SET available=$2, updated_at=now() WHERE id=$1`, id, available)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: id=%s", orders.ErrProductNotFound, id)
	}
	return nil
}

func (t *txStore) LockOrder(ctx context.Context, id string) (orders.Order, error) {
	return findOrder(ctx, t.tx, id, true)
}

func (t *txStore) InsertOrder(ctx context.Context, o orders.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders(id, confirmation_date, state_id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.ConfirmationDate, o.State.ID, o.UserID, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}
	return t.insertItems(ctx, o.ID, o.Items)
}

func (t *txStore) UpdateOrder(ctx context.Context, o orders.Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET confirmation_date=$2, state_id=$3, user_id=$4, updated_at=$5
		WHERE id=$1`,
		o.ID, o.ConfirmationDate, o.State.ID, o.UserID, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: id=%s", orders.ErrOrderNotFound, o.ID)
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1`, o.ID); err != nil {
		return err
	}
	return t.insertItems(ctx, o.ID, o.Items)
}

func (t *txStore) DeleteOrder(ctx context.Context, id string) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM orders WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: id=%s", orders.ErrOrderNotFound, id)
	}
	return nil
}

func (t *txStore) insertItems(ctx context.Context, orderID string, items []orders.LineItem) error {
	for i, it := range items {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO order_items(order_id, position, product_id, qty)
			VALUES ($1, $2, $3, $4)`,
			orderID, i, it.ProductID, it.Quantity,
		); err != nil {
			return err
		}
	}
	return nil
}

func findProduct(ctx context.Context, q querier, id string, lock bool) (orders.Product, error) {
	sql := `SELECT ` + productColumns + ` FROM products WHERE id=$1`
	if lock {
		sql += ` FOR UPDATE`
	}
	var (
		p             orders.Product
		price, weight string
	)
	err := q.QueryRow(ctx, sql, id).Scan(&p.ID, &p.Name, &p.Description, &price, &weight,
		&p.CategoryIDs, &p.Available, &p.Image, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Product{}, fmt.Errorf("%w: id=%s", orders.ErrProductNotFound, id)
	}
	if err != nil {
		return orders.Product{}, err
	}
	if p.Price, err = decimal.NewFromString(price); err != nil {
		return orders.Product{}, fmt.Errorf("product %s price: %w", id, err)
	}
	if p.Weight, err = decimal.NewFromString(weight); err != nil {
		return orders.Product{}, fmt.Errorf("product %s weight: %w", id, err)
	}
	return p, nil
}

func findOrder(ctx context.Context, q querier, id string, lock bool) (orders.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders o JOIN order_states s ON s.id = o.state_id WHERE o.id=$1`
	if lock {
		sql += ` FOR UPDATE OF o`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, fmt.Errorf("%w: id=%s", orders.ErrOrderNotFound, id)
	}
	if err != nil {
		return orders.Order{}, err
	}

	rows, err := q.Query(ctx, `SELECT product_id::text, qty FROM order_items WHERE order_id=$1 ORDER BY position`, id)
	if err != nil {
		return orders.Order{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var it orders.LineItem
		if err := rows.Scan(&it.ProductID, &it.Quantity); err != nil {
			return orders.Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func scanState(row pgx.Row) (orders.StateRecord, error) {
	var id, name string
	if err := row.Scan(&id, &name); err != nil {
		return orders.StateRecord{}, err
	}
	return orders.StateRecord{ID: id, Name: orders.State(name)}, nil
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o     orders.Order
		state string
	)
	if err := row.Scan(&o.ID, &o.ConfirmationDate, &o.State.ID, &state, &o.UserID, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return orders.Order{}, err
	}
	o.State.Name = orders.State(state)
	return o, nil
}

// isUniqueViolation reports a Postgres unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
