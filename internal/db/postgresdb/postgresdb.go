// Package postgresdb provides a PostgreSQL-based implementation of the
// storage interface for persisting users, products, and orders.
// It runs schema migrations on startup and commits order creation and the
// matching stock decrements in a single transaction.
package postgresdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/patric-chuzhbe/shoplite/internal/models"
)

const uniqueViolationCode = "23505"

// PostgresDB is a PostgreSQL-backed implementation of the shop storage.
type PostgresDB struct {
	database          *sql.DB
	connectionTimeout time.Duration
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New establishes a connection to the PostgreSQL database,
// runs schema migrations, and returns a configured PostgresDB instance.
func New(
	ctx context.Context,
	databaseDSN string,
	connectionTimeout time.Duration,
	migrationsDir string,
) (*PostgresDB, error) {
	database, err := sql.Open("pgx", databaseDSN)
	if err != nil {
		return nil, err
	}

	result := &PostgresDB{
		database:          database,
		connectionTimeout: connectionTimeout,
	}

	if err := goose.SetDialect("postgres"); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.SetDialect()` calling: %w",
				err,
			)
	}

	if err := goose.Up(result.database, migrationsDir); err != nil {
		return nil,
			fmt.Errorf(
				"in internal/db/postgresdb/postgresdb.go/New(): error while `goose.Up()` calling: %w",
				err,
			)
	}

	return result, nil
}

// CreateUser inserts a new user record. A unique-violation on the email
// column is reported as models.ErrConflict.
func (db *PostgresDB) CreateUser(ctx context.Context, usr *models.User) error {
	_, err := db.database.ExecContext(
		ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		usr.ID,
		usr.Email,
		usr.PasswordHash,
		usr.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return fmt.Errorf("user with email %q: %w", usr.Email, models.ErrConflict)
		}
		return err
	}

	return nil
}

// FindUserByEmail looks a user up by exact email match.
func (db *PostgresDB) FindUserByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		email,
	)

	var usr models.User
	err := row.Scan(&usr.ID, &usr.Email, &usr.PasswordHash, &usr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &usr, true, nil
}

// GetUserByID fetches a user by id; models.ErrNotFound when absent.
func (db *PostgresDB) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE id = $1`,
		userID,
	)

	var usr models.User
	err := row.Scan(&usr.ID, &usr.Email, &usr.PasswordHash, &usr.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %q: %w", userID, models.ErrNotFound)
		}
		return nil, err
	}

	return &usr, nil
}

// GetProducts returns the full catalog in seeding order.
func (db *PostgresDB) GetProducts(ctx context.Context) ([]models.Product, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, name, description, price, stock, featured, category, image
				FROM products
				ORDER BY position
		`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Product{}
	for rows.Next() {
		var product models.Product
		err = rows.Scan(
			&product.ID,
			&product.Name,
			&product.Description,
			&product.Price,
			&product.Stock,
			&product.Featured,
			&product.Category,
			&product.Image,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, product)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetProductByID fetches one product; models.ErrNotFound when absent.
func (db *PostgresDB) GetProductByID(ctx context.Context, productID string) (*models.Product, error) {
	row := db.database.QueryRowContext(
		ctx,
		`
			SELECT id, name, description, price, stock, featured, category, image
				FROM products
				WHERE id = $1
		`,
		productID,
	)

	var product models.Product
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Description,
		&product.Price,
		&product.Stock,
		&product.Featured,
		&product.Category,
		&product.Image,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("product %q: %w", productID, models.ErrNotFound)
		}
		return nil, err
	}

	return &product, nil
}

// ReplaceProducts overwrites the whole catalog in one transaction.
func (db *PostgresDB) ReplaceProducts(ctx context.Context, products []models.Product) error {
	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = transaction.Rollback()
	}()

	if _, err := transaction.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return err
	}

	for position, product := range products {
		_, err := transaction.ExecContext(
			ctx,
			`
				INSERT INTO products (id, name, description, price, stock, featured, category, image, position)
					VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
			product.ID,
			product.Name,
			product.Description,
			product.Price,
			product.Stock,
			product.Featured,
			product.Category,
			product.Image,
			position,
		)
		if err != nil {
			return err
		}
	}

	return transaction.Commit()
}

// CreateOrder locks the affected product rows, re-checks stock, applies the
// decrements, and inserts the order with its items, all in one transaction.
func (db *PostgresDB) CreateOrder(
	ctx context.Context,
	order *models.Order,
	stockDecrements map[string]int,
) error {
	transaction, err := db.database.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = transaction.Rollback()
	}()

	// Rows are locked in a fixed order so concurrent checkouts cannot
	// deadlock on each other.
	productIDs := make([]string, 0, len(stockDecrements))
	for productID := range stockDecrements {
		productIDs = append(productIDs, productID)
	}
	sort.Strings(productIDs)

	var reasons []models.OrderReason
	for _, productID := range productIDs {
		quantity := stockDecrements[productID]

		row := transaction.QueryRowContext(
			ctx,
			`SELECT stock FROM products WHERE id = $1 FOR UPDATE`,
			productID,
		)
		var stock int
		err := row.Scan(&stock)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				reasons = append(reasons, models.OrderReason{
					ProductID: productID,
					Code:      models.OrderReasonUnknownProduct,
					Message:   "product does not exist",
				})
				continue
			}
			return err
		}
		if stock < quantity {
			reasons = append(reasons, models.OrderReason{
				ProductID: productID,
				Code:      models.OrderReasonInsufficientStock,
				Message:   fmt.Sprintf("requested %d, %d in stock", quantity, stock),
			})
			continue
		}

		_, err = transaction.ExecContext(
			ctx,
			`UPDATE products SET stock = stock - $1 WHERE id = $2`,
			quantity,
			productID,
		)
		if err != nil {
			return err
		}
	}

	if len(reasons) > 0 {
		return models.NewInvalidOrderError(reasons...)
	}

	_, err = transaction.ExecContext(
		ctx,
		`INSERT INTO orders (id, user_id, total, created_at) VALUES ($1, $2, $3, $4)`,
		order.ID,
		order.UserID,
		order.Total,
		order.CreatedAt,
	)
	if err != nil {
		return err
	}

	for position, item := range order.Items {
		_, err := transaction.ExecContext(
			ctx,
			`
				INSERT INTO order_items (order_id, product_id, quantity, unit_price, position)
					VALUES ($1, $2, $3, $4, $5)
			`,
			order.ID,
			item.ProductID,
			item.Quantity,
			item.UnitPrice,
			position,
		)
		if err != nil {
			return err
		}
	}

	return transaction.Commit()
}

func (db *PostgresDB) scanOrderItems(ctx context.Context, database queryer, orderID string) ([]models.OrderItem, error) {
	rows, err := database.QueryContext(
		ctx,
		`
			SELECT product_id, quantity, unit_price
				FROM order_items
				WHERE order_id = $1
				ORDER BY position
		`,
		orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.OrderItem{}
	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	return items, nil
}

// GetOrdersByUser retrieves all orders belonging to userID, oldest first.
func (db *PostgresDB) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	rows, err := db.database.QueryContext(
		ctx,
		`
			SELECT id, user_id, total, created_at
				FROM orders
				WHERE user_id = $1
				ORDER BY created_at
		`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Total, &order.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, order)
	}

	err = rows.Err()
	if err != nil {
		return nil, err
	}

	for i := range result {
		items, err := db.scanOrderItems(ctx, db.database, result[i].ID)
		if err != nil {
			return nil, err
		}
		result[i].Items = items
	}

	return result, nil
}

// GetOrderByID fetches one order with its items; models.ErrNotFound when
// absent.
func (db *PostgresDB) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	row := db.database.QueryRowContext(
		ctx,
		`SELECT id, user_id, total, created_at FROM orders WHERE id = $1`,
		orderID,
	)

	var order models.Order
	err := row.Scan(&order.ID, &order.UserID, &order.Total, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("order %q: %w", orderID, models.ErrNotFound)
		}
		return nil, err
	}

	order.Items, err = db.scanOrderItems(ctx, db.database, orderID)
	if err != nil {
		return nil, err
	}

	return &order, nil
}

// Ping verifies the database connection within the configured timeout.
func (db *PostgresDB) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, db.connectionTimeout)
	defer cancel()

	return db.database.PingContext(pingCtx)
}

// Close closes the underlying connection pool.
func (db *PostgresDB) Close() error {
	return db.database.Close()
}
