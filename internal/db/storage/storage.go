// Package storage declares the interface every storage backend
// (file, memory, Postgres) implements.
package storage

import (
	"context"

	"github.com/patric-chuzhbe/shoplite/internal/models"
)

// Storage is the persistence contract of the application. Each entity
// collection is the sole source of truth for its type; implementations
// must serialize mutations of one collection against each other.
type Storage interface {
	// CreateUser persists a new user. Returns models.ErrConflict when a
	// user with the same email already exists.
	CreateUser(ctx context.Context, usr *models.User) error

	// FindUserByEmail looks a user up by the exact (normalized) email.
	FindUserByEmail(ctx context.Context, email string) (*models.User, bool, error)

	// GetUserByID returns models.ErrNotFound when no such user exists.
	GetUserByID(ctx context.Context, userID string) (*models.User, error)

	// GetProducts returns the whole catalog in insertion order.
	GetProducts(ctx context.Context) ([]models.Product, error)

	// GetProductByID returns models.ErrNotFound when no such product exists.
	GetProductByID(ctx context.Context, productID string) (*models.Product, error)

	// ReplaceProducts overwrites the catalog wholesale (seeding).
	ReplaceProducts(ctx context.Context, products []models.Product) error

	// CreateOrder persists the order and applies the stock decrements as
	// one unit: either both collections reflect the checkout afterwards or
	// neither does. Re-checks stock under the collection locks and returns
	// *models.InvalidOrderError when any decrement would go negative.
	CreateOrder(ctx context.Context, order *models.Order, stockDecrements map[string]int) error

	// GetOrdersByUser returns the user's orders in insertion order.
	GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)

	// GetOrderByID returns models.ErrNotFound when no such order exists.
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)

	Ping(ctx context.Context) error

	Close() error
}
