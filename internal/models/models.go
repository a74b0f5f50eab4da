// Package models defines the entities persisted by the storage backends,
// the request/response shapes of the HTTP API, and the error taxonomy
// shared between the service and router layers.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// User represents a registered customer. PasswordHash is the bcrypt hash
// of the registration password; the plaintext is never stored.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"passwordHash"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Product is a single catalog entry. Image is a URL path under the images
// directory, not the image bytes themselves.
type Product struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Price       float64 `json:"price"`
	Stock       int     `json:"stock"`
	Featured    bool    `json:"featured"`
	Category    string  `json:"category"`
	Image       string  `json:"image,omitempty"`
}

// OrderItem is one line of an order. UnitPrice captures the product price
// at checkout time so later catalog changes do not rewrite order history.
type OrderItem struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

// Order is an immutable record of a completed checkout, owned by UserID.
type Order struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Items     []OrderItem `json:"items"`
	Total     float64     `json:"total"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Session is the server-side record behind an auth cookie.
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
}

// IsExpired reports whether the session has passed its expiry.
func (s Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// UserResponse is the public projection of a User. It deliberately omits
// the password hash.
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUserResponse builds the public projection of usr.
func NewUserResponse(usr *User) UserResponse {
	return UserResponse{
		ID:        usr.ID,
		Email:     usr.Email,
		CreatedAt: usr.CreatedAt,
	}
}

// OrderItemRequest carries one requested order line. Quantity is not
// validated here so the order service can itemize the reason.
type OrderItemRequest struct {
	ProductID string `json:"productId" validate:"required"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items" validate:"dive"`
}

// ProductFilter carries the recognized product listing filters. Nil price
// bounds mean "unbounded"; empty strings mean "no filter".
type ProductFilter struct {
	Category string
	MinPrice *float64
	MaxPrice *float64
	Search   string
}

// Storage backend kinds selectable through configuration.
const (
	StorageTypeUnknown = iota
	StorageTypePostgresql
	StorageTypeFile
	StorageTypeMemory
)

// Sentinel errors shared across layers. The router maps them to HTTP
// statuses; the services and storage backends return them wrapped with
// context via fmt.Errorf("...: %w", err).
var (
	ErrNotFound        = errors.New("record not found")
	ErrConflict        = errors.New("record already exists")
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
	ErrBusy            = errors.New("storage is busy")
)

// Order validation reason codes.
const (
	OrderReasonEmptyOrder        = "empty_order"
	OrderReasonUnknownProduct    = "unknown_product"
	OrderReasonInvalidQuantity   = "invalid_quantity"
	OrderReasonInsufficientStock = "insufficient_stock"
)

// OrderReason describes one rejected order line.
type OrderReason struct {
	ProductID string `json:"productId,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// InvalidOrderError carries the itemized reasons an order was rejected.
type InvalidOrderError struct {
	Reasons []OrderReason
}

func (e *InvalidOrderError) Error() string {
	codes := make([]string, 0, len(e.Reasons))
	for _, reason := range e.Reasons {
		codes = append(codes, reason.Code)
	}

	return fmt.Sprintf("invalid order: %s", strings.Join(codes, ", "))
}

// NewInvalidOrderError builds an InvalidOrderError from reasons.
func NewInvalidOrderError(reasons ...OrderReason) *InvalidOrderError {
	return &InvalidOrderError{Reasons: reasons}
}
