package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/patric-chuzhbe/shoplite/internal/models"
)

type orderKeeper interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	CreateOrder(ctx context.Context, order *models.Order, stockDecrements map[string]int) error
	GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error)
	GetOrderByID(ctx context.Context, orderID string) (*models.Order, error)
}

// Orders implements checkout and order retrieval.
type Orders struct {
	db orderKeeper
}

// NewOrders creates an Orders service over the given storage.
func NewOrders(db orderKeeper) *Orders {
	return &Orders{db: db}
}

// Create validates the requested items against the catalog, prices them
// at the current product price, and persists the order together with the
// stock decrements. Validation failures come back as
// *models.InvalidOrderError with one reason per offending item; the
// storage re-checks stock under its locks, so two concurrent checkouts
// can never oversell between validation and commit.
func (s *Orders) Create(
	ctx context.Context,
	userID string,
	items []models.OrderItemRequest,
) (*models.Order, error) {
	if len(items) == 0 {
		return nil, models.NewInvalidOrderError(models.OrderReason{
			Code:    models.OrderReasonEmptyOrder,
			Message: "order has no items",
		})
	}

	products, err := s.db.GetProducts(ctx)
	if err != nil {
		return nil, err
	}
	productsByID := make(map[string]models.Product, len(products))
	for _, product := range products {
		productsByID[product.ID] = product
	}

	var reasons []models.OrderReason
	orderItems := make([]models.OrderItem, 0, len(items))
	stockDecrements := map[string]int{}
	total := 0.0

	for _, item := range items {
		if item.Quantity <= 0 {
			reasons = append(reasons, models.OrderReason{
				ProductID: item.ProductID,
				Code:      models.OrderReasonInvalidQuantity,
				Message:   fmt.Sprintf("quantity must be positive, got %d", item.Quantity),
			})
			continue
		}

		product, ok := productsByID[item.ProductID]
		if !ok {
			reasons = append(reasons, models.OrderReason{
				ProductID: item.ProductID,
				Code:      models.OrderReasonUnknownProduct,
				Message:   "product does not exist",
			})
			continue
		}

		// Lines for the same product accumulate against one stock figure.
		stockDecrements[item.ProductID] += item.Quantity
		if product.Stock < stockDecrements[item.ProductID] {
			reasons = append(reasons, models.OrderReason{
				ProductID: item.ProductID,
				Code:      models.OrderReasonInsufficientStock,
				Message:   fmt.Sprintf("requested %d, %d in stock", stockDecrements[item.ProductID], product.Stock),
			})
			continue
		}

		orderItems = append(orderItems, models.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: product.Price,
		})
		total += product.Price * float64(item.Quantity)
	}

	if len(reasons) > 0 {
		return nil, models.NewInvalidOrderError(reasons...)
	}

	order := &models.Order{
		ID:        uuid.New().String(),
		UserID:    userID,
		Items:     orderItems,
		Total:     math.Round(total*100) / 100,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.db.CreateOrder(ctx, order, stockDecrements); err != nil {
		return nil, err
	}

	return order, nil
}

// ListForUser returns the user's orders, most recent first.
func (s *Orders) ListForUser(ctx context.Context, userID string) ([]models.Order, error) {
	orders, err := s.db.GetOrdersByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	return orders, nil
}

// Get fetches one order on behalf of userID. A missing order fails with
// models.ErrNotFound; an order owned by someone else fails with
// models.ErrForbidden so the caller can log the difference, even though
// both surface identically at the API boundary.
func (s *Orders) Get(ctx context.Context, userID, orderID string) (*models.Order, error) {
	order, err := s.db.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.UserID != userID {
		return nil, fmt.Errorf("order %q belongs to another user: %w", orderID, models.ErrForbidden)
	}

	return order, nil
}
