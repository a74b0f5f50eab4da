package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/shoplite/internal/db/memorystorage"
	"github.com/patric-chuzhbe/shoplite/internal/models"
)

func newOrdersService(t *testing.T) (*Orders, *memorystorage.MemoryStorage) {
	t.Helper()

	theStorage, err := memorystorage.New(time.Second)
	require.NoError(t, err)

	require.NoError(t, theStorage.ReplaceProducts(context.Background(), []models.Product{
		{ID: "p1", Name: "Electric Kettle", Price: 25.5, Stock: 5},
		{ID: "p2", Name: "Coffee Mug", Price: 7, Stock: 2},
	}))

	return NewOrders(theStorage), theStorage
}

func TestCreateOrderPricesAndDecrementsStock(t *testing.T) {
	orders, theStorage := newOrdersService(t)

	order, err := orders.Create(context.Background(), "user-1", []models.OrderItemRequest{
		{ProductID: "p1", Quantity: 2},
		{ProductID: "p2", Quantity: 1},
	})
	require.NoError(t, err)

	assert.NotEmpty(t, order.ID)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, []models.OrderItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: 25.5},
		{ProductID: "p2", Quantity: 1, UnitPrice: 7},
	}, order.Items)
	assert.Equal(t, 58.0, order.Total)

	product, err := theStorage.GetProductByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 3, product.Stock)

	product, err = theStorage.GetProductByID(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, 1, product.Stock)
}

func TestCreateOrderItemizesEveryReason(t *testing.T) {
	orders, theStorage := newOrdersService(t)

	_, err := orders.Create(context.Background(), "user-1", []models.OrderItemRequest{
		{ProductID: "p1", Quantity: 0},
		{ProductID: "ghost", Quantity: 1},
		{ProductID: "p2", Quantity: 3},
	})

	var invalidOrder *models.InvalidOrderError
	require.True(t, errors.As(err, &invalidOrder))
	require.Len(t, invalidOrder.Reasons, 3)
	assert.Equal(t, models.OrderReasonInvalidQuantity, invalidOrder.Reasons[0].Code)
	assert.Equal(t, models.OrderReasonUnknownProduct, invalidOrder.Reasons[1].Code)
	assert.Equal(t, models.OrderReasonInsufficientStock, invalidOrder.Reasons[2].Code)

	// a rejected order must not touch the stock
	product, err := theStorage.GetProductByID(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, 2, product.Stock)
}

func TestCreateOrderRejectsEmptyOrder(t *testing.T) {
	orders, _ := newOrdersService(t)

	_, err := orders.Create(context.Background(), "user-1", nil)

	var invalidOrder *models.InvalidOrderError
	require.True(t, errors.As(err, &invalidOrder))
	require.Len(t, invalidOrder.Reasons, 1)
	assert.Equal(t, models.OrderReasonEmptyOrder, invalidOrder.Reasons[0].Code)
}

func TestCreateOrderKeepsDuplicateLinesWithinStock(t *testing.T) {
	orders, theStorage := newOrdersService(t)

	// p2 has 2 in stock; two separate lines of 1 stay two lines
	order, err := orders.Create(context.Background(), "user-1", []models.OrderItemRequest{
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
	})
	require.NoError(t, err)

	require.Len(t, order.Items, 2)
	assert.Equal(t, "p2", order.Items[0].ProductID)
	assert.Equal(t, "p2", order.Items[1].ProductID)
	assert.Equal(t, 14.0, order.Total)

	persisted, err := theStorage.GetOrderByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Items, persisted.Items)

	product, err := theStorage.GetProductByID(context.Background(), "p2")
	require.NoError(t, err)
	assert.Equal(t, 0, product.Stock, "both lines count against the stock")
}

func TestCreateOrderAccumulatesDuplicateLines(t *testing.T) {
	orders, _ := newOrdersService(t)

	// p2 has 2 in stock; two lines of 1 are fine, a third is not
	_, err := orders.Create(context.Background(), "user-1", []models.OrderItemRequest{
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
		{ProductID: "p2", Quantity: 1},
	})

	var invalidOrder *models.InvalidOrderError
	require.True(t, errors.As(err, &invalidOrder))
	assert.Equal(t, models.OrderReasonInsufficientStock, invalidOrder.Reasons[0].Code)
}

func TestListForUserMostRecentFirst(t *testing.T) {
	orders, _ := newOrdersService(t)

	first, err := orders.Create(context.Background(), "user-1", []models.OrderItemRequest{
		{ProductID: "p1", Quantity: 1},
	})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)

	second, err := orders.Create(context.Background(), "user-1", []models.OrderItemRequest{
		{ProductID: "p2", Quantity: 1},
	})
	require.NoError(t, err)

	_, err = orders.Create(context.Background(), "user-2", []models.OrderItemRequest{
		{ProductID: "p1", Quantity: 1},
	})
	require.NoError(t, err)

	listed, err := orders.ListForUser(context.Background(), "user-1")
	require.NoError(t, err)
	require.Len(t, listed, 2, "only the user's own orders are listed")
	assert.Equal(t, second.ID, listed[0].ID)
	assert.Equal(t, first.ID, listed[1].ID)
}

func TestGetChecksOwnership(t *testing.T) {
	orders, _ := newOrdersService(t)

	order, err := orders.Create(context.Background(), "user-1", []models.OrderItemRequest{
		{ProductID: "p1", Quantity: 1},
	})
	require.NoError(t, err)

	fetched, err := orders.Get(context.Background(), "user-1", order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, fetched.ID)

	_, err = orders.Get(context.Background(), "user-2", order.ID)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = orders.Get(context.Background(), "user-1", "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
