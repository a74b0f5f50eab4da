package router

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/patric-chuzhbe/shoplite/internal/auth"
	"github.com/patric-chuzhbe/shoplite/internal/db/memorystorage"
	"github.com/patric-chuzhbe/shoplite/internal/logger"
	"github.com/patric-chuzhbe/shoplite/internal/models"
	"github.com/patric-chuzhbe/shoplite/internal/service"
	"github.com/patric-chuzhbe/shoplite/internal/session"
)

const (
	testCookieName = "shoplite_session_test"
	testEmail      = "a@x.com"
	testPassword   = "pw1234"
)

var testSigningKey = []byte("0123456789abcdef")

type testEnv struct {
	server  *httptest.Server
	storage *memorystorage.MemoryStorage
}

func newTestEnv(t *testing.T, imagesDir string) *testEnv {
	t.Helper()
	require.NoError(t, logger.Init("error"))

	theStorage, err := memorystorage.New(time.Second)
	require.NoError(t, err)

	require.NoError(t, theStorage.ReplaceProducts(context.Background(), []models.Product{
		{ID: "p1", Name: "Electric Kettle", Price: 25.5, Stock: 5, Featured: true, Category: "kitchen"},
		{ID: "p2", Name: "Coffee Mug", Price: 7, Stock: 50, Category: "kitchen"},
		{ID: "p3", Name: "Desk Lamp", Price: 40, Stock: 3, Featured: true, Category: "home"},
	}))

	sessions := session.New(time.Hour, time.Minute)
	handler := New(
		service.NewUsers(theStorage, sessions),
		service.NewProducts(theStorage),
		service.NewOrders(theStorage),
		auth.New(sessions, testCookieName, testSigningKey),
		theStorage,
		imagesDir,
	)

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{
		server:  server,
		storage: theStorage,
	}
}

func (env *testEnv) newClient() *resty.Client {
	return resty.New().SetBaseURL(env.server.URL)
}

func (env *testEnv) registerAndLogin(t *testing.T, client *resty.Client, email string) {
	t.Helper()

	response, err := client.R().
		SetBody(models.RegisterRequest{Email: email, Password: testPassword}).
		Post("/api/auth/register")
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, response.StatusCode())

	response, err = client.R().
		SetBody(models.LoginRequest{Email: email, Password: testPassword}).
		Post("/api/auth/login")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, response.StatusCode())
}

func TestGetHealth(t *testing.T) {
	env := newTestEnv(t, "")

	var status struct {
		Status string `json:"status"`
	}
	response, err := env.newClient().R().SetResult(&status).Get("/api/health")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.Equal(t, "ok", status.Status)
}

func TestAuthFlow(t *testing.T) {
	env := newTestEnv(t, "")
	client := env.newClient()

	t.Run("register", func(t *testing.T) {
		var usr models.UserResponse
		response, err := client.R().
			SetBody(models.RegisterRequest{Email: testEmail, Password: testPassword}).
			SetResult(&usr).
			Post("/api/auth/register")
		require.NoError(t, err)

		assert.Equal(t, http.StatusCreated, response.StatusCode())
		assert.Equal(t, testEmail, usr.Email)
		assert.NotEmpty(t, usr.ID)
	})

	t.Run("duplicate registration conflicts", func(t *testing.T) {
		response, err := client.R().
			SetBody(models.RegisterRequest{Email: testEmail, Password: "other-pass"}).
			Post("/api/auth/register")
		require.NoError(t, err)

		assert.Equal(t, http.StatusConflict, response.StatusCode())
	})

	t.Run("register with malformed email is a bad request", func(t *testing.T) {
		response, err := client.R().
			SetBody(models.RegisterRequest{Email: "not-an-email", Password: testPassword}).
			Post("/api/auth/register")
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, response.StatusCode())
	})

	t.Run("login with wrong password is unauthorized", func(t *testing.T) {
		response, err := client.R().
			SetBody(models.LoginRequest{Email: testEmail, Password: "nope"}).
			Post("/api/auth/login")
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, response.StatusCode())
	})

	t.Run("me requires a session", func(t *testing.T) {
		response, err := env.newClient().R().Get("/api/auth/me")
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, response.StatusCode())
	})

	t.Run("login sets the session cookie and me works", func(t *testing.T) {
		response, err := client.R().
			SetBody(models.LoginRequest{Email: testEmail, Password: testPassword}).
			Post("/api/auth/login")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, response.StatusCode())

		cookieFound := false
		for _, cookie := range response.Cookies() {
			if cookie.Name == testCookieName && cookie.Value != "" {
				cookieFound = true
			}
		}
		assert.True(t, cookieFound, "login should set the session cookie")

		var usr models.UserResponse
		response, err = client.R().SetResult(&usr).Get("/api/auth/me")
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode())
		assert.Equal(t, testEmail, usr.Email)
	})

	t.Run("logout invalidates the session", func(t *testing.T) {
		response, err := client.R().Post("/api/auth/logout")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, response.StatusCode())

		response, err = client.R().Get("/api/auth/me")
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, response.StatusCode())
	})
}

func TestProductEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	client := env.newClient()

	t.Run("list with filters", func(t *testing.T) {
		var products []models.Product
		response, err := client.R().
			SetQueryParams(map[string]string{
				"category": "kitchen",
				"maxPrice": "10",
				"search":   "mug",
			}).
			SetResult(&products).
			Get("/api/products")
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode())
		require.Len(t, products, 1)
		assert.Equal(t, "p2", products[0].ID)
	})

	t.Run("malformed price bound is a bad request", func(t *testing.T) {
		response, err := client.R().
			SetQueryParam("minPrice", "cheap").
			Get("/api/products")
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, response.StatusCode())
	})

	t.Run("unrecognized filters are ignored", func(t *testing.T) {
		var products []models.Product
		response, err := client.R().
			SetQueryParam("sort", "price").
			SetResult(&products).
			Get("/api/products")
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode())
		assert.Len(t, products, 3)
	})

	t.Run("detail and miss", func(t *testing.T) {
		var product models.Product
		response, err := client.R().SetResult(&product).Get("/api/products/p1")
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode())
		assert.Equal(t, "Electric Kettle", product.Name)

		response, err = client.R().Get("/api/products/p999")
		require.NoError(t, err)

		assert.Equal(t, http.StatusNotFound, response.StatusCode())
	})

	t.Run("featured list", func(t *testing.T) {
		var products []models.Product
		response, err := client.R().SetResult(&products).Get("/api/products/featured/list")
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode())
		require.Len(t, products, 2)
		assert.Equal(t, "p1", products[0].ID)
		assert.Equal(t, "p3", products[1].ID)
	})
}

func TestOrderEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	client := env.newClient()
	env.registerAndLogin(t, client, testEmail)

	t.Run("orders require a session", func(t *testing.T) {
		response, err := env.newClient().R().Get("/api/orders")
		require.NoError(t, err)

		assert.Equal(t, http.StatusUnauthorized, response.StatusCode())
	})

	t.Run("fresh user has no orders", func(t *testing.T) {
		var orders []models.Order
		response, err := client.R().SetResult(&orders).Get("/api/orders")
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode())
		assert.Empty(t, orders)
	})

	var createdOrderID string

	t.Run("checkout decrements stock", func(t *testing.T) {
		var order models.Order
		response, err := client.R().
			SetBody(models.CreateOrderRequest{Items: []models.OrderItemRequest{
				{ProductID: "p1", Quantity: 1},
			}}).
			SetResult(&order).
			Post("/api/orders")
		require.NoError(t, err)

		require.Equal(t, http.StatusCreated, response.StatusCode())
		assert.Equal(t, 25.5, order.Total)
		createdOrderID = order.ID

		var product models.Product
		response, err = client.R().SetResult(&product).Get("/api/products/p1")
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, response.StatusCode())
		assert.Equal(t, 4, product.Stock)
	})

	t.Run("invalid order is itemized", func(t *testing.T) {
		var body struct {
			Error   string               `json:"error"`
			Reasons []models.OrderReason `json:"reasons"`
		}
		response, err := client.R().
			SetBody(models.CreateOrderRequest{Items: []models.OrderItemRequest{
				{ProductID: "ghost", Quantity: 1},
				{ProductID: "p3", Quantity: 100},
			}}).
			SetError(&body).
			Post("/api/orders")
		require.NoError(t, err)

		assert.Equal(t, http.StatusBadRequest, response.StatusCode())
		assert.Equal(t, "invalid_order", body.Error)
		require.Len(t, body.Reasons, 2)
		assert.Equal(t, models.OrderReasonUnknownProduct, body.Reasons[0].Code)
		assert.Equal(t, models.OrderReasonInsufficientStock, body.Reasons[1].Code)
	})

	t.Run("order detail and ownership", func(t *testing.T) {
		var order models.Order
		response, err := client.R().SetResult(&order).Get("/api/orders/" + createdOrderID)
		require.NoError(t, err)

		assert.Equal(t, http.StatusOK, response.StatusCode())
		assert.Equal(t, createdOrderID, order.ID)

		response, err = client.R().Get("/api/orders/missing-order")
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, response.StatusCode())

		// another user sees the same generic 404 for a foreign order
		otherClient := env.newClient()
		env.registerAndLogin(t, otherClient, "b@x.com")
		response, err = otherClient.R().Get("/api/orders/" + createdOrderID)
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, response.StatusCode())
	})
}

func TestConcurrentCheckoutDoesNotOversell(t *testing.T) {
	env := newTestEnv(t, "")

	require.NoError(t, env.storage.ReplaceProducts(context.Background(), []models.Product{
		{ID: "p1", Name: "Electric Kettle", Price: 25.5, Stock: 5},
	}))

	clients := make([]*resty.Client, 2)
	for i := range clients {
		clients[i] = env.newClient()
		env.registerAndLogin(t, clients[i], fmt.Sprintf("user%d@x.com", i))
	}

	statuses := make([]int, len(clients))
	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(i int, client *resty.Client) {
			defer wg.Done()
			response, err := client.R().
				SetBody(models.CreateOrderRequest{Items: []models.OrderItemRequest{
					{ProductID: "p1", Quantity: 3},
				}}).
				Post("/api/orders")
			if !assert.NoError(t, err) {
				return
			}
			statuses[i] = response.StatusCode()
		}(i, client)
	}
	wg.Wait()

	created := 0
	rejected := 0
	for _, status := range statuses {
		switch status {
		case http.StatusCreated:
			created++
		case http.StatusBadRequest:
			rejected++
		}
	}
	assert.Equal(t, 1, created, "exactly one of two concurrent checkouts must win")
	assert.Equal(t, 1, rejected, "the loser must be rejected with an invalid-order response")

	product, err := env.storage.GetProductByID(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, 2, product.Stock)
}

func TestImagesAreServed(t *testing.T) {
	imagesDir := t.TempDir()
	imageBytes := []byte("png-bytes")
	require.NoError(t, os.WriteFile(filepath.Join(imagesDir, "p1.png"), imageBytes, 0o644))

	env := newTestEnv(t, imagesDir)

	response, err := env.newClient().R().Get("/api/images/p1.png")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, response.StatusCode())
	assert.Equal(t, imageBytes, response.Body())
}
