// Package router wires the HTTP API: it decodes requests, delegates to
// the services, and maps the error taxonomy to HTTP statuses.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	validator "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/patric-chuzhbe/shoplite/internal/auth"
	"github.com/patric-chuzhbe/shoplite/internal/logger"
	"github.com/patric-chuzhbe/shoplite/internal/models"
	"github.com/patric-chuzhbe/shoplite/internal/service"
)

type authenticator interface {
	RequireUser(h http.Handler) http.Handler
	IssueCookie(response http.ResponseWriter, sess models.Session) error
	ClearCookie(response http.ResponseWriter)
	SessionIDFromRequest(request *http.Request) (string, bool)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Router holds the handlers' dependencies.
type Router struct {
	users     *service.Users
	products  *service.Products
	orders    *service.Orders
	auth      authenticator
	db        pinger
	validate  *validator.Validate
	imagesDir string
}

type errorResponse struct {
	Error   string               `json:"error"`
	Reasons []models.OrderReason `json:"reasons,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

// New builds the chi mux with all API routes. Order routes and the
// current-user route sit behind the auth middleware; imagesDir, when not
// empty, is served under /api/images/.
func New(
	users *service.Users,
	products *service.Products,
	orders *service.Orders,
	authenticator authenticator,
	db pinger,
	imagesDir string,
) *chi.Mux {
	rt := &Router{
		users:     users,
		products:  products,
		orders:    orders,
		auth:      authenticator,
		db:        db,
		validate:  validator.New(),
		imagesDir: imagesDir,
	}

	router := chi.NewRouter()
	router.Use(logger.WithLoggingHTTPMiddleware)

	router.Route("/api", func(api chi.Router) {
		api.Get(`/health`, rt.getHealth)

		api.Post(`/auth/register`, rt.postRegister)
		api.Post(`/auth/login`, rt.postLogin)
		api.Post(`/auth/logout`, rt.postLogout)

		api.Get(`/products`, rt.getProducts)
		api.Get(`/products/featured/list`, rt.getFeaturedProducts)
		api.Get(`/products/{productID}`, rt.getProduct)

		api.Group(func(protected chi.Router) {
			protected.Use(rt.auth.RequireUser)
			protected.Get(`/auth/me`, rt.getMe)
			protected.Get(`/orders`, rt.getOrders)
			protected.Post(`/orders`, rt.postOrder)
			protected.Get(`/orders/{orderID}`, rt.getOrder)
		})

		if rt.imagesDir != "" {
			api.Handle(
				`/images/*`,
				http.StripPrefix("/api/images/", http.FileServer(http.Dir(rt.imagesDir))),
			)
		}
	})

	return router
}

func (rt *Router) writeJSON(response http.ResponseWriter, status int, value interface{}) {
	response.Header().Set("Content-Type", "application/json")
	response.WriteHeader(status)
	if err := json.NewEncoder(response).Encode(value); err != nil {
		logger.Log.Debugln("error encoding the response: ", zap.Error(err))
	}
}

func (rt *Router) renderError(response http.ResponseWriter, err error) {
	var invalidOrder *models.InvalidOrderError

	switch {
	case errors.As(err, &invalidOrder):
		rt.writeJSON(response, http.StatusBadRequest, errorResponse{
			Error:   "invalid_order",
			Reasons: invalidOrder.Reasons,
		})

	case errors.Is(err, models.ErrConflict):
		rt.writeJSON(response, http.StatusConflict, errorResponse{Error: "conflict"})

	case errors.Is(err, models.ErrUnauthenticated):
		rt.writeJSON(response, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})

	case errors.Is(err, models.ErrForbidden):
		// Same response as a miss so an order id cannot be probed for
		// existence; the distinction stays in the log.
		logger.Log.Debugln("access to a foreign record denied: ", zap.Error(err))
		rt.writeJSON(response, http.StatusNotFound, errorResponse{Error: "not_found"})

	case errors.Is(err, models.ErrNotFound):
		rt.writeJSON(response, http.StatusNotFound, errorResponse{Error: "not_found"})

	case errors.Is(err, models.ErrBusy):
		response.Header().Set("Retry-After", "1")
		rt.writeJSON(response, http.StatusServiceUnavailable, errorResponse{Error: "busy"})

	default:
		logger.Log.Errorln("unexpected error while handling a request: ", zap.Error(err))
		rt.writeJSON(response, http.StatusInternalServerError, errorResponse{Error: "internal_error"})
	}
}

func (rt *Router) decodeAndValidate(request *http.Request, target interface{}) error {
	if err := json.NewDecoder(request.Body).Decode(target); err != nil {
		return fmt.Errorf("error decoding the request body: %w", err)
	}

	return rt.validate.Struct(target)
}

func (rt *Router) getHealth(response http.ResponseWriter, request *http.Request) {
	if err := rt.db.Ping(request.Context()); err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusOK, statusResponse{Status: "ok"})
}

func (rt *Router) postRegister(response http.ResponseWriter, request *http.Request) {
	var registerRequest models.RegisterRequest
	if err := rt.decodeAndValidate(request, &registerRequest); err != nil {
		rt.writeJSON(response, http.StatusBadRequest, errorResponse{Error: "bad_request"})
		return
	}

	usr, err := rt.users.Register(request.Context(), registerRequest.Email, registerRequest.Password)
	if err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusCreated, models.NewUserResponse(usr))
}

func (rt *Router) postLogin(response http.ResponseWriter, request *http.Request) {
	var loginRequest models.LoginRequest
	if err := rt.decodeAndValidate(request, &loginRequest); err != nil {
		rt.writeJSON(response, http.StatusBadRequest, errorResponse{Error: "bad_request"})
		return
	}

	usr, sess, err := rt.users.Login(request.Context(), loginRequest.Email, loginRequest.Password)
	if err != nil {
		rt.renderError(response, err)
		return
	}

	if err := rt.auth.IssueCookie(response, sess); err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusOK, models.NewUserResponse(usr))
}

func (rt *Router) postLogout(response http.ResponseWriter, request *http.Request) {
	if sessionID, ok := rt.auth.SessionIDFromRequest(request); ok {
		rt.users.Logout(sessionID)
	}
	rt.auth.ClearCookie(response)

	rt.writeJSON(response, http.StatusOK, statusResponse{Status: "ok"})
}

func (rt *Router) getMe(response http.ResponseWriter, request *http.Request) {
	userID, ok := auth.UserIDFromContext(request.Context())
	if !ok {
		rt.renderError(response, models.ErrUnauthenticated)
		return
	}

	usr, err := rt.users.Me(request.Context(), userID)
	if err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusOK, models.NewUserResponse(usr))
}

func parseProductFilter(request *http.Request) (models.ProductFilter, error) {
	query := request.URL.Query()

	// Unrecognized query parameters are deliberately ignored.
	filter := models.ProductFilter{
		Category: query.Get("category"),
		Search:   query.Get("search"),
	}

	if raw := query.Get("minPrice"); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid minPrice %q: %w", raw, err)
		}
		filter.MinPrice = &value
	}

	if raw := query.Get("maxPrice"); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid maxPrice %q: %w", raw, err)
		}
		filter.MaxPrice = &value
	}

	return filter, nil
}

func (rt *Router) getProducts(response http.ResponseWriter, request *http.Request) {
	filter, err := parseProductFilter(request)
	if err != nil {
		rt.writeJSON(response, http.StatusBadRequest, errorResponse{Error: "bad_request"})
		return
	}

	products, err := rt.products.List(request.Context(), filter)
	if err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusOK, products)
}

func (rt *Router) getFeaturedProducts(response http.ResponseWriter, request *http.Request) {
	products, err := rt.products.Featured(request.Context())
	if err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusOK, products)
}

func (rt *Router) getProduct(response http.ResponseWriter, request *http.Request) {
	product, err := rt.products.Get(request.Context(), chi.URLParam(request, "productID"))
	if err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusOK, product)
}

func (rt *Router) getOrders(response http.ResponseWriter, request *http.Request) {
	userID, ok := auth.UserIDFromContext(request.Context())
	if !ok {
		rt.renderError(response, models.ErrUnauthenticated)
		return
	}

	orders, err := rt.orders.ListForUser(request.Context(), userID)
	if err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusOK, orders)
}

func (rt *Router) postOrder(response http.ResponseWriter, request *http.Request) {
	userID, ok := auth.UserIDFromContext(request.Context())
	if !ok {
		rt.renderError(response, models.ErrUnauthenticated)
		return
	}

	var createOrderRequest models.CreateOrderRequest
	if err := rt.decodeAndValidate(request, &createOrderRequest); err != nil {
		rt.writeJSON(response, http.StatusBadRequest, errorResponse{Error: "bad_request"})
		return
	}

	order, err := rt.orders.Create(request.Context(), userID, createOrderRequest.Items)
	if err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusCreated, order)
}

func (rt *Router) getOrder(response http.ResponseWriter, request *http.Request) {
	userID, ok := auth.UserIDFromContext(request.Context())
	if !ok {
		rt.renderError(response, models.ErrUnauthenticated)
		return
	}

	order, err := rt.orders.Get(request.Context(), userID, chi.URLParam(request, "orderID"))
	if err != nil {
		rt.renderError(response, err)
		return
	}

	rt.writeJSON(response, http.StatusOK, order)
}
