package service

import (
	"context"
	"strings"

	"github.com/thoas/go-funk"

	"github.com/patric-chuzhbe/shoplite/internal/models"
)

type productKeeper interface {
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetProductByID(ctx context.Context, productID string) (*models.Product, error)
}

// Products serves catalog listing and lookups.
type Products struct {
	db productKeeper
}

// NewProducts creates a Products service over the given storage.
func NewProducts(db productKeeper) *Products {
	return &Products{db: db}
}

// List returns the catalog narrowed by filter. Category is an exact
// match, the price bounds are inclusive, and Search is a case-insensitive
// substring match on the product name.
func (s *Products) List(ctx context.Context, filter models.ProductFilter) ([]models.Product, error) {
	products, err := s.db.GetProducts(ctx)
	if err != nil {
		return nil, err
	}

	search := strings.ToLower(filter.Search)

	return funk.Filter(products, func(product models.Product) bool {
		if filter.Category != "" && product.Category != filter.Category {
			return false
		}
		if filter.MinPrice != nil && product.Price < *filter.MinPrice {
			return false
		}
		if filter.MaxPrice != nil && product.Price > *filter.MaxPrice {
			return false
		}
		if search != "" && !strings.Contains(strings.ToLower(product.Name), search) {
			return false
		}

		return true
	}).([]models.Product), nil
}

// Get fetches one product; models.ErrNotFound when absent.
func (s *Products) Get(ctx context.Context, productID string) (*models.Product, error) {
	return s.db.GetProductByID(ctx, productID)
}

// Featured returns the featured products in catalog order.
func (s *Products) Featured(ctx context.Context) ([]models.Product, error) {
	products, err := s.db.GetProducts(ctx)
	if err != nil {
		return nil, err
	}

	return funk.Filter(products, func(product models.Product) bool {
		return product.Featured
	}).([]models.Product), nil
}
