package jsondb

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/patric-chuzhbe/shoplite/internal/models"
)

const (
	usersFileName    = "users.json"
	productsFileName = "products.json"
	ordersFileName   = "orders.json"
)

// JSONDB keeps every collection in memory and mirrors each mutation to a
// JSON document on disk. A mutation runs under the exclusive lock of its
// collection; the lock wait is bounded and times out with models.ErrBusy.
// An empty dataDir disables the disk mirror (memory-only mode).
type JSONDB struct {
	dataDir  string
	lockWait time.Duration

	usersLock    *semaphore.Weighted
	productsLock *semaphore.Weighted
	ordersLock   *semaphore.Weighted

	mu    sync.RWMutex
	cache Cache
}

type Cache struct {
	Users    []models.User
	Products []models.Product
	Orders   []models.Order
}

func writeJSONFile(fileName string, records interface{}) error {
	jsonData, err := json.MarshalIndent(records, "", "\t")
	if err != nil {
		return fmt.Errorf("error marshaling JSON: %w", err)
	}

	// Write to a temporary file in the same directory and rename it over
	// the target so a concurrent reader never sees a truncated document.
	tmpFile, err := os.CreateTemp(filepath.Dir(fileName), filepath.Base(fileName)+".tmp-*")
	if err != nil {
		return fmt.Errorf("error creating temp file: %w", err)
	}

	_, err = tmpFile.Write(jsonData)
	if err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return fmt.Errorf("error writing to temp file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return fmt.Errorf("error closing temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), fileName); err != nil {
		os.Remove(tmpFile.Name())
		return fmt.Errorf("error renaming temp file: %w", err)
	}

	return nil
}

func parseJSONFile(fileName string, records interface{}) error {
	file, err := os.Open(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	err = decoder.Decode(records)
	if err != nil {
		return err
	}

	return nil
}

func loadCollection(fileName string, records interface{}) error {
	err := parseJSONFile(fileName, records)
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	if err := writeJSONFile(fileName, records); err != nil {
		return err
	}

	return nil
}

// New loads the collections from dataDir, creating empty collection files
// on first run.
func New(dataDir string, lockWait time.Duration) (*JSONDB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating data directory: %w", err)
	}

	db := newEmpty(dataDir, lockWait)

	if err := loadCollection(db.path(usersFileName), &db.cache.Users); err != nil {
		return nil, err
	}
	if err := loadCollection(db.path(productsFileName), &db.cache.Products); err != nil {
		return nil, err
	}
	if err := loadCollection(db.path(ordersFileName), &db.cache.Orders); err != nil {
		return nil, err
	}

	return db, nil
}

// NewInMemory returns a JSONDB that never touches the disk.
func NewInMemory(lockWait time.Duration) *JSONDB {
	return newEmpty("", lockWait)
}

func newEmpty(dataDir string, lockWait time.Duration) *JSONDB {
	return &JSONDB{
		dataDir:      dataDir,
		lockWait:     lockWait,
		usersLock:    semaphore.NewWeighted(1),
		productsLock: semaphore.NewWeighted(1),
		ordersLock:   semaphore.NewWeighted(1),
		cache: Cache{
			Users:    []models.User{},
			Products: []models.Product{},
			Orders:   []models.Order{},
		},
	}
}

func (db *JSONDB) path(fileName string) string {
	return filepath.Join(db.dataDir, fileName)
}

func (db *JSONDB) acquire(ctx context.Context, lock *semaphore.Weighted) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, db.lockWait)
	defer cancel()

	if err := lock.Acquire(waitCtx, 1); err != nil {
		return nil, fmt.Errorf("%w: collection lock not acquired within %s", models.ErrBusy, db.lockWait)
	}

	return func() { lock.Release(1) }, nil
}

func (db *JSONDB) persist(fileName string, records interface{}) error {
	if db.dataDir == "" {
		return nil
	}

	return writeJSONFile(db.path(fileName), records)
}

func (db *JSONDB) CreateUser(ctx context.Context, usr *models.User) error {
	release, err := db.acquire(ctx, db.usersLock)
	if err != nil {
		return err
	}
	defer release()

	db.mu.RLock()
	updated := make([]models.User, len(db.cache.Users), len(db.cache.Users)+1)
	copy(updated, db.cache.Users)
	db.mu.RUnlock()

	for _, existing := range updated {
		if existing.Email == usr.Email {
			return fmt.Errorf("user with email %q: %w", usr.Email, models.ErrConflict)
		}
	}
	updated = append(updated, *usr)

	if err := db.persist(usersFileName, updated); err != nil {
		return err
	}

	db.mu.Lock()
	db.cache.Users = updated
	db.mu.Unlock()

	return nil
}

func (db *JSONDB) FindUserByEmail(ctx context.Context, email string) (*models.User, bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, usr := range db.cache.Users {
		if usr.Email == email {
			found := usr
			return &found, true, nil
		}
	}

	return nil, false, nil
}

func (db *JSONDB) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, usr := range db.cache.Users {
		if usr.ID == userID {
			found := usr
			return &found, nil
		}
	}

	return nil, fmt.Errorf("user %q: %w", userID, models.ErrNotFound)
}

func (db *JSONDB) GetProducts(ctx context.Context) ([]models.Product, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	products := make([]models.Product, len(db.cache.Products))
	copy(products, db.cache.Products)

	return products, nil
}

func (db *JSONDB) GetProductByID(ctx context.Context, productID string) (*models.Product, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, product := range db.cache.Products {
		if product.ID == productID {
			found := product
			return &found, nil
		}
	}

	return nil, fmt.Errorf("product %q: %w", productID, models.ErrNotFound)
}

func (db *JSONDB) ReplaceProducts(ctx context.Context, products []models.Product) error {
	release, err := db.acquire(ctx, db.productsLock)
	if err != nil {
		return err
	}
	defer release()

	updated := make([]models.Product, len(products))
	copy(updated, products)

	if err := db.persist(productsFileName, updated); err != nil {
		return err
	}

	db.mu.Lock()
	db.cache.Products = updated
	db.mu.Unlock()

	return nil
}

// CreateOrder takes the products lock and then the orders lock; every
// multi-collection writer must use this order so two concurrent checkouts
// cannot deadlock.
func (db *JSONDB) CreateOrder(
	ctx context.Context,
	order *models.Order,
	stockDecrements map[string]int,
) error {
	releaseProducts, err := db.acquire(ctx, db.productsLock)
	if err != nil {
		return err
	}
	defer releaseProducts()

	releaseOrders, err := db.acquire(ctx, db.ordersLock)
	if err != nil {
		return err
	}
	defer releaseOrders()

	db.mu.RLock()
	previousProducts := db.cache.Products
	updatedProducts := make([]models.Product, len(db.cache.Products))
	copy(updatedProducts, db.cache.Products)
	updatedOrders := make([]models.Order, len(db.cache.Orders), len(db.cache.Orders)+1)
	copy(updatedOrders, db.cache.Orders)
	db.mu.RUnlock()

	if err := applyStockDecrements(updatedProducts, stockDecrements); err != nil {
		return err
	}
	updatedOrders = append(updatedOrders, *order)

	if err := db.persist(productsFileName, updatedProducts); err != nil {
		return err
	}

	if err := db.persist(ordersFileName, updatedOrders); err != nil {
		// The decremented stock never reached the cache; put the catalog
		// file back so readers after a restart do not see the half-commit.
		if restoreErr := db.persist(productsFileName, previousProducts); restoreErr != nil {
			return fmt.Errorf("error persisting orders: %w (catalog restore also failed: %s)", err, restoreErr)
		}
		return err
	}

	db.mu.Lock()
	db.cache.Products = updatedProducts
	db.cache.Orders = updatedOrders
	db.mu.Unlock()

	return nil
}

func applyStockDecrements(products []models.Product, stockDecrements map[string]int) error {
	indexByID := make(map[string]int, len(products))
	for i, product := range products {
		indexByID[product.ID] = i
	}

	var reasons []models.OrderReason
	for productID, quantity := range stockDecrements {
		i, ok := indexByID[productID]
		if !ok {
			reasons = append(reasons, models.OrderReason{
				ProductID: productID,
				Code:      models.OrderReasonUnknownProduct,
				Message:   "product does not exist",
			})
			continue
		}
		if products[i].Stock < quantity {
			reasons = append(reasons, models.OrderReason{
				ProductID: productID,
				Code:      models.OrderReasonInsufficientStock,
				Message:   fmt.Sprintf("requested %d, %d in stock", quantity, products[i].Stock),
			})
			continue
		}
		products[i].Stock -= quantity
	}

	if len(reasons) > 0 {
		sort.Slice(reasons, func(i, j int) bool { return reasons[i].ProductID < reasons[j].ProductID })
		return models.NewInvalidOrderError(reasons...)
	}

	return nil
}

func (db *JSONDB) GetOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	orders := []models.Order{}
	for _, order := range db.cache.Orders {
		if order.UserID == userID {
			orders = append(orders, order)
		}
	}

	return orders, nil
}

func (db *JSONDB) GetOrderByID(ctx context.Context, orderID string) (*models.Order, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	for _, order := range db.cache.Orders {
		if order.ID == orderID {
			found := order
			return &found, nil
		}
	}

	return nil, fmt.Errorf("order %q: %w", orderID, models.ErrNotFound)
}

func (db *JSONDB) Ping(ctx context.Context) error {
	if db.dataDir == "" {
		return nil
	}
	if _, err := os.Stat(db.dataDir); err != nil {
		return fmt.Errorf("data directory is not accessible: %w", err)
	}

	return nil
}

// Close flushes every collection to disk.
func (db *JSONDB) Close() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.persist(usersFileName, db.cache.Users); err != nil {
		return err
	}
	if err := db.persist(productsFileName, db.cache.Products); err != nil {
		return err
	}
	if err := db.persist(ordersFileName, db.cache.Orders); err != nil {
		return err
	}

	return nil
}
