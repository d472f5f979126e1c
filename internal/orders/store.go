package orders

import "context"

type ProductRepository interface {
	FindProduct(ctx context.Context, id string) (Product, error)
}

type UserRepository interface {
	FindUser(ctx context.Context, id string) (User, error)
}

type StateRepository interface {
	FindStateByName(ctx context.Context, name State) (StateRecord, error)
	FindStateByID(ctx context.Context, id string) (StateRecord, error)
	ListStates(ctx context.Context) ([]StateRecord, error)
	// SeedStates inserts every missing state. Existing rows are left alone.
	SeedStates(ctx context.Context) error
}

type OrderRepository interface {
	FindOrder(ctx context.Context, id string) (Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)
}

// Tx is the view of the store inside one transaction. Lock* methods hold the
// row until commit or rollback.
type Tx interface {
	LockProduct(ctx context.Context, id string) (Product, error)
	SetProductAvailable(ctx context.Context, id string, available int) error
	LockOrder(ctx context.Context, id string) (Order, error)
	InsertOrder(ctx context.Context, o Order) error
	UpdateOrder(ctx context.Context, o Order) error
	DeleteOrder(ctx context.Context, id string) error
}

// UnitOfWork runs fn in a transaction. The transaction commits when fn
// returns nil and rolls back otherwise; fn's error is returned as is.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Store is everything the workflow consumes.
type Store interface {
	ProductRepository
	UserRepository
	StateRepository
	OrderRepository
	UnitOfWork
}

// Catalog registers the reference data orders point at. Only admin tooling
// writes through it.
type Catalog interface {
	CreateUser(ctx context.Context, u User) (User, error)
	CreateProduct(ctx context.Context, p Product) (Product, error)
	EnsureCategory(ctx context.Context, name string) (Category, error)
}
