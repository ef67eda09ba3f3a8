//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/jimmyweng/ecommerce-go/internal/domain/favorite"
	"github.com/jimmyweng/ecommerce-go/internal/domain/order"
	"github.com/jimmyweng/ecommerce-go/internal/domain/product"
	"github.com/jimmyweng/ecommerce-go/internal/domain/user"
	"github.com/jimmyweng/ecommerce-go/internal/storage/postgres"
)

// env is a fully wired stack on a disposable postgres container. Every test
// gets its own container, so tests stay independent at the cost of startup
// time.
type env struct {
	cluster *postgres.Cluster

	users     *postgres.UserStore
	products  *postgres.ProductStore
	orders    *postgres.OrderStore
	favorites *postgres.FavoriteStore

	checkout       *order.CheckoutService
	orderQueries   *order.QueryService
	admin          *product.AdminService
	productQueries *product.QueryService
	favoriteSvc    *favorite.Service
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	cluster, err := postgres.NewCluster(ctx, dsn, nil)
	require.NoError(t, err, "create cluster")
	t.Cleanup(cluster.Close)

	require.NoError(t, postgres.RunMigrations(ctx, cluster.Primary()), "run migrations")

	e := &env{
		cluster:   cluster,
		users:     postgres.NewUserStore(cluster),
		products:  postgres.NewProductStore(cluster),
		orders:    postgres.NewOrderStore(cluster),
		favorites: postgres.NewFavoriteStore(cluster),
	}
	e.checkout = order.NewCheckoutService(cluster, e.users, e.products, e.orders, time.Now)
	e.orderQueries = order.NewQueryService(cluster, e.users, e.orders)
	e.admin = product.NewAdminService(e.products, cluster, time.Now)
	e.productQueries = product.NewQueryService(e.products, cluster)
	e.favoriteSvc = favorite.NewService(cluster, e.users, e.products, e.favorites, time.Now)
	return e
}

func (e *env) createUser(t *testing.T, email string) *user.User {
	t.Helper()
	u, err := e.users.Insert(context.Background(), email, "Test User", time.Now())
	require.NoError(t, err, "create user %s", email)
	return u
}

func (e *env) createProduct(t *testing.T, title, price string, stock int) *product.Product {
	t.Helper()
	p, err := e.admin.CreateProduct(context.Background(), product.Fields{
		Title:       title,
		Description: "integration test product",
		Category:    "test",
		Price:       decimal.RequireFromString(price),
		Stock:       stock,
	})
	require.NoError(t, err, "create product %s", title)
	return p
}

func (e *env) productByID(t *testing.T, id int64) *product.Product {
	t.Helper()
	p, err := e.productQueries.Product(context.Background(), id)
	require.NoError(t, err, "get product %d", id)
	return p
}
