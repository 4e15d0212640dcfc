//go:build integration

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/xenking/kart-fulfillment/internal/domain/event"
	"github.com/xenking/kart-fulfillment/internal/domain/money"
	"github.com/xenking/kart-fulfillment/internal/domain/product"
	"github.com/xenking/kart-fulfillment/internal/storage/postgres"
	"github.com/xenking/kart-fulfillment/internal/storage/redis"
	"github.com/xenking/kart-fulfillment/pkg/health"
	"github.com/xenking/kart-fulfillment/pkg/httpmiddleware"
)

var (
	testPool  *pgxpool.Pool
	testRedis *goredis.Client
)

func TestMain(m *testing.M) {
	os.Exit(testMain(m))
}

func startContainer(ctx context.Context, req testcontainers.ContainerRequest, port string) (testcontainers.Container, string, error) {
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", err
	}
	host, err := ctr.Host(ctx)
	if err != nil {
		return ctr, "", err
	}
	mapped, err := ctr.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return ctr, "", err
	}
	return ctr, fmt.Sprintf("%s:%s", host, mapped.Port()), nil
}

func testMain(m *testing.M) int {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	pg, pgAddr, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "postgres:17-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "kart",
			"POSTGRES_PASSWORD": "kart",
			"POSTGRES_DB":       "kart",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(time.Minute),
	}, "5432")
	if pg != nil {
		defer func() { _ = pg.Terminate(context.Background()) }()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}

	rd, redisAddr, err := startContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp"),
	}, "6379")
	if rd != nil {
		defer func() { _ = rd.Terminate(context.Background()) }()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "start redis: %v\n", err)
		return 1
	}

	testPool, err = postgres.NewPool(ctx, "postgres://kart:kart@"+pgAddr+"/kart?sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		return 1
	}
	defer testPool.Close()
	if err := postgres.RunMigrations(ctx, testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}

	testRedis, err = redis.NewClient(ctx, redisAddr, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		return 1
	}
	defer func() { _ = testRedis.Close() }()

	return m.Run()
}

type api struct {
	t      *testing.T
	srv    *httptest.Server
	events *event.Collector
	st     stack
}

func newAPI(t *testing.T) *api {
	t.Helper()
	cfg := &Config{
		Redis:  RedisConfig{CartTTL: time.Hour},
		Orders: OrdersConfig{AutoPromotions: true},
	}
	events := &event.Collector{}
	st := wire(testPool, testRedis, events, cfg)

	hs := health.New()
	hs.Register(health.Readiness, health.Check{Name: "postgres", Func: health.PingCheck("postgres", testPool)})
	hs.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	guard := httpmiddleware.FailureLimit(ctx, httpmiddleware.FailureLimitConfig{Max: 3, Window: time.Minute})

	srv := httptest.NewServer(httpmiddleware.Wrap(newRouter(st, hs, guard),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zap.NewNop()),
	))
	t.Cleanup(srv.Close)
	return &api{t: t, srv: srv, events: events, st: st}
}

func (a *api) call(method, path string, body any) (int, map[string]any) {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.srv.URL+path, r)
	require.NoError(a.t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := a.srv.Client().Do(req)
	require.NoError(a.t, err)
	defer func() { _ = resp.Body.Close() }()

	var out map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(&out), "%s %s", method, path)
	}
	return resp.StatusCode, out
}

func amount(v any) string {
	return v.(map[string]any)["amount"].(string)
}

func seedProduct(t *testing.T, a *api, id, sku, price string, stock int) {
	t.Helper()
	seedProductIn(t, a, "", id, sku, price, stock)
}

func seedProductIn(t *testing.T, a *api, categoryID, id, sku, price string, stock int) {
	t.Helper()
	now := time.Now()
	require.NoError(t, postgres.NewProductRepository(testPool).Save(context.Background(), &product.Product{
		ID: id, SKU: product.SKU(sku), Name: id, CategoryID: categoryID,
		Price: money.MustNew(price), Active: true, CreatedAt: now, UpdatedAt: now,
	}))
	code, _ := a.call(http.MethodPost, "/api/inventory", map[string]any{
		"product_id": id, "initial_stock": stock,
	})
	require.Equal(t, http.StatusCreated, code)
}

func register(t *testing.T, a *api, email string) string {
	t.Helper()
	code, body := a.call(http.MethodPost, "/api/customers", map[string]any{
		"email": email, "first_name": "Test", "last_name": "Customer",
	})
	require.Equal(t, http.StatusCreated, code, body)
	return body["id"].(string)
}

func TestCheckoutPayFlow(t *testing.T) {
	a := newAPI(t)
	seedProduct(t, a, "e2e-waffle", "E2E-WAF", "175", 10)

	code, body := a.call(http.MethodPost, "/api/coupons", map[string]any{
		"code":        "E2ESAVE20",
		"description": "20% off over 300",
		"rule":        map[string]any{"type": "percentage", "value": "20", "minimum_order": "300"},
		"expires_at":  time.Now().Add(24 * time.Hour),
		"max_uses":    1,
	})
	require.Equal(t, http.StatusCreated, code, body)

	alice := register(t, a, "alice.e2e@example.com")

	code, body = a.call(http.MethodPost, "/api/customers/"+alice+"/cart/items", map[string]any{
		"product_id": "e2e-waffle", "quantity": 2,
	})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "350.00", amount(body["total"]))

	code, body = a.call(http.MethodPost, "/api/customers/"+alice+"/checkout", map[string]any{
		"coupon_code": "e2esave20",
	})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "PENDING_PAYMENT", body["status"])
	assert.Equal(t, "350.00", amount(body["subtotal"]))
	assert.Equal(t, "70.00", amount(body["discount"]))
	assert.Equal(t, "280.00", amount(body["total"]))
	orderID := body["id"].(string)

	_, inv := a.call(http.MethodGet, "/api/inventory/e2e-waffle", nil)
	assert.Equal(t, float64(2), inv["reserved"])

	_, cartBody := a.call(http.MethodGet, "/api/customers/"+alice+"/cart", nil)
	assert.Empty(t, cartBody["items"])

	code, body = a.call(http.MethodPost, "/api/orders/"+orderID+"/pay", map[string]any{"payment_id": "pay-e2e"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "PAID", body["status"])

	_, inv = a.call(http.MethodGet, "/api/inventory/e2e-waffle", nil)
	assert.Equal(t, float64(8), inv["stock"])
	assert.Equal(t, float64(0), inv["reserved"])

	_, ms := a.call(http.MethodGet, "/api/customers/"+alice+"/membership", nil)
	assert.Equal(t, "280.00", amount(ms["total_spending"]))

	code, _ = a.call(http.MethodPost, "/api/orders/"+orderID+"/pay", map[string]any{"payment_id": "again"})
	assert.Equal(t, http.StatusConflict, code)

	assert.Subset(t, a.events.Types(), []string{"CustomerRegistered", "CouponUsed", "OrderCreated", "OrderPaid"})
}

func TestCheckout_CompensatesOnRejectedCoupon(t *testing.T) {
	a := newAPI(t)
	seedProduct(t, a, "e2e-cake", "E2E-CAK", "450", 1)

	code, _ := a.call(http.MethodPost, "/api/coupons", map[string]any{
		"code":       "E2EONCE",
		"rule":       map[string]any{"type": "fixed_amount", "value": "100"},
		"expires_at": time.Now().Add(time.Hour),
		"max_uses":   1,
	})
	require.Equal(t, http.StatusCreated, code)

	bob := register(t, a, "bob.e2e@example.com")
	code, _ = a.call(http.MethodPost, "/api/customers/"+bob+"/cart/items", map[string]any{
		"product_id": "e2e-cake", "quantity": 2,
	})
	assert.Equal(t, http.StatusConflict, code, "only one cake in stock")

	code, _ = a.call(http.MethodPost, "/api/customers/"+bob+"/cart/items", map[string]any{
		"product_id": "e2e-cake", "quantity": 1,
	})
	require.Equal(t, http.StatusOK, code)

	code, body := a.call(http.MethodPost, "/api/customers/"+bob+"/checkout", map[string]any{"coupon_code": "NOSUCHCODE"})
	assert.Equal(t, http.StatusNotFound, code, body)

	_, inv := a.call(http.MethodGet, "/api/inventory/e2e-cake", nil)
	assert.Equal(t, float64(0), inv["reserved"], "reservation released after the coupon failed")

	_, cartBody := a.call(http.MethodGet, "/api/customers/"+bob+"/cart", nil)
	assert.Len(t, cartBody["items"], 1, "cart kept for a retry")

	code, body = a.call(http.MethodPost, "/api/customers/"+bob+"/checkout", map[string]any{"coupon_code": "E2EONCE"})
	require.Equal(t, http.StatusCreated, code, body)
	assert.Equal(t, "350.00", amount(body["total"]))

	code, body = a.call(http.MethodPost, "/api/orders/"+body["id"].(string)+"/cancel", map[string]any{"reason": "changed mind"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "CANCELLED", body["status"])
	assert.Equal(t, false, body["requires_refund"])

	_, inv = a.call(http.MethodGet, "/api/inventory/e2e-cake", nil)
	assert.Equal(t, float64(0), inv["reserved"])
	assert.Equal(t, float64(1), inv["available"])
}

func TestBrowseByCategory(t *testing.T) {
	a := newAPI(t)

	code, root := a.call(http.MethodPost, "/api/categories", map[string]any{"name": "E2E Pastry"})
	require.Equal(t, http.StatusCreated, code, root)
	rootID := root["id"].(string)

	code, child := a.call(http.MethodPost, "/api/categories", map[string]any{
		"name": "E2E Waffle", "parent_id": rootID, "display_order": 1,
	})
	require.Equal(t, http.StatusCreated, code, child)
	childID := child["id"].(string)

	code, _ = a.call(http.MethodPost, "/api/categories", map[string]any{"name": "Orphan", "parent_id": "no-such-category"})
	assert.Equal(t, http.StatusNotFound, code)

	seedProductIn(t, a, childID, "e2e-cat-waffle", "E2E-CATWAF", "175", 3)

	code, node := a.call(http.MethodGet, "/api/categories/"+rootID, nil)
	require.Equal(t, http.StatusOK, code, node)
	children := node["children"].([]any)
	require.Len(t, children, 1)
	assert.Equal(t, childID, children[0].(map[string]any)["id"])

	resp, err := a.srv.Client().Get(a.srv.URL + "/api/products?category=" + childID)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var products []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&products))
	require.Len(t, products, 1)
	assert.Equal(t, "e2e-cat-waffle", products[0]["id"])
	assert.Equal(t, childID, products[0]["category_id"])

	code, body := a.call(http.MethodGet, "/api/products?category=no-such-category", nil)
	assert.Equal(t, http.StatusNotFound, code, body)
}

func TestCouponGuard(t *testing.T) {
	a := newAPI(t)
	eve := register(t, a, "eve.e2e@example.com")
	guess := func(code string) int {
		status, _ := a.call(http.MethodPost, "/api/coupons/"+code+"/validate", map[string]any{
			"customer_id": eve, "order_total": "100",
		})
		return status
	}

	for _, code := range []string{"GUESS0001", "GUESS0002", "GUESS0003"} {
		require.Equal(t, http.StatusNotFound, guess(code))
	}
	assert.Equal(t, http.StatusTooManyRequests, guess("GUESS0004"))
}

func TestHealthEndpoints(t *testing.T) {
	a := newAPI(t)
	code, body := a.call(http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = a.call(http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestExpireUnpaidOrders(t *testing.T) {
	a := newAPI(t)
	seedProduct(t, a, "e2e-brownie", "E2E-BRW", "120", 5)
	carol := register(t, a, "carol.e2e@example.com")

	code, _ := a.call(http.MethodPost, "/api/customers/"+carol+"/cart/items", map[string]any{
		"product_id": "e2e-brownie", "quantity": 3,
	})
	require.Equal(t, http.StatusOK, code)
	code, body := a.call(http.MethodPost, "/api/customers/"+carol+"/checkout", nil)
	require.Equal(t, http.StatusCreated, code, body)
	orderID := body["id"].(string)

	n, err := a.st.orders.ExpireStale(context.Background(), -time.Minute)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	_, body = a.call(http.MethodGet, "/api/orders/"+orderID, nil)
	assert.Equal(t, "PAYMENT_EXPIRED", body["status"])

	_, inv := a.call(http.MethodGet, "/api/inventory/e2e-brownie", nil)
	assert.Equal(t, float64(0), inv["reserved"])
}
