package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/google/uuid"

	"github.com/koval-yurko/db-scales/pkg/pgexec"
)

// Kind is the class of write an operation performs
type Kind string

const (
	KindInsert Kind = "insert"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Weights is the insert/update/delete mix, in percent
var Weights = []struct {
	Kind   Kind
	Weight int
}{
	{KindInsert, 50},
	{KindUpdate, 40},
	{KindDelete, 10},
}

// errNoRows means a random pick found nothing to act on; the operation is
// counted as done without a write.
var errNoRows = errors.New("no rows to pick from")

var (
	signupSources = []string{"web", "mobile", "api"}
	categories    = []string{"Electronics", "Clothing", "Books", "Home", "Sports"}
	orderStatuses = []string{"processing", "shipped", "delivered"}
	firstNames    = []string{"Alice", "Bob", "Carol", "Dave", "Erin", "Frank", "Grace", "Heidi"}
	lastNames     = []string{"Smith", "Jones", "Garcia", "Miller", "Davis", "Lopez", "Clark", "Lewis"}
	nouns         = []string{"Widget", "Gadget", "Gizmo", "Doohickey", "Contraption"}
	adjectives    = []string{"Ergonomic", "Wireless", "Compact", "Premium", "Smart"}
)

// source is a goroutine-safe random source
type source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newSource(seed uint64) *source {
	return &source{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *source) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

func (s *source) between(lo, hi int) int { return lo + s.intN(hi-lo+1) }

func (s *source) price() float64 {
	cents := s.between(1000, 99999)
	return float64(cents) / 100
}

func pick[T any](s *source, xs []T) T { return xs[s.intN(len(xs))] }

func (s *source) kind() Kind {
	n := s.intN(100)
	for _, w := range Weights {
		if n < w.Weight {
			return w.Kind
		}
		n -= w.Weight
	}
	return KindInsert
}

func (s *source) fullName() string {
	return pick(s, firstNames) + " " + pick(s, lastNames)
}

// op is one concrete write routine
type op func(ctx context.Context, ex pgexec.QueryExecutor, rnd *source) error

func randomID(ctx context.Context, ex pgexec.QueryExecutor, query string) (int64, error) {
	row, err := pgexec.QueryRow(ctx, ex, query)
	if err != nil {
		return 0, err
	}
	id, err := row.Int64("id")
	if err != nil {
		return 0, err
	}
	if id == nil {
		return 0, errNoRows
	}
	return *id, nil
}

const (
	randomUserQuery    = "SELECT id FROM users WHERE is_active = TRUE ORDER BY RANDOM() LIMIT 1"
	randomProductQuery = "SELECT id FROM products ORDER BY RANDOM() LIMIT 1"
	randomOrderQuery   = "SELECT id FROM orders ORDER BY RANDOM() LIMIT 1"
)

func insertUser(ctx context.Context, ex pgexec.QueryExecutor, rnd *source) error {
	username := fmt.Sprintf("user_%s", uuid.NewString()[:13])
	metadata := fmt.Sprintf(`{"signup_source": %q}`, pick(rnd, signupSources))
	return pgexec.Exec(ctx, ex,
		"INSERT INTO users (username, email, full_name, metadata) VALUES ($1, $2, $3, $4::jsonb)",
		username, username+"@example.com", rnd.fullName(), metadata)
}

func insertProduct(ctx context.Context, ex pgexec.QueryExecutor, rnd *source) error {
	name := pick(rnd, adjectives) + " " + pick(rnd, nouns)
	return pgexec.Exec(ctx, ex,
		"INSERT INTO products (name, description, price, stock_quantity, category) VALUES ($1, $2, $3, $4, $5)",
		name, "Generated by the write load simulator", rnd.price(), rnd.between(0, 1000), pick(rnd, categories))
}

func insertOrder(ctx context.Context, ex pgexec.QueryExecutor, rnd *source) error {
	userID, err := randomID(ctx, ex, randomUserQuery)
	if err != nil {
		return err
	}

	row, err := pgexec.QueryRow(ctx, ex,
		"INSERT INTO orders (user_id, status, shipping_address, total_amount) VALUES ($1, $2, $3, 0) RETURNING id",
		userID, pick(rnd, []string{"pending", "processing"}), fmt.Sprintf("%d Main Street", rnd.between(1, 9999)))
	if err != nil {
		return err
	}
	orderID, err := row.Int64("id")
	if err != nil {
		return err
	}
	if orderID == nil {
		return errors.New("order insert returned no id")
	}

	total := 0.0
	for i := rnd.between(1, 3); i > 0; i-- {
		productID, err := randomID(ctx, ex, randomProductQuery)
		if errors.Is(err, errNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		qty, unit := rnd.between(1, 3), rnd.price()
		subtotal := math.Round(float64(qty)*unit*100) / 100
		total += subtotal
		if err := pgexec.Exec(ctx, ex,
			"INSERT INTO order_items (order_id, product_id, quantity, unit_price, subtotal) VALUES ($1, $2, $3, $4, $5)",
			*orderID, productID, qty, unit, subtotal); err != nil {
			return err
		}
	}

	return pgexec.Exec(ctx, ex, "UPDATE orders SET total_amount = $1 WHERE id = $2", total, *orderID)
}

func updateUser(ctx context.Context, ex pgexec.QueryExecutor, rnd *source) error {
	id, err := randomID(ctx, ex, randomUserQuery)
	if err != nil {
		return err
	}
	return pgexec.Exec(ctx, ex,
		"UPDATE users SET full_name = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2", rnd.fullName(), id)
}

func updateProduct(ctx context.Context, ex pgexec.QueryExecutor, rnd *source) error {
	id, err := randomID(ctx, ex, randomProductQuery)
	if err != nil {
		return err
	}
	return pgexec.Exec(ctx, ex,
		"UPDATE products SET stock_quantity = GREATEST(stock_quantity + $1, 0), updated_at = CURRENT_TIMESTAMP WHERE id = $2",
		rnd.between(-10, 50), id)
}

func updateOrderStatus(ctx context.Context, ex pgexec.QueryExecutor, rnd *source) error {
	id, err := randomID(ctx, ex, randomOrderQuery)
	if err != nil {
		return err
	}
	return pgexec.Exec(ctx, ex,
		"UPDATE orders SET status = $1 WHERE id = $2 AND status != 'cancelled'", pick(rnd, orderStatuses), id)
}

func softDeleteUser(ctx context.Context, ex pgexec.QueryExecutor, _ *source) error {
	return pgexec.Exec(ctx, ex, `
UPDATE users SET is_active = FALSE, updated_at = CURRENT_TIMESTAMP
WHERE id IN (SELECT id FROM users WHERE is_active = TRUE ORDER BY RANDOM() LIMIT 1)`)
}

func deleteOldAuditLogs(ctx context.Context, ex pgexec.QueryExecutor, _ *source) error {
	return pgexec.Exec(ctx, ex, "DELETE FROM audit_log WHERE changed_at < NOW() - INTERVAL '1 hour'")
}

var opsByKind = map[Kind][]op{
	KindInsert: {insertUser, insertProduct, insertOrder},
	KindUpdate: {updateUser, updateProduct, updateOrderStatus},
	KindDelete: {softDeleteUser, deleteOldAuditLogs},
}
