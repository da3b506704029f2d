// Package txn runs multi-step writes inside a MongoDB transaction when the
// deployment supports one, and sequentially otherwise.
//
// Transactions need a replica set or sharded cluster. A standalone mongod
// (common in development) rejects them; the first such rejection switches the
// Runner to sequential mode for the rest of the process lifetime.
package txn

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Mode tells a Func how its writes are being applied.
type Mode int

const (
	// Sequential writes are applied one by one with no rollback.
	Sequential Mode = iota
	// Transactional writes commit or abort together.
	Transactional
)

func (m Mode) String() string {
	if m == Transactional {
		return "transactional"
	}
	return "sequential"
}

// Func is the unit of work. ctx must be passed to every store call so the
// writes join the transaction.
type Func func(ctx context.Context, mode Mode) error

// Runner executes a Func.
type Runner interface {
	Do(ctx context.Context, fn Func) error
}

// Mongo is a Runner backed by client sessions.
type Mongo struct {
	client      *mongo.Client
	log         *zap.Logger
	unsupported atomic.Bool
}

// New returns a Runner for client. A nil client always runs sequentially.
func New(client *mongo.Client, logger *zap.Logger) *Mongo {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Mongo{client: client, log: logger}
	if client == nil {
		m.unsupported.Store(true)
	}
	return m
}

// Do runs fn in a transaction, or sequentially once the deployment has shown
// it cannot run transactions. Transient transaction errors are retried by the
// driver.
func (m *Mongo) Do(ctx context.Context, fn Func) error {
	if m.unsupported.Load() {
		return fn(ctx, Sequential)
	}

	sess, err := m.client.StartSession()
	if err != nil {
		if IsNotSupported(err) {
			return m.fallback(ctx, fn, err)
		}
		return err
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc, Transactional)
	})
	if err != nil && IsNotSupported(err) {
		return m.fallback(ctx, fn, err)
	}
	return err
}

func (m *Mongo) fallback(ctx context.Context, fn Func, cause error) error {
	if m.unsupported.CompareAndSwap(false, true) {
		m.log.Warn("transactions not supported by deployment; using sequential writes",
			zap.Error(cause))
	}
	return fn(ctx, Sequential)
}

// Sequence is a Runner that never opens a transaction.
type Sequence struct{}

// Do runs fn in Sequential mode.
func (Sequence) Do(ctx context.Context, fn Func) error { return fn(ctx, Sequential) }

// Server error codes returned by deployments that cannot run transactions.
// 20 is IllegalOperation, 263 is OperationNotSupportedInTransaction.
var notSupportedCodes = map[int32]struct{}{20: {}, 263: {}}

// standaloneMsg is what a standalone mongod says when handed a transaction.
const standaloneMsg = "transaction numbers are only allowed on a replica set member or mongos"

// IsNotSupported reports whether err means transactions are unavailable:
// one of the server codes above, or the standalone rejection for proxies
// that flatten errors to text.
func IsNotSupported(err error) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) {
		if _, ok := notSupportedCodes[ce.Code]; ok {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), standaloneMsg)
}
