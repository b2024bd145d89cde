package bridge

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"starbridge/storage"
)

var (
	// ErrOrderExists signals that a settlement for the order id was already
	// recorded. The caller must reject the event before any custody action.
	ErrOrderExists = errors.New("bridge: order already exists")

	errNilLedgerStore = errors.New("bridge: ledger store not configured")
)

var (
	orderRecordPrefix = []byte("bridge/order/")
	orderCounterKey   = []byte("bridge/counter")
)

// OrderLedger is the consumed-order set guarding every inbound settlement
// path, plus the persistent counter feeding outbound order id derivation.
// Check-and-set is indivisible with respect to concurrent callers.
type OrderLedger struct {
	mu sync.Mutex
	db storage.Database
}

// NewOrderLedger constructs a ledger bound to the provided storage backend.
func NewOrderLedger(db storage.Database) *OrderLedger {
	return &OrderLedger{db: db}
}

// TryConsume atomically flags the order id as settled. It returns
// ErrOrderExists when the id was consumed before; consumed ids are never
// cleared.
func (l *OrderLedger) TryConsume(id OrderID) error {
	if l == nil || l.db == nil {
		return errNilLedgerStore
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	key := orderKey(id)
	ok, err := l.db.Has(key)
	if err != nil {
		return err
	}
	if ok {
		return ErrOrderExists
	}
	return l.db.Put(key, []byte{1})
}

// Consumed reports whether the order id has been settled.
func (l *OrderLedger) Consumed(id OrderID) (bool, error) {
	if l == nil || l.db == nil {
		return false, errNilLedgerStore
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.db.Has(orderKey(id))
}

// NextCounter increments and returns the outbound intent counter. The counter
// is monotonic across restarts and never reused.
func (l *OrderLedger) NextCounter() (uint64, error) {
	if l == nil || l.db == nil {
		return 0, errNilLedgerStore
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	var current uint64
	raw, err := l.db.Get(orderCounterKey)
	switch {
	case err == nil:
		if len(raw) != 8 {
			return 0, fmt.Errorf("bridge: corrupt counter record")
		}
		current = binary.BigEndian.Uint64(raw)
	case errors.Is(err, storage.ErrNotFound):
		current = 0
	default:
		return 0, err
	}
	next := current + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := l.db.Put(orderCounterKey, buf); err != nil {
		return 0, err
	}
	return next, nil
}

func orderKey(id OrderID) []byte {
	encoded := hex.EncodeToString(id[:])
	buf := make([]byte, len(orderRecordPrefix)+len(encoded))
	copy(buf, orderRecordPrefix)
	copy(buf[len(orderRecordPrefix):], encoded)
	return buf
}
