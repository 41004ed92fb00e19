package engine

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dangkhuong14/dEx-application/internal/asset"
	"github.com/dangkhuong14/dEx-application/internal/event"
	"github.com/dangkhuong14/dEx-application/internal/ledger"
	"github.com/dangkhuong14/dEx-application/internal/observability"
	"github.com/dangkhuong14/dEx-application/internal/order"
)

// Output is everything a successful operation produced: the sequenced
// envelope, the audit record, and the ledger batch (nil for order
// lifecycle records, which touch no balances).
type Output struct {
	Envelope *event.Envelope
	Record   event.Record
	Batch    *ledger.Batch
}

// Config carries the construction-time parameters. FeeAccount and
// FeePercent are immutable for the lifetime of the engine.
type Config struct {
	// Custody is the exchange's own identity at the token contracts.
	Custody ledger.Account

	// FeeAccount collects trade fees inside the ledger.
	FeeAccount ledger.Account

	// FeePercent is an integer percentage applied to amountGet.
	FeePercent uint64

	StartSequence int64
	Clock         Clock
	Metrics       *observability.Metrics
}

// Engine serializes every exchange operation behind one lock. During
// the external token call windows of Deposit and Withdraw the lock is
// released but the busy flag stays set, so a token that re-enters a
// mutating operation gets ErrReentrantCall instead of observing
// intermediate state.
type Engine struct {
	mu   sync.RWMutex
	busy bool

	balances *ledger.Ledger
	orders   *order.Store
	registry *asset.Registry
	gen      *ledger.BatchGenerator
	hasher   *StateHasher

	custody    ledger.Account
	feeAccount ledger.Account
	feePercent uint64
	sequence   int64
	clock      Clock
	metrics    *observability.Metrics

	persistChan chan<- Output
	publishChan chan<- Output
}

func NewEngine(cfg Config, registry *asset.Registry, persistChan, publishChan chan<- Output) (*Engine, error) {
	if cfg.Custody == "" {
		return nil, fmt.Errorf("custody account required")
	}
	if cfg.FeeAccount == "" {
		return nil, fmt.Errorf("fee account required")
	}
	if cfg.FeePercent > 100 {
		return nil, fmt.Errorf("fee percent %d out of range", cfg.FeePercent)
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}

	balances := ledger.NewLedger()

	return &Engine{
		balances:    balances,
		orders:      order.NewStore(),
		registry:    registry,
		gen:         ledger.NewBatchGenerator(balances),
		hasher:      NewStateHasher(),
		custody:     cfg.Custody,
		feeAccount:  cfg.FeeAccount,
		feePercent:  cfg.FeePercent,
		sequence:    cfg.StartSequence,
		clock:       cfg.Clock,
		metrics:     cfg.Metrics,
		persistChan: persistChan,
		publishChan: publishChan,
	}, nil
}

// --- Reads ---

// BalanceOf returns the custodial balance for (asset, account).
func (e *Engine) BalanceOf(a ledger.Asset, acct ledger.Account) uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.balances.Balance(a, acct)
}

// Order returns an order with its lifecycle flags.
func (e *Engine) Order(id uint64) (order.Order, order.Status, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	o, err := e.orders.Get(id)
	if err != nil {
		return order.Order{}, order.Status{}, err
	}
	st, err := e.orders.Status(id)
	if err != nil {
		return order.Order{}, order.Status{}, err
	}
	return o, st, nil
}

// OrderCount returns how many orders have ever been created.
func (e *Engine) OrderCount() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orders.Count()
}

// OpenOrders returns all orders that are neither cancelled nor filled.
func (e *Engine) OpenOrders() []order.Order {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.orders.Open()
}

// FeeAccount returns the construction-time fee collector.
func (e *Engine) FeeAccount() ledger.Account {
	return e.feeAccount
}

// FeePercent returns the construction-time fee rate.
func (e *Engine) FeePercent() uint64 {
	return e.feePercent
}

// Custody returns the exchange's identity at the token contracts.
func (e *Engine) Custody() ledger.Account {
	return e.custody
}

// Sequence returns the next record sequence.
func (e *Engine) Sequence() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.sequence
}

// ChainTip returns the current state hash chain tip.
func (e *Engine) ChainTip() [32]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.hasher.ChainTip()
}

// VerifyCustody checks that the ledger's total for an asset matches the
// tokens actually held at the contract.
func (e *Engine) VerifyCustody(a ledger.Asset) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	token, err := e.registry.Lookup(a)
	if err != nil {
		return err
	}

	held := token.BalanceOf(e.custody)
	total := e.balances.AssetTotal(a)
	if held != total {
		return fmt.Errorf("custody mismatch for asset %q: ledger total %d, held %d", a, total, held)
	}
	return nil
}

// VerifyAllCustody checks every registered asset.
func (e *Engine) VerifyAllCustody() error {
	for _, a := range e.registry.Assets() {
		if err := e.VerifyCustody(a); err != nil {
			return err
		}
	}
	return nil
}

// --- Emission ---

// emit seals a record into the hash chain and hands it to the workers.
// Persist is a blocking send so no record is lost; publish drops on a
// full channel and downstream rebuilds from the log. Callers hold the
// write lock.
func (e *Engine) emit(rec event.Record, batch *ledger.Batch, timestamp int64) *event.Envelope {
	digest := e.computeStateDigest(batch)

	prev := e.hasher.ChainTip()
	hash := e.hasher.ComputeHash(e.sequence, digest)

	env := &event.Envelope{
		Sequence:  e.sequence,
		Kind:      rec.RecordKind(),
		RecordID:  rec.RecordID(),
		Timestamp: timestamp,
		StateHash: hash,
		PrevHash:  prev,
	}

	out := Output{Envelope: env, Record: rec, Batch: batch}

	if e.persistChan != nil {
		select {
		case e.persistChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- out
		}
	}

	if e.publishChan != nil {
		select {
		case e.publishChan <- out:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	e.sequence++
	if e.metrics != nil {
		e.metrics.EngineSequence.Set(float64(e.sequence))
		if batch != nil {
			for _, entry := range batch.Entries {
				e.metrics.EngineEntries.WithLabelValues(entry.Kind.String()).Inc()
			}
		}
	}

	return env
}

// computeStateDigest builds canonical bytes over the balances touched
// by a batch, sorted by account path. A nil batch digests to empty
// bytes; the hash chain still advances via sequence.
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	if batch == nil {
		return nil
	}

	type cell struct {
		asset ledger.Asset
		acct  ledger.Account
	}

	touched := make(map[cell]bool)
	for _, entry := range batch.Entries {
		touched[cell{asset: entry.Asset, acct: entry.Account}] = true
	}

	cells := make([]cell, 0, len(touched))
	for c := range touched {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].asset != cells[j].asset {
			return cells[i].asset < cells[j].asset
		}
		return cells[i].acct < cells[j].acct
	})

	digest := make([]byte, 0, len(cells)*64)
	for _, c := range cells {
		path := fmt.Sprintf("%s:%s", c.asset, c.acct)
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendUint64LE(digest, e.balances.Balance(c.asset, c.acct))
	}

	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (e *Engine) rejected(op, reason string) {
	if e.metrics != nil {
		e.metrics.EngineOpsRejected.WithLabelValues(op, reason).Inc()
	}
}

func (e *Engine) applied(op string) {
	if e.metrics != nil {
		e.metrics.EngineOpsApplied.WithLabelValues(op).Inc()
	}
}
