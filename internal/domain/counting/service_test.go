package counting

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/ledger"
	"stockcore/internal/domain/stock"
)

// Mock objects

type fakeCountRepo struct {
	mu     sync.Mutex
	counts map[id.ID]Count
	items  map[id.ID]Item

	itemLocks map[id.ID]*sync.Mutex
	// listGate, when set, is invoked inside ListItems so tests can
	// hold several callers at the same point.
	listGate func()
}

func newFakeCountRepo() *fakeCountRepo {
	return &fakeCountRepo{
		counts:    make(map[id.ID]Count),
		items:     make(map[id.ID]Item),
		itemLocks: make(map[id.ID]*sync.Mutex),
	}
}

func (r *fakeCountRepo) Create(_ context.Context, c Count) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[c.ID] = c
	return nil
}

func (r *fakeCountRepo) Get(_ context.Context, countID id.ID) (Count, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.counts[countID]
	if !ok {
		return Count{}, apperror.NewNotFound("cycle count", countID.String())
	}
	return c, nil
}

func (r *fakeCountRepo) GetForUpdate(ctx context.Context, countID id.ID) (Count, error) {
	return r.Get(ctx, countID)
}

func (r *fakeCountRepo) Update(_ context.Context, c Count) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.counts[c.ID]; !ok {
		return apperror.NewNotFound("cycle count", c.ID.String())
	}
	r.counts[c.ID] = c
	return nil
}

func (r *fakeCountRepo) CreateItems(_ context.Context, items []Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.items[item.ID] = item
	}
	return nil
}

func (r *fakeCountRepo) GetItem(_ context.Context, itemID id.ID) (Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[itemID]
	if !ok {
		return Item{}, apperror.NewNotFound("count item", itemID.String())
	}
	return item, nil
}

// GetItemForUpdate emulates FOR UPDATE: when the context carries a
// transaction lock set, the per-item mutex is held until that
// transaction ends.
func (r *fakeCountRepo) GetItemForUpdate(ctx context.Context, itemID id.ID) (Item, error) {
	if held := heldLocks(ctx); held != nil {
		r.mu.Lock()
		lk, ok := r.itemLocks[itemID]
		if !ok {
			lk = &sync.Mutex{}
			r.itemLocks[itemID] = lk
		}
		r.mu.Unlock()
		lk.Lock()
		held.add(lk.Unlock)
	}
	return r.GetItem(ctx, itemID)
}

func (r *fakeCountRepo) ListItems(_ context.Context, countID id.ID) ([]Item, error) {
	r.mu.Lock()
	var out []Item
	for _, item := range r.items {
		if item.CountID == countID {
			out = append(out, item)
		}
	}
	gate := r.listGate
	r.mu.Unlock()
	if gate != nil {
		gate()
	}
	return out, nil
}

func (r *fakeCountRepo) UpdateItem(_ context.Context, item Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[item.ID]; !ok {
		return apperror.NewNotFound("count item", item.ID.String())
	}
	r.items[item.ID] = item
	return nil
}

// lockSet collects row locks taken during one emulated transaction so
// they release when it ends, like real locks do on commit or rollback.
type lockSet struct {
	mu       sync.Mutex
	releases []func()
}

func (s *lockSet) add(release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releases = append(s.releases, release)
}

func (s *lockSet) releaseAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.releases) - 1; i >= 0; i-- {
		s.releases[i]()
	}
	s.releases = nil
}

type lockSetKey struct{}

func heldLocks(ctx context.Context) *lockSet {
	if s, ok := ctx.Value(lockSetKey{}).(*lockSet); ok {
		return s
	}
	return nil
}

// lockingTxManager runs callbacks directly but scopes row locks taken
// by the fake repos to the callback's lifetime.
type lockingTxManager struct{}

func (lockingTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if heldLocks(ctx) != nil {
		return fn(ctx)
	}
	locks := &lockSet{}
	defer locks.releaseAll()
	return fn(context.WithValue(ctx, lockSetKey{}, locks))
}

func (lockingTxManager) WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type balanceKey struct {
	product  id.ID
	location id.ID
}

type fakeBalanceRepo struct {
	rows map[balanceKey]stock.Balance
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{rows: make(map[balanceKey]stock.Balance)}
}

func (r *fakeBalanceRepo) key(productID, locationID id.ID) balanceKey {
	return balanceKey{product: productID, location: locationID}
}

func (r *fakeBalanceRepo) Create(_ context.Context, b stock.Balance) error {
	k := r.key(b.ProductID, b.LocationID)
	if _, ok := r.rows[k]; ok {
		return apperror.NewConflict("balance already exists")
	}
	r.rows[k] = b
	return nil
}

func (r *fakeBalanceRepo) Get(_ context.Context, productID, locationID id.ID) (stock.Balance, error) {
	b, ok := r.rows[r.key(productID, locationID)]
	if !ok {
		return stock.Balance{}, apperror.NewNotFound("balance", productID.String())
	}
	return b, nil
}

func (r *fakeBalanceRepo) GetForUpdate(ctx context.Context, productID, locationID id.ID) (stock.Balance, error) {
	return r.Get(ctx, productID, locationID)
}

func (r *fakeBalanceRepo) GetOrCreateForUpdate(ctx context.Context, productID, locationID id.ID) (stock.Balance, error) {
	k := r.key(productID, locationID)
	if _, ok := r.rows[k]; !ok {
		r.rows[k] = stock.Balance{
			ProductID:  productID,
			LocationID: locationID,
			Version:    1,
			Active:     true,
			UpdatedAt:  time.Now().UTC(),
		}
	}
	return r.rows[k], nil
}

func (r *fakeBalanceRepo) UpdateCAS(_ context.Context, b stock.Balance, newQuantity types.Quantity, note string) error {
	k := r.key(b.ProductID, b.LocationID)
	cur, ok := r.rows[k]
	if !ok || cur.Version != b.Version {
		return apperror.NewConcurrentModification("balance", b.ProductID.String())
	}
	cur.Quantity = newQuantity
	cur.Version++
	cur.LastMovement = note
	cur.UpdatedAt = time.Now().UTC()
	r.rows[k] = cur
	return nil
}

func (r *fakeBalanceRepo) ListActive(_ context.Context, locationID *id.ID) ([]stock.Balance, error) {
	var out []stock.Balance
	for _, b := range r.rows {
		if !b.Active {
			continue
		}
		if locationID != nil && b.LocationID != *locationID {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *fakeBalanceRepo) ListByProduct(_ context.Context, productID id.ID) ([]stock.Balance, error) {
	var out []stock.Balance
	for _, b := range r.rows {
		if b.ProductID == productID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (r *fakeBalanceRepo) SetActive(_ context.Context, productID, locationID id.ID, active bool) error {
	k := r.key(productID, locationID)
	b, ok := r.rows[k]
	if !ok {
		return apperror.NewNotFound("balance", productID.String())
	}
	b.Active = active
	r.rows[k] = b
	return nil
}

type fakeLedgerRepo struct {
	entries []ledger.Entry
}

func (r *fakeLedgerRepo) Append(_ context.Context, entry ledger.Entry) error {
	r.entries = append(r.entries, entry)
	return nil
}

func (r *fakeLedgerRepo) AppendBatch(ctx context.Context, entries []ledger.Entry) error {
	for _, e := range entries {
		if err := r.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeLedgerRepo) Sum(_ context.Context, productID, locationID id.ID) (types.Quantity, error) {
	var sum types.Quantity
	for _, e := range r.entries {
		if e.ProductID == productID && e.LocationID == locationID {
			sum += e.QuantityChange
		}
	}
	return sum, nil
}

func (r *fakeLedgerRepo) History(_ context.Context, productID id.ID, _ ledger.HistoryFilter) ([]ledger.Entry, int64, error) {
	var out []ledger.Entry
	for _, e := range r.entries {
		if e.ProductID == productID {
			out = append(out, e)
		}
	}
	return out, int64(len(out)), nil
}

func (r *fakeLedgerRepo) EntriesByReference(_ context.Context, refType string, refID id.ID) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for _, e := range r.entries {
		if e.ReferenceType != nil && *e.ReferenceType == refType &&
			e.ReferenceID != nil && *e.ReferenceID == refID {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeTxManager struct{}

func (fakeTxManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (fakeTxManager) WithSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// stockFixture wires a real stock service over in-memory repos so count
// adjustments exercise the same movement path production uses.
type stockFixture struct {
	svc     *stock.Service
	entries *fakeLedgerRepo
}

func newStockFixture() *stockFixture {
	entries := &fakeLedgerRepo{}
	return &stockFixture{
		svc:     stock.NewService(newFakeBalanceRepo(), entries, fakeTxManager{}, nil),
		entries: entries,
	}
}

func (f *stockFixture) seed(t *testing.T, qty int64) id.ID {
	t.Helper()
	productID := id.New()
	_, err := f.svc.RegisterProduct(context.Background(), productID, id.Nil())
	require.NoError(t, err)
	if qty > 0 {
		_, err = f.svc.ApplyMovement(context.Background(), stock.ApplyMovementRequest{
			ProductID: productID,
			Kind:      stock.MovementIn,
			Quantity:  types.Quantity(qty),
			Actor:     "seed",
		})
		require.NoError(t, err)
	}
	return productID
}

func newTestCountService() (*Service, *stockFixture) {
	stocks := newStockFixture()
	svc := NewService(newFakeCountRepo(), stocks.svc, fakeTxManager{})
	return svc, stocks
}

func createStarted(t *testing.T, svc *Service) Count {
	t.Helper()
	c, err := svc.Create(context.Background(), CreateRequest{
		Kind:         KindGeneral,
		TolerancePct: 5,
		CreatedBy:    "auditor",
	})
	require.NoError(t, err)
	c, err = svc.Start(context.Background(), c.ID)
	require.NoError(t, err)
	return c
}

func TestCountLifecycle(t *testing.T) {
	svc, _ := newTestCountService()
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateRequest{Kind: KindCyclic, CreatedBy: "auditor"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, c.Status)

	c, err = svc.Start(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, c.Status)
	require.NotNil(t, c.StartedAt)

	// Starting twice is an invalid transition.
	_, err = svc.Start(ctx, c.ID)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidStateTransition))

	report, err := svc.Complete(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Count.Status)

	// A completed count cannot be canceled.
	_, err = svc.Cancel(ctx, c.ID)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidStateTransition))
}

func TestCreate_Validation(t *testing.T) {
	svc, _ := newTestCountService()

	_, err := svc.Create(context.Background(), CreateRequest{Kind: "weekly", CreatedBy: "x"})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	_, err = svc.Create(context.Background(), CreateRequest{Kind: KindCyclic, TolerancePct: 120, CreatedBy: "x"})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	_, err = svc.Create(context.Background(), CreateRequest{Kind: KindCyclic})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestPreload_SnapshotsActiveBalances(t *testing.T) {
	svc, stocks := newTestCountService()
	ctx := context.Background()
	stocks.seed(t, 10)
	stocks.seed(t, 3)

	c := createStarted(t, svc)
	created, err := svc.Preload(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	_, items, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.Equal(t, types.Quantity(0), item.CountedQty)
		assert.Equal(t, types.Quantity(0), item.Difference)
		assert.False(t, item.Resolved)
	}

	// A second preload would shadow the first snapshot.
	_, err = svc.Preload(ctx, c.ID)
	assert.True(t, apperror.IsCode(err, apperror.CodeConflict))
}

func TestPreload_RequiresInProgress(t *testing.T) {
	svc, _ := newTestCountService()
	c, err := svc.Create(context.Background(), CreateRequest{Kind: KindGeneral, CreatedBy: "auditor"})
	require.NoError(t, err)

	_, err = svc.Preload(context.Background(), c.ID)
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidStateTransition))
}

func TestSetItemCount_RecomputesDifference(t *testing.T) {
	svc, stocks := newTestCountService()
	ctx := context.Background()
	stocks.seed(t, 10)

	c := createStarted(t, svc)
	_, err := svc.Preload(ctx, c.ID)
	require.NoError(t, err)
	_, items, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	item := items[0]

	updated, err := svc.SetItemCount(ctx, c.ID, item.ID, 12, "found extra")
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(12), updated.CountedQty)
	assert.Equal(t, types.Quantity(2), updated.Difference)

	// Counts can be corrected any number of times before adjustments.
	updated, err = svc.SetItemCount(ctx, c.ID, item.ID, 9, "recounted")
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(-1), updated.Difference)

	_, err = svc.SetItemCount(ctx, c.ID, item.ID, -1, "")
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))
}

func TestApplyAdjustments(t *testing.T) {
	svc, stocks := newTestCountService()
	ctx := context.Background()
	productID := stocks.seed(t, 10)

	c := createStarted(t, svc)
	_, err := svc.Preload(ctx, c.ID)
	require.NoError(t, err)
	_, items, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	item := items[0]

	// Expected 10, counted 12: exactly one +2 adjustment entry.
	_, err = svc.SetItemCount(ctx, c.ID, item.ID, 12, "found extra")
	require.NoError(t, err)

	result, err := svc.ApplyAdjustments(ctx, c.ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 1, result.AppliedCount)
	assert.Empty(t, result.Errors)

	bal, err := stocks.svc.GetBalance(ctx, productID, id.Nil())
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(12), bal.Quantity)

	got, err := stocks.entries.EntriesByReference(ctx, ReferenceTypeCycleCount, c.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, ledger.KindAdjustment, got[0].Kind)
	assert.Equal(t, types.Quantity(2), got[0].QuantityChange)

	// Applying again resolves nothing new.
	result, err = svc.ApplyAdjustments(ctx, c.ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 0, result.AppliedCount)
}

func TestApplyAdjustments_ItemFailureReported(t *testing.T) {
	svc, stocks := newTestCountService()
	ctx := context.Background()
	okProduct := stocks.seed(t, 10)
	badProduct := stocks.seed(t, 1)

	c := createStarted(t, svc)
	_, err := svc.Preload(ctx, c.ID)
	require.NoError(t, err)
	_, items, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)

	for _, item := range items {
		switch item.ProductID {
		case okProduct:
			_, err = svc.SetItemCount(ctx, c.ID, item.ID, 8, "missing two")
			require.NoError(t, err)
		case badProduct:
			// The difference would drive the balance to -2 once stock
			// moves after the snapshot.
			_, err = svc.SetItemCount(ctx, c.ID, item.ID, 0, "gone")
			require.NoError(t, err)
			_, err = stocks.svc.ApplyMovement(ctx, stock.ApplyMovementRequest{
				ProductID: badProduct,
				Kind:      stock.MovementOut,
				Quantity:  1,
				Actor:     "cashier",
			})
			require.NoError(t, err)
		}
	}

	result, err := svc.ApplyAdjustments(ctx, c.ID, "auditor")
	require.NoError(t, err)
	assert.Equal(t, 1, result.AppliedCount)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, badProduct, result.Errors[0].ProductID)
	assert.Equal(t, apperror.CodeInsufficientStock, result.Errors[0].Code)

	bal, err := stocks.svc.GetBalance(ctx, okProduct, id.Nil())
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(8), bal.Quantity, "other items still apply")
}

func TestApplyAdjustments_ConcurrentCallersApplyOnce(t *testing.T) {
	counts := newFakeCountRepo()
	stocks := newStockFixture()
	svc := NewService(counts, stocks.svc, lockingTxManager{})
	ctx := context.Background()
	productID := stocks.seed(t, 10)

	c := createStarted(t, svc)
	_, err := svc.Preload(ctx, c.ID)
	require.NoError(t, err)
	_, items, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	_, err = svc.SetItemCount(ctx, c.ID, items[0].ID, 12, "found extra")
	require.NoError(t, err)

	// Hold both callers until each has listed the still unresolved
	// item, so they race into the per-item transaction together.
	var gate sync.WaitGroup
	gate.Add(2)
	counts.listGate = func() {
		gate.Done()
		gate.Wait()
	}

	results := make([]*ApplyResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.ApplyAdjustments(ctx, c.ID, "auditor")
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	// The loser of the item lock sees resolved = true and skips:
	// exactly one adjustment entry, balance corrected once.
	got, err := stocks.entries.EntriesByReference(ctx, ReferenceTypeCycleCount, c.ID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.Quantity(2), got[0].QuantityChange)

	bal, err := stocks.svc.GetBalance(ctx, productID, id.Nil())
	require.NoError(t, err)
	assert.Equal(t, types.Quantity(12), bal.Quantity)
	assert.Equal(t, 1, results[0].AppliedCount+results[1].AppliedCount)
	assert.Equal(t, 1, results[0].SkippedCount+results[1].SkippedCount)
}

func TestComplete_ReportsAnomalies(t *testing.T) {
	svc, stocks := newTestCountService()
	ctx := context.Background()
	stocks.seed(t, 100)

	c := createStarted(t, svc)
	_, err := svc.Preload(ctx, c.ID)
	require.NoError(t, err)
	_, items, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)

	// Counted but never applied: completion reports it, not errors.
	_, err = svc.SetItemCount(ctx, c.ID, items[0].ID, 90, "shelf empty")
	require.NoError(t, err)

	report, err := svc.Complete(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, report.Count.Status)
	require.Len(t, report.Anomalies, 1)
	assert.Equal(t, int64(-10), report.Anomalies[0].Difference)
	assert.InDelta(t, 10.0, report.Anomalies[0].DeviationPct, 0.001)
	assert.True(t, report.Anomalies[0].OverTolerant, "10% deviation exceeds 5% tolerance")
}

func TestSetItemCount_RejectedAfterCompletion(t *testing.T) {
	svc, stocks := newTestCountService()
	ctx := context.Background()
	stocks.seed(t, 5)

	c := createStarted(t, svc)
	_, err := svc.Preload(ctx, c.ID)
	require.NoError(t, err)
	_, items, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, c.ID)
	require.NoError(t, err)

	_, err = svc.SetItemCount(ctx, c.ID, items[0].ID, 4, "")
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidStateTransition))
}
