package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockcore/internal/core/apperror"
	"stockcore/internal/core/id"
	"stockcore/internal/core/types"
	"stockcore/internal/domain/audit"
	"stockcore/internal/domain/ledger"
	"stockcore/internal/domain/stock"
)

// Mock objects

type fakeTransferRepo struct {
	rows map[id.ID]Transfer
}

func newFakeTransferRepo() *fakeTransferRepo {
	return &fakeTransferRepo{rows: make(map[id.ID]Transfer)}
}

func (r *fakeTransferRepo) Create(_ context.Context, t Transfer) error {
	r.rows[t.ID] = t
	return nil
}

func (r *fakeTransferRepo) Get(_ context.Context, transferID id.ID) (Transfer, error) {
	t, ok := r.rows[transferID]
	if !ok {
		return Transfer{}, apperror.NewNotFound("transfer", transferID.String())
	}
	return t, nil
}

func (r *fakeTransferRepo) GetForUpdate(ctx context.Context, transferID id.ID) (Transfer, error) {
	return r.Get(ctx, transferID)
}

func (r *fakeTransferRepo) Update(_ context.Context, t Transfer) error {
	if _, ok := r.rows[t.ID]; !ok {
		return apperror.NewNotFound("transfer", t.ID.String())
	}
	r.rows[t.ID] = t
	return nil
}

func (r *fakeTransferRepo) List(_ context.Context, filter ListFilter) ([]Transfer, error) {
	var out []Transfer
	for _, t := range r.rows {
		if filter.ProductID != nil && t.ProductID != *filter.ProductID {
			continue
		}
		if filter.Status != nil && t.Status != *filter.Status {
			continue
		}
		out = append(out, t)
	}
	return out, nil
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

func (r *fakeBalanceRepo) GetOrCreateForUpdate(_ context.Context, productID, locationID id.ID) (stock.Balance, error) {
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

type capturingSink struct {
	records []audit.Record
}

func (s *capturingSink) Record(_ context.Context, rec audit.Record) error {
	s.records = append(s.records, rec)
	return nil
}

type transferFixture struct {
	svc      *Service
	balances *fakeBalanceRepo
	entries  *fakeLedgerRepo
	sink     *capturingSink
	product  id.ID
	source   id.ID
	dest     id.ID
}

func newTransferFixture(t *testing.T, sourceQty int64) *transferFixture {
	t.Helper()
	f := &transferFixture{
		balances: newFakeBalanceRepo(),
		entries:  &fakeLedgerRepo{},
		sink:     &capturingSink{},
		product:  id.New(),
		source:   id.New(),
		dest:     id.New(),
	}
	f.svc = NewService(newFakeTransferRepo(), f.balances, f.entries, fakeTxManager{}, f.sink)
	require.NoError(t, f.balances.Create(context.Background(), stock.Balance{
		ProductID:  f.product,
		LocationID: f.source,
		Quantity:   types.Quantity(sourceQty),
		Version:    1,
		Active:     true,
	}))
	return f
}

func (f *transferFixture) request(t *testing.T, qty int64) Transfer {
	t.Helper()
	tr, err := f.svc.Request(context.Background(), RequestInput{
		ProductID: f.product,
		SourceID:  f.source,
		DestID:    f.dest,
		Quantity:  types.Quantity(qty),
		Actor:     "clerk-1",
	})
	require.NoError(t, err)
	return tr
}

func (f *transferFixture) quantityAt(t *testing.T, locationID id.ID) types.Quantity {
	t.Helper()
	b, err := f.balances.Get(context.Background(), f.product, locationID)
	require.NoError(t, err)
	return b.Quantity
}

func TestRequest_Validation(t *testing.T) {
	f := newTransferFixture(t, 10)
	ctx := context.Background()

	_, err := f.svc.Request(ctx, RequestInput{SourceID: f.source, DestID: f.dest, Quantity: 1, Actor: "clerk-1"})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation), "product required")

	_, err = f.svc.Request(ctx, RequestInput{ProductID: f.product, SourceID: f.source, DestID: f.source, Quantity: 1, Actor: "clerk-1"})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation), "source must differ from destination")

	_, err = f.svc.Request(ctx, RequestInput{ProductID: f.product, SourceID: f.source, DestID: f.dest, Quantity: 0, Actor: "clerk-1"})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation), "quantity must be positive")

	_, err = f.svc.Request(ctx, RequestInput{ProductID: f.product, SourceID: f.source, DestID: f.dest, Quantity: 1})
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation), "actor required")
}

func TestShipReceive_ConservesQuantity(t *testing.T) {
	f := newTransferFixture(t, 10)
	ctx := context.Background()
	tr := f.request(t, 4)

	tr, err := f.svc.Ship(ctx, tr.ID, "warehouse-1")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, tr.Status)
	assert.Equal(t, types.Quantity(6), f.quantityAt(t, f.source))

	tr, err = f.svc.Receive(ctx, tr.ID, "store-1")
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, tr.Status)
	assert.Equal(t, types.Quantity(6), f.quantityAt(t, f.source))
	assert.Equal(t, types.Quantity(4), f.quantityAt(t, f.dest), "destination balance created on first receipt")

	// The pair of entries for one transfer always sums to zero.
	got, err := f.entries.EntriesByReference(ctx, ReferenceTypeTransfer, tr.ID)
	require.NoError(t, err)
	require.Len(t, got, 2)
	var sum types.Quantity
	for _, e := range got {
		sum += e.QuantityChange
	}
	assert.Equal(t, types.Quantity(0), sum)
	assert.Equal(t, ledger.KindTransferOut, got[0].Kind)
	assert.Equal(t, ledger.KindTransferIn, got[1].Kind)
}

func TestShip_InsufficientStock(t *testing.T) {
	f := newTransferFixture(t, 3)
	ctx := context.Background()
	tr := f.request(t, 5)

	_, err := f.svc.Ship(ctx, tr.ID, "warehouse-1")
	require.Error(t, err)
	assert.True(t, apperror.IsInsufficientStock(err))

	// No partial effect: still requested, balance and ledger untouched.
	got, err := f.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, got.Status)
	assert.Equal(t, types.Quantity(3), f.quantityAt(t, f.source))
	assert.Empty(t, f.entries.entries)
}

func TestShip_RejectedWhenSourceDeactivated(t *testing.T) {
	f := newTransferFixture(t, 8)
	ctx := context.Background()
	tr := f.request(t, 4)

	require.NoError(t, f.balances.SetActive(ctx, f.product, f.source, false))

	_, err := f.svc.Ship(ctx, tr.ID, "warehouse-1")
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeValidation))

	// Still requested, balance and ledger untouched.
	got, err := f.svc.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, got.Status)
	assert.Equal(t, types.Quantity(8), f.quantityAt(t, f.source))
	assert.Empty(t, f.entries.entries)
}

func TestTransfer_InvalidTransitions(t *testing.T) {
	f := newTransferFixture(t, 10)
	ctx := context.Background()
	tr := f.request(t, 2)

	// Receiving before shipping.
	_, err := f.svc.Receive(ctx, tr.ID, "store-1")
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidStateTransition))

	_, err = f.svc.Ship(ctx, tr.ID, "warehouse-1")
	require.NoError(t, err)

	// Shipping twice.
	_, err = f.svc.Ship(ctx, tr.ID, "warehouse-1")
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidStateTransition))
	assert.Equal(t, types.Quantity(8), f.quantityAt(t, f.source), "second ship must not move stock")

	// Canceling after shipping.
	_, err = f.svc.Cancel(ctx, tr.ID, "clerk-1")
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidStateTransition))
}

func TestCancel_FromRequested(t *testing.T) {
	f := newTransferFixture(t, 10)
	ctx := context.Background()
	tr := f.request(t, 2)

	tr, err := f.svc.Cancel(ctx, tr.ID, "clerk-1")
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, tr.Status)
	assert.Equal(t, "clerk-1", tr.CanceledBy)
	assert.Equal(t, types.Quantity(10), f.quantityAt(t, f.source))

	// A canceled transfer is terminal.
	_, err = f.svc.Ship(ctx, tr.ID, "warehouse-1")
	assert.True(t, apperror.IsCode(err, apperror.CodeInvalidStateTransition))
}

func TestShip_RecordsAudit(t *testing.T) {
	f := newTransferFixture(t, 10)
	ctx := context.Background()
	tr := f.request(t, 2)

	_, err := f.svc.Ship(ctx, tr.ID, "warehouse-1")
	require.NoError(t, err)

	require.Len(t, f.sink.records, 1)
	rec := f.sink.records[0]
	assert.Equal(t, "transfer.ship", rec.Operation)
	assert.Equal(t, audit.OutcomeSuccess, rec.Outcome)
	assert.Equal(t, tr.ID, rec.EntityID)
	assert.NotEmpty(t, rec.Payload)
}

func TestList_Filters(t *testing.T) {
	f := newTransferFixture(t, 10)
	ctx := context.Background()
	a := f.request(t, 1)
	b := f.request(t, 2)

	_, err := f.svc.Ship(ctx, a.ID, "warehouse-1")
	require.NoError(t, err)

	shipped := StatusShipped
	got, err := f.svc.List(ctx, ListFilter{Status: &shipped})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)

	got, err = f.svc.List(ctx, ListFilter{ProductID: &f.product})
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := []id.ID{got[0].ID, got[1].ID}
	assert.ElementsMatch(t, []id.ID{a.ID, b.ID}, ids)
}
