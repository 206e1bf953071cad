package checkout

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/perkforge/redemption/internal/domain/account"
	"github.com/perkforge/redemption/internal/domain/promo"
	"github.com/perkforge/redemption/internal/domain/redemption"
)

// --- In-memory collaborators ---

type memCatalog struct {
	byCode map[string]*promo.Code
}

func (m *memCatalog) FindByCode(_ context.Context, code string) (*promo.Code, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, promo.ErrCodeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memCatalog) IncrementUsage(_ context.Context, code string) (*promo.Code, error) {
	c, ok := m.byCode[code]
	if !ok {
		return nil, promo.ErrCodeNotFound
	}
	c.CurrentUsage++
	cp := *c
	return &cp, nil
}

func (m *memCatalog) Deactivate(_ context.Context, code string) error {
	if c, ok := m.byCode[code]; ok {
		c.Active = false
	}
	return nil
}

type memAccounts struct {
	flags map[string]*account.Flags
}

func (m *memAccounts) GetFlags(_ context.Context, id string) (*account.Flags, error) {
	f, ok := m.flags[id]
	if !ok {
		return nil, account.ErrNotFound
	}
	return f, nil
}

type memLedger struct {
	byTxID map[string]*redemption.Record
}

func (m *memLedger) FindByTransactionID(_ context.Context, txID string) (*redemption.Record, error) {
	rec, ok := m.byTxID[txID]
	if !ok {
		return nil, redemption.ErrRecordNotFound
	}
	return rec, nil
}

func (m *memLedger) UsesByCode(_ context.Context, code string) (int64, error) {
	var n int64
	for _, r := range m.byTxID {
		if r.Code == code {
			n++
		}
	}
	return n, nil
}

func (m *memLedger) UsesByAccount(_ context.Context, accountID string) (int64, error) {
	var n int64
	for _, r := range m.byTxID {
		if r.AccountID == accountID {
			n++
		}
	}
	return n, nil
}

type memStore struct {
	catalog   *memCatalog
	ledger    *memLedger
	accounts  *memAccounts
	commitErr error
}

func (m *memStore) Commit(_ context.Context, rec *redemption.Record) error {
	if m.commitErr != nil {
		return m.commitErr
	}
	snap := m.catalog.byCode[rec.Code]
	if snap == nil || !snap.Active {
		return redemption.ErrCodeUnavailable
	}
	if snap.MaxUsage > 0 && snap.CurrentUsage >= snap.MaxUsage {
		return redemption.ErrCodeExhausted
	}
	for _, r := range m.ledger.byTxID {
		if r.AccountID == rec.AccountID {
			return redemption.ErrAccountConflict
		}
	}
	snap.CurrentUsage++
	if snap.MaxUsage > 0 && snap.CurrentUsage >= snap.MaxUsage {
		snap.Active = false
	}
	m.ledger.byTxID[rec.TransactionID] = rec
	if f, ok := m.accounts.flags[rec.AccountID]; ok {
		f.DiscountRedeemed = true
	}
	return nil
}

type fixture struct {
	catalog  *memCatalog
	accounts *memAccounts
	ledger   *memLedger
	store    *memStore
	proc     *Processor
}

func newFixture(t *testing.T, codes map[string]*promo.Code, flags map[string]*account.Flags) *fixture {
	t.Helper()
	catalog := &memCatalog{byCode: codes}
	accounts := &memAccounts{flags: flags}
	ledger := &memLedger{byTxID: make(map[string]*redemption.Record)}
	store := &memStore{catalog: catalog, ledger: ledger, accounts: accounts}

	coord := redemption.NewCoordinator(promo.NewValidator(catalog), accounts, ledger, store)
	proc := NewProcessor(coord, zaptest.NewLogger(t))

	return &fixture{catalog: catalog, accounts: accounts, ledger: ledger, store: store, proc: proc}
}

func event(code string) *CompletedEvent {
	return &CompletedEvent{
		AccountID:      "acc-1",
		TransactionID:  "txn-1",
		AppliedCode:    code,
		OriginalAmount: 10000,
		DiscountAmount: 2000,
		FinalAmount:    8000,
	}
}

// --- Tests ---

func TestHandleCompleted_RecordsRedemption(t *testing.T) {
	f := newFixture(t,
		map[string]*promo.Code{"SAVE20": {Code: "SAVE20", Percentage: 20, Active: true, MaxUsage: 100, CurrentUsage: 10}},
		map[string]*account.Flags{"acc-1": {ID: "acc-1", Tier: account.TierFree}},
	)

	rec, err := f.proc.HandleCompleted(context.Background(), event("SAVE20"))
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, "SAVE20", rec.Code)
	assert.Equal(t, int64(2000), rec.DiscountAmount)
	assert.Equal(t, int64(8000), rec.FinalAmount)
	assert.True(t, f.accounts.flags["acc-1"].DiscountRedeemed)
	assert.Equal(t, int64(11), f.catalog.byCode["SAVE20"].CurrentUsage)
}

func TestHandleCompleted_NoCode(t *testing.T) {
	f := newFixture(t, nil, nil)

	rec, err := f.proc.HandleCompleted(context.Background(), event(""))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, f.ledger.byTxID)
}

func TestHandleCompleted_UnknownCodeDoesNotFail(t *testing.T) {
	f := newFixture(t,
		map[string]*promo.Code{},
		map[string]*account.Flags{"acc-1": {ID: "acc-1", Tier: account.TierFree}},
	)

	rec, err := f.proc.HandleCompleted(context.Background(), event("BOGUS"))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, f.ledger.byTxID)
}

func TestHandleCompleted_IneligibleAccountDoesNotFail(t *testing.T) {
	f := newFixture(t,
		map[string]*promo.Code{"SAVE20": {Code: "SAVE20", Percentage: 20, Active: true}},
		map[string]*account.Flags{"acc-1": {ID: "acc-1", DiscountRedeemed: true, Tier: account.TierFree}},
	)

	rec, err := f.proc.HandleCompleted(context.Background(), event("SAVE20"))
	require.NoError(t, err)
	assert.Nil(t, rec)
	assert.Empty(t, f.ledger.byTxID)
}

func TestHandleCompleted_LostRaceDoesNotFail(t *testing.T) {
	f := newFixture(t,
		map[string]*promo.Code{"SAVE20": {Code: "SAVE20", Percentage: 20, Active: true, MaxUsage: 100, CurrentUsage: 10}},
		map[string]*account.Flags{"acc-1": {ID: "acc-1", Tier: account.TierFree}},
	)
	f.store.commitErr = redemption.ErrCodeExhausted

	rec, err := f.proc.HandleCompleted(context.Background(), event("SAVE20"))
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestHandleCompleted_InfrastructureFailureSurfaces(t *testing.T) {
	f := newFixture(t,
		map[string]*promo.Code{"SAVE20": {Code: "SAVE20", Percentage: 20, Active: true}},
		map[string]*account.Flags{"acc-1": {ID: "acc-1", Tier: account.TierFree}},
	)
	f.store.commitErr = errors.New("connection refused")

	_, err := f.proc.HandleCompleted(context.Background(), event("SAVE20"))
	require.Error(t, err)
	assert.ErrorIs(t, err, f.store.commitErr)
}

func TestHandleCompleted_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t,
		map[string]*promo.Code{"SAVE20": {Code: "SAVE20", Percentage: 20, Active: true, MaxUsage: 100, CurrentUsage: 10}},
		map[string]*account.Flags{"acc-1": {ID: "acc-1", Tier: account.TierFree}},
	)

	first, err := f.proc.HandleCompleted(context.Background(), event("SAVE20"))
	require.NoError(t, err)

	second, err := f.proc.HandleCompleted(context.Background(), event("SAVE20"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.ledger.byTxID, 1)
	assert.Equal(t, int64(11), f.catalog.byCode["SAVE20"].CurrentUsage)
}

func TestDecodeCompletedEvent(t *testing.T) {
	payload := []byte(`{
		"account_id": "acc-1",
		"transaction_id": "txn-9",
		"applied_code": "save20",
		"original_amount": 10000,
		"discount_amount": 2000,
		"final_amount": 8000,
		"gateway_extra": {"nested": true}
	}`)

	ev, err := DecodeCompletedEvent(payload)
	require.NoError(t, err)

	assert.Equal(t, "acc-1", ev.AccountID)
	assert.Equal(t, "txn-9", ev.TransactionID)
	assert.Equal(t, "save20", ev.AppliedCode)
	assert.Equal(t, int64(10000), ev.OriginalAmount)
	assert.Equal(t, int64(2000), ev.DiscountAmount)
	assert.Equal(t, int64(8000), ev.FinalAmount)
}

func TestDecodeCompletedEvent_NullCode(t *testing.T) {
	payload := []byte(`{"account_id":"acc-1","transaction_id":"txn-9","applied_code":null,"original_amount":500,"discount_amount":0,"final_amount":500}`)

	ev, err := DecodeCompletedEvent(payload)
	require.NoError(t, err)
	assert.Empty(t, ev.AppliedCode)
}

func TestDecodeCompletedEvent_MissingIdentifiers(t *testing.T) {
	_, err := DecodeCompletedEvent([]byte(`{"transaction_id":"txn-9"}`))
	require.Error(t, err)

	_, err = DecodeCompletedEvent([]byte(`{"account_id":"acc-1"}`))
	require.Error(t, err)
}

func TestDecodeCompletedEvent_Malformed(t *testing.T) {
	_, err := DecodeCompletedEvent([]byte(`{"account_id":`))
	require.Error(t, err)
}
