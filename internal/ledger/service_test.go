package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/meridianpay/ledger-core/internal/assets"
	"github.com/meridianpay/ledger-core/pkg/db/models"
	"github.com/meridianpay/ledger-core/pkg/enums"
	pkgerrors "github.com/meridianpay/ledger-core/pkg/errors"
	"github.com/meridianpay/ledger-core/pkg/outbox"
)

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type capturedEmit struct {
	events []outbox.DomainEvent
	fail   error
}

func (c *capturedEmit) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	if c.fail != nil {
		return c.fail
	}
	c.events = append(c.events, event)
	return nil
}

func newLedgerTestService(t *testing.T, db *gorm.DB) (Service, *capturedEmit) {
	t.Helper()
	assetSvc, err := assets.NewService(assets.NewRepository(db))
	require.NoError(t, err)
	emitted := &capturedEmit{}
	svc, err := NewService(NewRepository(db), assetSvc, gormTxRunner{db: db}, emitted, nil)
	require.NoError(t, err)
	return svc, emitted
}

func depositInput(accountID uuid.UUID, key, asset, amount string) OperationInput {
	return OperationInput{
		IdempotencyKey: key,
		AccountID:      accountID,
		Asset:          asset,
		Amount:         decimal.RequireFromString(amount),
		ReferenceType:  "external_tx",
		ReferenceID:    "ref-" + key,
	}
}

func TestService_Deposit(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, emitted := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	result, err := svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "100.5"))
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.True(t, result.Balance.Available.Equal(decimal.RequireFromString("100.5")))
	require.True(t, result.Balance.Locked.IsZero())
	require.Equal(t, enums.LedgerEventTypeDeposit, result.Event.Type)
	require.True(t, result.Event.Delta.Equal(decimal.RequireFromString("100.5")))

	require.Len(t, emitted.events, 1)
	require.Equal(t, enums.EventDepositRecorded, emitted.events[0].EventType)
	require.Equal(t, enums.AggregateBalance, emitted.events[0].AggregateType)
}

func TestService_IdempotentReplay(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, emitted := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	first, err := svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "40"))
	require.NoError(t, err)
	require.False(t, first.Replayed)

	second, err := svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "40"))
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.Event.ID, second.Event.ID)
	require.True(t, second.Balance.Available.Equal(decimal.RequireFromString("40")))

	var count int64
	require.NoError(t, db.Model(&models.LedgerEvent{}).Count(&count).Error)
	require.Equal(t, int64(1), count)
	// Replay emits nothing downstream.
	require.Len(t, emitted.events, 1)
}

func TestService_ReplayIgnoresChangedParameters(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	first, err := svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "40"))
	require.NoError(t, err)

	// The key alone decides. A redelivery that mangled the amount or even the
	// operation still answers with the stored event and an untouched balance.
	second, err := svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "41"))
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, first.Event.ID, second.Event.ID)
	require.True(t, second.Event.Delta.Equal(decimal.RequireFromString("40")))

	third, err := svc.Withdraw(ctx, depositInput(accountID, "dep-1", "USDC", "40"))
	require.NoError(t, err)
	require.True(t, third.Replayed)
	require.Equal(t, first.Event.ID, third.Event.ID)
	require.True(t, third.Balance.Available.Equal(decimal.RequireFromString("40")))
}

func TestService_Preconditions(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "50"))
	require.NoError(t, err)

	_, err = svc.Lock(ctx, depositInput(accountID, "lock-big", "USDC", "50.00000001"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeLockExceedsAvailable))

	_, err = svc.Unlock(ctx, depositInput(accountID, "unlock-1", "USDC", "0.00000001"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnlockExceedsLocked))

	_, err = svc.Withdraw(ctx, depositInput(accountID, "wd-big", "USDC", "51"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientFunds))

	// Failed preconditions must leave no trace: no event rows, balance intact.
	var count int64
	require.NoError(t, db.Model(&models.LedgerEvent{}).Count(&count).Error)
	require.Equal(t, int64(1), count)

	balances, err := svc.GetBalances(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.True(t, balances[0].Available.Equal(decimal.RequireFromString("50")))
	require.True(t, balances[0].Locked.IsZero())
}

func TestService_ValidationErrors(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.Deposit(ctx, OperationInput{
		AccountID: accountID,
		Asset:     "USDC",
		Amount:    decimal.NewFromInt(1),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Deposit(ctx, OperationInput{
		IdempotencyKey: "dep-1",
		Asset:          "USDC",
		Amount:         decimal.NewFromInt(1),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Deposit(ctx, OperationInput{
		IdempotencyKey: "dep-1",
		AccountID:      accountID,
		Amount:         decimal.NewFromInt(1),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	for _, amount := range []string{"0", "-5"} {
		_, err = svc.Deposit(ctx, depositInput(accountID, "dep-bad-"+amount, "USDC", amount))
		require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
	}
}

// Mirrors the canonical precision walk: every step keeps eight fractional
// digits exact and conserves available+locked against the deposit/withdraw
// deltas.
func TestService_PrecisionScenario(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	steps := []struct {
		op        func(context.Context, OperationInput) (*OperationResult, error)
		key       string
		amount    string
		available string
		locked    string
	}{
		{svc.Deposit, "s1", "100.12345678", "100.12345678", "0"},
		{svc.Lock, "s2", "30.12345678", "70", "30.12345678"},
		{svc.Unlock, "s3", "10.00000001", "80.00000001", "20.12345677"},
		{svc.Withdraw, "s4", "5.00000001", "75", "20.12345677"},
	}

	for _, step := range steps {
		result, err := step.op(ctx, depositInput(accountID, step.key, "USDC", step.amount))
		require.NoError(t, err, "step %s", step.key)
		require.True(t, result.Balance.Available.Equal(decimal.RequireFromString(step.available)),
			"step %s available: got %s", step.key, result.Balance.Available)
		require.True(t, result.Balance.Locked.Equal(decimal.RequireFromString(step.locked)),
			"step %s locked: got %s", step.key, result.Balance.Locked)
	}

	// Conservation: available+locked equals the sum of deposit/withdraw deltas.
	var events []models.LedgerEvent
	require.NoError(t, db.Find(&events).Error)
	total := decimal.Zero
	for _, event := range events {
		if event.Type.MovesTotal() {
			total = total.Add(event.Delta)
		}
	}
	require.True(t, total.Equal(decimal.RequireFromString("95.12345677")))

	balances, err := svc.GetBalances(ctx, accountID)
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.True(t, balances[0].Available.Add(balances[0].Locked).Equal(total))
}

func TestService_LockUnlockNeutrality(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "100"))
	require.NoError(t, err)

	before, err := svc.GetBalances(ctx, accountID)
	require.NoError(t, err)
	total := before[0].Available.Add(before[0].Locked)

	_, err = svc.Lock(ctx, depositInput(accountID, "lock-1", "USDC", "33.3"))
	require.NoError(t, err)
	_, err = svc.Unlock(ctx, depositInput(accountID, "unlock-1", "USDC", "3.3"))
	require.NoError(t, err)
	// Replay a lock; the total must still not move.
	_, err = svc.Lock(ctx, depositInput(accountID, "lock-1", "USDC", "33.3"))
	require.NoError(t, err)

	after, err := svc.GetBalances(ctx, accountID)
	require.NoError(t, err)
	require.True(t, after[0].Available.Add(after[0].Locked).Equal(total))
	require.True(t, after[0].Locked.Equal(decimal.RequireFromString("30")))
}

func TestService_CompetingLocksOneWins(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	_, err := svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "60"))
	require.NoError(t, err)

	// Two locks whose sum exceeds available: exactly one succeeds regardless
	// of arrival order, and locked ends at the winner's amount.
	first, firstErr := svc.Lock(ctx, depositInput(accountID, "lock-a", "USDC", "40"))
	_, secondErr := svc.Lock(ctx, depositInput(accountID, "lock-b", "USDC", "40"))

	require.NoError(t, firstErr)
	require.True(t, pkgerrors.IsCode(secondErr, pkgerrors.CodeLockExceedsAvailable))
	require.True(t, first.Balance.Locked.Equal(decimal.RequireFromString("40")))

	balances, err := svc.GetBalances(ctx, accountID)
	require.NoError(t, err)
	require.True(t, balances[0].Locked.Equal(decimal.RequireFromString("40")))
	require.True(t, balances[0].Available.Equal(decimal.RequireFromString("20")))
}

func TestService_ListEvents(t *testing.T) {
	db := setupLedgerTestDB(t)
	svc, _ := newLedgerTestService(t, db)
	ctx := context.Background()
	accountID := uuid.New()

	for i := 0; i < 4; i++ {
		_, err := svc.Deposit(ctx, depositInput(accountID, fmt.Sprintf("dep-%d", i), "USDC", "10"))
		require.NoError(t, err)
	}

	page, err := svc.ListEvents(ctx, ListEventsInput{AccountID: accountID, Limit: 3})
	require.NoError(t, err)
	require.Len(t, page.Events, 3)
	require.NotEmpty(t, page.NextCursor)

	rest, err := svc.ListEvents(ctx, ListEventsInput{AccountID: accountID, Limit: 3, Cursor: page.NextCursor})
	require.NoError(t, err)
	require.Len(t, rest.Events, 1)
	require.Empty(t, rest.NextCursor)
}

func TestService_OutboxFailureAbortsOperation(t *testing.T) {
	db := setupLedgerTestDB(t)
	assetSvc, err := assets.NewService(assets.NewRepository(db))
	require.NoError(t, err)
	emitted := &capturedEmit{fail: errors.New("outbox unavailable")}
	svc, err := NewService(NewRepository(db), assetSvc, gormTxRunner{db: db}, emitted, nil)
	require.NoError(t, err)
	ctx := context.Background()
	accountID := uuid.New()

	_, err = svc.Deposit(ctx, depositInput(accountID, "dep-1", "USDC", "10"))
	require.Error(t, err)

	// The rolled-back transaction must leave no event behind.
	var count int64
	require.NoError(t, db.Model(&models.LedgerEvent{}).Count(&count).Error)
	require.Equal(t, int64(0), count)
}

type raceRepo struct {
	Repository
	committed  *models.LedgerEvent
	balance    *models.Balance
	raceArmed  bool
	findCalls  int
	eventSeen  bool
}

func (r *raceRepo) WithTx(tx *gorm.DB) Repository {
	return r
}

func (r *raceRepo) FindEventByIdempotencyKey(ctx context.Context, key string) (*models.LedgerEvent, error) {
	r.findCalls++
	if r.eventSeen {
		return r.committed, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *raceRepo) FindBalance(ctx context.Context, accountID uuid.UUID, assetID int64) (*models.Balance, error) {
	return r.balance, nil
}

func (r *raceRepo) FindBalanceForUpdate(ctx context.Context, accountID uuid.UUID, assetID int64) (*models.Balance, error) {
	copied := *r.balance
	return &copied, nil
}

func (r *raceRepo) SaveBalance(ctx context.Context, balance *models.Balance) error {
	return nil
}

func (r *raceRepo) CreateEvent(ctx context.Context, event *models.LedgerEvent) error {
	if r.raceArmed {
		// The concurrent writer committed between our check and our append.
		r.eventSeen = true
		return fmt.Errorf("duplicate key value violates unique constraint %q", models.UniqueLedgerEventIdempotencyKey)
	}
	return nil
}

type staticAssetService struct {
	asset models.Asset
}

func (s staticAssetService) GetOrCreate(ctx context.Context, tx *gorm.DB, name string) (*models.Asset, error) {
	copied := s.asset
	return &copied, nil
}

func (s staticAssetService) GetByID(ctx context.Context, id int64) (*models.Asset, error) {
	copied := s.asset
	return &copied, nil
}

func (s staticAssetService) List(ctx context.Context) ([]models.Asset, error) {
	return []models.Asset{s.asset}, nil
}

type passthroughTxRunner struct{}

func (passthroughTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(&gorm.DB{})
}

// The check-before-lock race: both first-deliveries pass the idempotency
// check, the loser's append hits the unique constraint and must resolve to a
// replay rather than an error.
func TestService_AppendRaceResolvesToReplay(t *testing.T) {
	accountID := uuid.New()
	amount := decimal.RequireFromString("25")
	committed := &models.LedgerEvent{
		ID:             uuid.New(),
		IdempotencyKey: "dep-1",
		AccountID:      accountID,
		AssetID:        1,
		Delta:          amount,
		Type:           enums.LedgerEventTypeDeposit,
	}
	repo := &raceRepo{
		committed: committed,
		balance: &models.Balance{
			ID:        uuid.New(),
			AccountID: accountID,
			AssetID:   1,
			Available: amount,
			Locked:    decimal.Zero,
		},
		raceArmed: true,
	}

	svc, err := NewService(repo, staticAssetService{asset: models.Asset{ID: 1, Name: "USDC"}}, passthroughTxRunner{}, &capturedEmit{}, nil)
	require.NoError(t, err)

	result, err := svc.Deposit(context.Background(), depositInput(accountID, "dep-1", "USDC", "25"))
	require.NoError(t, err)
	require.True(t, result.Replayed)
	require.Equal(t, committed.ID, result.Event.ID)
	require.True(t, result.Balance.Available.Equal(amount))
}
