package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/meridianpay/ledger-core/internal/assets"
	dbpkg "github.com/meridianpay/ledger-core/pkg/db"
	"github.com/meridianpay/ledger-core/pkg/db/models"
	"github.com/meridianpay/ledger-core/pkg/enums"
	pkgerrors "github.com/meridianpay/ledger-core/pkg/errors"
	"github.com/meridianpay/ledger-core/pkg/metrics"
	"github.com/meridianpay/ledger-core/pkg/outbox"
	"github.com/meridianpay/ledger-core/pkg/outbox/payloads"
	"github.com/meridianpay/ledger-core/pkg/pagination"
)

const maxIdempotencyKeyLen = 120

// errReplayRace aborts the current transaction when another writer committed
// the same idempotency key between our check and our append.
var errReplayRace = errors.New("idempotency key committed by concurrent writer")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines the four money-movement operations plus read surfaces.
// Each mutating call is one transaction: idempotency check, locked balance
// read, precondition check, balance mutation and event append commit together
// or not at all.
type Service interface {
	Deposit(ctx context.Context, input OperationInput) (*OperationResult, error)
	Lock(ctx context.Context, input OperationInput) (*OperationResult, error)
	Unlock(ctx context.Context, input OperationInput) (*OperationResult, error)
	Withdraw(ctx context.Context, input OperationInput) (*OperationResult, error)
	GetBalances(ctx context.Context, accountID uuid.UUID) ([]AssetBalance, error)
	ListEvents(ctx context.Context, input ListEventsInput) (*EventPage, error)
}

// OperationInput carries the caller-supplied data for one ledger operation.
type OperationInput struct {
	IdempotencyKey string
	AccountID      uuid.UUID
	Asset          string
	Amount         decimal.Decimal
	ReferenceType  string
	ReferenceID    string
}

// OperationResult returns the appended event and the balance after the
// mutation. Replayed is true when the idempotency key had already been
// applied and no new mutation happened.
type OperationResult struct {
	Event    models.LedgerEvent
	Balance  models.Balance
	Replayed bool
}

// ListEventsInput filters the event history read.
type ListEventsInput struct {
	AccountID uuid.UUID
	AssetID   *int64
	Limit     int
	Cursor    string
}

// EventPage is one page of event history with the cursor for the next page.
type EventPage struct {
	Events     []models.LedgerEvent
	NextCursor string
}

type service struct {
	repo    Repository
	assets  assets.Service
	tx      txRunner
	outbox  outboxPublisher
	metrics *metrics.LedgerMetrics
}

// NewService wires the ledger engine with its persistence and side channels.
// Metrics may be nil.
func NewService(repo Repository, assetSvc assets.Service, tx txRunner, publisher outboxPublisher, m *metrics.LedgerMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if assetSvc == nil {
		return nil, fmt.Errorf("asset service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{
		repo:    repo,
		assets:  assetSvc,
		tx:      tx,
		outbox:  publisher,
		metrics: m,
	}, nil
}

func (s *service) Deposit(ctx context.Context, input OperationInput) (*OperationResult, error) {
	return s.apply(ctx, enums.LedgerEventTypeDeposit, input)
}

func (s *service) Lock(ctx context.Context, input OperationInput) (*OperationResult, error) {
	return s.apply(ctx, enums.LedgerEventTypeLock, input)
}

func (s *service) Unlock(ctx context.Context, input OperationInput) (*OperationResult, error) {
	return s.apply(ctx, enums.LedgerEventTypeUnlock, input)
}

func (s *service) Withdraw(ctx context.Context, input OperationInput) (*OperationResult, error) {
	return s.apply(ctx, enums.LedgerEventTypeWithdraw, input)
}

func (s *service) apply(ctx context.Context, op enums.LedgerEventType, input OperationInput) (*OperationResult, error) {
	started := time.Now()
	result, err := s.applyOnce(ctx, op, input)
	if errors.Is(err, errReplayRace) {
		// Another writer committed this key first. Its transaction is durable,
		// ours rolled back untouched; read back what it wrote.
		result, err = s.replay(ctx, input)
	}

	s.metrics.ObserveDuration(op.String(), time.Since(started))
	switch {
	case err == nil:
		s.metrics.IncSuccess(op.String())
	case pkgerrors.As(err) != nil:
		s.metrics.IncRejection(op.String(), string(pkgerrors.As(err).Code()))
		s.metrics.IncFailure(op.String())
	default:
		s.metrics.IncFailure(op.String())
	}
	return result, err
}

func (s *service) applyOnce(ctx context.Context, op enums.LedgerEventType, input OperationInput) (*OperationResult, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	var result *OperationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		existing, err := repo.FindEventByIdempotencyKey(ctx, input.IdempotencyKey)
		if err == nil {
			replayed, replayErr := s.buildReplay(ctx, repo, existing)
			if replayErr != nil {
				return replayErr
			}
			result = replayed
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "idempotency check")
		}

		asset, err := s.assets.GetOrCreate(ctx, tx, input.Asset)
		if err != nil {
			return err
		}

		balance, err := s.lockBalance(ctx, repo, input.AccountID, asset.ID)
		if err != nil {
			return err
		}

		if err := applyMutation(op, balance, input.Amount); err != nil {
			return err.WithDetails(map[string]any{
				"account_id":      input.AccountID.String(),
				"asset":           asset.Name,
				"amount":          input.Amount.String(),
				"idempotency_key": input.IdempotencyKey,
			})
		}

		if err := repo.SaveBalance(ctx, balance); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save balance")
		}

		event := &models.LedgerEvent{
			IdempotencyKey: input.IdempotencyKey,
			AccountID:      input.AccountID,
			AssetID:        asset.ID,
			Delta:          eventDelta(op, input.Amount),
			Type:           op,
			ReferenceType:  input.ReferenceType,
			ReferenceID:    input.ReferenceID,
		}
		if err := repo.CreateEvent(ctx, event); err != nil {
			if dbpkg.IsUniqueViolation(err, models.UniqueLedgerEventIdempotencyKey) {
				return errReplayRace
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger event")
		}

		if err := s.emitMovement(ctx, tx, op, event, balance); err != nil {
			return err
		}

		result = &OperationResult{Event: *event, Balance: *balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replay runs in a fresh transaction after errReplayRace; the committed event
// and balance are read back and returned as an idempotent no-op.
func (s *service) replay(ctx context.Context, input OperationInput) (*OperationResult, error) {
	var result *OperationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		event, err := repo.FindEventByIdempotencyKey(ctx, input.IdempotencyKey)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload replayed event")
		}
		replayed, replayErr := s.buildReplay(ctx, repo, event)
		if replayErr != nil {
			return replayErr
		}
		result = replayed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// buildReplay answers a repeated delivery with the stored event and the
// current balance. The key alone decides; business rules are not re-evaluated
// and the request's amount or reference is not compared against the original.
func (s *service) buildReplay(ctx context.Context, repo Repository, event *models.LedgerEvent) (*OperationResult, error) {
	balance, err := repo.FindBalance(ctx, event.AccountID, event.AssetID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load balance for replay")
	}
	return &OperationResult{Event: *event, Balance: *balance, Replayed: true}, nil
}

// lockBalance returns the row under an exclusive lock, creating it at zero on
// first use. Creation does not need the lock; the subsequent locked read does.
func (s *service) lockBalance(ctx context.Context, repo Repository, accountID uuid.UUID, assetID int64) (*models.Balance, error) {
	balance, err := repo.FindBalanceForUpdate(ctx, accountID, assetID)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock balance")
	}

	created := &models.Balance{
		AccountID: accountID,
		AssetID:   assetID,
		Available: decimal.Zero,
		Locked:    decimal.Zero,
	}
	if err := repo.CreateBalance(ctx, created); err != nil {
		if !dbpkg.IsUniqueViolation(err, "uq_ledger_balance_account_asset") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create balance")
		}
	}
	balance, err = repo.FindBalanceForUpdate(ctx, accountID, assetID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock balance after create")
	}
	return balance, nil
}

// applyMutation checks the operation's precondition against the locked
// snapshot and mutates the pair in place. No partial effects: a failed
// precondition leaves the balance untouched and aborts the transaction.
func applyMutation(op enums.LedgerEventType, balance *models.Balance, amount decimal.Decimal) *pkgerrors.Error {
	switch op {
	case enums.LedgerEventTypeDeposit:
		balance.Available = balance.Available.Add(amount)
	case enums.LedgerEventTypeLock:
		if balance.Available.LessThan(amount) {
			return pkgerrors.New(pkgerrors.CodeLockExceedsAvailable, "lock amount exceeds available balance")
		}
		balance.Available = balance.Available.Sub(amount)
		balance.Locked = balance.Locked.Add(amount)
	case enums.LedgerEventTypeUnlock:
		if balance.Locked.LessThan(amount) {
			return pkgerrors.New(pkgerrors.CodeUnlockExceedsLocked, "unlock amount exceeds locked balance")
		}
		balance.Locked = balance.Locked.Sub(amount)
		balance.Available = balance.Available.Add(amount)
	case enums.LedgerEventTypeWithdraw:
		if balance.Available.LessThan(amount) {
			return pkgerrors.New(pkgerrors.CodeInsufficientFunds, "withdraw amount exceeds available balance")
		}
		balance.Available = balance.Available.Sub(amount)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("unsupported ledger operation %q", op))
	}
	return nil
}

// eventDelta signs the amount: positive for deposit/unlock, negative for
// lock/withdraw.
func eventDelta(op enums.LedgerEventType, amount decimal.Decimal) decimal.Decimal {
	switch op {
	case enums.LedgerEventTypeDeposit, enums.LedgerEventTypeUnlock:
		return amount
	default:
		return amount.Neg()
	}
}

func (s *service) emitMovement(ctx context.Context, tx *gorm.DB, op enums.LedgerEventType, event *models.LedgerEvent, balance *models.Balance) error {
	eventType, ok := movementEventTypes[op]
	if !ok {
		return pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("no outbox event for operation %q", op))
	}
	payload := payloads.BalanceMovementEvent{
		EventID:        event.ID,
		AccountID:      event.AccountID,
		AssetID:        event.AssetID,
		Amount:         event.Delta.Abs(),
		Type:           op,
		Available:      balance.Available,
		Locked:         balance.Locked,
		IdempotencyKey: event.IdempotencyKey,
	}
	if event.ReferenceType != "" {
		payload.ReferenceType = &event.ReferenceType
	}
	if event.ReferenceID != "" {
		payload.ReferenceID = &event.ReferenceID
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateBalance,
		AggregateID:   balance.ID,
		Version:       1,
		Data:          payload,
	})
}

var movementEventTypes = map[enums.LedgerEventType]enums.OutboxEventType{
	enums.LedgerEventTypeDeposit:  enums.EventDepositRecorded,
	enums.LedgerEventTypeLock:     enums.EventFundsLocked,
	enums.LedgerEventTypeUnlock:   enums.EventFundsUnlocked,
	enums.LedgerEventTypeWithdraw: enums.EventWithdrawalRecorded,
}

func validateInput(input OperationInput) error {
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	if len(key) > maxIdempotencyKeyLen {
		return pkgerrors.New(pkgerrors.CodeValidation, "idempotency key too long")
	}
	if input.AccountID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if strings.TrimSpace(input.Asset) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "asset required")
	}
	if !input.Amount.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be greater than zero").
			WithDetails(map[string]any{"amount": input.Amount.String()})
	}
	return nil
}

func (s *service) GetBalances(ctx context.Context, accountID uuid.UUID) ([]AssetBalance, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	rows, err := s.repo.ListBalancesByAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list balances")
	}
	return rows, nil
}

func (s *service) ListEvents(ctx context.Context, input ListEventsInput) (*EventPage, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}

	limit := pagination.NormalizeLimit(input.Limit)
	events, err := s.repo.ListEventsByAccount(ctx, input.AccountID, input.AssetID, pagination.Params{
		Limit:  limit,
		Cursor: input.Cursor,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list ledger events")
	}

	page := &EventPage{Events: events}
	if len(events) > limit {
		page.Events = events[:limit]
		last := page.Events[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}
