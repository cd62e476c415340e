package settlement

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
	"github.com/meridianpay/ledger-core/internal/ledger"
	"github.com/meridianpay/ledger-core/pkg/db/models"
	"github.com/meridianpay/ledger-core/pkg/enums"
	pkgerrors "github.com/meridianpay/ledger-core/pkg/errors"
	"github.com/meridianpay/ledger-core/pkg/metrics"
	"github.com/meridianpay/ledger-core/pkg/outbox"
	"github.com/meridianpay/ledger-core/pkg/outbox/payloads"
)

// ReferenceTypeSettlement tags the ledger event appended at confirmation.
const ReferenceTypeSettlement = "settlement_id"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service drives the settlement lifecycle: PENDING at creation, SENT once the
// payout is broadcast, CONFIRMED when the locked funds are consumed.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Settlement, error)
	MarkSent(ctx context.Context, id uuid.UUID, txHash string) (*models.Settlement, error)
	Confirm(ctx context.Context, id uuid.UUID) (*models.Settlement, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Settlement, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Settlement, error)
}

// CreateInput carries the data for a new settlement.
type CreateInput struct {
	AccountID   uuid.UUID
	Asset       string
	Amount      decimal.Decimal
	FromAddress string
	ToAddress   string
	Blockchain  string
}

type service struct {
	repo       Repository
	ledgerRepo ledger.Repository
	assets     assets.Service
	tx         txRunner
	outbox     outboxPublisher
	metrics    *metrics.LedgerMetrics
}

// NewService wires the settlement state machine. Metrics may be nil.
func NewService(repo Repository, ledgerRepo ledger.Repository, assetSvc assets.Service, tx txRunner, publisher outboxPublisher, m *metrics.LedgerMetrics) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if ledgerRepo == nil {
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
		repo:       repo,
		ledgerRepo: ledgerRepo,
		assets:     assetSvc,
		tx:         tx,
		outbox:     publisher,
		metrics:    m,
	}, nil
}

// Create validates that the account already holds amount in its locked bucket
// and records intent as a PENDING row. The balance is not mutated: the funds
// were moved into locked by a prior lock operation.
func (s *service) Create(ctx context.Context, input CreateInput) (*models.Settlement, error) {
	started := time.Now()
	settlement, err := s.create(ctx, input)
	s.observe("settlement_create", started, err)
	return settlement, err
}

func (s *service) create(ctx context.Context, input CreateInput) (*models.Settlement, error) {
	if input.AccountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if strings.TrimSpace(input.Asset) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "asset required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "amount must be greater than zero")
	}
	if strings.TrimSpace(input.FromAddress) == "" || strings.TrimSpace(input.ToAddress) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "from and to addresses required")
	}
	if strings.TrimSpace(input.Blockchain) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "blockchain required")
	}

	var settlement *models.Settlement
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		asset, err := s.assets.GetOrCreate(ctx, tx, input.Asset)
		if err != nil {
			return err
		}

		ledgerRepo := s.ledgerRepo.WithTx(tx)
		locked := decimal.Zero
		balance, err := ledgerRepo.FindBalanceForUpdate(ctx, input.AccountID, asset.ID)
		if err == nil {
			locked = balance.Locked
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock balance")
		}
		if locked.LessThan(input.Amount) {
			return pkgerrors.New(pkgerrors.CodeSettleExceedsLocked, "settlement amount exceeds locked balance").
				WithDetails(map[string]any{
					"account_id": input.AccountID.String(),
					"asset":      asset.Name,
					"amount":     input.Amount.String(),
					"locked":     locked.String(),
				})
		}

		row := &models.Settlement{
			AccountID:   input.AccountID,
			AssetID:     asset.ID,
			Amount:      input.Amount,
			Status:      enums.SettlementStatusPending,
			FromAddress: strings.TrimSpace(input.FromAddress),
			ToAddress:   strings.TrimSpace(input.ToAddress),
			Blockchain:  strings.TrimSpace(input.Blockchain),
		}
		if err := s.repo.WithTx(tx).Create(ctx, row); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create settlement")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementCreated,
			AggregateType: enums.AggregateSettlement,
			AggregateID:   row.ID,
			Version:       1,
			Data: payloads.SettlementCreatedEvent{
				SettlementID: row.ID,
				AccountID:    row.AccountID,
				AssetID:      row.AssetID,
				Amount:       row.Amount,
				FromAddress:  row.FromAddress,
				ToAddress:    row.ToAddress,
				Blockchain:   row.Blockchain,
			},
		}); err != nil {
			return err
		}

		settlement = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// MarkSent records the broadcast: PENDING -> SENT plus the transaction hash.
func (s *service) MarkSent(ctx context.Context, id uuid.UUID, txHash string) (*models.Settlement, error) {
	started := time.Now()
	settlement, err := s.markSent(ctx, id, txHash)
	s.observe("settlement_mark_sent", started, err)
	return settlement, err
}

func (s *service) markSent(ctx context.Context, id uuid.UUID, txHash string) (*models.Settlement, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "settlement id required")
	}
	hash := strings.TrimSpace(txHash)
	if hash == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tx hash required")
	}

	var settlement *models.Settlement
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
		}
		if !row.Status.CanTransitionTo(enums.SettlementStatusSent) {
			return invalidState(row.Status, enums.SettlementStatusSent)
		}

		if err := repo.MarkSent(ctx, id, hash); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark settlement sent")
		}
		row.Status = enums.SettlementStatusSent
		row.TxHash = &hash

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementSent,
			AggregateType: enums.AggregateSettlement,
			AggregateID:   row.ID,
			Version:       1,
			Data: payloads.SettlementSentEvent{
				SettlementID: row.ID,
				AccountID:    row.AccountID,
				TxHash:       hash,
			},
		}); err != nil {
			return err
		}

		settlement = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

// Confirm consumes the locked funds: only legal from SENT. The balance lock
// is taken first; the status check runs against a re-read inside the same
// transaction so concurrent confirms serialize on the balance row.
func (s *service) Confirm(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	started := time.Now()
	settlement, err := s.confirm(ctx, id)
	s.observe("settlement_confirm", started, err)
	return settlement, err
}

func (s *service) confirm(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "settlement id required")
	}

	var settlement *models.Settlement
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		row, err := repo.FindByID(ctx, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
		}

		ledgerRepo := s.ledgerRepo.WithTx(tx)
		balance, err := ledgerRepo.FindBalanceForUpdate(ctx, row.AccountID, row.AssetID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock balance")
		}

		// Re-read after the balance lock: a concurrent confirm that committed
		// first has already flipped the status.
		row, err = repo.FindByID(ctx, id)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload settlement")
		}
		if row.Status != enums.SettlementStatusSent {
			return invalidState(row.Status, enums.SettlementStatusConfirmed)
		}
		if balance.Locked.LessThan(row.Amount) {
			return pkgerrors.New(pkgerrors.CodeSettleExceedsLocked, "locked balance no longer covers settlement amount").
				WithDetails(map[string]any{
					"settlement_id": row.ID.String(),
					"amount":        row.Amount.String(),
					"locked":        balance.Locked.String(),
				})
		}

		balance.Locked = balance.Locked.Sub(row.Amount)
		if err := ledgerRepo.SaveBalance(ctx, balance); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save balance")
		}

		event := &models.LedgerEvent{
			IdempotencyKey: uuid.NewString(),
			AccountID:      row.AccountID,
			AssetID:        row.AssetID,
			Delta:          row.Amount.Neg(),
			Type:           enums.LedgerEventTypeSettlement,
			ReferenceType:  ReferenceTypeSettlement,
			ReferenceID:    row.ID.String(),
		}
		if err := ledgerRepo.CreateEvent(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append settlement event")
		}

		confirmedAt := time.Now().UTC()
		if err := repo.MarkConfirmed(ctx, id, confirmedAt); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark settlement confirmed")
		}
		row.Status = enums.SettlementStatusConfirmed
		row.ConfirmedAt = &confirmedAt

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventSettlementConfirmed,
			AggregateType: enums.AggregateSettlement,
			AggregateID:   row.ID,
			Version:       1,
			Data: payloads.SettlementConfirmedEvent{
				SettlementID:  row.ID,
				AccountID:     row.AccountID,
				AssetID:       row.AssetID,
				Amount:        row.Amount,
				LedgerEventID: event.ID,
				ConfirmedAt:   confirmedAt,
			},
		}); err != nil {
			return err
		}

		settlement = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settlement, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "settlement id required")
	}
	row, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "settlement not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load settlement")
	}
	return row, nil
}

func (s *service) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Settlement, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id required")
	}
	if limit <= 0 || limit > 100 {
		limit = 25
	}
	rows, err := s.repo.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list settlements")
	}
	return rows, nil
}

func invalidState(current, target enums.SettlementStatus) error {
	return pkgerrors.New(pkgerrors.CodeInvalidSettlementState,
		fmt.Sprintf("settlement cannot move from %s to %s", current, target)).
		WithDetails(map[string]any{
			"current_status": current,
			"target_status":  target,
		})
}

func (s *service) observe(operation string, started time.Time, err error) {
	s.metrics.ObserveDuration(operation, time.Since(started))
	switch {
	case err == nil:
		s.metrics.IncSuccess(operation)
	case pkgerrors.As(err) != nil:
		s.metrics.IncRejection(operation, string(pkgerrors.As(err).Code()))
		s.metrics.IncFailure(operation)
	default:
		s.metrics.IncFailure(operation)
	}
}
