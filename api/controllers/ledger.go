package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/ledger-core/api/responses"
	"github.com/meridianpay/ledger-core/api/validators"
	ledgersvc "github.com/meridianpay/ledger-core/internal/ledger"
	"github.com/meridianpay/ledger-core/pkg/db/models"
	pkgerrors "github.com/meridianpay/ledger-core/pkg/errors"
	"github.com/meridianpay/ledger-core/pkg/logger"
	"github.com/meridianpay/ledger-core/pkg/pagination"
)

type movementFunc func(svc ledgersvc.Service) func(r *http.Request, input ledgersvc.OperationInput) (*ledgersvc.OperationResult, error)

// LedgerDeposit credits available funds for one (account, asset).
func LedgerDeposit(svc ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return movementHandler(svc, logg, func(svc ledgersvc.Service) func(*http.Request, ledgersvc.OperationInput) (*ledgersvc.OperationResult, error) {
		return func(r *http.Request, input ledgersvc.OperationInput) (*ledgersvc.OperationResult, error) {
			return svc.Deposit(r.Context(), input)
		}
	})
}

// LedgerLock moves funds from available to locked.
func LedgerLock(svc ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return movementHandler(svc, logg, func(svc ledgersvc.Service) func(*http.Request, ledgersvc.OperationInput) (*ledgersvc.OperationResult, error) {
		return func(r *http.Request, input ledgersvc.OperationInput) (*ledgersvc.OperationResult, error) {
			return svc.Lock(r.Context(), input)
		}
	})
}

// LedgerUnlock moves funds from locked back to available.
func LedgerUnlock(svc ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return movementHandler(svc, logg, func(svc ledgersvc.Service) func(*http.Request, ledgersvc.OperationInput) (*ledgersvc.OperationResult, error) {
		return func(r *http.Request, input ledgersvc.OperationInput) (*ledgersvc.OperationResult, error) {
			return svc.Unlock(r.Context(), input)
		}
	})
}

// LedgerWithdraw debits available funds.
func LedgerWithdraw(svc ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return movementHandler(svc, logg, func(svc ledgersvc.Service) func(*http.Request, ledgersvc.OperationInput) (*ledgersvc.OperationResult, error) {
		return func(r *http.Request, input ledgersvc.OperationInput) (*ledgersvc.OperationResult, error) {
			return svc.Withdraw(r.Context(), input)
		}
	})
}

func movementHandler(svc ledgersvc.Service, logg *logger.Logger, call movementFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		var payload movementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := call(svc)(r, input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Replayed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, newMovementResponse(result))
	}
}

// LedgerBalances returns every non-zero-history balance for one account.
func LedgerBalances(svc ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}

		balances, err := svc.GetBalances(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, balancesResponse{AccountID: accountID, Balances: balances})
	}
}

// LedgerEvents returns one page of an account's movement history,
// newest first.
func LedgerEvents(svc ledgersvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "ledger service unavailable"))
			return
		}

		accountID, err := uuid.Parse(chi.URLParam(r, "accountID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := ledgersvc.ListEventsInput{
			AccountID: accountID,
			Limit:     limit,
			Cursor:    strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("asset_id")); raw != "" {
			assetID, parseErr := strconv.ParseInt(raw, 10, 64)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "asset_id must be numeric"))
				return
			}
			input.AssetID = &assetID
		}

		page, err := svc.ListEvents(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		events := make([]eventResponse, len(page.Events))
		for i, event := range page.Events {
			events[i] = newEventResponse(event)
		}
		responses.WriteSuccess(w, eventsPageResponse{Events: events, NextCursor: page.NextCursor})
	}
}

type movementRequest struct {
	IdempotencyKey string    `json:"idempotency_key" validate:"required,max=120"`
	AccountID      uuid.UUID `json:"account_id" validate:"required"`
	Asset          string    `json:"asset" validate:"required,max=16"`
	Amount         string    `json:"amount" validate:"required"`
	ReferenceType  string    `json:"reference_type,omitempty" validate:"omitempty,max=32"`
	ReferenceID    string    `json:"reference_id,omitempty" validate:"omitempty,max=128"`
}

func (p movementRequest) toInput() (ledgersvc.OperationInput, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
	if err != nil {
		return ledgersvc.OperationInput{}, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "amount must be a decimal string")
	}
	return ledgersvc.OperationInput{
		IdempotencyKey: validators.SanitizeString(p.IdempotencyKey, 120),
		AccountID:      p.AccountID,
		Asset:          p.Asset,
		Amount:         amount,
		ReferenceType:  validators.SanitizeString(p.ReferenceType, 32),
		ReferenceID:    validators.SanitizeString(p.ReferenceID, 128),
	}, nil
}

type movementResponse struct {
	Event    eventResponse   `json:"event"`
	Balance  balanceResponse `json:"balance"`
	Replayed bool            `json:"replayed"`
}

func newMovementResponse(result *ledgersvc.OperationResult) movementResponse {
	return movementResponse{
		Event:    newEventResponse(result.Event),
		Balance:  newBalanceResponse(result.Balance),
		Replayed: result.Replayed,
	}
}

type eventResponse struct {
	ID             uuid.UUID       `json:"id"`
	IdempotencyKey string          `json:"idempotency_key"`
	AccountID      uuid.UUID       `json:"account_id"`
	AssetID        int64           `json:"asset_id"`
	Delta          decimal.Decimal `json:"delta"`
	Type           string          `json:"event_type"`
	ReferenceType  string          `json:"reference_type,omitempty"`
	ReferenceID    string          `json:"reference_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func newEventResponse(event models.LedgerEvent) eventResponse {
	return eventResponse{
		ID:             event.ID,
		IdempotencyKey: event.IdempotencyKey,
		AccountID:      event.AccountID,
		AssetID:        event.AssetID,
		Delta:          event.Delta,
		Type:           string(event.Type),
		ReferenceType:  event.ReferenceType,
		ReferenceID:    event.ReferenceID,
		CreatedAt:      event.CreatedAt,
	}
}

type balanceResponse struct {
	AccountID uuid.UUID       `json:"account_id"`
	AssetID   int64           `json:"asset_id"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newBalanceResponse(balance models.Balance) balanceResponse {
	return balanceResponse{
		AccountID: balance.AccountID,
		AssetID:   balance.AssetID,
		Available: balance.Available,
		Locked:    balance.Locked,
		UpdatedAt: balance.UpdatedAt,
	}
}

type balancesResponse struct {
	AccountID uuid.UUID                `json:"account_id"`
	Balances  []ledgersvc.AssetBalance `json:"balances"`
}

type eventsPageResponse struct {
	Events     []eventResponse `json:"events"`
	NextCursor string          `json:"next_cursor,omitempty"`
}
