package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridianpay/ledger-core/api/responses"
	"github.com/meridianpay/ledger-core/api/validators"
	settlementsvc "github.com/meridianpay/ledger-core/internal/settlement"
	"github.com/meridianpay/ledger-core/pkg/db/models"
	pkgerrors "github.com/meridianpay/ledger-core/pkg/errors"
	"github.com/meridianpay/ledger-core/pkg/logger"
	"github.com/meridianpay/ledger-core/pkg/pagination"
)

// SettlementCreate opens a PENDING settlement against an account's locked
// funds. Funds stay locked until the settlement confirms.
func SettlementCreate(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		var payload createSettlementRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input, err := payload.toInput()
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Create(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newSettlementResponse(record))
	}
}

// SettlementMarkSent records the broadcast transaction hash and moves the
// settlement from PENDING to SENT.
func SettlementMarkSent(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "settlementID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid settlement id"))
			return
		}

		var payload markSentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.MarkSent(r.Context(), id, validators.SanitizeString(payload.TxHash, 128))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSettlementResponse(record))
	}
}

// SettlementConfirm finalizes a SENT settlement: locked funds are
// decremented and the settlement event lands on the ledger.
func SettlementConfirm(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "settlementID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid settlement id"))
			return
		}

		record, err := svc.Confirm(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSettlementResponse(record))
	}
}

// SettlementGet returns one settlement by id.
func SettlementGet(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "settlementID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid settlement id"))
			return
		}

		record, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newSettlementResponse(record))
	}
}

// SettlementList returns an account's settlements, newest first.
func SettlementList(svc settlementsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "settlement service unavailable"))
			return
		}

		accountID, err := uuid.Parse(strings.TrimSpace(r.URL.Query().Get("account_id")))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		records, err := svc.ListByAccount(r.Context(), accountID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]settlementResponse, len(records))
		for i := range records {
			items[i] = newSettlementResponse(&records[i])
		}
		responses.WriteSuccess(w, settlementListResponse{Settlements: items})
	}
}

type createSettlementRequest struct {
	AccountID   uuid.UUID `json:"account_id" validate:"required"`
	Asset       string    `json:"asset" validate:"required,max=16"`
	Amount      string    `json:"amount" validate:"required"`
	FromAddress string    `json:"from_address" validate:"required,max=128"`
	ToAddress   string    `json:"to_address" validate:"required,max=128"`
	Blockchain  string    `json:"blockchain" validate:"required,max=32"`
}

func (p createSettlementRequest) toInput() (settlementsvc.CreateInput, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
	if err != nil {
		return settlementsvc.CreateInput{}, pkgerrors.Wrap(pkgerrors.CodeInvalidAmount, err, "amount must be a decimal string")
	}
	return settlementsvc.CreateInput{
		AccountID:   p.AccountID,
		Asset:       p.Asset,
		Amount:      amount,
		FromAddress: validators.SanitizeString(p.FromAddress, 128),
		ToAddress:   validators.SanitizeString(p.ToAddress, 128),
		Blockchain:  validators.SanitizeString(p.Blockchain, 32),
	}, nil
}

type markSentRequest struct {
	TxHash string `json:"tx_hash" validate:"required,max=128"`
}

type settlementResponse struct {
	ID          uuid.UUID       `json:"id"`
	AccountID   uuid.UUID       `json:"account_id"`
	AssetID     int64           `json:"asset_id"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
	FromAddress string          `json:"from_address"`
	ToAddress   string          `json:"to_address"`
	Blockchain  string          `json:"blockchain"`
	TxHash      *string         `json:"tx_hash,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
}

func newSettlementResponse(record *models.Settlement) settlementResponse {
	return settlementResponse{
		ID:          record.ID,
		AccountID:   record.AccountID,
		AssetID:     record.AssetID,
		Amount:      record.Amount,
		Status:      string(record.Status),
		FromAddress: record.FromAddress,
		ToAddress:   record.ToAddress,
		Blockchain:  record.Blockchain,
		TxHash:      record.TxHash,
		CreatedAt:   record.CreatedAt,
		ConfirmedAt: record.ConfirmedAt,
	}
}

type settlementListResponse struct {
	Settlements []settlementResponse `json:"settlements"`
}
