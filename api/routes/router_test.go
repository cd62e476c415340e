package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/meridianpay/ledger-core/internal/ledger"
	"github.com/meridianpay/ledger-core/internal/settlement"
	"github.com/meridianpay/ledger-core/pkg/config"
	"github.com/meridianpay/ledger-core/pkg/db/models"
	"github.com/meridianpay/ledger-core/pkg/enums"
	"github.com/meridianpay/ledger-core/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error {
	return nil
}

type stubLedgerService struct {
	lastInput ledger.OperationInput
}

func (s *stubLedgerService) Deposit(ctx context.Context, input ledger.OperationInput) (*ledger.OperationResult, error) {
	s.lastInput = input
	return &ledger.OperationResult{
		Event: models.LedgerEvent{
			ID:             uuid.New(),
			IdempotencyKey: input.IdempotencyKey,
			AccountID:      input.AccountID,
			AssetID:        1,
			Delta:          input.Amount,
			Type:           enums.LedgerEventTypeDeposit,
		},
		Balance: models.Balance{AccountID: input.AccountID, AssetID: 1, Available: input.Amount},
	}, nil
}

func (s *stubLedgerService) Lock(ctx context.Context, input ledger.OperationInput) (*ledger.OperationResult, error) {
	return s.Deposit(ctx, input)
}

func (s *stubLedgerService) Unlock(ctx context.Context, input ledger.OperationInput) (*ledger.OperationResult, error) {
	return s.Deposit(ctx, input)
}

func (s *stubLedgerService) Withdraw(ctx context.Context, input ledger.OperationInput) (*ledger.OperationResult, error) {
	return s.Deposit(ctx, input)
}

func (s *stubLedgerService) GetBalances(ctx context.Context, accountID uuid.UUID) ([]ledger.AssetBalance, error) {
	return []ledger.AssetBalance{{AssetID: 1, Asset: "USDC", Available: decimal.NewFromInt(5)}}, nil
}

func (s *stubLedgerService) ListEvents(ctx context.Context, input ledger.ListEventsInput) (*ledger.EventPage, error) {
	return &ledger.EventPage{}, nil
}

type stubSettlementService struct{}

func (stubSettlementService) Create(ctx context.Context, input settlement.CreateInput) (*models.Settlement, error) {
	return &models.Settlement{
		ID:        uuid.New(),
		AccountID: input.AccountID,
		AssetID:   1,
		Amount:    input.Amount,
		Status:    enums.SettlementStatusPending,
	}, nil
}

func (stubSettlementService) MarkSent(ctx context.Context, id uuid.UUID, txHash string) (*models.Settlement, error) {
	return &models.Settlement{ID: id, Status: enums.SettlementStatusSent, TxHash: &txHash}, nil
}

func (stubSettlementService) Confirm(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	return &models.Settlement{ID: id, Status: enums.SettlementStatusConfirmed}, nil
}

func (stubSettlementService) Get(ctx context.Context, id uuid.UUID) (*models.Settlement, error) {
	return &models.Settlement{ID: id, Status: enums.SettlementStatusPending}, nil
}

func (stubSettlementService) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]models.Settlement, error) {
	return nil, nil
}

type stubAssetService struct{}

func (stubAssetService) GetOrCreate(ctx context.Context, tx *gorm.DB, name string) (*models.Asset, error) {
	return &models.Asset{ID: 1, Name: name}, nil
}

func (stubAssetService) GetByID(ctx context.Context, id int64) (*models.Asset, error) {
	return &models.Asset{ID: id, Name: "USDC"}, nil
}

func (stubAssetService) List(ctx context.Context) ([]models.Asset, error) {
	return []models.Asset{{ID: 1, Name: "BTC"}, {ID: 2, Name: "USDC"}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test", Port: "0"},
	}
}

func newTestRouter(ledgerSvc ledger.Service) http.Handler {
	logg := logger.New(logger.Options{ServiceName: "test-routing", Level: logger.ParseLevel("debug"), Output: io.Discard})
	return NewRouter(
		testConfig(),
		logg,
		stubPinger{},
		nil,
		stubPinger{},
		stubAssetService{},
		ledgerSvc,
		stubSettlementService{},
		prometheus.NewRegistry(),
	)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code, path)
	}
}

func TestMetricsEndpointServed(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestDepositRouteReturnsCreated(t *testing.T) {
	svc := &stubLedgerService{}
	router := newTestRouter(svc)

	body := `{"idempotency_key":"dep-1","account_id":"` + uuid.NewString() + `","asset":"USDC","amount":"25.50"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/deposit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	require.Equal(t, "dep-1", svc.lastInput.IdempotencyKey)
	require.True(t, svc.lastInput.Amount.Equal(decimal.RequireFromString("25.50")))
}

func TestDepositRouteRejectsMalformedAmount(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	body := `{"idempotency_key":"dep-2","account_id":"` + uuid.NewString() + `","asset":"USDC","amount":"not-a-number"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/deposit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestDepositRouteRejectsMissingFields(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ledger/deposit", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestBalancesRouteRejectsInvalidAccountID(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/balances/not-a-uuid", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestBalancesRouteReturnsAccountBalances(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ledger/balances/"+uuid.NewString(), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)

	var envelope struct {
		Data struct {
			Balances []struct {
				Asset string `json:"asset"`
			} `json:"balances"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data.Balances, 1)
	require.Equal(t, "USDC", envelope.Data.Balances[0].Asset)
}

func TestSettlementCreateRoute(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	body := `{"account_id":"` + uuid.NewString() + `","asset":"USDC","amount":"10","from_address":"0xabc","to_address":"0xdef","blockchain":"ethereum"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/settlements", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
}

func TestSettlementListRequiresAccountID(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/settlements", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusBadRequest, res.Code)
}

func TestAssetsRoute(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/assets", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusOK, res.Code)
	require.Contains(t, res.Body.String(), "USDC")
}

func TestUnknownRouteReturnsNotFound(t *testing.T) {
	router := newTestRouter(&stubLedgerService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nothing-here", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	require.Equal(t, http.StatusNotFound, res.Code)
}
