package controllers

import (
	"net/http"

	"github.com/meridianpay/ledger-core/api/responses"
	assetsvc "github.com/meridianpay/ledger-core/internal/assets"
	pkgerrors "github.com/meridianpay/ledger-core/pkg/errors"
	"github.com/meridianpay/ledger-core/pkg/logger"
)

// AssetsList returns the asset catalog ordered by name.
func AssetsList(svc assetsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "asset service unavailable"))
			return
		}

		records, err := svc.List(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]assetResponse, len(records))
		for i, record := range records {
			items[i] = assetResponse{ID: record.ID, Name: record.Name}
		}
		responses.WriteSuccess(w, assetListResponse{Assets: items})
	}
}

type assetResponse struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type assetListResponse struct {
	Assets []assetResponse `json:"assets"`
}
