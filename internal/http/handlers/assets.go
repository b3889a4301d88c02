package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// DownloadAsset streams a translated artifact owned by the caller.
func (a *App) DownloadAsset(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	assetID := chi.URLParam(r, "asset_id")
	if assetID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "asset_id required")
		return
	}
	asset, err := a.Assets.GetByID(r.Context(), assetID)
	if err != nil {
		a.domainError(w, err)
		return
	}
	if asset.UserID != userID {
		a.error(w, http.StatusNotFound, "not_found", "asset not found")
		return
	}
	data, err := a.Store.Download(r.Context(), asset.StorageKey)
	if err != nil {
		a.Logger.Error().Err(err).Str("asset_id", assetID).Msg("load asset data failed")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load asset")
		return
	}
	w.Header().Set("Content-Type", asset.MIME)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", assetID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
