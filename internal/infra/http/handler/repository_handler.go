package handler

import (
	"net/http"
	"strconv"

	"github.com/deplai/api/internal/app"
	infrahttp "github.com/deplai/api/internal/infra/http"
	"github.com/deplai/api/pkg/apierror"
	"github.com/deplai/api/pkg/logger"
)

// RepositoryHandler handles repository sync endpoints.
type RepositoryHandler struct {
	sync   *app.SyncService
	logger *logger.Logger
}

// NewRepositoryHandler creates a new RepositoryHandler.
func NewRepositoryHandler(sync *app.SyncService, log *logger.Logger) *RepositoryHandler {
	return &RepositoryHandler{
		sync:   sync,
		logger: log,
	}
}

// RefreshResponse represents the outcome of a forced refresh.
type RefreshResponse struct {
	FullName  string `json:"full_name"`
	Refreshed bool   `json:"refreshed"`
}

// Refresh handles POST /api/v1/repositories/{owner}/{name}/refresh.
// It invalidates the working copy and syncs immediately.
func (h *RepositoryHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	owner := infrahttp.PathParam(r, "owner")
	name := infrahttp.PathParam(r, "name")
	if owner == "" || name == "" {
		apierror.BadRequest("owner and name are required").WriteJSON(w)
		return
	}
	fullName := owner + "/" + name

	if _, err := h.sync.ForceRefresh(r.Context(), fullName); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, RefreshResponse{
		FullName:  fullName,
		Refreshed: true,
	})
}

// SyncInstallationResponse represents the outcome of a catalogue sync.
type SyncInstallationResponse struct {
	InstallationID int64 `json:"installation_id"`
	Repositories   int   `json:"repositories"`
}

// SyncInstallation handles POST /api/v1/installations/{installationID}/sync.
// It refreshes the repository catalogue from the provider.
func (h *RepositoryHandler) SyncInstallation(w http.ResponseWriter, r *http.Request) {
	installationID, err := strconv.ParseInt(infrahttp.PathParam(r, "installationID"), 10, 64)
	if err != nil || installationID <= 0 {
		apierror.BadRequest("invalid installation id").WriteJSON(w)
		return
	}

	count, err := h.sync.SyncInstallation(r.Context(), installationID)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, SyncInstallationResponse{
		InstallationID: installationID,
		Repositories:   count,
	})
}
