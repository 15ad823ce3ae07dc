package handler

import (
	"context"
	"encoding/json"
	"mime"
	"net/http"
	"strconv"

	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/EpicMandM/esxi-snapshot-service/internal/models"
	"github.com/EpicMandM/esxi-snapshot-service/internal/orchestrator"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

const defaultOperationsLimit = 50

// SnapshotOperator is the set of operations the HTTP API exposes.
type SnapshotOperator interface {
	Create(ctx context.Context, vmName string, req orchestrator.CreateRequest) (*models.CreateSnapshotResponse, error)
	ListAll(ctx context.Context, vmName string) (*models.SnapshotListResponse, error)
	ListTree(ctx context.Context, vmName string) (*models.SnapshotListResponse, error)
	ListCurrent(ctx context.Context, vmName string) (*models.SnapshotSummary, error)
	Delete(ctx context.Context, vmName, name string, cascade bool) error
	Revert(ctx context.Context, vmName, name string) error
	DeleteAll(ctx context.Context, vmName string) error
	Operations(vmName string, limit int) ([]models.Operation, error)
	Operation(id string) (*models.Operation, error)
}

type APIHandler struct {
	ops      SnapshotOperator
	logger   *logger.Logger
	validate *validator.Validate
	// vcenter is the connected host; a vcname parameter must match it.
	vcenter string
}

func NewAPIHandler(ops SnapshotOperator, vcenter string, log *logger.Logger) *APIHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &APIHandler{
		ops:      ops,
		logger:   log,
		validate: newValidator(),
		vcenter:  vcenter,
	}
}

type vmQuery struct {
	VCName string `json:"vcname"`
	VMName string `json:"vmname" validate:"required"`
}

type createRequest struct {
	VCName       string `json:"vcname"`
	VMName       string `json:"vmname" validate:"required"`
	SnapshotName string `json:"snapshot_name" validate:"required"`
	Description  string `json:"description"`
	Memory       string `json:"memory" validate:"omitempty,oneof=yes no"`
	Quiesce      string `json:"quiesce" validate:"omitempty,oneof=yes no"`
}

type revertRequest struct {
	VCName       string `json:"vcname"`
	VMName       string `json:"vmname" validate:"required"`
	SnapshotName string `json:"snapshot_name" validate:"required"`
}

type deleteQuery struct {
	VMName       string `json:"vmname" validate:"required"`
	SnapshotName string `json:"snapshot_name" validate:"required"`
	Cascade      string `json:"cascade" validate:"omitempty,oneof=yes no"`
}

type statusResponse struct {
	VM       string `json:"vm"`
	Snapshot string `json:"snapshot,omitempty"`
	Cascade  bool   `json:"cascade,omitempty"`
	Status   string `json:"status"`
}

// ListSnapshots handles GET /api/v1/snapshots
func (h *APIHandler) ListSnapshots(w http.ResponseWriter, r *http.Request) {
	q, ok := h.vmQuery(w, r)
	if !ok {
		return
	}

	list := h.ops.ListAll
	switch view := r.URL.Query().Get("view"); view {
	case "", models.ViewChain:
	case models.ViewTree:
		list = h.ops.ListTree
	default:
		h.writeError(w, http.StatusBadRequest, "view must be chain or tree")
		return
	}

	resp, err := list(r.Context(), q.VMName)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CurrentSnapshot handles GET /api/v1/snapshots/current
func (h *APIHandler) CurrentSnapshot(w http.ResponseWriter, r *http.Request) {
	q, ok := h.vmQuery(w, r)
	if !ok {
		return
	}
	resp, err := h.ops.ListCurrent(r.Context(), q.VMName)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// CreateSnapshot handles POST /api/v1/snapshots with a JSON or form body.
func (h *APIHandler) CreateSnapshot(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !h.decode(w, r, &req, func() {
		req = createRequest{
			VCName:       r.Form.Get("vcname"),
			VMName:       r.Form.Get("vmname"),
			SnapshotName: r.Form.Get("snapshot_name"),
			Description:  r.Form.Get("description"),
			Memory:       r.Form.Get("memory"),
			Quiesce:      r.Form.Get("quiesce"),
		}
	}) {
		return
	}
	if !h.checkVCenter(w, req.VCName) || !h.valid(w, &req) {
		return
	}

	opts := models.ParseSnapshotOptions(req.Memory, req.Quiesce, "")
	resp, err := h.ops.Create(r.Context(), req.VMName, orchestrator.CreateRequest{
		Name:        req.SnapshotName,
		Description: req.Description,
		Options:     opts,
	})
	if err != nil {
		h.writeOperationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, resp)
}

// RevertSnapshot handles POST /api/v1/snapshots/revert
func (h *APIHandler) RevertSnapshot(w http.ResponseWriter, r *http.Request) {
	var req revertRequest
	if !h.decode(w, r, &req, func() {
		req = revertRequest{
			VCName:       r.Form.Get("vcname"),
			VMName:       r.Form.Get("vmname"),
			SnapshotName: r.Form.Get("snapshot_name"),
		}
	}) {
		return
	}
	if !h.checkVCenter(w, req.VCName) || !h.valid(w, &req) {
		return
	}

	if err := h.ops.Revert(r.Context(), req.VMName, req.SnapshotName); err != nil {
		h.writeOperationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{VM: req.VMName, Snapshot: req.SnapshotName, Status: "reverted"})
}

// DeleteSnapshot handles DELETE /api/v1/snapshots
func (h *APIHandler) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if !h.checkVCenter(w, query.Get("vcname")) {
		return
	}
	q := deleteQuery{
		VMName:       query.Get("vmname"),
		SnapshotName: query.Get("snapshot_name"),
		Cascade:      query.Get("cascade"),
	}
	if !h.valid(w, &q) {
		return
	}

	cascade := models.ParseChoice(q.Cascade).Bool()
	if err := h.ops.Delete(r.Context(), q.VMName, q.SnapshotName, cascade); err != nil {
		h.writeOperationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{VM: q.VMName, Snapshot: q.SnapshotName, Cascade: cascade, Status: "deleted"})
}

// DeleteAllSnapshots handles DELETE /api/v1/snapshots/all
func (h *APIHandler) DeleteAllSnapshots(w http.ResponseWriter, r *http.Request) {
	q, ok := h.vmQuery(w, r)
	if !ok {
		return
	}
	if err := h.ops.DeleteAll(r.Context(), q.VMName); err != nil {
		h.writeOperationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, statusResponse{VM: q.VMName, Status: "deleted"})
}

// ListOperations handles GET /api/v1/operations
func (h *APIHandler) ListOperations(w http.ResponseWriter, r *http.Request) {
	limit := defaultOperationsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	ops, err := h.ops.Operations(r.URL.Query().Get("vmname"), limit)
	if err != nil {
		h.logger.Error("Failed to list operations", logger.Error(err))
		h.writeError(w, http.StatusInternalServerError, "Failed to list operations")
		return
	}
	h.writeJSON(w, http.StatusOK, ops)
}

// GetOperation handles GET /api/v1/operations/{id}
func (h *APIHandler) GetOperation(w http.ResponseWriter, r *http.Request) {
	op, err := h.ops.Operation(mux.Vars(r)["id"])
	if err != nil {
		h.writeOperationError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, op)
}

// Health handles GET /healthz
func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) vmQuery(w http.ResponseWriter, r *http.Request) (vmQuery, bool) {
	q := vmQuery{
		VCName: r.URL.Query().Get("vcname"),
		VMName: r.URL.Query().Get("vmname"),
	}
	if !h.checkVCenter(w, q.VCName) || !h.valid(w, &q) {
		return q, false
	}
	return q, true
}

// decode reads a JSON body, or a form body through fromForm.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any, fromForm func()) bool {
	if isJSON(r) {
		defer func() {
			if cerr := r.Body.Close(); cerr != nil {
				h.logger.Warn("Failed to close request body", logger.Error(cerr))
			}
		}()
		if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid JSON body")
			return false
		}
		return true
	}
	if err := r.ParseForm(); err != nil {
		h.writeError(w, http.StatusBadRequest, "Failed to parse form")
		return false
	}
	fromForm()
	return true
}

func isJSON(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "application/json"
}
