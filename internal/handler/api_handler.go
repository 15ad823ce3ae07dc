package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	srvErrors "github.com/EpicMandM/esxi-snapshot-service/internal/errors"
	"github.com/EpicMandM/esxi-snapshot-service/internal/logger"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// Routes registers the API on a new router. metrics may be nil.
func (h *APIHandler) Routes(metrics http.Handler) *mux.Router {
	r := mux.NewRouter()

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/snapshots", h.ListSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/snapshots", h.CreateSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/snapshots", h.DeleteSnapshot).Methods(http.MethodDelete)
	api.HandleFunc("/snapshots/current", h.CurrentSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/snapshots/revert", h.RevertSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/snapshots/all", h.DeleteAllSnapshots).Methods(http.MethodDelete)
	api.HandleFunc("/operations", h.ListOperations).Methods(http.MethodGet)
	api.HandleFunc("/operations/{id}", h.GetOperation).Methods(http.MethodGet)

	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods(http.MethodGet)
	}
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

// StatusCode maps an operation error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case srvErrors.IsInvalidArgumentError(err):
		return http.StatusBadRequest
	case srvErrors.IsResolutionError(err), srvErrors.IsResourceNotFoundError(err):
		return http.StatusNotFound
	case srvErrors.IsAmbiguousSnapshotError(err):
		var amb *srvErrors.AmbiguousSnapshotError
		if errors.As(err, &amb) && amb.Matches == 0 {
			return http.StatusNotFound
		}
		return http.StatusConflict
	case srvErrors.IsPreconditionViolationError(err):
		return http.StatusPreconditionFailed
	case srvErrors.IsRemoteTaskFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeOperationError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("Snapshot request failed", logger.Status(http.StatusText(code)), logger.Error(err))
	}
	h.writeError(w, code, err.Error())
}

func (h *APIHandler) writeError(w http.ResponseWriter, code int, msg string) {
	h.writeJSON(w, code, errorResponse{Error: msg})
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", logger.Error(err))
	}
}

// checkVCenter rejects a vcname naming a different vCenter than the one
// this server is connected to. An empty vcname is accepted.
func (h *APIHandler) checkVCenter(w http.ResponseWriter, vcname string) bool {
	if vcname == "" || h.vcenter == "" || strings.EqualFold(vcname, h.vcenter) {
		return true
	}
	h.writeError(w, http.StatusBadRequest, fmt.Sprintf("vcname %q does not match the connected vCenter", vcname))
	return false
}

func (h *APIHandler) valid(w http.ResponseWriter, v any) bool {
	err := h.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	h.writeError(w, http.StatusBadRequest, strings.Join(msgs, "; "))
	return false
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
