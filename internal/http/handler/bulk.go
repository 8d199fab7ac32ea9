package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/service"
)

const maxBulkUploadBytes = 2 << 20

// BulkHandler runs the CSV upload and processing endpoints.
type BulkHandler struct {
	bulk *service.BulkService
	auth *service.AuthService
}

func NewBulkHandler(bulk *service.BulkService, auth *service.AuthService) *BulkHandler {
	return &BulkHandler{bulk: bulk, auth: auth}
}

// Upload accepts the CSV file, validates its shape and archives it for
// processing. Validation rejects the whole file before anything is stored.
func (h *BulkHandler) Upload(w http.ResponseWriter, r *http.Request) {
	claims, _, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxBulkUploadBytes); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with a file field", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "missing file field", nil)
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(io.LimitReader(file, maxBulkUploadBytes+1))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "unreadable file payload", nil)
		return
	}
	if len(payload) > maxBulkUploadBytes {
		response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "upload exceeds the size limit", nil)
		return
	}

	log, err := h.bulk.Upload(r.Context(), claims.CarrierID, header.Filename, payload)
	if err != nil {
		writeBulkValidationError(w, r, err)
		return
	}
	observability.Audit(r, "bulk_upload_received",
		"carrier_id", claims.CarrierID, "upload_id", log.ID, "filename", header.Filename)
	response.JSON(w, r, http.StatusAccepted, log)
}

// Process applies a previously uploaded file row by row.
func (h *BulkHandler) Process(w http.ResponseWriter, r *http.Request) {
	claims, cred, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	uploadID := chi.URLParam(r, "id")
	result, err := h.bulk.Process(r.Context(), cred, claims.CarrierID, uploadID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUploadNotFound):
			response.Error(w, r, http.StatusNotFound, "NOT_FOUND", "upload not found", nil)
		case errors.Is(err, service.ErrUploadNotPending):
			response.Error(w, r, http.StatusConflict, "ALREADY_PROCESSED", "upload was already processed", nil)
		default:
			writeBulkValidationError(w, r, err)
		}
		return
	}
	observability.Audit(r, "bulk_upload_processed",
		"carrier_id", claims.CarrierID, "upload_id", uploadID,
		"processed", result.Processed, "failed", result.Failed)
	response.JSON(w, r, http.StatusOK, result)
}

// History lists past processing runs for the carrier.
func (h *BulkHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, _, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	page, err := h.bulk.History(claims.CarrierID, queryInt(r, "page", 1), queryInt(r, "per_page", 20))
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "history lookup failed", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func writeBulkValidationError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		missing  *service.MissingColumnsError
		invalid  *service.InvalidStatusValuesError
		tooLarge *service.BatchTooLargeError
	)
	switch {
	case errors.As(err, &missing):
		response.Error(w, r, http.StatusBadRequest, "MISSING_COLUMNS", missing.Error(),
			map[string][]string{"columns": missing.Columns})
	case errors.Is(err, service.ErrEmptyInput):
		response.Error(w, r, http.StatusBadRequest, "EMPTY_INPUT", "upload contains no data rows", nil)
	case errors.As(err, &invalid):
		response.Error(w, r, http.StatusBadRequest, "INVALID_STATUS_VALUES", invalid.Error(),
			map[string][]string{"values": invalid.Values})
	case errors.As(err, &tooLarge):
		response.Error(w, r, http.StatusBadRequest, "BATCH_TOO_LARGE", tooLarge.Error(),
			map[string]int{"rows": tooLarge.Rows, "limit": tooLarge.Limit})
	case errors.Is(err, service.ErrUpstream):
		response.Error(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", "upstream system unavailable", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "bulk operation failed", nil)
	}
}
