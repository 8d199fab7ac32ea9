package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/observability"
	"github.com/tfst/carrier-portal/internal/service"
)

const maxDocumentBytes = 10 << 20

// ShipmentHandler serves the merged shipment views and the single-shipment
// mutations.
type ShipmentHandler struct {
	shipments *service.ShipmentService
	auth      *service.AuthService
}

func NewShipmentHandler(shipments *service.ShipmentService, auth *service.AuthService) *ShipmentHandler {
	return &ShipmentHandler{shipments: shipments, auth: auth}
}

type shipmentPage struct {
	Items   []domain.Shipment `json:"items"`
	Total   int               `json:"total"`
	Page    int               `json:"page"`
	PerPage int               `json:"per_page"`
}

func (h *ShipmentHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, cred, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	search := r.URL.Query().Get("search")
	if search == "" {
		search = r.URL.Query().Get("q")
	}
	// Single-character lookups are noise, not queries.
	if len(search) < 2 {
		search = ""
	}
	opts := service.ListOptions{
		Status:  r.URL.Query().Get("status"),
		Search:  search,
		Page:    queryInt(r, "page", 1),
		PerPage: queryInt(r, "per_page", 20),
	}
	if limit := queryInt(r, "limit", 0); limit > 0 {
		opts.PerPage = limit
	}
	items, total, err := h.shipments.List(r.Context(), cred, claims.CarrierID, opts)
	if err != nil {
		writeShipmentError(w, r, err)
		return
	}
	if items == nil {
		items = []domain.Shipment{}
	}
	response.JSON(w, r, http.StatusOK, shipmentPage{
		Items:   items,
		Total:   total,
		Page:    opts.Page,
		PerPage: opts.PerPage,
	})
}

// Statuses publishes the fixed status enumeration for frontend dropdowns.
func (h *ShipmentHandler) Statuses(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, map[string][]string{"statuses": domain.ValidStatuses})
}

func (h *ShipmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	claims, cred, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	shipment, stages, err := h.shipments.Get(r.Context(), cred, claims.CarrierID, key)
	if err != nil {
		writeShipmentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"shipment": shipment,
		"stages":   stages,
	})
}

type statusUpdateRequest struct {
	Status   string             `json:"status"`
	Location *domain.Location   `json:"location,omitempty"`
	Driver   *domain.DriverInfo `json:"driver,omitempty"`
	Notes    string             `json:"notes,omitempty"`
}

func (h *ShipmentHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	claims, cred, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	var req statusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "malformed request body", nil)
		return
	}
	key := chi.URLParam(r, "key")
	err := h.shipments.UpdateStatus(r.Context(), cred, claims.CarrierID, key, service.StatusChange{
		Status:   req.Status,
		Location: req.Location,
		Driver:   req.Driver,
		Notes:    req.Notes,
	})
	if err != nil {
		writeStatusChangeError(w, r, err)
		return
	}
	observability.Audit(r, "shipment_status_updated",
		"carrier_id", claims.CarrierID, "shipment_key", key, "status", req.Status)
	response.JSON(w, r, http.StatusOK, map[string]any{"updated": true, "status": req.Status})
}

func (h *ShipmentHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, cred, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	entries, err := h.shipments.History(r.Context(), cred, claims.CarrierID, key, queryInt(r, "limit", 50))
	if err != nil {
		writeShipmentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"history": entries})
}

func (h *ShipmentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	claims, cred, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	key := chi.URLParam(r, "key")
	docs, err := h.shipments.ListDocuments(r.Context(), cred, claims.CarrierID, key)
	if err != nil {
		writeShipmentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"documents": docs})
}

func (h *ShipmentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	claims, cred, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxDocumentBytes); err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with a file field", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "missing file field", nil)
		return
	}
	defer file.Close()
	payload, err := io.ReadAll(io.LimitReader(file, maxDocumentBytes+1))
	if err != nil {
		response.Error(w, r, http.StatusBadRequest, "INVALID_BODY", "unreadable file payload", nil)
		return
	}
	if len(payload) > maxDocumentBytes {
		response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "document exceeds the size limit", nil)
		return
	}

	key := chi.URLParam(r, "key")
	doc, err := h.shipments.UploadDocument(
		r.Context(), cred, claims.CarrierID, key,
		r.FormValue("type"), header.Filename, header.Header.Get("Content-Type"),
		claims.Subject, payload,
	)
	if err != nil {
		writeShipmentError(w, r, err)
		return
	}
	observability.Audit(r, "document_uploaded",
		"carrier_id", claims.CarrierID, "shipment_key", key, "filename", header.Filename)
	response.JSON(w, r, http.StatusCreated, doc)
}

func writeStatusChangeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidStatus):
		response.Error(w, r, http.StatusBadRequest, "INVALID_STATUS_VALUES", "status is outside the accepted enumeration", nil)
	case errors.Is(err, domain.ErrInvalidCoordinates):
		response.Error(w, r, http.StatusBadRequest, "INVALID_COORDINATES", "coordinates out of range", nil)
	default:
		writeShipmentError(w, r, err)
	}
}
