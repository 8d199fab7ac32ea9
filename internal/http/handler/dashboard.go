package handler

import (
	"net/http"

	"github.com/tfst/carrier-portal/internal/http/response"
	"github.com/tfst/carrier-portal/internal/service"
)

// DashboardHandler serves the KPI aggregate.
type DashboardHandler struct {
	dashboard *service.DashboardService
	auth      *service.AuthService
}

func NewDashboardHandler(dashboard *service.DashboardService, auth *service.AuthService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, auth: auth}
}

func (h *DashboardHandler) KPIs(w http.ResponseWriter, r *http.Request) {
	claims, cred, ok := requestAuth(w, r, h.auth)
	if !ok {
		return
	}
	kpis, err := h.dashboard.KPIs(r.Context(), cred, claims.CarrierID)
	if err != nil {
		writeShipmentError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, kpis)
}
