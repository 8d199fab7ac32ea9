package service

import (
	"sort"
	"strings"

	"github.com/tfst/carrier-portal/internal/crm"
	"github.com/tfst/carrier-portal/internal/domain"
	"github.com/tfst/carrier-portal/internal/realtime"
)

// MergeShipments overlays realtime tracking onto the authoritative CRM
// records. The CRM record id is the canonical join key; the human-readable
// name is tried only when no id-keyed tracking record exists. A shipment
// without tracking keeps its CRM status and RealtimeAvailable=false.
func MergeShipments(crmShipments []crm.Shipment, tracking map[string]*realtime.TrackingRecord) []domain.Shipment {
	merged := make([]domain.Shipment, 0, len(crmShipments))
	for i := range crmShipments {
		merged = append(merged, MergeShipment(&crmShipments[i], lookupTracking(&crmShipments[i], tracking)))
	}
	return merged
}

func lookupTracking(s *crm.Shipment, tracking map[string]*realtime.TrackingRecord) *realtime.TrackingRecord {
	if tracking == nil {
		return nil
	}
	if rec, ok := tracking[s.ID]; ok {
		return rec
	}
	return tracking[s.Name]
}

// MergeShipment builds the merged view of one shipment. Realtime fields only
// override when present: a tracking record with an empty status never blanks
// the CRM status.
func MergeShipment(s *crm.Shipment, rec *realtime.TrackingRecord) domain.Shipment {
	out := domain.Shipment{
		ID:                    s.ID,
		Name:                  s.Name,
		CarrierID:             s.CarrierID,
		Status:                s.Status,
		ShipmentType:          s.ShipmentType,
		ProjectReference:      s.ProjectReference,
		ServiceLevel:          s.ServiceLevel,
		TotalWeight:           s.TotalWeight,
		TotalVolume:           s.TotalVolume,
		RequiredDeliveryDate:  s.RequiredDeliveryDate,
		PredictedDeliveryDate: s.PredictedDeliveryDate,
		SpecialInstructions:   s.SpecialInstructions,
	}
	if s.DriverName != "" || s.DriverPhone != "" {
		out.DriverInfo = &domain.DriverInfo{Name: s.DriverName, Phone: s.DriverPhone}
	}
	if rec == nil {
		return out
	}
	out.RealtimeAvailable = true
	if rec.Status != "" {
		out.Status = rec.Status
	}
	if rec.Location != nil {
		loc := *rec.Location
		out.Location = &loc
	}
	if !rec.LastUpdated.IsZero() {
		out.LastUpdated = rec.LastUpdated
	}
	if rec.DriverInfo != nil {
		info := *rec.DriverInfo
		out.DriverInfo = &info
	}
	return out
}

// FilterByStatus keeps shipments whose merged status matches exactly.
func FilterByStatus(shipments []domain.Shipment, status string) []domain.Shipment {
	if status == "" {
		return shipments
	}
	out := shipments[:0:0]
	for _, s := range shipments {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// SearchShipments does a case-insensitive substring match over name and
// project reference.
func SearchShipments(shipments []domain.Shipment, query string) []domain.Shipment {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return shipments
	}
	out := shipments[:0:0]
	for _, s := range shipments {
		if strings.Contains(strings.ToLower(s.Name), q) ||
			strings.Contains(strings.ToLower(s.ProjectReference), q) {
			out = append(out, s)
		}
	}
	return out
}

// SortByLastUpdated orders most recently updated first, with untracked
// shipments after tracked ones, keeping the CRM order within each group.
func SortByLastUpdated(shipments []domain.Shipment) {
	sort.SliceStable(shipments, func(i, j int) bool {
		return shipments[i].LastUpdated.After(shipments[j].LastUpdated)
	})
}

// PaginateShipments slices in memory over the merged list.
func PaginateShipments(shipments []domain.Shipment, page, perPage int) ([]domain.Shipment, int) {
	total := len(shipments)
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	start := (page - 1) * perPage
	if start >= total {
		return []domain.Shipment{}, total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	return shipments[start:end], total
}
