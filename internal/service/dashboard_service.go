package service

import (
	"context"
	"time"

	"github.com/tfst/carrier-portal/internal/crm"
)

// DashboardKPIs is the aggregate view backing the portal landing page.
type DashboardKPIs struct {
	TotalShipments   int            `json:"total_shipments"`
	ByStatus         map[string]int `json:"by_status"`
	InTransit        int            `json:"in_transit"`
	Delayed          int            `json:"delayed"`
	DeliveredToday   int            `json:"delivered_today"`
	OverdueDelivery  int            `json:"overdue_delivery"`
	RealtimeCoverage int            `json:"realtime_coverage"`
	OnTimePercent    float64        `json:"on_time_percent"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

// DashboardService computes KPIs over the carrier's merged fleet.
type DashboardService struct {
	shipments *ShipmentService
	now       func() time.Time
}

func NewDashboardService(shipments *ShipmentService) *DashboardService {
	return &DashboardService{shipments: shipments, now: time.Now}
}

func (s *DashboardService) KPIs(ctx context.Context, cred *crm.Credential, carrierID string) (*DashboardKPIs, error) {
	fleet, err := s.shipments.Fleet(ctx, cred, carrierID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	today := now.Truncate(24 * time.Hour)
	kpis := &DashboardKPIs{
		TotalShipments: len(fleet),
		ByStatus:       map[string]int{},
		GeneratedAt:    now,
	}

	onTimeCandidates := 0
	onTime := 0
	for _, sh := range fleet {
		kpis.ByStatus[sh.Status]++
		switch sh.Status {
		case "In Transit":
			kpis.InTransit++
		case "Delayed":
			kpis.Delayed++
		case "Delivered", "Unloading complete":
			if !sh.LastUpdated.IsZero() && !sh.LastUpdated.Before(today) {
				kpis.DeliveredToday++
			}
		}
		if sh.RealtimeAvailable {
			kpis.RealtimeCoverage++
		}

		required, ok := parseCRMDate(sh.RequiredDeliveryDate)
		if !ok {
			continue
		}
		delivered := sh.Status == "Delivered" || sh.Status == "Unloading complete"
		if !delivered && now.After(required.Add(24*time.Hour)) {
			kpis.OverdueDelivery++
		}
		if delivered {
			onTimeCandidates++
			if sh.LastUpdated.IsZero() || !sh.LastUpdated.After(required.Add(24*time.Hour)) {
				onTime++
			}
		}
	}
	if onTimeCandidates > 0 {
		kpis.OnTimePercent = float64(onTime) / float64(onTimeCandidates) * 100
	}
	return kpis, nil
}

// parseCRMDate reads the CRM's date-only fields.
func parseCRMDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
