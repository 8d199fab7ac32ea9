package domain

import (
	"errors"
	"time"
)

// ValidStatuses is the fixed shipment status enumeration shared with the CRM
// and the mobile clients writing to the real-time store. The portal accepts
// and emits these values exactly.
var ValidStatuses = []string{
	"Dispatched",
	"At pickup site",
	"Pickup Complete",
	"In Transit",
	"Delayed",
	"Arrived at site",
	"Delivered",
	"Unloading complete",
}

var ErrInvalidCoordinates = errors.New("coordinates out of range")

func IsValidStatus(status string) bool {
	for _, s := range ValidStatuses {
		if s == status {
			return true
		}
	}
	return false
}

type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (l Location) Validate() error {
	if l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}

type DriverInfo struct {
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	TruckNumber string `json:"truck_number,omitempty"`
}

// Shipment is the merged view of one shipment: CRM business fields with
// status, location and driver info overridden from the real-time store when
// a matching tracking record exists. It is constructed fresh on every read
// and never persisted.
type Shipment struct {
	ID                    string      `json:"id"`
	Name                  string      `json:"name"`
	CarrierID             string      `json:"carrier_id"`
	Status                string      `json:"status"`
	Location              *Location   `json:"location,omitempty"`
	LastUpdated           time.Time   `json:"last_updated,omitempty"`
	DriverInfo            *DriverInfo `json:"driver_info,omitempty"`
	RealtimeAvailable     bool        `json:"realtime_available"`
	ShipmentType          string      `json:"shipment_type,omitempty"`
	ProjectReference      string      `json:"project_reference,omitempty"`
	ServiceLevel          string      `json:"service_level,omitempty"`
	TotalWeight           float64     `json:"total_weight,omitempty"`
	TotalVolume           float64     `json:"total_volume,omitempty"`
	RequiredDeliveryDate  string      `json:"required_delivery_date,omitempty"`
	PredictedDeliveryDate string      `json:"predicted_delivery_date,omitempty"`
	SpecialInstructions   string      `json:"special_instructions,omitempty"`
}
