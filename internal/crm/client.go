package crm

import (
	"context"
	"errors"
)

var (
	ErrShipmentNotFound = errors.New("shipment not found")
	ErrCarrierNotFound  = errors.New("carrier not found")
)

// Client is the CRM query/update surface the portal consumes. Every call
// addresses the instance named by the credential and authenticates with its
// access token; callers are expected to run the credential through the auth
// service's refresh check first.
type Client interface {
	FetchUserInfo(ctx context.Context, cred *Credential) (*UserInfo, error)
	FindCarrierForUser(ctx context.Context, cred *Credential, userID string) (*Carrier, error)
	ListCarrierShipments(ctx context.Context, cred *Credential, carrierID string, limit int) ([]Shipment, error)
	GetShipment(ctx context.Context, cred *Credential, key string) (*Shipment, error)
	ListShipmentStages(ctx context.Context, cred *Credential, shipmentID string) ([]Stage, error)
	UpdateShipmentStatus(ctx context.Context, cred *Credential, key string, update StatusUpdate) error
	CreateTrackingEvent(ctx context.Context, cred *Credential, event TrackingEvent) error
}
