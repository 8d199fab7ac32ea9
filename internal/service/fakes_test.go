package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tfst/carrier-portal/internal/crm"
	"github.com/tfst/carrier-portal/internal/realtime"
)

// fakeCRM is an in-memory crm.Client for service tests. Error fields let a
// test fail individual operations.
type fakeCRM struct {
	mu sync.Mutex

	userInfo *crm.UserInfo
	carrier  *crm.Carrier

	shipments []crm.Shipment
	stages    map[string][]crm.Stage

	userInfoErr error
	carrierErr  error
	listErr     error
	getErr      error
	updateErr   error
	eventErr    error

	statusUpdates  map[string][]crm.StatusUpdate
	trackingEvents []crm.TrackingEvent
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		stages:        map[string][]crm.Stage{},
		statusUpdates: map[string][]crm.StatusUpdate{},
	}
}

func (f *fakeCRM) FetchUserInfo(ctx context.Context, cred *crm.Credential) (*crm.UserInfo, error) {
	if f.userInfoErr != nil {
		return nil, f.userInfoErr
	}
	if f.userInfo == nil {
		return nil, errors.New("no user info configured")
	}
	return f.userInfo, nil
}

func (f *fakeCRM) FindCarrierForUser(ctx context.Context, cred *crm.Credential, userID string) (*crm.Carrier, error) {
	if f.carrierErr != nil {
		return nil, f.carrierErr
	}
	if f.carrier == nil {
		return nil, crm.ErrCarrierNotFound
	}
	return f.carrier, nil
}

func (f *fakeCRM) ListCarrierShipments(ctx context.Context, cred *crm.Credential, carrierID string, limit int) ([]crm.Shipment, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]crm.Shipment, 0, len(f.shipments))
	for _, s := range f.shipments {
		if s.CarrierID == carrierID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeCRM) GetShipment(ctx context.Context, cred *crm.Credential, key string) (*crm.Shipment, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.shipments {
		if f.shipments[i].ID == key || f.shipments[i].Name == key {
			s := f.shipments[i]
			return &s, nil
		}
	}
	return nil, crm.ErrShipmentNotFound
}

func (f *fakeCRM) ListShipmentStages(ctx context.Context, cred *crm.Credential, shipmentID string) ([]crm.Stage, error) {
	return f.stages[shipmentID], nil
}

func (f *fakeCRM) UpdateShipmentStatus(ctx context.Context, cred *crm.Credential, key string, update crm.StatusUpdate) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.shipments {
		if f.shipments[i].ID == key || f.shipments[i].Name == key {
			f.shipments[i].Status = update.Status
			f.statusUpdates[f.shipments[i].ID] = append(f.statusUpdates[f.shipments[i].ID], update)
			return nil
		}
	}
	return crm.ErrShipmentNotFound
}

func (f *fakeCRM) CreateTrackingEvent(ctx context.Context, cred *crm.Credential, event crm.TrackingEvent) error {
	if f.eventErr != nil {
		return f.eventErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trackingEvents = append(f.trackingEvents, event)
	return nil
}

// fakeRealtime is an in-memory realtime.Store.
type fakeRealtime struct {
	mu sync.Mutex

	tracking  map[string]*realtime.TrackingRecord
	history   map[string][]realtime.HistoryEntry
	documents map[string][]realtime.Document

	getErr     error
	carrierErr error
	saveErr    error
	historyErr error
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{
		tracking:  map[string]*realtime.TrackingRecord{},
		history:   map[string][]realtime.HistoryEntry{},
		documents: map[string][]realtime.Document{},
	}
}

func (f *fakeRealtime) GetTracking(ctx context.Context, shipmentID string) (*realtime.TrackingRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.tracking[shipmentID]
	if !ok {
		return nil, realtime.ErrNotTracked
	}
	copied := *rec
	return &copied, nil
}

func (f *fakeRealtime) GetCarrierTracking(ctx context.Context, carrierID string) (map[string]*realtime.TrackingRecord, error) {
	if f.carrierErr != nil {
		return nil, f.carrierErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]*realtime.TrackingRecord{}
	for id, rec := range f.tracking {
		if rec.CarrierID == carrierID {
			copied := *rec
			out[id] = &copied
		}
	}
	return out, nil
}

func (f *fakeRealtime) SaveTracking(ctx context.Context, rec *realtime.TrackingRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *rec
	f.tracking[rec.ShipmentID] = &copied
	return nil
}

func (f *fakeRealtime) AppendHistory(ctx context.Context, shipmentID string, entry realtime.HistoryEntry) error {
	if f.historyErr != nil {
		return f.historyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history[shipmentID] = append([]realtime.HistoryEntry{entry}, f.history[shipmentID]...)
	return nil
}

func (f *fakeRealtime) ListHistory(ctx context.Context, shipmentID string, limit int) ([]realtime.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries := f.history[shipmentID]
	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}
	out := make([]realtime.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (f *fakeRealtime) SaveDocument(ctx context.Context, doc realtime.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.documents[doc.ShipmentID] = append(f.documents[doc.ShipmentID], doc)
	return nil
}

func (f *fakeRealtime) ListDocuments(ctx context.Context, shipmentID string) ([]realtime.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	docs := make([]realtime.Document, len(f.documents[shipmentID]))
	copy(docs, f.documents[shipmentID])
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	return docs, nil
}

// fakeFileStore is an in-memory filestore.Store.
type fakeFileStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	saveErr error
	seq     int
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{objects: map[string][]byte{}}
}

func (f *fakeFileStore) Save(ctx context.Context, carrierID, filename string, payload []byte) (string, error) {
	if f.saveErr != nil {
		return "", f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	key := fmt.Sprintf("carriers/%s/uploads/%d_%s", carrierID, f.seq, filename)
	stored := make([]byte, len(payload))
	copy(stored, payload)
	f.objects[key] = stored
	return key, nil
}

func (f *fakeFileStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.objects[key]
	if !ok {
		return nil, errors.New("object not found")
	}
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

func (f *fakeFileStore) List(ctx context.Context, carrierID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := "carriers/" + carrierID + "/"
	var keys []string
	for k := range f.objects {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
