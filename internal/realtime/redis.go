package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const historyCap = 200

// RedisStore keeps one JSON tracking record per shipment, a per-carrier
// index set for fleet-wide reads, and a capped history list per shipment.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "realtime"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) GetTracking(ctx context.Context, shipmentID string) (*TrackingRecord, error) {
	raw, err := s.client.Get(ctx, s.trackingKey(shipmentID)).Result()
	if err == redis.Nil {
		return nil, ErrNotTracked
	}
	if err != nil {
		return nil, fmt.Errorf("get tracking record: %w", err)
	}
	var rec TrackingRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode tracking record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) GetCarrierTracking(ctx context.Context, carrierID string) (map[string]*TrackingRecord, error) {
	ids, err := s.client.SMembers(ctx, s.carrierIndexKey(carrierID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list carrier tracking index: %w", err)
	}
	out := make(map[string]*TrackingRecord, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.trackingKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch carrier tracking records: %w", err)
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec TrackingRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		out[ids[i]] = &rec
	}
	return out, nil
}

// SaveTracking merges the incoming record into any stored one: zero-value
// fields never clobber previously written data.
func (s *RedisStore) SaveTracking(ctx context.Context, rec *TrackingRecord) error {
	existing, err := s.GetTracking(ctx, rec.ShipmentID)
	if err != nil && err != ErrNotTracked {
		return err
	}
	merged := *rec
	if existing != nil {
		if merged.Status == "" {
			merged.Status = existing.Status
		}
		if merged.Location == nil {
			merged.Location = existing.Location
		}
		if merged.DriverInfo == nil {
			merged.DriverInfo = existing.DriverInfo
		}
		if merged.CarrierID == "" {
			merged.CarrierID = existing.CarrierID
		}
		if merged.LastUpdated.IsZero() {
			merged.LastUpdated = existing.LastUpdated
		}
	}
	encoded, err := json.Marshal(&merged)
	if err != nil {
		return fmt.Errorf("encode tracking record: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.trackingKey(merged.ShipmentID), encoded, 0)
	if merged.CarrierID != "" {
		pipe.SAdd(ctx, s.carrierIndexKey(merged.CarrierID), merged.ShipmentID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save tracking record: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendHistory(ctx context.Context, shipmentID string, entry HistoryEntry) error {
	encoded, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("encode history entry: %w", err)
	}
	key := s.historyKey(shipmentID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, encoded)
	pipe.LTrim(ctx, key, 0, historyCap-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append history entry: %w", err)
	}
	return nil
}

// ListHistory returns entries newest first.
func (s *RedisStore) ListHistory(ctx context.Context, shipmentID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 || limit > historyCap {
		limit = historyCap
	}
	raws, err := s.client.LRange(ctx, s.historyKey(shipmentID), 0, int64(limit-1)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list history entries: %w", err)
	}
	entries := make([]HistoryEntry, 0, len(raws))
	for _, raw := range raws {
		var entry HistoryEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) SaveDocument(ctx context.Context, doc Document) error {
	encoded, err := json.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := s.client.HSet(ctx, s.documentsKey(doc.ShipmentID), doc.ID, encoded).Err(); err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

func (s *RedisStore) ListDocuments(ctx context.Context, shipmentID string) ([]Document, error) {
	raws, err := s.client.HGetAll(ctx, s.documentsKey(shipmentID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	docs := make([]Document, 0, len(raws))
	for _, raw := range raws {
		var doc Document
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UploadedAt.After(docs[j].UploadedAt) })
	return docs, nil
}

func (s *RedisStore) trackingKey(shipmentID string) string {
	return fmt.Sprintf("%s:tracking:%s", s.prefix, shipmentID)
}

func (s *RedisStore) carrierIndexKey(carrierID string) string {
	return fmt.Sprintf("%s:carrier:%s", s.prefix, carrierID)
}

func (s *RedisStore) historyKey(shipmentID string) string {
	return fmt.Sprintf("%s:history:%s", s.prefix, shipmentID)
}

func (s *RedisStore) documentsKey(shipmentID string) string {
	return fmt.Sprintf("%s:documents:%s", s.prefix, shipmentID)
}
