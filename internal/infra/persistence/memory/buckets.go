package memory

import (
	"encoding/json"
	"fmt"
)

// Buckets lists the snapshot sections persisted by durable stores, one row per bucket.
var Buckets = []string{"users", "prescriptions", "alerts", "predictions", "payments"}

func (s *Snapshot) bucket(name string) (any, bool) {
	switch name {
	case "users":
		return &s.Users, true
	case "prescriptions":
		return &s.Prescriptions, true
	case "alerts":
		return &s.Alerts, true
	case "predictions":
		return &s.Predictions, true
	case "payments":
		return &s.Payments, true
	}
	return nil, false
}

// EncodeBucket marshals one bucket of the snapshot to JSON.
func (s Snapshot) EncodeBucket(name string) ([]byte, error) {
	target, ok := s.bucket(name)
	if !ok {
		return nil, fmt.Errorf("unknown bucket %q", name)
	}
	data, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return data, nil
}

// DecodeBucket fills one bucket of the snapshot from JSON. Unknown buckets are
// ignored so older databases with retired buckets still load.
func (s *Snapshot) DecodeBucket(name string, payload []byte) error {
	target, ok := s.bucket(name)
	if !ok {
		return nil
	}
	if err := json.Unmarshal(payload, target); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}
