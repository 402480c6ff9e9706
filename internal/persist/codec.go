// Package persist stores cache snapshots across processes. Snapshots are
// encoded as protobuf Struct messages and kept in badger.
package persist

import (
	"fmt"
	"time"

	"github.com/kleberbaum/gqty/internal/cache"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const codecVersion = 1

// Encode serializes snap. Numbers in the cached data come back as float64.
func Encode(snap cache.Snapshot) ([]byte, error) {
	data := snap.Data
	if data == nil {
		data = map[string]any{}
	}
	entries := make([]any, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		m := map[string]any{
			"path":       e.Path,
			"updated_at": e.UpdatedAt.UTC().Format(time.RFC3339Nano),
		}
		if e.MaxAge != nil {
			m["max_age"] = e.MaxAge.String()
		}
		if e.StaleWhileRevalidate != nil {
			m["swr"] = e.StaleWhileRevalidate.String()
		}
		entries = append(entries, m)
	}
	st, err := structpb.NewStruct(map[string]any{
		"version": codecVersion,
		"data":    data,
		"entries": entries,
	})
	if err != nil {
		return nil, fmt.Errorf("persist: encode snapshot: %w", err)
	}
	return proto.MarshalOptions{Deterministic: true}.Marshal(st)
}

// Decode parses bytes written by Encode.
func Decode(b []byte) (cache.Snapshot, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(b, &st); err != nil {
		return cache.Snapshot{}, fmt.Errorf("persist: decode snapshot: %w", err)
	}
	raw := st.AsMap()
	if v, _ := raw["version"].(float64); int(v) != codecVersion {
		return cache.Snapshot{}, fmt.Errorf("persist: unsupported snapshot version %v", raw["version"])
	}
	snap := cache.Snapshot{}
	snap.Data, _ = raw["data"].(map[string]any)
	list, _ := raw["entries"].([]any)
	for i, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			return cache.Snapshot{}, fmt.Errorf("persist: entry %d is not an object", i)
		}
		e, err := decodeEntry(m)
		if err != nil {
			return cache.Snapshot{}, fmt.Errorf("persist: entry %d: %w", i, err)
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap, nil
}

func decodeEntry(m map[string]any) (cache.SnapshotEntry, error) {
	var e cache.SnapshotEntry
	e.Path, _ = m["path"].(string)
	at, _ := m["updated_at"].(string)
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return e, err
	}
	e.UpdatedAt = t
	if e.MaxAge, err = duration(m["max_age"]); err != nil {
		return e, err
	}
	if e.StaleWhileRevalidate, err = duration(m["swr"]); err != nil {
		return e, err
	}
	return e, nil
}

func duration(v any) (*time.Duration, error) {
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
