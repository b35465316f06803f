// Package syncstate holds the per-connection synchronization state shared
// across runs: the run guard flag, the last-synced watermark and the set of
// receipts deferred because payment had not cleared.
//
// The key scheme and value encodings match the existing deployment exactly:
//
//	{connectionID}:is_running      "True" / "False"
//	{connectionID}:last_updated    epoch seconds, decimal
//	{connectionID}:unpaid_receipts comma-joined receipt ids
package syncstate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Store reads and writes the sync state of shop connections.
type Store struct {
	kv KV
}

// NewStore creates a sync state store over the given KV backend.
func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// IsRunning reports whether a sync cycle is currently flagged as running for
// the connection. The flag is advisory: checking and setting are two separate
// KV operations, so two triggers racing between them can both proceed.
func (s *Store) IsRunning(ctx context.Context, connectionID string) (bool, error) {
	val, ok, err := s.kv.Get(ctx, connectionID+":is_running")
	if err != nil {
		return false, fmt.Errorf("failed to read run flag: %w", err)
	}
	return ok && val == "True", nil
}

// SetRunning sets or clears the run flag for the connection.
func (s *Store) SetRunning(ctx context.Context, connectionID string, running bool) error {
	val := "False"
	if running {
		val = "True"
	}
	if err := s.kv.Set(ctx, connectionID+":is_running", val); err != nil {
		return fmt.Errorf("failed to write run flag: %w", err)
	}
	return nil
}

// LastUpdated returns the watermark of the last fully successful sync, or nil
// if the connection has never been synced.
func (s *Store) LastUpdated(ctx context.Context, connectionID string) (*int64, error) {
	val, ok, err := s.kv.Get(ctx, connectionID+":last_updated")
	if err != nil {
		return nil, fmt.Errorf("failed to read watermark: %w", err)
	}
	if !ok || val == "" {
		return nil, nil
	}
	ts, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed watermark %q: %w", val, err)
	}
	return &ts, nil
}

// SetLastUpdated advances the watermark for the connection.
func (s *Store) SetLastUpdated(ctx context.Context, connectionID string, ts int64) error {
	if err := s.kv.Set(ctx, connectionID+":last_updated", strconv.FormatInt(ts, 10)); err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	return nil
}

// UnpaidReceipts returns the receipt ids deferred from previous cycles.
func (s *Store) UnpaidReceipts(ctx context.Context, connectionID string) ([]int64, error) {
	val, ok, err := s.kv.Get(ctx, connectionID+":unpaid_receipts")
	if err != nil {
		return nil, fmt.Errorf("failed to read deferred receipts: %w", err)
	}
	if !ok || val == "" {
		return nil, nil
	}
	parts := strings.Split(val, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed deferred receipt id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// SetUnpaidReceipts replaces the deferred receipt id set for the connection.
func (s *Store) SetUnpaidReceipts(ctx context.Context, connectionID string, ids []int64) error {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	if err := s.kv.Set(ctx, connectionID+":unpaid_receipts", strings.Join(parts, ",")); err != nil {
		return fmt.Errorf("failed to write deferred receipts: %w", err)
	}
	return nil
}
