// Package rulestore persists routing rules to a local SQLite database,
// grounded on the teacher pack's modernc.org/sqlite-backed state store:
// a pure-Go driver, no cgo, matching the teacher's static-binary goal.
package rulestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"midimesh/internal/midi"
)

const schema = `
CREATE TABLE IF NOT EXISTS routing_rules (
	rule_id             TEXT PRIMARY KEY,
	source_node_uuid    TEXT NOT NULL,
	source_device_id    INTEGER NOT NULL,
	dest_node_uuid      TEXT NOT NULL,
	dest_device_id      INTEGER NOT NULL,
	priority            INTEGER NOT NULL,
	enabled             INTEGER NOT NULL,
	channel_filter      TEXT NOT NULL DEFAULT '',
	message_type_filter TEXT NOT NULL DEFAULT '',
	messages_routed     INTEGER NOT NULL DEFAULT 0,
	messages_dropped    INTEGER NOT NULL DEFAULT 0,
	last_match_unix_ns  INTEGER NOT NULL DEFAULT 0
);
`

// Store is the SQLite-backed persistence layer for midi.RoutingRule.
// It is safe for concurrent use; callers needing a consistent
// in-memory view should call Snapshot rather than racing individual
// reads against concurrent Upsert/Delete calls.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or reuses the SQLite database at dataDir/rules.db.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "rules.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rule store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate rule store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Upsert persists rule. When a row with the same RuleID exists, its rule
// fields are overwritten and its stored statistics are kept.
func (s *Store) Upsert(ctx context.Context, rule midi.RoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	channelFilter, err := encodeUint8Set(rule.ChannelFilter)
	if err != nil {
		return err
	}
	typeFilter, err := encodeUint8Set(rule.MessageTypeFilter)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routing_rules (
			rule_id, source_node_uuid, source_device_id, dest_node_uuid, dest_device_id,
			priority, enabled, channel_filter, message_type_filter,
			messages_routed, messages_dropped, last_match_unix_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(rule_id) DO UPDATE SET
			source_node_uuid=excluded.source_node_uuid,
			source_device_id=excluded.source_device_id,
			dest_node_uuid=excluded.dest_node_uuid,
			dest_device_id=excluded.dest_device_id,
			priority=excluded.priority,
			enabled=excluded.enabled,
			channel_filter=excluded.channel_filter,
			message_type_filter=excluded.message_type_filter
	`,
		rule.RuleID,
		rule.SourceDeviceKey.NodeUUID.String(), rule.SourceDeviceKey.DeviceID,
		rule.DestDeviceKey.NodeUUID.String(), rule.DestDeviceKey.DeviceID,
		rule.Priority, boolToInt(rule.Enabled), channelFilter, typeFilter,
		rule.Statistics.MessagesRouted, rule.Statistics.MessagesDropped, rule.Statistics.LastMatchUnixNs,
	)
	return err
}

// RecordMatch persists updated statistics for rule ruleID. Called
// off the hot path (batched or best-effort), since the router's
// in-memory RoutingRule.Statistics is the source of truth during
// normal operation.
func (s *Store) RecordMatch(ctx context.Context, ruleID string, stats midi.RuleStatistics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		UPDATE routing_rules SET messages_routed=?, messages_dropped=?, last_match_unix_ns=?
		WHERE rule_id=?`,
		stats.MessagesRouted, stats.MessagesDropped, stats.LastMatchUnixNs, ruleID)
	return err
}

// Delete removes a rule. A missing ruleID is not an error.
func (s *Store) Delete(ctx context.Context, ruleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM routing_rules WHERE rule_id=?`, ruleID)
	return err
}

// SetEnabled toggles a rule without touching its other fields.
func (s *Store) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `UPDATE routing_rules SET enabled=? WHERE rule_id=?`, boolToInt(enabled), ruleID)
	return err
}

// Snapshot loads every persisted rule, for use repopulating the
// router's in-memory rule table at startup.
func (s *Store) Snapshot(ctx context.Context) ([]midi.RoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, source_node_uuid, source_device_id, dest_node_uuid, dest_device_id,
		       priority, enabled, channel_filter, message_type_filter,
		       messages_routed, messages_dropped, last_match_unix_ns
		FROM routing_rules`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []midi.RoutingRule
	for rows.Next() {
		var (
			r                          midi.RoutingRule
			srcUUID, dstUUID           string
			enabled                    int
			channelFilter, typeFilter  string
		)
		if err := rows.Scan(
			&r.RuleID, &srcUUID, &r.SourceDeviceKey.DeviceID, &dstUUID, &r.DestDeviceKey.DeviceID,
			&r.Priority, &enabled, &channelFilter, &typeFilter,
			&r.Statistics.MessagesRouted, &r.Statistics.MessagesDropped, &r.Statistics.LastMatchUnixNs,
		); err != nil {
			return nil, err
		}
		if r.SourceDeviceKey.NodeUUID, err = uuid.Parse(srcUUID); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.RuleID, err)
		}
		if r.DestDeviceKey.NodeUUID, err = uuid.Parse(dstUUID); err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.RuleID, err)
		}
		r.Enabled = enabled != 0
		if r.ChannelFilter, err = decodeUint8Set(channelFilter); err != nil {
			return nil, err
		}
		if r.MessageTypeFilter, err = decodeUint8Set(typeFilter); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func encodeUint8Set(set map[uint8]struct{}) (string, error) {
	if len(set) == 0 {
		return "", nil
	}
	vals := make([]int, 0, len(set))
	for v := range set {
		vals = append(vals, int(v))
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeUint8Set(s string) (map[uint8]struct{}, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var vals []int
	if err := json.Unmarshal([]byte(s), &vals); err != nil {
		return nil, err
	}
	out := make(map[uint8]struct{}, len(vals))
	for _, v := range vals {
		out[uint8(v)] = struct{}{}
	}
	return out, nil
}
