// Package router implements rule evaluation and destination dispatch
// for MIDI messages crossing the mesh, per spec.md §4.9, plus the
// network-wide loop-prevention forwarding context of §4.10.
package router

import (
	"sort"
	"sync"

	"midimesh/internal/midi"
)

// ruleChangeBufferCap bounds the per-subscriber channel the Table fans
// rule-set changes out to, grounded on the teacher's watch.Broker
// subscriber buffering (internal/watch/broker.go).
const ruleChangeBufferCap = 32

// Table is the router's in-memory routing rule set, indexed by source
// device for the §4.9 rule-evaluation scan. It is the snapshot half of
// the snapshot-plus-subscription shape described in SPEC_FULL.md's
// rulestore module; rulestore.Store owns durability, Table owns the
// hot-path lookup structure the router actually scans.
type Table struct {
	mu      sync.RWMutex
	byRule  map[string]*midi.RoutingRule
	bySrc   map[midi.DeviceKey][]*midi.RoutingRule
	subs    map[uint64]chan struct{}
	nextSub uint64
}

func NewTable() *Table {
	return &Table{
		byRule: make(map[string]*midi.RoutingRule),
		bySrc:  make(map[midi.DeviceKey][]*midi.RoutingRule),
		subs:   make(map[uint64]chan struct{}),
	}
}

// LoadSnapshot replaces the table's contents wholesale, used once at
// startup to repopulate from rulestore.Store.Snapshot.
func (t *Table) LoadSnapshot(rules []midi.RoutingRule) {
	t.mu.Lock()
	t.byRule = make(map[string]*midi.RoutingRule, len(rules))
	t.bySrc = make(map[midi.DeviceKey][]*midi.RoutingRule)
	for i := range rules {
		r := &rules[i]
		t.byRule[r.RuleID] = r
		t.bySrc[r.SourceDeviceKey] = append(t.bySrc[r.SourceDeviceKey], r)
	}
	for key := range t.bySrc {
		sortByPriorityDesc(t.bySrc[key])
	}
	t.mu.Unlock()
	t.notify()
}

// Upsert adds or replaces a rule by RuleID.
func (t *Table) Upsert(rule midi.RoutingRule) {
	t.mu.Lock()
	if existing, ok := t.byRule[rule.RuleID]; ok {
		t.removeFromSrcLocked(existing)
	}
	r := rule
	t.byRule[r.RuleID] = &r
	t.bySrc[r.SourceDeviceKey] = append(t.bySrc[r.SourceDeviceKey], &r)
	sortByPriorityDesc(t.bySrc[r.SourceDeviceKey])
	t.mu.Unlock()
	t.notify()
}

// Delete removes a rule by RuleID. Deleting a RuleID that does not
// exist is a no-op.
func (t *Table) Delete(ruleID string) {
	t.mu.Lock()
	existing, ok := t.byRule[ruleID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.byRule, ruleID)
	t.removeFromSrcLocked(existing)
	t.mu.Unlock()
	t.notify()
}

// SetEnabled toggles a rule's Enabled flag in place.
func (t *Table) SetEnabled(ruleID string, enabled bool) {
	t.mu.Lock()
	if r, ok := t.byRule[ruleID]; ok {
		r.Enabled = enabled
	}
	t.mu.Unlock()
	t.notify()
}

func (t *Table) removeFromSrcLocked(r *midi.RoutingRule) {
	list := t.bySrc[r.SourceDeviceKey]
	for i, candidate := range list {
		if candidate.RuleID == r.RuleID {
			t.bySrc[r.SourceDeviceKey] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(t.bySrc[r.SourceDeviceKey]) == 0 {
		delete(t.bySrc, r.SourceDeviceKey)
	}
}

// MatchesFor returns a value-copy snapshot of the rules sourced from
// key, in descending-priority order, the scan order spec.md §4.9
// requires. Copies are returned (rather than the table's live
// pointers) so a caller holding them across its own dispatch logic
// never races the table's own writers; statistics updates go back
// through RecordResult instead of being written into the copy.
func (t *Table) MatchesFor(key midi.DeviceKey) []midi.RoutingRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	list := t.bySrc[key]
	out := make([]midi.RoutingRule, len(list))
	for i, r := range list {
		out[i] = *r
	}
	return out
}

// RecordResult applies one rule-evaluation outcome to the persistent
// rule identified by ruleID. A ruleID with no matching entry (deleted
// concurrently with the dispatch that matched it) is a silent no-op.
func (t *Table) RecordResult(ruleID string, routed bool, whenUnixNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.byRule[ruleID]
	if !ok {
		return
	}
	if routed {
		r.Statistics.MessagesRouted++
		r.Statistics.LastMatchUnixNs = whenUnixNs
	} else {
		r.Statistics.MessagesDropped++
	}
}

// Snapshot returns every rule currently held, for control-surface
// ListRoutes queries.
func (t *Table) Snapshot() []midi.RoutingRule {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]midi.RoutingRule, 0, len(t.byRule))
	for _, r := range t.byRule {
		out = append(out, *r)
	}
	return out
}

// Subscribe returns a channel that receives a notification (not the
// changed rule itself — callers re-Snapshot) whenever the rule set
// changes. The channel is closed when ctxDone fires.
func (t *Table) Subscribe(ctxDone <-chan struct{}) <-chan struct{} {
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	ch := make(chan struct{}, ruleChangeBufferCap)
	t.subs[id] = ch
	t.mu.Unlock()

	go func() {
		<-ctxDone
		t.mu.Lock()
		delete(t.subs, id)
		t.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (t *Table) notify() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ch := range t.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func sortByPriorityDesc(rules []*midi.RoutingRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})
}
