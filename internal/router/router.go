package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"midimesh/internal/logging"
	"midimesh/internal/meshnet"
	"midimesh/internal/midi"
	"midimesh/internal/transport/realtime"
	"midimesh/internal/wire"
)

// LocalSink delivers a fully routed MIDI message to a local output
// device. Its concrete implementation is the platform MIDI I/O layer,
// out of scope per spec.md §1 (Non-goals); Router only needs somewhere
// to hand bytes once it has decided the destination is local, which is
// the §4.9 local fast-path.
type LocalSink interface {
	DeliverLocal(deviceID uint16, payload []byte) error
}

// RemoteSink is the subset of a peer connection the router needs to
// hand off a message. *connection.Connection satisfies this without
// router ever importing the connection package, the same
// interface-segregation pattern connection.RealtimeSink and
// meshnet.PooledConnection already use to avoid import cycles.
type RemoteSink interface {
	SendRealtime(slot realtime.RingSlot)
	SendReliable(ctx context.Context, payload []byte) error
}

// Router evaluates routing rules against inbound MIDI messages and
// dispatches each match to its destination, exactly as spec.md §4.9.
type Router struct {
	SelfHash uint32

	Table *Table
	Pool  *meshnet.Pool
	Local LocalSink

	metrics *metrics
}

// New constructs a Router. meter may be a no-op meter (e.g.
// noop.NewMeterProvider().Meter("")) when metrics export is disabled.
func New(selfHash uint32, table *Table, pool *meshnet.Pool, local LocalSink, meter metric.Meter) (*Router, error) {
	m, err := newMetrics(meter)
	if err != nil {
		return nil, err
	}
	return &Router{SelfHash: selfHash, Table: table, Pool: pool, Local: local, metrics: m}, nil
}

// RouteLocal handles a message produced by a locally attached MIDI
// input device. There is no forwarding context yet: this is hop zero.
func (r *Router) RouteLocal(ctx context.Context, deviceID uint16, payload []byte) {
	src := midi.DeviceKey{DeviceID: deviceID}
	r.route(ctx, src, payload, nil)
}

// RouteRealtime handles a real-time datagram received from peer
// "from". pkt.Header.DeviceID is the destination device that "from"
// already resolved before sending, so on arrival it names a local
// device: the receiving node evaluates its own rules for that device
// exactly as it would for a locally attached input, which lets a
// reliable-path relay continue from here per spec.md §4.9.
func (r *Router) RouteRealtime(ctx context.Context, from uuid.UUID, pkt wire.Packet) {
	src := midi.DeviceKey{DeviceID: pkt.Header.DeviceID}
	r.route(ctx, src, pkt.Payload, pkt.Context)
}

// RouteReliable handles a reassembled reliable-transport payload from
// peer "from". Unlike the raw real-time path, reliable payloads are
// themselves wire.Packet-encoded (so DeviceID and the forwarding
// context survive the TCP hop); a payload that fails to decode as a
// packet is dropped with a warning rather than propagated as an error,
// per spec.md §4.9's "cannot be classified" failure semantics.
// pkt.Header.DeviceID is, as in RouteRealtime, the local destination
// device "from" resolved before sending.
func (r *Router) RouteReliable(ctx context.Context, from uuid.UUID, payload []byte) {
	log := logging.Component("router")
	pkt, err := wire.Decode(payload)
	if err != nil {
		log.Warn("dropping unparsable reliable payload", "peer", from, "err", err)
		r.metrics.droppedNoRoute.Add(ctx, 1)
		return
	}
	src := midi.DeviceKey{DeviceID: pkt.Header.DeviceID}
	r.route(ctx, src, pkt.Payload, pkt.Context)
}

func (r *Router) route(ctx context.Context, src midi.DeviceKey, payload []byte, fwCtx *wire.Context) {
	log := logging.Component("router")
	if len(payload) == 0 {
		log.Warn("dropping unclassifiable message: empty payload")
		r.metrics.droppedNoRoute.Add(ctx, 1)
		return
	}
	r.metrics.messagesIn.Add(ctx, 1)

	status := payload[0]
	for _, rule := range r.Table.MatchesFor(src) {
		if !rule.Matches(status) {
			continue
		}
		r.dispatch(ctx, log, rule, src, payload, fwCtx)
	}
}

// dispatch delivers payload to one rule's destination.
func (r *Router) dispatch(ctx context.Context, log *slog.Logger, rule midi.RoutingRule, src midi.DeviceKey, payload []byte, fwCtx *wire.Context) {
	dest := rule.DestDeviceKey

	if dest.Local() {
		// The local fast-path: source and destination both live on
		// this node, so the message bypasses serialization entirely.
		if r.Local == nil {
			r.recordDrop(ctx, rule)
			return
		}
		if err := r.Local.DeliverLocal(dest.DeviceID, payload); err != nil {
			log.Warn("local delivery failed", "device", dest.DeviceID, "err", err)
			r.recordDrop(ctx, rule)
			return
		}
		r.recordRouted(ctx, rule)
		return
	}

	pc, ok := r.Pool.Get(dest.NodeUUID)
	if !ok {
		log.Debug("no route to destination node", "node", dest.NodeUUID)
		r.metrics.droppedNoRoute.Add(ctx, 1)
		r.recordDrop(ctx, rule)
		return
	}
	sink, ok := pc.(RemoteSink)
	if !ok {
		r.recordDrop(ctx, rule)
		return
	}

	switch midi.Classify(payload[0]) {
	case midi.ClassRealTime:
		// Real-time messages are always a single unicast hop to the
		// connection that directly owns the destination device; the
		// fixed-size RingSlot has no room for a forwarding context, so
		// loop prevention applies only on the reliable path below.
		slot := realtime.RingSlot{
			Status:      payload[0],
			DeviceID:    dest.DeviceID,
			TimestampUs: uint32(time.Now().UnixMicro()),
		}
		slot.DataLen = uint8(copy(slot.Data[:], payload[1:]))
		sink.SendRealtime(slot)
		r.recordRouted(ctx, rule)

	case midi.ClassNonRealTime:
		selfEntry := wire.VisitedEntry{NodeHash: r.SelfHash, DeviceID: src.DeviceID}
		hopsExceeded := fwCtx != nil && fwCtx.HopCount >= wire.MaxHops
		loopDetected := !hopsExceeded && fwCtx.Contains(selfEntry)
		nextCtx, err := CheckForward(fwCtx, selfEntry)
		if err != nil {
			switch {
			case hopsExceeded:
				r.metrics.hopsExceeded.Add(ctx, 1)
			case loopDetected:
				r.metrics.loopsDetected.Add(ctx, 1)
			}
			r.recordDrop(ctx, rule)
			return
		}

		pkt := wire.Packet{
			Header: wire.Header{
				Magic:       wire.Magic,
				Version:     wire.Version,
				Flags:       wire.FlagReliable,
				SrcNodeHash: r.SelfHash,
				DstNodeHash: meshnet.HashUUID(dest.NodeUUID),
				TimestampUs: uint32(time.Now().UnixMicro()),
				DeviceID:    dest.DeviceID,
			},
			Context: nextCtx,
			Payload: payload,
		}
		if err := sink.SendReliable(ctx, pkt.Encode()); err != nil {
			log.Debug("reliable send failed", "peer", dest.NodeUUID, "err", err)
			r.recordDrop(ctx, rule)
			return
		}
		r.recordRouted(ctx, rule)
	}
}

func (r *Router) recordRouted(ctx context.Context, rule midi.RoutingRule) {
	r.Table.RecordResult(rule.RuleID, true, time.Now().UnixNano())
	r.metrics.messagesRouted.Add(ctx, 1)
}

func (r *Router) recordDrop(ctx context.Context, rule midi.RoutingRule) {
	r.Table.RecordResult(rule.RuleID, false, 0)
	r.metrics.messagesDropped.Add(ctx, 1)
}
