// Package handshake implements the peer agreement protocol of
// spec.md §4.2 over the reliable control transport (HTTP), per the
// wire contract fixed in spec.md §6: a single POST /network/handshake
// exchange that folds the logical SYN / SYN-ACK / ACK /
// DeviceListResponse four-message sequence into one request/response
// pair — the initiator's request carries the SYN fields, and the
// universal device-inquiry probe (ACK) is implicit in having sent the
// request at all; the responder's reply carries both its own SYN-ACK
// fields and the DeviceListResponse payload.
package handshake

const (
	// ProtocolMagic tags a request/response as belonging to this
	// handshake protocol, the HTTP-transport analogue of the wire
	// header's magic bytes.
	ProtocolMagic = "MIDI-MESH-HS"

	// ProtocolVersion must match exactly between peers; spec.md treats
	// any mismatch as a hard failure rather than attempting negotiation.
	ProtocolVersion = "1"

	Path        = "/network/handshake"
	DevicesPath = "/network/devices"
)

// SynRequest is the initiator's opening message.
type SynRequest struct {
	Magic       string `json:"magic"`
	Version     string `json:"version"`
	NodeID      string `json:"node_id"`
	NodeName    string `json:"node_name"`
	UDPEndpoint string `json:"udp_endpoint"`
}

// DeviceDescriptor is one entry of the responder's device list.
type DeviceDescriptor struct {
	ID   uint16 `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"` // "input" or "output"
}

// SynAckResponse is the responder's reply: its own SYN-ACK fields plus
// the DeviceListResponse payload.
type SynAckResponse struct {
	Magic       string             `json:"magic"`
	Version     string             `json:"version"`
	NodeID      string             `json:"node_id"`
	NodeName    string             `json:"node_name"`
	UDPEndpoint string             `json:"udp_endpoint"`
	Devices     []DeviceDescriptor `json:"devices"`
}
