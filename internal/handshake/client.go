package handshake

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"

	"github.com/google/uuid"

	"midimesh/internal/errs"
	"midimesh/internal/midi"
)

// Result is what a successful handshake yields: the peer's identity,
// its data endpoint, and the device list it advertises.
type Result struct {
	RemoteUUID        uuid.UUID
	RemoteName        string
	RemoteUDPEndpoint string
	RemoteVersion     string
	Devices           []midi.DeviceInfo
}

// Initiate runs the client side of the handshake against peerHTTPBase
// (e.g. "http://10.0.0.5:7000"). expectedPeerUUID is the UUID
// discovery advertised for this peer; a mismatching response is a
// wrong-peer failure, one of the ways a stale or spoofed discovery
// record gets caught before a connection is ever trusted.
func Initiate(ctx context.Context, httpClient *http.Client, peerHTTPBase string, expectedPeerUUID uuid.UUID, req SynRequest) (Result, error) {
	req.Magic = ProtocolMagic
	req.Version = ProtocolVersion

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, errs.MalformedHandshake("encode SYN: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, peerHTTPBase+Path, bytes.NewReader(body))
	if err != nil {
		return Result{}, errs.MalformedHandshake("build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, errs.HandshakeTimeout("handshake to %s: %v", peerHTTPBase, err)
		}
		return Result{}, errs.HandshakeTimeout("handshake to %s: %v", peerHTTPBase, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, errs.MalformedHandshake("handshake to %s: status %d", peerHTTPBase, resp.StatusCode)
	}

	var synAck SynAckResponse
	if err := json.NewDecoder(resp.Body).Decode(&synAck); err != nil {
		return Result{}, errs.MalformedHandshake("decode SYN-ACK: %v", err)
	}

	return validateResponse(synAck, expectedPeerUUID)
}

func validateResponse(resp SynAckResponse, expectedPeerUUID uuid.UUID) (Result, error) {
	if resp.Magic != ProtocolMagic {
		return Result{}, errs.MalformedHandshake("bad magic %q", resp.Magic)
	}
	if resp.Version != ProtocolVersion {
		return Result{}, errs.VersionMismatch("peer version %q, want %q", resp.Version, ProtocolVersion)
	}

	remoteUUID, err := uuid.Parse(resp.NodeID)
	if err != nil {
		return Result{}, errs.MalformedHandshake("parse node_id: %v", err)
	}
	if remoteUUID != expectedPeerUUID {
		return Result{}, errs.WrongPeer("discovery advertised %s, handshake answered as %s", expectedPeerUUID, remoteUUID)
	}

	if _, _, err := net.SplitHostPort(resp.UDPEndpoint); err != nil {
		return Result{}, errs.MalformedHandshake("malformed udp_endpoint %q: %v", resp.UDPEndpoint, err)
	}

	devices := make([]midi.DeviceInfo, 0, len(resp.Devices))
	for _, d := range resp.Devices {
		dir := midi.DirectionInput
		if d.Type == "output" {
			dir = midi.DirectionOutput
		} else if d.Type != "input" {
			return Result{}, errs.MalformedHandshake("device %d has unknown type %q", d.ID, d.Type)
		}
		devices = append(devices, midi.DeviceInfo{
			DeviceID:  d.ID,
			Name:      d.Name,
			Direction: dir,
			OwnerNode: remoteUUID,
		})
	}

	return Result{
		RemoteUUID:        remoteUUID,
		RemoteName:        resp.NodeName,
		RemoteUDPEndpoint: resp.UDPEndpoint,
		RemoteVersion:     resp.Version,
		Devices:           devices,
	}, nil
}
