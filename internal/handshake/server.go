package handshake

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"midimesh/internal/logging"
	"midimesh/internal/midi"
)

// DeviceProvider is the external collaborator that enumerates local
// MIDI devices; its concrete implementation (platform MIDI I/O) is
// out of scope per spec.md §1.
type DeviceProvider interface {
	Devices() []midi.DeviceInfo
}

// Server is the responder side of the handshake, registered on the
// reliable control transport's HTTP router.
type Server struct {
	Self        uuid.UUID
	SelfName    string
	UDPEndpoint string
	Devices     DeviceProvider

	// OnPeerSeen, if set, is called with every validated initiator
	// before the response is sent, letting the mesh manager learn a
	// peer's data endpoint ahead of its inbound reliable-stream dial.
	OnPeerSeen func(peerUUID uuid.UUID, peerName, udpEndpoint string)
}

// Register mounts the handshake endpoint on r, grounded on the
// teacher pack's gorilla/mux-routed control surfaces.
func (s *Server) Register(r *mux.Router) {
	r.HandleFunc(Path, s.handle).Methods(http.MethodPost)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	log := logging.Component("handshake-server")

	var req SynRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Warn("malformed SYN", "err", err, "remote", r.RemoteAddr)
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	if req.Magic != ProtocolMagic {
		http.Error(w, "bad magic", http.StatusBadRequest)
		return
	}
	if req.Version != ProtocolVersion {
		http.Error(w, "version mismatch", http.StatusBadRequest)
		return
	}
	peerID, err := uuid.Parse(req.NodeID)
	if err != nil {
		http.Error(w, "malformed node_id", http.StatusBadRequest)
		return
	}

	if s.OnPeerSeen != nil {
		s.OnPeerSeen(peerID, req.NodeName, req.UDPEndpoint)
	}

	devices := s.Devices.Devices()
	descriptors := make([]DeviceDescriptor, 0, len(devices))
	for _, d := range devices {
		typ := "input"
		if d.Direction == midi.DirectionOutput {
			typ = "output"
		}
		descriptors = append(descriptors, DeviceDescriptor{ID: d.DeviceID, Name: d.Name, Type: typ})
	}

	resp := SynAckResponse{
		Magic:       ProtocolMagic,
		Version:     ProtocolVersion,
		NodeID:      s.Self.String(),
		NodeName:    s.SelfName,
		UDPEndpoint: s.UDPEndpoint,
		Devices:     descriptors,
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)

	log.Debug("handshake accepted", "peer", req.NodeID, "peer_name", req.NodeName)
}
