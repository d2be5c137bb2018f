// Package meshnet holds the mesh-wide data model shared by discovery,
// connections, and the router: NodeInfo, the UUID registry, and the
// connection pool.
package meshnet

import (
	"time"

	"github.com/google/uuid"
)

// NodeInfo is what discovery produces and the mesh manager consumes.
type NodeInfo struct {
	UUID        uuid.UUID
	HumanName   string
	Hostname    string
	IPAddress   string
	ControlPort int
	DataPort    int
	Version     string
	DeviceCount int
}

// Clock abstracts time.Now so tests can control the passage of time,
// grounded on the teacher's mesh.Clock seam.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by the monotonic wall clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
