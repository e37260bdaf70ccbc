package publication

import (
	"time"

	"github.com/maxpert/termlog/flowcontrol"
)

// Coordinator owns the logs behind publications. It maps a log when a stream
// is added and unmaps it when ReleasePublication is called for the last handle.
type Coordinator interface {
	// ReleasePublication is called exactly once, when the last reference to
	// the publication is disposed
	ReleasePublication(correlationID int64) error
	// IsPublicationConnected reports whether a consumer is attached
	IsPublicationConnected(correlationID int64) bool
	// PublicationLimit returns the position the publication may not write past
	PublicationLimit(correlationID int64) flowcontrol.ReadablePosition
}

// ConnectionState is the input to a ConnectionPolicy
type ConnectionState struct {
	CoordinatorConnected    bool
	TimeOfLastStatusMessage int64
	NowNs                   int64
	PublicationLimit        int64
}

// ConnectionPolicy decides whether a publication counts as connected
type ConnectionPolicy func(state ConnectionState) bool

// DefaultConnectionTimeout is the status message age after which a publication
// without a connected coordinator is considered disconnected
const DefaultConnectionTimeout = 5 * time.Second

// StatusMessageTimeout returns the default policy: connected when the
// coordinator says so, or when a limit has been granted and the last status
// message is no older than timeout.
func StatusMessageTimeout(timeout time.Duration) ConnectionPolicy {
	timeoutNs := int64(timeout)
	return func(state ConnectionState) bool {
		if state.CoordinatorConnected {
			return true
		}
		return state.PublicationLimit > 0 && state.NowNs-state.TimeOfLastStatusMessage <= timeoutNs
	}
}
