package tracking

import "time"

// ConnectivityState is the persisted link state of a collar.
type ConnectivityState string

const (
	ConnectivityUnknown   ConnectivityState = "unknown"
	ConnectivityConnected ConnectivityState = "connected"
	ConnectivityLost      ConnectivityState = "lost"
)

// ParseConnectivityState normalizes a stored connectivity value.
func ParseConnectivityState(value string) (ConnectivityState, bool) {
	switch ConnectivityState(value) {
	case ConnectivityUnknown, ConnectivityConnected, ConnectivityLost:
		return ConnectivityState(value), true
	default:
		return "", false
	}
}

// ReasonCode identifies why a connectivity condition was signaled.
type ReasonCode int

const (
	ReasonNone      ReasonCode = 0
	ReasonNoData    ReasonCode = 1
	ReasonStaleData ReasonCode = 2
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonNoData:
		return "no_data"
	case ReasonStaleData:
		return "stale_data"
	default:
		return "unknown"
	}
}

// ConnectivityRecord is the last persisted connectivity determination.
type ConnectivityRecord struct {
	State     ConnectivityState `json:"state"`
	Reason    ReasonCode        `json:"reason"`
	UpdatedAt time.Time         `json:"updated_at"`
}
