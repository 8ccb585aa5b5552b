package domain

import "time"

// ToolClass is the inferred class of the client program behind a delivery
// request. The platform has no control channel to the remote install, so the
// tool class of each download is the only progress signal it gets.
type ToolClass int

const (
	// ToolUnknown is any tool identity outside the provisioning allow-list.
	ToolUnknown ToolClass = iota
	// ToolSimpleFetch is a minimal HTTP client, typically fetching the small
	// configuration artifacts early in the install sequence.
	ToolSimpleFetch
	// ToolResumableFetch is a downloader capable of resuming large
	// transfers, used for the install payload itself.
	ToolResumableFetch
)

func (c ToolClass) String() string {
	switch c {
	case ToolSimpleFetch:
		return "fetch-simple"
	case ToolResumableFetch:
		return "fetch-resumable"
	default:
		return "unknown"
	}
}

// AccessEvent is the ephemeral record of one allowed delivery access.
// Produced by the delivery gateway, consumed once by the lifecycle tracker.
type AccessEvent struct {
	JobID    string // optional correlation; empty when only the address is known
	Artifact string
	Tool     string
	Class    ToolClass
	Addr     string
	Region   string
	Time     time.Time
}

// TransitionEvent is emitted once per successful lifecycle transition
type TransitionEvent struct {
	Type      string        `json:"type"`
	JobID     string        `json:"jobId"`
	Owner     string        `json:"-"`
	Status    InstallStatus `json:"status"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
}
