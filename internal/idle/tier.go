package idle

import "time"

// Tier is how far the idle state machine has advanced since the last
// activity in the session group.
type Tier int

const (
	// TierActive: the soft-reset timer is pending.
	TierActive Tier = iota
	// TierSoftReset: soft reset done, logout timer pending.
	TierSoftReset
	// TierLogout: logout done, waiting for activity.
	TierLogout
)

func (t Tier) String() string {
	switch t {
	case TierActive:
		return "active"
	case TierSoftReset:
		return "soft_reset"
	case TierLogout:
		return "logout"
	}
	return "unknown"
}

// State is a snapshot of the controller.
type State struct {
	LastActivity time.Time `json:"last_activity"`
	Tier         Tier      `json:"tier"`
}

// Wire messages on the idle topic. At is the activity epoch the sender is
// counting from; tabs converge on the latest epoch they have seen.
const (
	kindActivity = "activity"
	kindTier     = "tier"
)

type message struct {
	Kind string    `json:"kind"`
	Tab  string    `json:"tab"`
	At   time.Time `json:"at"`
	Tier Tier      `json:"tier,omitempty"`
}
