package conversation

// Status is the lifecycle state of a conversation run.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusConcluded Status = "concluded"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further steps can happen.
func (s Status) Terminal() bool {
	return s == StatusConcluded || s == StatusFailed
}

// Group describes an active group sub-conversation.
type Group struct {
	// Coordinator is the group coordinator that selects candidates.
	Coordinator string `json:"coordinator"`
	// Origin addressed the coordinator and regains control when the group ends.
	Origin string `json:"origin"`
	// Rounds counts candidate replies since the coordinator was entered.
	Rounds int `json:"rounds"`
	// Limit is the coordinator's effective round limit.
	Limit int `json:"limit"`
}

// Pending is the resume point: who speaks next and to whom.
type Pending struct {
	Speaker   string `json:"speaker"`
	Recipient string `json:"recipient"`
	Group     *Group `json:"group,omitempty"`
}

func (p Pending) clone() Pending {
	if p.Group != nil {
		g := *p.Group
		p.Group = &g
	}
	return p
}

// inGroup reports whether a coordinator-run group is active.
func (p Pending) inGroup() bool {
	return p.Group != nil
}

// Reason explains why a run stopped.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonTerminated  Reason = "terminated"
	ReasonMaxRounds   Reason = "max_rounds"
	ReasonInterrupted Reason = "interrupted"
	ReasonFailed      Reason = "failed"
)
