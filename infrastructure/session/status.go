package session

// State labels the supervisor's most recent observable transition.
type State string

const (
	StateInitializing State = "initializing"
	StateHandshaking  State = "handshaking"
	StateHandshakeOK  State = "handshake_ok"
	StateRunning      State = "running"
	StateRekeying     State = "rekeying"
	StateRekeyOK      State = "rekey_ok"
	StateRekeyFail    State = "rekey_fail"
	StateStopping     State = "stopping"
)

// Status is the externally visible session snapshot, persisted after every
// transition and served over the control channel.
type Status struct {
	State       State           `json:"state"`
	Role        string          `json:"role"`
	Suite       string          `json:"suite,omitempty"`
	NewSuite    string          `json:"new_suite,omitempty"`
	Epoch       uint8           `json:"epoch"`
	Counters    CounterSnapshot `json:"counters"`
	ErrorReason string          `json:"error_reason,omitempty"`
}
