package gateway

import "encoding/json"

// State is the connection phase of the session state machine.
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingHello
	Identifying
	Resuming
	Connected
)

var stateNames = map[State]string{
	Disconnected:  "disconnected",
	Connecting:    "connecting",
	AwaitingHello: "awaiting_hello",
	Identifying:   "identifying",
	Resuming:      "resuming",
	Connected:     "connected",
}

var stateFromName = map[string]State{
	"disconnected":   Disconnected,
	"connecting":     Connecting,
	"awaiting_hello": AwaitingHello,
	"identifying":    Identifying,
	"resuming":       Resuming,
	"connected":      Connected,
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	if v, ok := stateFromName[name]; ok {
		*s = v
	}
	return nil
}

// Session is the server-issued session the client can resume after a
// drop. Owned exclusively by the Client's drive goroutine.
type Session struct {
	ID             string
	Seq            int64
	ResumeEligible bool
}
