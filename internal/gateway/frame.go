package gateway

import (
	"encoding/json"
	"runtime"
)

// Opcode identifies the kind of gateway frame. Values follow the
// platform's wire protocol and must not be renumbered.
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

var opcodeNames = map[Opcode]string{
	OpDispatch:       "dispatch",
	OpHeartbeat:      "heartbeat",
	OpIdentify:       "identify",
	OpResume:         "resume",
	OpReconnect:      "reconnect",
	OpInvalidSession: "invalid_session",
	OpHello:          "hello",
	OpHeartbeatAck:   "heartbeat_ack",
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "unknown"
}

// Frame is the gateway envelope. Seq and Type are only set on dispatch
// frames; Data is opaque except for the handshake payloads below.
type Frame struct {
	Op   Opcode          `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  *int64          `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

type helloData struct {
	// Heartbeat interval in milliseconds.
	HeartbeatInterval int `json:"heartbeat_interval"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Properties identifyProperties `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type readyData struct {
	SessionID string `json:"session_id"`
}

func newIdentify(token string) *Frame {
	data, _ := json.Marshal(identifyData{
		Token: token,
		Properties: identifyProperties{
			OS:      runtime.GOOS,
			Browser: "pulse-bot",
			Device:  "pulse-bot",
		},
	})
	return &Frame{Op: OpIdentify, Data: data}
}

func newResume(token, sessionID string, seq int64) *Frame {
	data, _ := json.Marshal(resumeData{Token: token, SessionID: sessionID, Seq: seq})
	return &Frame{Op: OpResume, Data: data}
}

// newHeartbeat carries the last seen sequence number, or JSON null when
// no dispatch frame has been processed yet.
func newHeartbeat(seq *int64) *Frame {
	if seq == nil {
		return &Frame{Op: OpHeartbeat, Data: json.RawMessage("null")}
	}
	data, _ := json.Marshal(*seq)
	return &Frame{Op: OpHeartbeat, Data: data}
}
