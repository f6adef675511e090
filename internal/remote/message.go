package remote

import (
	"github.com/oshokin/perimeter-sentinel/internal/domain/event"
)

// Message types on the remote authority wire. Every frame is a JSON text
// message with a type discriminator; queued replay and live send use
// exactly the same event frame.
const (
	typeEvent    = "event"
	typeAck      = "ack"
	typeCmd      = "cmd"
	typeCmdAck   = "cmd_ack"
	typePing     = "ping"
	typePong     = "pong"
	typeThrottle = "throttle"
)

// Remote command actions.
const (
	actionArm        = "arm"
	actionDisarm     = "disarm"
	actionSiren      = "siren"
	actionFloodlight = "floodlight"
)

// message is one wire frame in either direction. Fields are populated per
// the Type discriminator.
type message struct {
	// Type discriminates the frame.
	Type string `json:"type"`
	// Seq is the queue sequence of an event frame; acknowledgements are
	// cumulative over it.
	Seq uint64 `json:"seq,omitempty"`
	// Event is the payload of an event frame.
	Event *event.Event `json:"event,omitempty"`
	// AckSeq acknowledges every event with sequence <= AckSeq.
	AckSeq uint64 `json:"ack_seq,omitempty"`
	// CmdID correlates a command with its cmd_ack.
	CmdID string `json:"cmd_id,omitempty"`
	// Action is the command verb.
	Action string `json:"action,omitempty"`
	// Params carries the command parameters.
	Params *commandParams `json:"params,omitempty"`
	// RetryAfterS asks the client to pause replay for this many seconds.
	RetryAfterS int `json:"retry_after_s,omitempty"`
	// OK reports command acceptance in a cmd_ack frame.
	OK *bool `json:"ok,omitempty"`
	// Error carries the rejection reason in a cmd_ack frame.
	Error string `json:"error,omitempty"`
	// ClientID identifies the sender of ping frames.
	ClientID string `json:"client_id,omitempty"`
}

// commandParams are the parameters of a remote command.
type commandParams struct {
	// On is the requested output level for siren and floodlight commands.
	On bool `json:"on"`
	// DurationS bounds how long the output stays on.
	DurationS int `json:"duration_s,omitempty"`
	// ExitDelayS overrides the exit delay for arm commands.
	ExitDelayS int `json:"exit_delay_s,omitempty"`
	// AutoRearmS overrides the auto-rearm delay for disarm commands.
	AutoRearmS int `json:"auto_rearm_s,omitempty"`
}

// cmdAck builds the reply to a command frame.
func cmdAck(cmdID string, ok bool, reason string) message {
	return message{
		Type:  typeCmdAck,
		CmdID: cmdID,
		OK:    &ok,
		Error: reason,
	}
}
