// Package net is the transport gateway: it owns the websocket surface,
// turns inbound frames into coordinator calls and fans coordinator events
// back out to the room.
package net

import "encoding/json"

// envelope is one inbound frame. The optional id requests an ack reply.
type envelope struct {
	Type string          `json:"type"`
	ID   *int64          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// outbound is one frame sent to a client.
type outbound struct {
	Type string      `json:"type"`
	ID   *int64      `json:"id,omitempty"`
	Data interface{} `json:"data,omitempty"`
}

// ackPayload answers an inbound frame that carried an id.
type ackPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Inbound message names.
const (
	msgSetName        = "set_name"
	msgJoinSide       = "join_side"
	msgPlayMove       = "play_move"
	msgChatMessage    = "chat_message"
	msgStartTeamVote  = "start_team_vote"
	msgVoteTeam       = "vote_team"
	msgStartKickVote  = "start_kick_vote"
	msgVoteKick       = "vote_kick"
	msgStartResetVote = "start_reset_vote"
	msgVoteReset      = "vote_reset"
)

type setNamePayload struct {
	Name string `json:"name"`
}

type joinSidePayload struct {
	Side string `json:"side"`
}

type playMovePayload struct {
	LAN string `json:"lan"`
}

type chatPayload struct {
	Message string `json:"message"`
}

type startTeamVotePayload struct {
	Type string `json:"type"`
}

type ballotPayload struct {
	Vote string `json:"vote"`
}

type startKickVotePayload struct {
	TargetPID string `json:"targetPid"`
}
