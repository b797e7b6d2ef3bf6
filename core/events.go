package core

// Event names understood by the clients. Together with the payload structs
// below they form the full outbound surface of the coordinator; clients can
// reconstruct the complete game state from this stream alone.
const (
	EventSession          = "session"
	EventPlayers          = "players"
	EventGameStatusUpdate = "game_status_update"
	EventGameStarted      = "game_started"
	EventGameReset        = "game_reset"
	EventGameOver         = "game_over"
	EventPositionUpdate   = "position_update"
	EventClockUpdate      = "clock_update"
	EventMoveSubmitted    = "move_submitted"
	EventMoveSelected     = "move_selected"
	EventTurnChange       = "turn_change"
	EventProposalRemoved  = "proposal_removed"
	EventDrawOfferUpdate  = "draw_offer_update"
	EventTeamVoteUpdate   = "team_vote_update"
	EventKickVoteUpdate   = "kick_vote_update"
	EventResetVoteUpdate  = "reset_vote_update"
	EventChatMessage      = "chat_message"
	EventError            = "error"
)

// Publisher is the outbound port of the game. The websocket gateway
// implements it in production; tests substitute a recording fake.
// Implementations must not call back into the game.
type Publisher interface {
	Unicast(pid, event string, payload interface{})
	Broadcast(event string, payload interface{})
	// CloseClient force-disconnects any live transport for the pid.
	CloseClient(pid string)
}

// PlayerInfo is one roster entry.
type PlayerInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// SessionPayload identifies the caller's own session.
type SessionPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RosterPayload is the full player listing, grouped by team.
type RosterPayload struct {
	Spectators   []PlayerInfo `json:"spectators"`
	WhitePlayers []PlayerInfo `json:"whitePlayers"`
	BlackPlayers []PlayerInfo `json:"blackPlayers"`
}

// StatusPayload carries the game status.
type StatusPayload struct {
	Status Status `json:"status"`
}

// ProposalPayload is a single player's move candidate for the current turn.
type ProposalPayload struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	MoveNumber int    `json:"moveNumber"`
	Side       Team   `json:"side"`
	LAN        string `json:"lan"`
	SAN        string `json:"san"`
}

// GameStartedPayload is sent when the game leaves the lobby and to every
// client that connects while a game is running.
type GameStartedPayload struct {
	MoveNumber int               `json:"moveNumber"`
	Side       Team              `json:"side"`
	Proposals  []ProposalPayload `json:"proposals"`
}

// GameOverPayload terminates a game. Winner is null on draws and on
// abandonment with both sides empty.
type GameOverPayload struct {
	Reason string `json:"reason"`
	Winner *Team  `json:"winner"`
	PGN    string `json:"pgn"`
}

// PositionPayload carries the authoritative position.
type PositionPayload struct {
	FEN string `json:"fen"`
}

// ClockPayload carries both remaining times, in seconds.
type ClockPayload struct {
	WhiteTime int `json:"whiteTime"`
	BlackTime int `json:"blackTime"`
}

// SelectionPayload announces the committed move of a turn, with the full
// ordered candidate list that went to the engine.
type SelectionPayload struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	MoveNumber int               `json:"moveNumber"`
	Side       Team              `json:"side"`
	LAN        string            `json:"lan"`
	SAN        string            `json:"san"`
	FEN        string            `json:"fen"`
	Candidates []ProposalPayload `json:"candidates"`
}

// TurnPayload announces the side to move next.
type TurnPayload struct {
	MoveNumber int  `json:"moveNumber"`
	Side       Team `json:"side"`
}

// ProposalRemovedPayload retracts a proposal after its owner left the side.
type ProposalRemovedPayload struct {
	MoveNumber int    `json:"moveNumber"`
	Side       Team   `json:"side"`
	ID         string `json:"id"`
}

// DrawOfferPayload carries the side with a standing draw offer, or null.
type DrawOfferPayload struct {
	Side *Team `json:"side"`
}

// VotePayload is the state of one vote. An inactive payload (Active false)
// clears the client's vote panel.
type VotePayload struct {
	Active     bool     `json:"active"`
	Kind       string   `json:"kind,omitempty"`
	Initiator  string   `json:"initiator,omitempty"`
	TargetID   string   `json:"targetId,omitempty"`
	TargetName string   `json:"targetName,omitempty"`
	YesNames   []string `json:"yesNames,omitempty"`
	NoNames    []string `json:"noNames,omitempty"`
	Required   int      `json:"required,omitempty"`
	// Deadline is unix milliseconds.
	Deadline int64  `json:"deadline,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
}

// ChatPayload is a relayed or system chat line.
type ChatPayload struct {
	Sender   string `json:"sender"`
	SenderID string `json:"senderId"`
	Message  string `json:"message"`
	System   bool   `json:"system,omitempty"`
}

// ErrorPayload reports a protocol error to one client.
type ErrorPayload struct {
	Message string `json:"message"`
}
