package core

import "time"

// Defaults for a game hosted by one process. All of them can be overridden
// through the Config options.
const (
	// DefaultInitialTime is the number of seconds each side starts with.
	DefaultInitialTime = 600
	// DefaultLowTimeThreshold is the remaining time under which a side earns
	// the increment when its move commits.
	DefaultLowTimeThreshold = 60
	// DefaultLowTimeBonus is the number of seconds credited on commit when
	// the mover was under the low-time threshold.
	DefaultLowTimeBonus = 10
	// DefaultGraceWindow is how long a disconnected session is kept before
	// it is removed from the game.
	DefaultGraceWindow = 20 * time.Second
	// DefaultVoteDuration is the lifetime of every vote.
	DefaultVoteDuration = 20 * time.Second
	// DefaultEngineTimeout bounds a single engine arbitration call.
	DefaultEngineTimeout = 15 * time.Second

	// MaxNameLength is the display name cap; longer names are trimmed.
	MaxNameLength = 30
)

// End reasons carried by the game_over event.
const (
	ReasonCheckmate     = "checkmate"
	ReasonStalemate     = "stalemate"
	ReasonThreefold     = "threefold repetition"
	ReasonInsufficient  = "insufficient material"
	ReasonDrawByRule    = "draw by rule"
	ReasonResignation   = "resignation"
	ReasonDrawAgreement = "draw by agreement"
	ReasonTimeout       = "timeout"
	ReasonAbandonment   = "abandonment"
)
