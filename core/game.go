package core

import (
	"encoding/json"
	"sync"

	clock "github.com/jonboulle/clockwork"

	"github.com/crowdchess/crowdchess/common/log"
	"github.com/crowdchess/crowdchess/metrics"
)

// Team is a side of the board, or the spectator bench.
type Team string

const (
	TeamWhite     Team = "white"
	TeamBlack     Team = "black"
	TeamSpectator Team = "spectator"
)

// Playing reports whether the team sits at the board.
func (t Team) Playing() bool {
	return t == TeamWhite || t == TeamBlack
}

// Opponent returns the other playing side. Spectators have no opponent.
func (t Team) Opponent() Team {
	switch t {
	case TeamWhite:
		return TeamBlack
	case TeamBlack:
		return TeamWhite
	}
	return TeamSpectator
}

// Status is the phase of the game state machine.
type Status uint32

const (
	// Lobby accepts joins; the first legal White submission starts the game.
	Lobby Status = iota
	// AwaitingProposals collects one move per online member of the side to
	// move.
	AwaitingProposals
	// FinalizingTurn waits for the engine to arbitrate the proposals.
	FinalizingTurn
	// Over is terminal until a reset vote passes.
	Over
)

func (s Status) String() string {
	switch s {
	case Lobby:
		return "lobby"
	case AwaitingProposals:
		return "awaiting_proposals"
	case FinalizingTurn:
		return "finalizing_turn"
	case Over:
		return "over"
	default:
		panic("impossible game status")
	}
}

// MarshalJSON renders the status as its wire name.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Proposal is one player's move candidate for the current turn. The display
// name is captured at submission time so the candidate list stays stable
// through renames.
type Proposal struct {
	PID        string
	Name       string
	MoveNumber int
	Side       Team
	LAN        string
	SAN        string
}

func (p *Proposal) payload() ProposalPayload {
	return ProposalPayload{
		ID:         p.PID,
		Name:       p.Name,
		MoveNumber: p.MoveNumber,
		Side:       p.Side,
		LAN:        p.LAN,
		SAN:        p.SAN,
	}
}

// Game is the session coordinator: one mutex-guarded aggregate into which
// every transport event, timer firing and engine completion funnels. All
// exported methods take the lock; nothing inside calls back out while
// holding it except through the Publisher, which must not re-enter.
type Game struct {
	mu  sync.Mutex
	log log.Logger
	cfg *Config
	clk clock.Clock
	pub Publisher

	board   *board
	arbiter Arbiter

	sessions  map[string]*Session
	blacklist map[string]struct{}

	status     Status
	moveNumber int
	side       Team
	// teams are the live rosters, snapshotted from sessions when the game
	// starts and maintained in lockstep afterwards.
	teams     map[Team]map[string]struct{}
	proposals map[string]*Proposal
	// order preserves submission order for the candidate list.
	order     []string
	whiteTime int
	blackTime int
	drawOffer Team

	teamVotes map[Team]*vote
	kickVote  *vote
	resetVote *vote

	clockStop chan struct{}
	// generation invalidates in-flight engine arbitrations across resets.
	generation uint64
	endReason  string
	winner     *Team
}

// NewGame builds a coordinator from the config. The publisher starts as a
// no-op; wire the transport with SetPublisher before serving clients.
func NewGame(cfg *Config) (*Game, error) {
	g := &Game{
		log:        cfg.logger.Named("game"),
		cfg:        cfg,
		clk:        cfg.clock,
		pub:        noopPublisher{},
		board:      newBoard(),
		sessions:   make(map[string]*Session),
		blacklist:  make(map[string]struct{}),
		status:     Lobby,
		moveNumber: 1,
		side:       TeamWhite,
		teams: map[Team]map[string]struct{}{
			TeamWhite: {},
			TeamBlack: {},
		},
		proposals: make(map[string]*Proposal),
		whiteTime: cfg.initialTime,
		blackTime: cfg.initialTime,
		teamVotes: make(map[Team]*vote),
	}
	if cfg.arbiterFactory != nil {
		arb, err := cfg.arbiterFactory()
		if err != nil {
			return nil, err
		}
		g.arbiter = arb
	}
	return g, nil
}

// SetPublisher wires the outbound port. Must be called before clients are
// admitted.
func (g *Game) SetPublisher(p Publisher) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pub = p
}

// Status returns the current phase.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Close quits the engine adapter. The game is unusable afterwards.
func (g *Game) Close() error {
	g.mu.Lock()
	arb := g.arbiter
	g.arbiter = nil
	g.generation++
	g.stopClock()
	g.cancelAllVotes()
	g.mu.Unlock()
	if arb != nil {
		return arb.Quit()
	}
	return nil
}

// Reset returns the game to the lobby: fresh position and engine, full
// clocks, no proposals, no votes, no draw offer. Sessions keep their team
// assignment and the blacklist is retained for the process lifetime.
func (g *Game) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
}

func (g *Game) reset() {
	g.stopClock()
	g.cancelAllVotes()
	g.generation++

	if old := g.arbiter; old != nil {
		go func() {
			if err := old.Quit(); err != nil {
				g.log.Errorw("engine quit failed", "err", err)
			}
		}()
	}
	g.arbiter = nil
	if g.cfg.arbiterFactory != nil {
		arb, err := g.cfg.arbiterFactory()
		if err != nil {
			g.log.Errorw("engine restart failed", "err", err)
		} else {
			g.arbiter = arb
		}
	}

	g.board = newBoard()
	g.status = Lobby
	g.moveNumber = 1
	g.side = TeamWhite
	g.teams = map[Team]map[string]struct{}{TeamWhite: {}, TeamBlack: {}}
	g.proposals = make(map[string]*Proposal)
	g.order = nil
	g.whiteTime = g.cfg.initialTime
	g.blackTime = g.cfg.initialTime
	g.drawOffer = ""
	g.endReason = ""
	g.winner = nil

	g.pub.Broadcast(EventGameReset, struct{}{})
	g.pub.Broadcast(EventGameStatusUpdate, StatusPayload{Status: g.status})
	g.broadcastClock()
	g.systemChat("The game has been reset.")
	g.log.Infow("game reset")
}

// endGame moves the game to Over and announces it. Callers hold the lock.
func (g *Game) endGame(reason string, winner *Team) {
	if g.status == Over {
		return
	}
	g.status = Over
	g.endReason = reason
	g.winner = winner
	g.stopClock()
	g.cancelAllVotes()
	g.proposals = make(map[string]*Proposal)
	g.order = nil
	if g.drawOffer != "" {
		g.drawOffer = ""
		g.pub.Broadcast(EventDrawOfferUpdate, DrawOfferPayload{})
	}

	g.pub.Broadcast(EventGameStatusUpdate, StatusPayload{Status: g.status})
	g.pub.Broadcast(EventGameOver, GameOverPayload{
		Reason: reason,
		Winner: winner,
		PGN:    g.board.PGN(),
	})
	metrics.GamesFinished.WithLabelValues(reason).Inc()
	g.log.Infow("game over", "reason", reason, "winner", winner)
}

// gameOverPayload rebuilds the terminal event for late joiners.
func (g *Game) gameOverPayload() GameOverPayload {
	return GameOverPayload{Reason: g.endReason, Winner: g.winner, PGN: g.board.PGN()}
}

// onlineTeam returns the connected members of the live roster for a side.
func (g *Game) onlineTeam(team Team) []string {
	var pids []string
	for pid := range g.teams[team] {
		if s, ok := g.sessions[pid]; ok && s.Connected {
			pids = append(pids, pid)
		}
	}
	return pids
}

// onlinePIDs returns every connected session.
func (g *Game) onlinePIDs() []string {
	var pids []string
	for pid, s := range g.sessions {
		if s.Connected {
			pids = append(pids, pid)
		}
	}
	return pids
}

func (g *Game) broadcastClock() {
	g.pub.Broadcast(EventClockUpdate, ClockPayload{
		WhiteTime: g.whiteTime,
		BlackTime: g.blackTime,
	})
}

func (g *Game) broadcastRoster() {
	g.pub.Broadcast(EventPlayers, g.rosterPayload())
}

func (g *Game) rosterPayload() RosterPayload {
	roster := RosterPayload{
		Spectators:   []PlayerInfo{},
		WhitePlayers: []PlayerInfo{},
		BlackPlayers: []PlayerInfo{},
	}
	for _, s := range g.sessions {
		info := PlayerInfo{ID: s.ID, Name: s.Name, Connected: s.Connected}
		switch s.Team {
		case TeamWhite:
			roster.WhitePlayers = append(roster.WhitePlayers, info)
		case TeamBlack:
			roster.BlackPlayers = append(roster.BlackPlayers, info)
		default:
			roster.Spectators = append(roster.Spectators, info)
		}
	}
	return roster
}

// teamMulticast delivers an event to every member of one team.
func (g *Game) teamMulticast(team Team, event string, payload interface{}) {
	for pid, s := range g.sessions {
		if s.Team == team && s.Connected {
			g.pub.Unicast(pid, event, payload)
		}
	}
}

func (g *Game) systemChat(message string) {
	g.pub.Broadcast(EventChatMessage, ChatPayload{
		Sender:   "System",
		SenderID: "system",
		Message:  message,
		System:   true,
	})
}

func (g *Game) sessionName(pid string) string {
	if s, ok := g.sessions[pid]; ok {
		return s.Name
	}
	return pid
}

func (g *Game) currentProposals() []ProposalPayload {
	out := make([]ProposalPayload, 0, len(g.order))
	for _, pid := range g.order {
		if p, ok := g.proposals[pid]; ok {
			out = append(out, p.payload())
		}
	}
	return out
}

// noopPublisher swallows events until the transport is wired.
type noopPublisher struct{}

func (noopPublisher) Unicast(string, string, interface{}) {}
func (noopPublisher) Broadcast(string, interface{})       {}
func (noopPublisher) CloseClient(string)                  {}
