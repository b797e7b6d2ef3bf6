package core

import (
	"errors"
	"strings"

	"github.com/crowdchess/crowdchess/metrics"
)

var (
	// ErrUnknownSession means the pid has no session, e.g. it was kicked.
	ErrUnknownSession = errors.New("unknown session")
	errBadTeam        = errors.New("invalid side")
)

// Connected marks the session online and replays the current state to the
// new socket: identity, status, clocks and, when a game is running or over,
// the position, proposals, draw offer, verdict and the team's vote panel.
func (g *Game) Connected(pid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[pid]
	if !ok {
		return ErrUnknownSession
	}
	g.cancelRemoval(s)
	s.Connected = true
	metrics.Connections.Inc()

	g.pub.Unicast(pid, EventSession, SessionPayload{ID: s.ID, Name: s.Name})
	g.pub.Unicast(pid, EventGameStatusUpdate, StatusPayload{Status: g.status})
	g.pub.Unicast(pid, EventClockUpdate, ClockPayload{WhiteTime: g.whiteTime, BlackTime: g.blackTime})

	if g.status != Lobby {
		g.pub.Unicast(pid, EventGameStarted, GameStartedPayload{
			MoveNumber: g.moveNumber,
			Side:       g.side,
			Proposals:  g.currentProposals(),
		})
		g.pub.Unicast(pid, EventPositionUpdate, PositionPayload{FEN: g.board.FEN()})
		if g.drawOffer != "" {
			side := g.drawOffer
			g.pub.Unicast(pid, EventDrawOfferUpdate, DrawOfferPayload{Side: &side})
		}
		if g.status == Over {
			g.pub.Unicast(pid, EventGameOver, g.gameOverPayload())
		}
	}
	if s.Team.Playing() {
		g.pub.Unicast(pid, EventTeamVoteUpdate, g.teamVotePayload(s.Team))
	}

	g.broadcastRoster()
	g.log.Debugw("client connected", "pid", pid, "name", s.Name)
	return nil
}

// Disconnected marks the socket gone and arms the grace-window removal. The
// session itself survives until the window expires.
func (g *Game) Disconnected(pid string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[pid]
	if !ok || !s.Connected {
		return
	}
	s.Connected = false
	metrics.Connections.Dec()
	g.scheduleRemoval(s)
	g.broadcastRoster()
	// An absent teammate no longer blocks the quorum.
	g.attemptFinalize()
	g.log.Debugw("client disconnected", "pid", pid, "grace", g.cfg.graceWindow)
}

// SetName renames the session and rebroadcasts the roster.
func (g *Game) SetName(pid, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[pid]
	if !ok {
		return ErrUnknownSession
	}
	s.Name = trimName(name)
	g.broadcastRoster()
	return nil
}

// JoinSide moves the session to a side (or back to spectating). Allowed at
// any time; outside the lobby the live roster changes in lockstep, the
// switcher's open proposal is dropped when leaving a side, and abandonment
// and finalization are re-evaluated.
func (g *Game) JoinSide(pid string, team Team) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch team {
	case TeamWhite, TeamBlack, TeamSpectator:
	default:
		return errBadTeam
	}
	s, ok := g.sessions[pid]
	if !ok {
		return ErrUnknownSession
	}
	if s.Team == team {
		return nil
	}

	prev := s.Team
	s.Team = team

	if g.status != Lobby {
		if prev.Playing() {
			delete(g.teams[prev], pid)
		}
		if team.Playing() {
			g.teams[team][pid] = struct{}{}
		}
		if prev.Playing() {
			g.dropProposal(pid)
		}
	}

	if team.Playing() {
		g.pub.Unicast(pid, EventTeamVoteUpdate, g.teamVotePayload(team))
	} else {
		g.pub.Unicast(pid, EventTeamVoteUpdate, VotePayload{})
	}

	g.broadcastRoster()
	g.checkAbandonment()
	g.attemptFinalize()
	g.log.Infow("side change", "pid", pid, "from", prev, "to", team)
	return nil
}

// Chat relays a chat line from one player to the room.
func (g *Game) Chat(pid, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[pid]
	if !ok {
		return ErrUnknownSession
	}
	message = strings.TrimSpace(message)
	if message == "" {
		return nil
	}
	g.pub.Broadcast(EventChatMessage, ChatPayload{
		Sender:   s.Name,
		SenderID: s.ID,
		Message:  message,
	})
	return nil
}

// checkAbandonment ends a running game as soon as a live roster is empty.
// Callers hold the lock.
func (g *Game) checkAbandonment() {
	if g.status != AwaitingProposals && g.status != FinalizingTurn {
		return
	}
	whiteEmpty := len(g.teams[TeamWhite]) == 0
	blackEmpty := len(g.teams[TeamBlack]) == 0
	if !whiteEmpty && !blackEmpty {
		return
	}
	var winner *Team
	switch {
	case whiteEmpty && !blackEmpty:
		w := TeamBlack
		winner = &w
	case blackEmpty && !whiteEmpty:
		w := TeamWhite
		winner = &w
	}
	g.endGame(ReasonAbandonment, winner)
}
