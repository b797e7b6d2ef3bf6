package core

import (
	"context"
	"errors"

	"github.com/crowdchess/crowdchess/metrics"
)

// Error strings surfaced verbatim to clients.
var (
	errNotAcceptingMoves = errors.New("Not accepting moves right now.")
	errOnlyWhiteStarts   = errors.New("Only the White team can start the game.")
	errNotYourTurn       = errors.New("Not your turn.")
	errAlreadyMoved      = errors.New("Already moved.")
	errNeedBothTeams     = errors.New("Both teams must have at least one player.")
)

// PlayMove records the submitter's proposal for the current turn. The first
// legal submission by a White player starts the game from the lobby. Once
// every online member of the side to move has spoken, the turn finalizes.
func (g *Game) PlayMove(pid, lan string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[pid]
	if !ok {
		return ErrUnknownSession
	}

	switch g.status {
	case Lobby:
		if s.Team != TeamWhite {
			return errOnlyWhiteStarts
		}
		white, black := 0, 0
		for _, sess := range g.sessions {
			switch sess.Team {
			case TeamWhite:
				white++
			case TeamBlack:
				black++
			}
		}
		if white == 0 || black == 0 {
			return errNeedBothTeams
		}
	case AwaitingProposals:
		if _, member := g.teams[g.side][pid]; !member {
			return errNotYourTurn
		}
	default:
		return errNotAcceptingMoves
	}

	if _, moved := g.proposals[pid]; moved {
		return errAlreadyMoved
	}
	_, san, err := g.board.DecodeLAN(lan)
	if err != nil {
		return err
	}

	if g.status == Lobby {
		g.startGame()
	}

	p := &Proposal{
		PID:        pid,
		Name:       s.Name,
		MoveNumber: g.moveNumber,
		Side:       g.side,
		LAN:        lan,
		SAN:        san,
	}
	g.proposals[pid] = p
	g.order = append(g.order, pid)
	g.pub.Broadcast(EventMoveSubmitted, p.payload())
	metrics.Proposals.Inc()
	g.log.Debugw("proposal recorded", "pid", pid, "lan", lan, "san", san)

	g.attemptFinalize()
	return nil
}

// startGame snapshots the current rosters into the live team sets and
// leaves the lobby. Callers hold the lock.
func (g *Game) startGame() {
	for pid, s := range g.sessions {
		if s.Team.Playing() {
			g.teams[s.Team][pid] = struct{}{}
		}
	}
	g.status = AwaitingProposals
	g.pub.Broadcast(EventGameStatusUpdate, StatusPayload{Status: g.status})
	g.pub.Broadcast(EventGameStarted, GameStartedPayload{
		MoveNumber: g.moveNumber,
		Side:       g.side,
		Proposals:  []ProposalPayload{},
	})
	g.startClock()
	g.log.Infow("game started",
		"white", len(g.teams[TeamWhite]), "black", len(g.teams[TeamBlack]))
}

// attemptFinalize fires when every online member of the side to move has a
// proposal and that set is non-empty. Joins block it, departures unblock
// it; every membership change re-runs it. Callers hold the lock.
func (g *Game) attemptFinalize() {
	if g.status != AwaitingProposals {
		return
	}
	online := g.onlineTeam(g.side)
	if len(online) == 0 {
		return
	}
	for _, pid := range online {
		if _, ok := g.proposals[pid]; !ok {
			return
		}
	}
	g.finalize()
}

// finalize hands the candidate list to the engine. The call runs off the
// lock; its completion re-enters as a single event guarded by the
// generation counter.
func (g *Game) finalize() {
	g.status = FinalizingTurn
	g.stopClock()
	g.pub.Broadcast(EventGameStatusUpdate, StatusPayload{Status: g.status})

	candidates := g.currentProposals()
	lans := make([]string, len(candidates))
	for i, c := range candidates {
		lans[i] = c.LAN
	}
	fen := g.board.FEN()
	gen := g.generation
	arb := g.arbiter
	g.log.Infow("finalizing turn", "moveNumber", g.moveNumber, "side", g.side, "candidates", lans)

	go func() {
		if arb == nil {
			g.completeFinalize(gen, candidates, "", errors.New("engine unavailable"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.engineTimeout)
		defer cancel()
		lan, err := arb.Choose(ctx, fen, lans)
		g.completeFinalize(gen, candidates, lan, err)
	}()
}

// completeFinalize applies the engine's verdict. If the game ended by
// abandonment while the engine was thinking, the move is still applied so
// the record is complete, but the terminal broadcast has already gone out.
func (g *Game) completeFinalize(gen uint64, candidates []ProposalPayload, winLAN string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if gen != g.generation {
		return
	}
	if g.status == Over {
		if g.endReason == ReasonAbandonment && err == nil {
			g.applyPosthumous(candidates, winLAN)
		}
		return
	}
	if g.status != FinalizingTurn {
		return
	}
	if err != nil {
		g.finalizeFailure(winLAN, err)
		return
	}

	move, _, derr := g.board.DecodeLAN(winLAN)
	if derr != nil {
		g.finalizeFailure(winLAN, derr)
		return
	}
	winner, ok := g.candidateByLAN(candidates, winLAN)
	if !ok {
		g.finalizeFailure(winLAN, errors.New("winning move is not a candidate"))
		return
	}
	if aerr := g.board.Apply(move); aerr != nil {
		g.finalizeFailure(winLAN, aerr)
		return
	}

	mover := g.side
	switch mover {
	case TeamWhite:
		if g.whiteTime <= g.cfg.lowTimeThreshold {
			g.whiteTime += g.cfg.lowTimeBonus
		}
	case TeamBlack:
		if g.blackTime <= g.cfg.lowTimeThreshold {
			g.blackTime += g.cfg.lowTimeBonus
		}
	}
	g.broadcastClock()

	g.pub.Broadcast(EventMoveSelected, SelectionPayload{
		ID:         winner.ID,
		Name:       winner.Name,
		MoveNumber: g.moveNumber,
		Side:       mover,
		LAN:        winner.LAN,
		SAN:        winner.SAN,
		FEN:        g.board.FEN(),
		Candidates: candidates,
	})
	metrics.MovesSelected.WithLabelValues(string(mover)).Inc()
	g.log.Infow("move selected", "lan", winner.LAN, "by", winner.ID, "moveNumber", g.moveNumber, "side", mover)

	if reason, won, over := g.board.Terminal(); over {
		g.endGame(reason, won)
		return
	}

	g.proposals = make(map[string]*Proposal)
	g.order = nil
	if mover == TeamBlack {
		g.moveNumber++
	}
	g.side = mover.Opponent()
	g.status = AwaitingProposals
	g.pub.Broadcast(EventTurnChange, TurnPayload{MoveNumber: g.moveNumber, Side: g.side})
	g.pub.Broadcast(EventGameStatusUpdate, StatusPayload{Status: g.status})
	g.pub.Broadcast(EventPositionUpdate, PositionPayload{FEN: g.board.FEN()})
	g.startClock()

	// A whole side may have emptied its roster of proposals by now, e.g.
	// when its only member left during arbitration.
	g.attemptFinalize()
}

func (g *Game) candidateByLAN(candidates []ProposalPayload, lan string) (ProposalPayload, bool) {
	for _, c := range candidates {
		if c.LAN == lan {
			return c, true
		}
	}
	return ProposalPayload{}, false
}

// applyPosthumous records the arbitrated move after an abandonment ended
// the game mid-finalization.
func (g *Game) applyPosthumous(candidates []ProposalPayload, winLAN string) {
	move, _, err := g.board.DecodeLAN(winLAN)
	if err != nil {
		return
	}
	winner, ok := g.candidateByLAN(candidates, winLAN)
	if !ok {
		return
	}
	if err := g.board.Apply(move); err != nil {
		return
	}
	g.pub.Broadcast(EventMoveSelected, SelectionPayload{
		ID:         winner.ID,
		Name:       winner.Name,
		MoveNumber: winner.MoveNumber,
		Side:       winner.Side,
		LAN:        winner.LAN,
		SAN:        winner.SAN,
		FEN:        g.board.FEN(),
		Candidates: candidates,
	})
	g.pub.Broadcast(EventPositionUpdate, PositionPayload{FEN: g.board.FEN()})
}

// finalizeFailure recovers from an engine or rules fault without aborting
// the game: the turn reopens with a clean proposal slate.
func (g *Game) finalizeFailure(lan string, err error) {
	g.log.Errorw("turn finalization failed", "fen", g.board.FEN(), "lan", lan, "err", err)
	g.proposals = make(map[string]*Proposal)
	g.order = nil
	g.status = AwaitingProposals
	g.pub.Broadcast(EventGameStatusUpdate, StatusPayload{Status: g.status})
	g.systemChat("System error: move could not be processed.")
	g.startClock()
}

// dropProposal retracts pid's proposal for the current turn, if any.
// Callers hold the lock.
func (g *Game) dropProposal(pid string) {
	p, ok := g.proposals[pid]
	if !ok {
		return
	}
	delete(g.proposals, pid)
	for i, id := range g.order {
		if id == pid {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.pub.Broadcast(EventProposalRemoved, ProposalRemovedPayload{
		MoveNumber: p.MoveNumber,
		Side:       p.Side,
		ID:         pid,
	})
}
