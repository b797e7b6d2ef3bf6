package core

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/crowdchess/crowdchess/metrics"
)

// VoteKind discriminates the vote variants.
type VoteKind string

const (
	VoteResign     VoteKind = "resign"
	VoteOfferDraw  VoteKind = "offer_draw"
	VoteAcceptDraw VoteKind = "accept_draw"
	VoteKick       VoteKind = "kick"
	VoteReset      VoteKind = "reset"
)

// systemInitiator marks votes the server starts itself, e.g. the accept_draw
// vote raised on the team facing a draw offer.
const systemInitiator = "system"

var (
	errVoteInProgress = errors.New("A vote of this kind is already in progress.")
	errNoVote         = errors.New("No vote in progress.")
	errNotEligible    = errors.New("You are not eligible to vote.")
	errAlreadyVoted   = errors.New("Already voted.")
	errSpectatorVote  = errors.New("Spectators cannot start team votes.")
	errGameNotActive  = errors.New("Game is not active.")
	errDrawPending    = errors.New("A draw offer is already pending.")
	errNoDrawOffer    = errors.New("There is no draw offer to accept.")
	errKickSelf       = errors.New("You cannot start a kick vote against yourself.")
	errUnknownTarget  = errors.New("Unknown player.")
	errResetInLobby   = errors.New("The game has not started.")
	errBadVoteKind    = errors.New("Unknown vote type.")
)

// vote is one running ballot: an eligibility snapshot frozen at start, a
// mutable tally and a deadline. Players joining after the snapshot cannot
// vote.
type vote struct {
	kind       VoteKind
	team       Team // team votes only
	initiator  string
	target     string // kick only
	targetName string
	eligible   map[string]struct{}
	yes        map[string]struct{}
	no         map[string]struct{}
	required   int
	deadline   time.Time
	cancel     chan struct{}
}

func (v *vote) voted(pid string) bool {
	if _, ok := v.yes[pid]; ok {
		return true
	}
	_, ok := v.no[pid]
	return ok
}

// majority is the strict-majority quorum for kick and reset votes.
func majority(n int) int {
	return n/2 + 1
}

func (g *Game) votePayload(v *vote, outcome string) VotePayload {
	if v == nil {
		return VotePayload{Outcome: outcome}
	}
	names := func(set map[string]struct{}) []string {
		out := make([]string, 0, len(set))
		for pid := range set {
			out = append(out, g.sessionName(pid))
		}
		sort.Strings(out)
		return out
	}
	return VotePayload{
		Active:     outcome == "",
		Kind:       string(v.kind),
		Initiator:  v.initiator,
		TargetID:   v.target,
		TargetName: v.targetName,
		YesNames:   names(v.yes),
		NoNames:    names(v.no),
		Required:   v.required,
		Deadline:   v.deadline.UnixMilli(),
		Outcome:    outcome,
	}
}

func (g *Game) teamVotePayload(team Team) VotePayload {
	return g.votePayload(g.teamVotes[team], "")
}

// armVoteTimer starts the vote deadline. Callers hold the lock; expire runs
// without it and must re-acquire.
func (g *Game) armVoteTimer(v *vote, expire func(*vote)) {
	cancel := make(chan struct{})
	v.cancel = cancel
	go func() {
		select {
		case <-g.clk.After(g.cfg.voteDuration):
			expire(v)
		case <-cancel:
		}
	}()
}

func (g *Game) cancelVoteTimer(v *vote) {
	if v.cancel != nil {
		close(v.cancel)
		v.cancel = nil
	}
}

// cancelAllVotes silently retires every running vote and clears the client
// panels. Callers hold the lock.
func (g *Game) cancelAllVotes() {
	for team, v := range g.teamVotes {
		g.cancelVoteTimer(v)
		delete(g.teamVotes, team)
		g.teamMulticast(team, EventTeamVoteUpdate, VotePayload{})
	}
	if v := g.kickVote; v != nil {
		g.cancelVoteTimer(v)
		g.kickVote = nil
		g.pub.Broadcast(EventKickVoteUpdate, VotePayload{})
	}
	if v := g.resetVote; v != nil {
		g.cancelVoteTimer(v)
		g.resetVote = nil
		g.pub.Broadcast(EventResetVoteUpdate, VotePayload{})
	}
}

// ---- team action votes -------------------------------------------------

// StartTeamVote opens a resign, offer_draw or accept_draw ballot on the
// caller's team. With at most one eligible voter and a player initiator the
// action executes immediately instead.
func (g *Game) StartTeamVote(pid string, kind VoteKind) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch kind {
	case VoteResign, VoteOfferDraw, VoteAcceptDraw:
	default:
		return errBadVoteKind
	}
	s, ok := g.sessions[pid]
	if !ok {
		return ErrUnknownSession
	}
	if !s.Team.Playing() {
		return errSpectatorVote
	}
	if g.status != AwaitingProposals && g.status != FinalizingTurn {
		return errGameNotActive
	}
	if g.teamVotes[s.Team] != nil {
		return errVoteInProgress
	}
	switch kind {
	case VoteOfferDraw:
		if g.drawOffer != "" {
			return errDrawPending
		}
	case VoteAcceptDraw:
		if g.drawOffer != s.Team.Opponent() {
			return errNoDrawOffer
		}
	}

	g.startTeamVote(kind, s.Team, pid)
	return nil
}

func (g *Game) startTeamVote(kind VoteKind, team Team, initiator string) {
	eligible := g.onlineTeam(team)

	if len(eligible) <= 1 && initiator != systemInitiator {
		// The client confirms solo actions locally; no ballot needed.
		g.log.Infow("team vote auto-executed", "kind", kind, "team", team)
		g.executeTeamAction(kind, team)
		return
	}

	v := &vote{
		kind:      kind,
		team:      team,
		initiator: initiator,
		eligible:  make(map[string]struct{}, len(eligible)),
		yes:       make(map[string]struct{}),
		no:        make(map[string]struct{}),
		required:  len(eligible),
		deadline:  g.clk.Now().Add(g.cfg.voteDuration),
	}
	for _, p := range eligible {
		v.eligible[p] = struct{}{}
	}
	if initiator != systemInitiator {
		v.yes[initiator] = struct{}{}
	}
	g.teamVotes[team] = v
	g.armVoteTimer(v, g.expireTeamVote)
	metrics.Votes.WithLabelValues(string(kind), "started").Inc()
	g.teamMulticast(team, EventTeamVoteUpdate, g.votePayload(v, ""))
	g.log.Infow("team vote started", "kind", kind, "team", team, "required", v.required)

	g.evaluateTeamVote(v)
}

// VoteTeam casts a ballot in the caller's team vote. A single no fails the
// vote outright; unanimity passes it.
func (g *Game) VoteTeam(pid string, approve bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[pid]
	if !ok {
		return ErrUnknownSession
	}
	v := g.teamVotes[s.Team]
	if v == nil {
		return errNoVote
	}
	if _, ok := v.eligible[pid]; !ok {
		return errNotEligible
	}
	if v.voted(pid) {
		return errAlreadyVoted
	}

	if !approve {
		v.no[pid] = struct{}{}
		g.failTeamVote(v, fmt.Sprintf("%s voted no", s.Name))
		return nil
	}
	v.yes[pid] = struct{}{}
	g.teamMulticast(v.team, EventTeamVoteUpdate, g.votePayload(v, ""))
	g.evaluateTeamVote(v)
	return nil
}

func (g *Game) evaluateTeamVote(v *vote) {
	if g.teamVotes[v.team] != v {
		return
	}
	// A system vote on an empty team has required == 0; it may only expire.
	if v.required > 0 && len(v.yes) >= v.required {
		g.passTeamVote(v)
	}
}

func (g *Game) passTeamVote(v *vote) {
	g.cancelVoteTimer(v)
	delete(g.teamVotes, v.team)
	metrics.Votes.WithLabelValues(string(v.kind), "passed").Inc()
	g.teamMulticast(v.team, EventTeamVoteUpdate, g.votePayload(v, "passed"))
	g.log.Infow("team vote passed", "kind", v.kind, "team", v.team)
	g.executeTeamAction(v.kind, v.team)
}

func (g *Game) failTeamVote(v *vote, why string) {
	g.cancelVoteTimer(v)
	delete(g.teamVotes, v.team)
	metrics.Votes.WithLabelValues(string(v.kind), "failed").Inc()
	g.teamMulticast(v.team, EventTeamVoteUpdate, g.votePayload(v, why))
	g.log.Infow("team vote failed", "kind", v.kind, "team", v.team, "why", why)

	if v.kind == VoteAcceptDraw && g.drawOffer != "" {
		g.drawOffer = ""
		g.pub.Broadcast(EventDrawOfferUpdate, DrawOfferPayload{})
		g.systemChat(fmt.Sprintf("The draw offer was declined (%s).", why))
	}
}

func (g *Game) expireTeamVote(v *vote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.teamVotes[v.team] != v {
		return
	}
	g.failTeamVote(v, "Time expired")
}

func (g *Game) executeTeamAction(kind VoteKind, team Team) {
	switch kind {
	case VoteResign:
		winner := team.Opponent()
		g.systemChat(fmt.Sprintf("Team %s resigns.", team))
		g.endGame(ReasonResignation, &winner)
	case VoteOfferDraw:
		g.drawOffer = team
		side := team
		g.pub.Broadcast(EventDrawOfferUpdate, DrawOfferPayload{Side: &side})
		g.systemChat(fmt.Sprintf("Team %s offers a draw.", team))
		if g.teamVotes[team.Opponent()] == nil {
			g.startTeamVote(VoteAcceptDraw, team.Opponent(), systemInitiator)
		}
	case VoteAcceptDraw:
		g.endGame(ReasonDrawAgreement, nil)
	}
}

// ---- kick vote ---------------------------------------------------------

// StartKickVote opens a global ballot to remove and blacklist a player.
func (g *Game) StartKickVote(pid, target string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.sessions[pid]; !ok {
		return ErrUnknownSession
	}
	if pid == target {
		return errKickSelf
	}
	ts, ok := g.sessions[target]
	if !ok {
		return errUnknownTarget
	}
	if g.kickVote != nil {
		return errVoteInProgress
	}

	v := &vote{
		kind:       VoteKick,
		initiator:  pid,
		target:     target,
		targetName: ts.Name,
		eligible:   make(map[string]struct{}),
		yes:        map[string]struct{}{pid: {}},
		no:         make(map[string]struct{}),
		deadline:   g.clk.Now().Add(g.cfg.voteDuration),
	}
	for _, p := range g.onlinePIDs() {
		if p != target {
			v.eligible[p] = struct{}{}
		}
	}
	v.required = majority(len(v.eligible))
	g.kickVote = v
	g.armVoteTimer(v, g.expireKickVote)
	metrics.Votes.WithLabelValues(string(VoteKick), "started").Inc()
	g.pub.Broadcast(EventKickVoteUpdate, g.votePayload(v, ""))
	g.log.Infow("kick vote started", "by", pid, "target", target, "required", v.required)

	g.evaluateKickVote(v)
	return nil
}

// VoteKick casts a yes or no ballot in the running kick vote. The target
// is never eligible.
func (g *Game) VoteKick(pid string, approve bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := g.kickVote
	if v == nil {
		return errNoVote
	}
	if _, ok := v.eligible[pid]; !ok {
		return errNotEligible
	}
	if v.voted(pid) {
		return errAlreadyVoted
	}
	if approve {
		v.yes[pid] = struct{}{}
	} else {
		v.no[pid] = struct{}{}
	}
	g.pub.Broadcast(EventKickVoteUpdate, g.votePayload(v, ""))
	g.evaluateKickVote(v)
	return nil
}

func (g *Game) evaluateKickVote(v *vote) {
	if g.kickVote != v {
		return
	}
	if len(v.yes) >= v.required {
		g.passKickVote(v)
		return
	}
	outstanding := len(v.eligible) - len(v.yes) - len(v.no)
	if len(v.yes)+outstanding < v.required {
		g.failKickVote(v, "Not enough votes possible")
	}
}

func (g *Game) passKickVote(v *vote) {
	g.cancelVoteTimer(v)
	g.kickVote = nil
	metrics.Votes.WithLabelValues(string(VoteKick), "passed").Inc()
	g.pub.Broadcast(EventKickVoteUpdate, g.votePayload(v, "passed"))

	g.blacklist[v.target] = struct{}{}
	g.systemChat(fmt.Sprintf("%s was kicked from the game.", v.targetName))
	if s, ok := g.sessions[v.target]; ok {
		g.removeSession(s)
	}
	g.pub.CloseClient(v.target)
	g.log.Infow("player kicked", "pid", v.target, "name", v.targetName)
}

func (g *Game) failKickVote(v *vote, why string) {
	g.cancelVoteTimer(v)
	g.kickVote = nil
	metrics.Votes.WithLabelValues(string(VoteKick), "failed").Inc()
	g.pub.Broadcast(EventKickVoteUpdate, g.votePayload(v, why))
	g.systemChat(fmt.Sprintf("Kick vote against %s failed: %s (%d yes, %d no).",
		v.targetName, why, len(v.yes), len(v.no)))
}

func (g *Game) expireKickVote(v *vote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.kickVote != v {
		return
	}
	g.failKickVote(v, "Time expired")
}

// ---- reset vote --------------------------------------------------------

// StartResetVote opens a global ballot to return the game to the lobby.
func (g *Game) StartResetVote(pid string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.sessions[pid]; !ok {
		return ErrUnknownSession
	}
	if g.status == Lobby {
		return errResetInLobby
	}
	if g.resetVote != nil {
		return errVoteInProgress
	}

	v := &vote{
		kind:      VoteReset,
		initiator: pid,
		eligible:  make(map[string]struct{}),
		yes:       map[string]struct{}{pid: {}},
		no:        make(map[string]struct{}),
		deadline:  g.clk.Now().Add(g.cfg.voteDuration),
	}
	for _, p := range g.onlinePIDs() {
		v.eligible[p] = struct{}{}
	}
	v.required = majority(len(v.eligible))
	g.resetVote = v
	g.armVoteTimer(v, g.expireResetVote)
	metrics.Votes.WithLabelValues(string(VoteReset), "started").Inc()
	g.pub.Broadcast(EventResetVoteUpdate, g.votePayload(v, ""))
	g.log.Infow("reset vote started", "by", pid, "required", v.required)

	g.evaluateResetVote(v)
	return nil
}

// VoteReset casts a yes or no ballot in the running reset vote.
func (g *Game) VoteReset(pid string, approve bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	v := g.resetVote
	if v == nil {
		return errNoVote
	}
	if _, ok := v.eligible[pid]; !ok {
		return errNotEligible
	}
	if v.voted(pid) {
		return errAlreadyVoted
	}
	if approve {
		v.yes[pid] = struct{}{}
	} else {
		v.no[pid] = struct{}{}
	}
	g.pub.Broadcast(EventResetVoteUpdate, g.votePayload(v, ""))
	g.evaluateResetVote(v)
	return nil
}

func (g *Game) evaluateResetVote(v *vote) {
	if g.resetVote != v {
		return
	}
	if len(v.yes) >= v.required {
		g.cancelVoteTimer(v)
		g.resetVote = nil
		metrics.Votes.WithLabelValues(string(VoteReset), "passed").Inc()
		g.pub.Broadcast(EventResetVoteUpdate, g.votePayload(v, "passed"))
		g.reset()
		return
	}
	outstanding := len(v.eligible) - len(v.yes) - len(v.no)
	if len(v.yes)+outstanding < v.required {
		g.failResetVote(v, "Not enough votes possible")
	}
}

func (g *Game) failResetVote(v *vote, why string) {
	g.cancelVoteTimer(v)
	g.resetVote = nil
	metrics.Votes.WithLabelValues(string(VoteReset), "failed").Inc()
	g.pub.Broadcast(EventResetVoteUpdate, g.votePayload(v, why))
	g.systemChat(fmt.Sprintf("Reset vote failed: %s (%d yes, %d no).",
		why, len(v.yes), len(v.no)))
}

func (g *Game) expireResetVote(v *vote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resetVote != v {
		return
	}
	g.failResetVote(v, "Time expired")
}
