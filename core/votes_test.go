package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func lastVotePayload(t *testing.T, pub *fakePublisher, event string) VotePayload {
	t.Helper()
	e, ok := pub.last(event)
	require.True(t, ok)
	return e.Payload.(VotePayload)
}

func TestResignRequiresUnanimity(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	require.NoError(t, g.StartTeamVote("p2", VoteResign))
	require.Equal(t, AwaitingProposals, gameStatus(g))

	v := lastVotePayload(t, pub, EventTeamVoteUpdate)
	require.True(t, v.Active)
	require.Equal(t, string(VoteResign), v.Kind)
	require.Equal(t, 2, v.Required)
	require.Equal(t, []string{"Bob"}, v.YesNames)

	require.NoError(t, g.VoteTeam("p3", true))
	require.Equal(t, Over, gameStatus(g))

	over, ok := pub.last(EventGameOver)
	require.True(t, ok)
	payload := over.Payload.(GameOverPayload)
	require.Equal(t, ReasonResignation, payload.Reason)
	require.NotNil(t, payload.Winner)
	require.Equal(t, TeamWhite, *payload.Winner)
}

func TestSingleNoFailsTeamVote(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	require.NoError(t, g.StartTeamVote("p2", VoteResign))
	require.NoError(t, g.VoteTeam("p3", false))

	require.Equal(t, AwaitingProposals, gameStatus(g))
	v := lastVotePayload(t, pub, EventTeamVoteUpdate)
	require.False(t, v.Active)
	require.Contains(t, v.Outcome, "voted no")

	g.mu.Lock()
	require.Nil(t, g.teamVotes[TeamBlack])
	g.mu.Unlock()
}

func TestSoloResignExecutesImmediately(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	// Alice is White's only member; no ballot is raised.
	require.NoError(t, g.StartTeamVote("p1", VoteResign))
	require.Equal(t, Over, gameStatus(g))

	over, ok := pub.last(EventGameOver)
	require.True(t, ok)
	payload := over.Payload.(GameOverPayload)
	require.Equal(t, ReasonResignation, payload.Reason)
	require.Equal(t, TeamBlack, *payload.Winner)
}

func TestDrawOfferSpawnsOpposingVote(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	// Solo White offers; the offer lands immediately and the server raises
	// the accept ballot on Black.
	require.NoError(t, g.StartTeamVote("p1", VoteOfferDraw))

	offer, ok := pub.last(EventDrawOfferUpdate)
	require.True(t, ok)
	require.NotNil(t, offer.Payload.(DrawOfferPayload).Side)
	require.Equal(t, TeamWhite, *offer.Payload.(DrawOfferPayload).Side)

	g.mu.Lock()
	v := g.teamVotes[TeamBlack]
	g.mu.Unlock()
	require.NotNil(t, v)
	require.Equal(t, VoteAcceptDraw, v.kind)
	require.Equal(t, systemInitiator, v.initiator)
	require.Equal(t, 2, v.required)
	require.Empty(t, v.yes)

	require.NoError(t, g.VoteTeam("p2", true))
	require.Equal(t, AwaitingProposals, gameStatus(g))
	require.NoError(t, g.VoteTeam("p3", true))
	require.Equal(t, Over, gameStatus(g))

	over, _ := pub.last(EventGameOver)
	payload := over.Payload.(GameOverPayload)
	require.Equal(t, ReasonDrawAgreement, payload.Reason)
	require.Nil(t, payload.Winner)
}

func TestSystemAcceptVoteNeverAutoExecutes(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	addSession(g, "p1", "Alice", TeamWhite)
	addSession(g, "p2", "Bea", TeamWhite)
	addSession(g, "p3", "Bob", TeamBlack)
	require.NoError(t, g.PlayMove("p1", "e2e4"))
	require.NoError(t, g.PlayMove("p2", "e2e4"))
	require.Eventually(t, func() bool { return sideToMove(g) == TeamBlack }, waitFor, tickEvr)

	require.NoError(t, g.StartTeamVote("p1", VoteOfferDraw))
	require.NoError(t, g.VoteTeam("p2", true))

	// Bob is alone on Black yet still gets to answer; a solo opponent must
	// not be drawn by default.
	require.Equal(t, AwaitingProposals, gameStatus(g))
	g.mu.Lock()
	v := g.teamVotes[TeamBlack]
	g.mu.Unlock()
	require.NotNil(t, v)
	require.Equal(t, 1, v.required)

	require.NoError(t, g.VoteTeam("p3", true))
	require.Equal(t, Over, gameStatus(g))
}

func TestDecliningDrawClearsOffer(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	require.NoError(t, g.StartTeamVote("p1", VoteOfferDraw))
	require.NoError(t, g.VoteTeam("p2", false))

	require.Equal(t, AwaitingProposals, gameStatus(g))
	offer, ok := pub.last(EventDrawOfferUpdate)
	require.True(t, ok)
	require.Nil(t, offer.Payload.(DrawOfferPayload).Side)

	// With the offer gone, White may offer again.
	require.NoError(t, g.StartTeamVote("p1", VoteOfferDraw))
}

func TestDrawOfferWhileOnePendingRejected(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	require.NoError(t, g.StartTeamVote("p1", VoteOfferDraw))
	require.ErrorIs(t, g.StartTeamVote("p1", VoteOfferDraw), errDrawPending)
}

func TestAcceptDrawWithoutOfferRejected(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	require.ErrorIs(t, g.StartTeamVote("p2", VoteAcceptDraw), errNoDrawOffer)
}

func TestAcceptDrawExpiryClearsOffer(t *testing.T) {
	g, pub, _, fc := newTestGame(t)
	startThreePlayerGame(t, g)

	require.NoError(t, g.StartTeamVote("p1", VoteOfferDraw))

	// Advance in steps so the deadline fires no matter when the timer
	// goroutine registered with the fake clock.
	require.Eventually(t, func() bool {
		fc.Advance(time.Second)
		g.mu.Lock()
		defer g.mu.Unlock()
		return g.teamVotes[TeamBlack] == nil && g.drawOffer == ""
	}, waitFor, tickEvr)
	require.Equal(t, AwaitingProposals, gameStatus(g))

	chat, ok := pub.last(EventChatMessage)
	require.True(t, ok)
	require.Contains(t, chat.Payload.(ChatPayload).Message, "declined")
}

func TestSpectatorCannotStartTeamVote(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)
	addSession(g, "p4", "Dave", TeamSpectator)

	require.ErrorIs(t, g.StartTeamVote("p4", VoteResign), errSpectatorVote)
}

func TestTeamVoteRequiresActiveGame(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	addSession(g, "p1", "Alice", TeamWhite)

	require.ErrorIs(t, g.StartTeamVote("p1", VoteResign), errGameNotActive)
	require.ErrorIs(t, g.StartTeamVote("p1", "ragequit"), errBadVoteKind)
}

func TestLateJoinerNotEligible(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	require.NoError(t, g.StartTeamVote("p2", VoteResign))
	addSession(g, "p4", "Dave", TeamSpectator)
	require.NoError(t, g.JoinSide("p4", TeamBlack))

	require.ErrorIs(t, g.VoteTeam("p4", true), errNotEligible)
	require.ErrorIs(t, g.VoteTeam("p2", true), errAlreadyVoted)
}

func TestKickVotePassesAndBlacklists(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	addSession(g, "p1", "Alice", TeamSpectator)
	addSession(g, "p2", "Bob", TeamSpectator)
	addSession(g, "p3", "Mallory", TeamSpectator)

	require.NoError(t, g.StartKickVote("p1", "p3"))
	v := lastVotePayload(t, pub, EventKickVoteUpdate)
	require.Equal(t, 2, v.Required)
	require.Equal(t, "p3", v.TargetID)
	require.Equal(t, "Mallory", v.TargetName)

	require.NoError(t, g.VoteKick("p2", true))

	require.Equal(t, "passed", lastVotePayload(t, pub, EventKickVoteUpdate).Outcome)
	require.True(t, g.Blacklisted("p3"))
	require.Contains(t, pub.closedClients(), "p3")

	g.mu.Lock()
	_, alive := g.sessions["p3"]
	g.mu.Unlock()
	require.False(t, alive)

	// The pid stays banned for the process lifetime.
	_, err := g.Resolve("p3", "Mallory")
	require.ErrorIs(t, err, ErrBlacklisted)
}

func TestKickVoteValidation(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	addSession(g, "p1", "Alice", TeamSpectator)
	addSession(g, "p2", "Bob", TeamSpectator)

	require.ErrorIs(t, g.StartKickVote("p1", "p1"), errKickSelf)
	require.ErrorIs(t, g.StartKickVote("p1", "ghost"), errUnknownTarget)
	require.NoError(t, g.StartKickVote("p1", "p2"))
	require.ErrorIs(t, g.StartKickVote("p1", "p2"), errVoteInProgress)
	require.ErrorIs(t, g.VoteKick("p2", true), errNotEligible)
}

func TestKickVoteFailsWhenMajorityImpossible(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	for _, s := range []struct{ pid, name string }{
		{"p1", "Alice"}, {"p2", "Bob"}, {"p3", "Carol"}, {"p4", "Dave"}, {"p5", "Mallory"},
	} {
		addSession(g, s.pid, s.name, TeamSpectator)
	}

	require.NoError(t, g.StartKickVote("p1", "p5"))
	// Eligible 4, required 3, one yes. Two noes leave at most 2 yes.
	require.NoError(t, g.VoteKick("p2", false))
	require.NoError(t, g.VoteKick("p3", false))

	v := lastVotePayload(t, pub, EventKickVoteUpdate)
	require.False(t, v.Active)
	require.Contains(t, v.Outcome, "Not enough votes possible")
	require.False(t, g.Blacklisted("p5"))

	chat, ok := pub.last(EventChatMessage)
	require.True(t, ok)
	require.Contains(t, chat.Payload.(ChatPayload).Message, "failed")
}

func TestKickVoteExpires(t *testing.T) {
	g, pub, _, fc := newTestGame(t)
	addSession(g, "p1", "Alice", TeamSpectator)
	addSession(g, "p2", "Bob", TeamSpectator)
	addSession(g, "p3", "Mallory", TeamSpectator)

	require.NoError(t, g.StartKickVote("p1", "p3"))

	fc.BlockUntil(1)
	fc.Advance(DefaultVoteDuration)

	require.Eventually(t, func() bool {
		return lastVotePayload(t, pub, EventKickVoteUpdate).Outcome == "Time expired"
	}, waitFor, tickEvr)
	require.False(t, g.Blacklisted("p3"))
}

func TestResetVoteMajority(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)

	require.NoError(t, g.StartResetVote("p2"))
	v := lastVotePayload(t, pub, EventResetVoteUpdate)
	require.Equal(t, 2, v.Required)

	require.NoError(t, g.VoteReset("p1", false))
	require.NotEqual(t, Lobby, gameStatus(g))

	require.NoError(t, g.VoteReset("p3", true))
	require.Equal(t, Lobby, gameStatus(g))
	require.Equal(t, "passed", lastVotePayload(t, pub, EventResetVoteUpdate).Outcome)
}

func TestResetVoteValidation(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	addSession(g, "p1", "Alice", TeamWhite)

	require.ErrorIs(t, g.StartResetVote("p1"), errResetInLobby)
	require.ErrorIs(t, g.VoteReset("p1", true), errNoVote)
	require.ErrorIs(t, g.StartResetVote("ghost"), ErrUnknownSession)
}

func TestResetVoteAfterGameOver(t *testing.T) {
	g, _, _, _ := newTestGame(t)
	startThreePlayerGame(t, g)
	require.NoError(t, g.StartTeamVote("p1", VoteResign))
	require.Equal(t, Over, gameStatus(g))

	// The terminal screen offers a rematch through the same ballot.
	require.NoError(t, g.StartResetVote("p1"))
	require.NoError(t, g.VoteReset("p2", true))
	require.Equal(t, Lobby, gameStatus(g))
}

func TestMajority(t *testing.T) {
	require.Equal(t, 1, majority(1))
	require.Equal(t, 2, majority(2))
	require.Equal(t, 2, majority(3))
	require.Equal(t, 3, majority(4))
	require.Equal(t, 3, majority(5))
}

func TestVoteNamesSorted(t *testing.T) {
	g, pub, _, _ := newTestGame(t)
	addSession(g, "p1", "Zoe", TeamSpectator)
	addSession(g, "p2", "Al", TeamSpectator)
	addSession(g, "p3", "Mallory", TeamSpectator)
	addSession(g, "p4", "Bea", TeamSpectator)
	addSession(g, "p5", "Cy", TeamSpectator)

	// Eligible 4, required 3: Zoe starts, Al and Bea approve.
	require.NoError(t, g.StartKickVote("p1", "p3"))
	require.NoError(t, g.VoteKick("p2", true))
	require.NoError(t, g.VoteKick("p4", true))

	v := lastVotePayload(t, pub, EventKickVoteUpdate)
	require.Equal(t, "passed", v.Outcome)
	require.Equal(t, []string{"Al", "Bea", "Zoe"}, v.YesNames)
}
