package core

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// Session is the durable identity of one player. It outlives transport
// sockets: a session has zero or one live connection at any moment and is
// only removed once the disconnect grace window expires, a kick passes, or
// the player is blacklisted.
type Session struct {
	ID        string
	Name      string
	Team      Team
	Connected bool

	// removal, when non-nil, cancels the pending grace-window removal.
	removal chan struct{}
}

// ErrBlacklisted rejects a connection before any state update.
var ErrBlacklisted = errors.New("player is blacklisted")

const defaultName = "Player"

// mintPID generates an opaque player identifier.
func mintPID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func trimName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return defaultName
	}
	if r := []rune(name); len(r) > MaxNameLength {
		return string(r[:MaxNameLength])
	}
	return name
}

// Resolve maps connection hints to a session, creating one when the pid is
// unknown or absent. It returns the authoritative pid. Blacklisted pids are
// rejected before any state changes.
func (g *Game) Resolve(pid, name string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, banned := g.blacklist[pid]; banned {
		return "", ErrBlacklisted
	}
	if s, ok := g.sessions[pid]; ok {
		g.cancelRemoval(s)
		return s.ID, nil
	}

	s := &Session{
		ID:   mintPID(),
		Name: trimName(name),
		Team: TeamSpectator,
	}
	g.sessions[s.ID] = s
	g.log.Infow("session created", "pid", s.ID, "name", s.Name)
	return s.ID, nil
}

func (g *Game) cancelRemoval(s *Session) {
	if s.removal != nil {
		close(s.removal)
		s.removal = nil
	}
}

// scheduleRemoval arms the grace-window timer for a disconnected session.
// Callers hold the lock.
func (g *Game) scheduleRemoval(s *Session) {
	g.cancelRemoval(s)
	cancel := make(chan struct{})
	s.removal = cancel
	pid := s.ID
	go func() {
		select {
		case <-g.clk.After(g.cfg.graceWindow):
			g.expireSession(pid)
		case <-cancel:
		}
	}()
}

// expireSession removes a session whose grace window ran out.
func (g *Game) expireSession(pid string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.sessions[pid]
	if !ok || s.Connected {
		return
	}
	s.removal = nil
	g.log.Infow("session expired", "pid", pid, "name", s.Name)
	g.removeSession(s)
}

// removeSession deletes the session and its traces from the live game,
// then re-evaluates abandonment and finalization. Callers hold the lock.
func (g *Game) removeSession(s *Session) {
	g.cancelRemoval(s)
	delete(g.sessions, s.ID)
	delete(g.teams[TeamWhite], s.ID)
	delete(g.teams[TeamBlack], s.ID)
	g.dropProposal(s.ID)
	g.broadcastRoster()
	g.checkAbandonment()
	g.attemptFinalize()
}

// Blacklisted reports whether a pid is banned from the process.
func (g *Game) Blacklisted(pid string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, banned := g.blacklist[pid]
	return banned
}
