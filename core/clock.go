package core

import "time"

// The game clock is a 1Hz ticker that runs only while proposals are being
// collected. It decrements the side to move and broadcasts both remaining
// times on every tick. The low-time bonus is applied at commit, never here.

// startClock arms the ticker. Callers hold the lock.
func (g *Game) startClock() {
	g.stopClock()
	stop := make(chan struct{})
	g.clockStop = stop
	go g.runClock(stop)
}

// stopClock disarms the ticker. Callers hold the lock.
func (g *Game) stopClock() {
	if g.clockStop != nil {
		close(g.clockStop)
		g.clockStop = nil
	}
}

func (g *Game) runClock(stop chan struct{}) {
	ticker := g.clk.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			g.tick()
		case <-stop:
			return
		}
	}
}

func (g *Game) tick() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != AwaitingProposals {
		return
	}
	switch g.side {
	case TeamWhite:
		g.whiteTime--
	case TeamBlack:
		g.blackTime--
	}
	g.broadcastClock()

	if g.whiteTime <= 0 || g.blackTime <= 0 {
		winner := g.side.Opponent()
		g.endGame(ReasonTimeout, &winner)
	}
}
