// Package engine adapts a UCI chess engine (Stockfish) to the one question
// the coordinator asks: of these candidate moves, which is strongest?
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/notnil/chess"
	"github.com/notnil/chess/uci"

	"github.com/crowdchess/crowdchess/common/log"
)

// DefaultDepth is the fixed search depth used for arbitration.
const DefaultDepth = 15

// Option is a Stockfish adapter option.
type Option func(*Stockfish)

// WithDepth overrides the search depth.
func WithDepth(d int) Option {
	return func(s *Stockfish) { s.depth = d }
}

// WithLogger sets the adapter logger.
func WithLogger(l log.Logger) Option {
	return func(s *Stockfish) { s.log = l }
}

// WithWatchdog bounds a single search. On expiry the first candidate wins.
func WithWatchdog(d time.Duration) Option {
	return func(s *Stockfish) { s.watchdog = d }
}

// Stockfish owns one engine subprocess. It is safe for use by one caller at
// a time, which is all the coordinator needs: turns finalize sequentially.
type Stockfish struct {
	eng      *uci.Engine
	depth    int
	watchdog time.Duration
	log      log.Logger
}

// New starts the engine subprocess at path and runs the UCI handshake.
func New(path string, opts ...Option) (*Stockfish, error) {
	s := &Stockfish{
		depth:    DefaultDepth,
		watchdog: 15 * time.Second,
		log:      log.DefaultLogger().Named("engine"),
	}
	for _, opt := range opts {
		opt(s)
	}

	eng, err := uci.New(path)
	if err != nil {
		return nil, fmt.Errorf("starting engine %q: %w", path, err)
	}
	if err := eng.Run(uci.CmdUCI, uci.CmdIsReady, uci.CmdUCINewGame); err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("engine handshake: %w", err)
	}
	s.eng = eng
	s.log.Infow("engine started", "path", path, "depth", s.depth)
	return s, nil
}

// Choose returns the strongest of the candidate LANs for the position in
// fen. Identical candidates are deduplicated first; a singleton is returned
// without consulting the engine. The result is always one of the inputs.
func (s *Stockfish) Choose(ctx context.Context, fen string, candidates []string) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("no candidates for position %s", fen)
	}
	distinct := dedupe(candidates)
	if len(distinct) == 1 {
		return distinct[0], nil
	}

	fenOpt, err := chess.FEN(fen)
	if err != nil {
		return "", fmt.Errorf("bad position %q: %w", fen, err)
	}
	game := chess.NewGame(fenOpt)
	pos := game.Position()

	moves := make([]*chess.Move, 0, len(distinct))
	for _, lan := range distinct {
		m, err := decodeLAN(pos, lan)
		if err != nil {
			return "", err
		}
		moves = append(moves, m)
	}

	type verdict struct {
		lan string
		err error
	}
	done := make(chan verdict, 1)
	go func() {
		if err := s.eng.Run(
			uci.CmdPosition{Position: pos},
			uci.CmdGo{Depth: s.depth, SearchMoves: moves},
		); err != nil {
			done <- verdict{err: fmt.Errorf("engine search: %w", err)}
			return
		}
		best := s.eng.SearchResults().BestMove
		if best == nil {
			done <- verdict{err: fmt.Errorf("engine returned no best move for %s", fen)}
			return
		}
		done <- verdict{lan: chess.UCINotation{}.Encode(pos, best)}
	}()

	select {
	case v := <-done:
		if v.err != nil {
			return "", v.err
		}
		if !contains(distinct, v.lan) {
			// Should not happen with searchmoves; never leak a stranger.
			s.log.Errorw("engine picked a non-candidate", "lan", v.lan, "fen", fen)
			return distinct[0], nil
		}
		return v.lan, nil
	case <-ctx.Done():
		s.log.Warnw("arbitration canceled, falling back to first candidate", "fen", fen)
		return distinct[0], nil
	case <-time.After(s.watchdog):
		s.log.Warnw("engine watchdog fired, falling back to first candidate",
			"fen", fen, "watchdog", s.watchdog)
		return distinct[0], nil
	}
}

// Quit terminates the subprocess.
func (s *Stockfish) Quit() error {
	if s.eng == nil {
		return nil
	}
	return s.eng.Close()
}

// dedupe keeps the first occurrence of each candidate, preserving order.
func dedupe(lans []string) []string {
	seen := make(map[string]struct{}, len(lans))
	out := make([]string, 0, len(lans))
	for _, lan := range lans {
		if _, ok := seen[lan]; ok {
			continue
		}
		seen[lan] = struct{}{}
		out = append(out, lan)
	}
	return out
}

func decodeLAN(pos *chess.Position, lan string) (*chess.Move, error) {
	for _, m := range pos.ValidMoves() {
		if chess.UCINotation{}.Encode(pos, m) == lan {
			return m, nil
		}
	}
	return nil, fmt.Errorf("candidate %q is not legal in %s", lan, pos.String())
}

func contains(lans []string, lan string) bool {
	for _, l := range lans {
		if l == lan {
			return true
		}
	}
	return false
}
