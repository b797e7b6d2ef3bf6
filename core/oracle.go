package core

import (
	"errors"
	"strings"

	"github.com/notnil/chess"
)

// board wraps the chess library behind the few operations the coordinator
// needs: LAN validation, SAN derivation, move application, terminal
// detection and PGN export. The game owns exactly one board and replaces it
// on reset.
type board struct {
	game *chess.Game
}

func newBoard() *board {
	return &board{game: chess.NewGame()}
}

var errIllegalMove = errors.New("Illegal move.")

// FEN returns the current position.
func (b *board) FEN() string {
	return b.game.Position().String()
}

// SideToMove returns the team whose move is being collected.
func (b *board) SideToMove() Team {
	if b.game.Position().Turn() == chess.White {
		return TeamWhite
	}
	return TeamBlack
}

// DecodeLAN validates lan against the legal moves of the current position
// and returns the move together with its SAN rendering. The position is not
// mutated.
func (b *board) DecodeLAN(lan string) (*chess.Move, string, error) {
	pos := b.game.Position()
	for _, m := range pos.ValidMoves() {
		if chess.UCINotation{}.Encode(pos, m) == lan {
			san := chess.AlgebraicNotation{}.Encode(pos, m)
			return m, san, nil
		}
	}
	return nil, "", errIllegalMove
}

// Apply commits a move previously validated by DecodeLAN.
func (b *board) Apply(m *chess.Move) error {
	return b.game.Move(m)
}

// Terminal reports whether the position ended the game, with the end reason
// and the winning team (nil on draws). Claimable draws (threefold, fifty
// moves) are claimed on behalf of the room: cooperative chess has no single
// player whose claim could be awaited.
func (b *board) Terminal() (string, *Team, bool) {
	if b.game.Outcome() == chess.NoOutcome {
		for _, m := range b.game.EligibleDraws() {
			switch m {
			case chess.ThreefoldRepetition:
				_ = b.game.Draw(chess.ThreefoldRepetition)
			case chess.FiftyMoveRule:
				_ = b.game.Draw(chess.FiftyMoveRule)
			}
		}
	}
	if b.game.Outcome() == chess.NoOutcome {
		return "", nil, false
	}

	var winner *Team
	switch b.game.Outcome() {
	case chess.WhiteWon:
		w := TeamWhite
		winner = &w
	case chess.BlackWon:
		w := TeamBlack
		winner = &w
	}

	var reason string
	switch b.game.Method() {
	case chess.Checkmate:
		reason = ReasonCheckmate
	case chess.Stalemate:
		reason = ReasonStalemate
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		reason = ReasonThreefold
	case chess.InsufficientMaterial:
		reason = ReasonInsufficient
	default:
		reason = ReasonDrawByRule
	}
	return reason, winner, true
}

// PGN exports the move history with bracketed tag-pair lines stripped.
func (b *board) PGN() string {
	var lines []string
	for _, line := range strings.Split(b.game.String(), "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "[") {
			continue
		}
		lines = append(lines, trimmed)
	}
	return strings.Join(lines, " ")
}
