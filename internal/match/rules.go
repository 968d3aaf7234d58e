package match

import (
	"strings"

	nchess "github.com/corentings/chess/v2"
)

// The server never trusts the client's claimed move fields. Every make_move is
// replayed against the authoritative history and re-derived from the engine:
// SAN, captured piece and turn all come from here, not from the payload.

// replayRoom rebuilds the board by applying the stored history from the
// standard initial position.
func replayRoom(moves []Move) *nchess.Game {
	game := nchess.NewGame()
	for _, m := range moves {
		if err := game.PushNotationMove(uciString(m.From, m.To, m.Promotion), nchess.UCINotation{}, nil); err != nil {
			return nil
		}
	}
	return game
}

func uciString(from, to, promotion string) string {
	return strings.ToLower(strings.TrimSpace(from) + strings.TrimSpace(to) + strings.TrimSpace(promotion))
}

// applyMove validates a claimed move for the given seat against the replayed
// board and returns the accepted Move record. The claimed captured piece and
// SAN from the client are ignored in favor of the engine's view.
func applyMove(r *Room, seat, from, to, promotion string) (*Move, error) {
	if seat == "" {
		return nil, ErrNotInRoom
	}
	if seat != r.Turn {
		return nil, ErrNotYourTurn
	}
	game := replayRoom(r.Moves)
	if game == nil {
		return nil, ErrIllegalMove
	}
	pos := game.Position()
	moverWhite := pos.Turn() == nchess.White
	if (seat == "w") != moverWhite {
		// History and turn marker disagree; refuse rather than guess.
		return nil, ErrWrongStatus
	}

	uci := uciString(from, to, promotion)
	mv, err := (nchess.UCINotation{}).Decode(pos, uci)
	if err != nil {
		return nil, ErrIllegalMove
	}

	captured := ""
	if p := pos.Board().Piece(mv.S2()); p != nchess.NoPiece {
		captured = pieceLetter(p.Type())
	} else if mv.HasTag(nchess.EnPassant) {
		captured = "p"
	}

	san := (nchess.AlgebraicNotation{}).Encode(pos, mv)
	if err := game.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}

	piece := pieceLetter(pos.Board().Piece(mv.S1()).Type())
	return &Move{
		From:      strings.ToLower(strings.TrimSpace(from)),
		To:        strings.ToLower(strings.TrimSpace(to)),
		Piece:     piece,
		Promotion: strings.ToLower(strings.TrimSpace(promotion)),
		Captured:  captured,
		SAN:       san,
		Color:     seat,
	}, nil
}

// terminalResult inspects the replayed board and reports the game-over reason
// and winning seat ("" for draws). ok is false while the game is still live.
func terminalResult(moves []Move) (result string, winnerSeat string, ok bool) {
	game := replayRoom(moves)
	if game == nil {
		return "", "", false
	}
	switch game.Outcome() {
	case nchess.WhiteWon:
		return methodName(game.Method()), "w", true
	case nchess.BlackWon:
		return methodName(game.Method()), "b", true
	case nchess.Draw:
		return methodName(game.Method()), "", true
	}
	return "", "", false
}

func methodName(m nchess.Method) string {
	switch m {
	case nchess.Checkmate:
		return "checkmate"
	case nchess.Stalemate:
		return "stalemate"
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		return "repetition"
	case nchess.InsufficientMaterial:
		return "insufficient"
	case nchess.FiftyMoveRule, nchess.SeventyFiveMoveRule:
		return "fifty-move-rule"
	default:
		return "draw"
	}
}

func pieceLetter(t nchess.PieceType) string {
	switch t {
	case nchess.Pawn:
		return "p"
	case nchess.Knight:
		return "n"
	case nchess.Bishop:
		return "b"
	case nchess.Rook:
		return "r"
	case nchess.Queen:
		return "q"
	case nchess.King:
		return "k"
	}
	return ""
}
