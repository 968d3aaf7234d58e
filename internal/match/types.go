package match

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/gambit-chess/gambit-server/pkg/gambitdto"
)

// Mode separates staked ranked play from free play.
type Mode string

const (
	ModeRanked   Mode = "ranked"
	ModeUnranked Mode = "unranked"
)

// Tier is the skill bracket used both as the matchmaking key and, for ranked
// play, as the index into the wager table.
type Tier string

const (
	TierNovice      Tier = "novice"
	TierAmateur     Tier = "amateur"
	TierPro         Tier = "pro"
	TierExpert      Tier = "expert"
	TierGrandmaster Tier = "grandmaster"
	TierOpen        Tier = "open"
)

// Status is the room lifecycle state.
type Status string

const (
	StatusWaiting      Status = "waiting"
	StatusSigningStart Status = "signing_start"
	StatusStarted      Status = "started"
	StatusEnding       Status = "ending"
	StatusSettling     Status = "settling"
	StatusEnded        Status = "ended"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeRanked:
		return ModeRanked, nil
	case ModeUnranked:
		return ModeUnranked, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case TierNovice:
		return TierNovice, nil
	case TierAmateur:
		return TierAmateur, nil
	case TierPro:
		return TierPro, nil
	case TierExpert:
		return TierExpert, nil
	case TierGrandmaster:
		return TierGrandmaster, nil
	case TierOpen:
		return TierOpen, nil
	}
	return "", fmt.Errorf("unknown tier %q", s)
}

// TierForRating maps an on-chain rating to its bracket.
func TierForRating(rating int64) Tier {
	switch {
	case rating < 200:
		return TierNovice
	case rating < 500:
		return TierAmateur
	case rating < 800:
		return TierPro
	case rating < 1200:
		return TierExpert
	default:
		return TierGrandmaster
	}
}

// SeatMap holds one value per color under the wire keys "w" and "b".
type SeatMap struct {
	W string `json:"w"`
	B string `json:"b"`
}

// Move is one accepted move as recorded in the room history.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Piece     string `json:"piece"`
	Promotion string `json:"promotion,omitempty"`
	Captured  string `json:"captured,omitempty"`
	SAN       string `json:"san"`
	Color     string `json:"color"`
}

// SigEntry is one collected signature at a signing checkpoint.
type SigEntry struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// Room is the full server-side record of one match.
type Room struct {
	ID             string                `json:"roomId"`
	Mode           Mode                  `json:"mode"`
	Tier           Tier                  `json:"tier"`
	Wager          int64                 `json:"wager"`
	Challenge      bool                  `json:"isChallenge"`
	PlayerColors   SeatMap               `json:"playerColors"`
	PlayerNames    SeatMap               `json:"playerUsernames"`
	Moves          []Move                `json:"moveHistory"`
	FormattedMoves []string              `json:"formattedMoves"`
	Captures       gambitdto.CapturesInfo `json:"captures"`
	Turn           string                `json:"currentTurn"`
	Status         Status                `json:"gameStatus"`
	Winner         string                `json:"winner"`
	StartMessage   string                `json:"message"`
	StartSigs      []SigEntry            `json:"start_sigs"`
	EndSigs        []SigEntry            `json:"end_sigs"`
	HistoryMessage string                `json:"historyMessage,omitempty"`
	EndResult      string                `json:"result,omitempty"`
	CreatedAt      time.Time             `json:"createdAt"`
	// PhaseSeq increments on every status transition; timers capture it so a
	// stale timer firing after a transition becomes a no-op.
	PhaseSeq int `json:"phaseSeq"`
}

// NewRoomID builds a time-based token in the original <mode>_<tier>_<ms>
// shape, with a random suffix so two rooms created in the same millisecond
// stay distinct.
func NewRoomID(mode Mode, tier Tier) string {
	return fmt.Sprintf("%s_%s_%d_%s", mode, tier, time.Now().UnixMilli(), randSuffix(3))
}

func randSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%x", time.Now().UnixNano()%1_000_000)
	}
	return hex.EncodeToString(b)
}

// SeatOf returns "w" or "b" for a seated address, "" otherwise.
func (r *Room) SeatOf(addr string) string {
	switch {
	case addr != "" && strings.EqualFold(r.PlayerColors.W, addr):
		return "w"
	case addr != "" && strings.EqualFold(r.PlayerColors.B, addr):
		return "b"
	}
	return ""
}

func (r *Room) HasPlayer(addr string) bool { return r.SeatOf(addr) != "" }

// Opponent returns the other seated address, or "" when addr is not seated.
func (r *Room) Opponent(addr string) string {
	switch r.SeatOf(addr) {
	case "w":
		return r.PlayerColors.B
	case "b":
		return r.PlayerColors.W
	}
	return ""
}

// HistoryString is the serialized move history both players sign at game end.
func (r *Room) HistoryString() string {
	return strings.Join(r.FormattedMoves, " ")
}

// HasSigned reports whether addr already contributed to the given list.
func HasSigned(sigs []SigEntry, addr string) bool {
	for _, s := range sigs {
		if strings.EqualFold(s.Address, addr) {
			return true
		}
	}
	return false
}

// BuildStartMessage composes the exact text both players sign before the game
// starts. It is computed once when both seats are known and never regenerated;
// re-deriving it later would invalidate already-collected signatures.
func BuildStartMessage(r *Room, now time.Time) string {
	return fmt.Sprintf(
		"Gambit Chess Match\nWhite: %s (%s)\nBlack: %s (%s)\nMode: %s\nTier: %s\nWager: %d\nTimestamp: %d",
		r.PlayerNames.W, r.PlayerColors.W,
		r.PlayerNames.B, r.PlayerColors.B,
		r.Mode, r.Tier, r.Wager, now.UnixMilli(),
	)
}

// EndSignMessage wraps the serialized history in the text the client signs.
func EndSignMessage(history string) string {
	return "Game History is:\n" + history
}

// Clone returns a deep copy safe to hand outside the store.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Moves = append([]Move(nil), r.Moves...)
	cp.FormattedMoves = append([]string(nil), r.FormattedMoves...)
	cp.StartSigs = append([]SigEntry(nil), r.StartSigs...)
	cp.EndSigs = append([]SigEntry(nil), r.EndSigs...)
	return &cp
}

func addCapture(c *gambitdto.CaptureCount, piece string) {
	switch strings.ToLower(piece) {
	case "p":
		c.P++
	case "n":
		c.N++
	case "b":
		c.B++
	case "r":
		c.R++
	case "q":
		c.Q++
	}
}

// RecordCapture tallies a piece taken by the given side. Counts only grow.
func (r *Room) RecordCapture(bySide, piece string) {
	if piece == "" {
		return
	}
	if bySide == "w" {
		addCapture(&r.Captures.W, piece)
	} else {
		addCapture(&r.Captures.B, piece)
	}
}
