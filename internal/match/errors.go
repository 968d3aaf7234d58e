package match

// Sentinel errors surfaced to the websocket layer as explicit events.
var (
	ErrInvalidArgs     = errf("invalid arguments")
	ErrRoomNotFound    = errf("room not found")
	ErrRoomFull        = errf("room already has two players")
	ErrNotInRoom       = errf("player is not seated in this room")
	ErrNotYourTurn     = errf("not your turn")
	ErrIllegalMove     = errf("illegal move")
	ErrWrongStatus     = errf("event not valid for current game status")
	ErrBadSignature    = errf("signature verification failed")
	ErrOpenTierRanked  = errf("tier open is only valid for unranked play")
	ErrTooManyRooms    = errf("room limit reached")
	ErrGameNotOver     = errf("game is not over on the authoritative board")
	ErrSelfJoin        = errf("cannot join your own room")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }

func errf(s string) error { return staticErr(s) }
