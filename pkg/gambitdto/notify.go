package gambitdto

// MoveBroadcast mirrors the payload the game pages feed into their local board.
type MoveBroadcast struct {
	From           string       `json:"from"`
	To             string       `json:"to"`
	Promotion      string       `json:"promotion,omitempty"`
	Color          string       `json:"color"`
	WhoseTurn      string       `json:"whoseTurn"`
	Captures       CapturesInfo `json:"captures"`
	FormattedMoves []string     `json:"formattedMoves"`
}

// CaptureCount holds per-kind counts of pieces taken by one side.
type CaptureCount struct {
	P int `json:"p"`
	N int `json:"n"`
	B int `json:"b"`
	R int `json:"r"`
	Q int `json:"q"`
}

type CapturesInfo struct {
	W CaptureCount `json:"w"`
	B CaptureCount `json:"b"`
}

type GameEndingNotice struct {
	Result  string `json:"result"`
	Winner  string `json:"winner"`
	History string `json:"history"`
}

type GameEndedNotice struct {
	Result string `json:"result"`
	Winner string `json:"winner"`
	TxHash string `json:"txHash,omitempty"`
}

type SettlementFailedNotice struct {
	RoomID string `json:"roomId"`
	Reason string `json:"reason"`
}

type SignAcceptedNotice struct {
	RoomID string `json:"roomId"`
	Phase  string `json:"phase"`
}

type SignRejectedNotice struct {
	RoomID string `json:"roomId"`
	Phase  string `json:"phase"`
	Reason string `json:"reason"`
}

type InvalidMoveNotice struct {
	RoomID  string `json:"roomId"`
	Message string `json:"message"`
}

type PrivateRoomCreatedNotice struct {
	RoomID string `json:"roomId"`
}

type ErrorNotice struct {
	Message string `json:"message"`
}

// PlayerProfile is the REST projection of the contract's getFullPlayerData.
type PlayerProfile struct {
	Username string   `json:"username"`
	Address  string   `json:"address"`
	Rating   int64    `json:"rating"`
	Tier     string   `json:"tier"`
	MatchIDs []string `json:"matchIds"`
}
