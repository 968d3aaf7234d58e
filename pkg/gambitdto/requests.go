package gambitdto

// Envelope is the wire frame for every websocket message, both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type JoinLobbyRequest struct {
	WalletAddress    string `json:"walletAddress"`
	Username         string `json:"username"`
	Tier             string `json:"tier"`
	RankedOrUnranked string `json:"rankedOrUnranked"`
}

type CreateRoomRequest struct {
	WalletAddress string `json:"walletAddress"`
	Username      string `json:"username"`
	Tier          string `json:"tier"`
	Wager         int64  `json:"wager"`
	IsChallenge   bool   `json:"isChallenge"`
}

type JoinRoomRequest struct {
	WalletAddress string `json:"walletAddress"`
	Username      string `json:"username"`
	RoomID        string `json:"roomId"`
}

type GameDataRequest struct {
	RoomID        string `json:"roomId"`
	WalletAddress string `json:"walletAddress"`
}

type MakeMoveRequest struct {
	RoomID        string `json:"roomId"`
	WalletAddress string `json:"walletAddress"`
	From          string `json:"from"`
	To            string `json:"to"`
	Piece         string `json:"piece"`
	Promotion     string `json:"promotion"`
	Captured      string `json:"captured"`
	SANNotation   string `json:"sanNotation"`
}

type SignRequest struct {
	RoomID    string `json:"roomId"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

type GameEndRequest struct {
	RoomID        string `json:"roomId"`
	WalletAddress string `json:"walletAddress"`
	Result        string `json:"result"`
	Winner        string `json:"winner"`
}

type ResignRequest struct {
	RoomID        string `json:"roomId"`
	WalletAddress string `json:"walletAddress"`
}
