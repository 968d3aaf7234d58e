package gambitdto

// Client to server events.
const (
	EvJoinLobby     = "join_lobby"
	EvCreateRoom    = "create_room"
	EvJoinRoom      = "join_room"
	EvGetGameData   = "get_game_data"
	EvGetChallenges = "get_challenges"
	EvMakeMove      = "make_move"
	EvSignStart     = "sign_start"
	EvSignEnd       = "sign_end"
	EvGameEnd       = "game_end"
	EvResign        = "resign"
)

// Server to client events.
const (
	EvMatchFound        = "match_found"
	EvGameStarted       = "game_started"
	EvGameData          = "game_data"
	EvMove              = "move"
	EvInvalidMove       = "invalid_move"
	EvSignAccepted      = "sign_accepted"
	EvSignRejected      = "sign_rejected"
	EvGameEnding        = "game_ending"
	EvGameEnded         = "game_ended"
	EvSettlementFailed  = "settlement_failed"
	EvChallengeCreated  = "challenge_created"
	EvChallengesList    = "challenges_list"
	EvPrivateRoomCreate = "private_room_created"
	EvError             = "error"
)
