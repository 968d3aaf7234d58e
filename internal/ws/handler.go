package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/gambit-chess/gambit-server/internal/match"
	"github.com/gambit-chess/gambit-server/internal/obslog"
	"github.com/gambit-chess/gambit-server/pkg/gambitdto"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Handler upgrades the connection and pumps client events into the
// coordinator until the socket closes; the close itself is a forfeit signal.
func Handler(hub *Hub, coord *match.Coordinator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"},
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		s := &Session{
			ID:     uuid.NewString(),
			conn:   conn,
			out:    make(chan []byte, 16),
			closed: make(chan struct{}),
		}
		obslog.L().Info("ws_connect", zap.String("session_id", s.ID))

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go s.writeLoop(ctx)

		defer func() {
			wallet := s.Wallet()
			// A session superseded by a reconnect no longer owns the wallet
			// binding; only the current session's close means the player left.
			wasCurrent := hub.Unbind(s)
			s.close()
			if wallet != "" && wasCurrent {
				coord.Disconnect(context.Background(), wallet)
			}
			obslog.L().Info("ws_disconnect", zap.String("session_id", s.ID), zap.String("wallet", wallet))
		}()

		for {
			select {
			case <-s.closed:
				return
			default:
			}
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					obslog.L().Debug("ws_read_error", zap.String("session_id", s.ID), zap.Error(err))
				}
				return
			}

			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				s.send(mustEncode(gambitdto.EvError, gambitdto.ErrorNotice{Message: "bad json"}))
				continue
			}
			dispatch(ctx, hub, coord, s, env)
		}
	}
}

// dispatch routes one inbound event. Coordinator errors that were already
// surfaced as explicit rejection events are not reported twice.
func dispatch(ctx context.Context, hub *Hub, coord *match.Coordinator, s *Session, env envelope) {
	var err error
	switch env.Event {
	case gambitdto.EvJoinLobby:
		var req gambitdto.JoinLobbyRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		var mode match.Mode
		var tier match.Tier
		if mode, err = match.ParseMode(req.RankedOrUnranked); err != nil {
			break
		}
		if tier, err = match.ParseTier(req.Tier); err != nil {
			break
		}
		hub.Bind(s, req.WalletAddress)
		err = coord.JoinLobby(ctx, req.WalletAddress, req.Username, mode, tier)

	case gambitdto.EvCreateRoom:
		var req gambitdto.CreateRoomRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		var tier match.Tier
		if tier, err = match.ParseTier(req.Tier); err != nil {
			break
		}
		hub.Bind(s, req.WalletAddress)
		_, err = coord.CreateRoom(ctx, req.WalletAddress, req.Username, tier, req.Wager, req.IsChallenge)

	case gambitdto.EvJoinRoom:
		var req gambitdto.JoinRoomRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		hub.Bind(s, req.WalletAddress)
		err = coord.JoinRoom(ctx, req.WalletAddress, req.Username, req.RoomID)

	case gambitdto.EvGetGameData:
		var req gambitdto.GameDataRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		hub.Bind(s, req.WalletAddress)
		err = coord.GameData(ctx, req.WalletAddress, req.RoomID)

	case gambitdto.EvGetChallenges:
		err = coord.Challenges(ctx, s.Wallet())

	case gambitdto.EvMakeMove:
		var req gambitdto.MakeMoveRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		hub.Bind(s, req.WalletAddress)
		err = coord.MakeMove(ctx, req.WalletAddress, req.RoomID, req.From, req.To, req.Promotion)

	case gambitdto.EvSignStart:
		var req gambitdto.SignRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		hub.Bind(s, req.Address)
		err = coord.SignStart(ctx, req.Address, req.RoomID, req.Signature)

	case gambitdto.EvSignEnd:
		var req gambitdto.SignRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		hub.Bind(s, req.Address)
		err = coord.SignEnd(ctx, req.Address, req.RoomID, req.Signature)

	case gambitdto.EvGameEnd:
		var req gambitdto.GameEndRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		hub.Bind(s, req.WalletAddress)
		err = coord.GameEnd(ctx, req.WalletAddress, req.RoomID)

	case gambitdto.EvResign:
		var req gambitdto.ResignRequest
		if err = json.Unmarshal(env.Data, &req); err != nil {
			break
		}
		hub.Bind(s, req.WalletAddress)
		err = coord.Resign(ctx, req.WalletAddress, req.RoomID)

	default:
		s.send(mustEncode(gambitdto.EvError, gambitdto.ErrorNotice{Message: "unknown event"}))
		return
	}

	if err != nil && !alreadySurfaced(err) {
		s.send(mustEncode(gambitdto.EvError, gambitdto.ErrorNotice{Message: err.Error()}))
	}
	if err != nil {
		obslog.L().Debug("ws_event_error",
			zap.String("session_id", s.ID),
			zap.String("event", env.Event),
			zap.Error(err),
		)
	}
}

// alreadySurfaced reports errors the coordinator has turned into an explicit
// client event (invalid_move, sign_rejected, error) on its own. Reporting them
// again here would double-notify the client.
func alreadySurfaced(err error) bool {
	for _, known := range []error{
		match.ErrNotYourTurn,
		match.ErrIllegalMove,
		match.ErrBadSignature,
		match.ErrGameNotOver,
		match.ErrWrongStatus,
		match.ErrNotInRoom,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}

func mustEncode(event string, data any) []byte {
	payload, _ := json.Marshal(gambitdto.Envelope{Event: event, Data: data})
	return payload
}
