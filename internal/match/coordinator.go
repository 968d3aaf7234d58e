package match

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gambit-chess/gambit-server/internal/obslog"
	"github.com/gambit-chess/gambit-server/pkg/gambitdto"
)

// Notifier is the outbound side of the coordinator: room membership and event
// emission. The websocket hub implements it; tests substitute a recorder.
type Notifier interface {
	JoinRoom(addr, roomID string)
	EmitRoom(roomID, event string, data any)
	EmitWallet(addr, event string, data any)
	EmitAll(event string, data any)
}

// SettleRequest carries everything the settlement contract call needs.
type SettleRequest struct {
	MatchID     string
	MoveHistory string
	Ranked      bool
	Player1     string
	Player2     string
	StartSig1   string
	StartSig2   string
	Stake       int64
	Winner      string
}

// Settler submits the on-chain settlement transaction. Nil settler means
// settlement is not configured and terminal rooms close without a transaction.
type Settler interface {
	Settle(ctx context.Context, req *SettleRequest) (txHash string, err error)
}

// VerifyFunc checks a wallet signature over message against the claimed
// address.
type VerifyFunc func(message, signature, address string) error

// Options tune the coordinator; zero values fall back to sane defaults.
type Options struct {
	SignTimeout      time.Duration
	SettleMaxRetries int
	SettleRetryDelay time.Duration
	MaxRooms         int
	RankedWagers     map[string]int64
}

// Coordinator owns the registry, queues and the room state machine. A single
// mutex serializes every mutating event, which gives the per-room ordering the
// protocol assumes; only settlement submission runs outside the lock.
type Coordinator struct {
	mu      sync.Mutex
	store   RoomStore
	queues  *Queues
	notify  Notifier
	verify  VerifyFunc
	settler Settler

	signTimeout   time.Duration
	settleRetries int
	settleDelay   time.Duration
	maxRooms      int
	wagers        map[string]int64

	timers map[string]*time.Timer
	names  nameCache
}

// nameCache remembers the username a wallet announced when queueing, since
// queue buckets only carry addresses. Guarded by the coordinator lock.
type nameCache struct {
	m map[string]string
}

func (n *nameCache) set(addr, name string) {
	if strings.TrimSpace(name) != "" {
		n.m[addr] = name
	}
}

func (n *nameCache) get(addr string) string { return n.m[addr] }

func (n *nameCache) drop(addr string) { delete(n.m, addr) }

func NewCoordinator(store RoomStore, notify Notifier, verify VerifyFunc, settler Settler, opts Options) *Coordinator {
	if opts.SignTimeout <= 0 {
		opts.SignTimeout = 2 * time.Minute
	}
	if opts.SettleRetryDelay <= 0 {
		opts.SettleRetryDelay = 5 * time.Second
	}
	if opts.MaxRooms <= 0 {
		opts.MaxRooms = 500
	}
	if opts.RankedWagers == nil {
		opts.RankedWagers = map[string]int64{
			"novice": 10, "amateur": 20, "pro": 50, "expert": 100, "grandmaster": 200,
		}
	}
	return &Coordinator{
		store:         store,
		queues:        NewQueues(),
		notify:        notify,
		verify:        verify,
		settler:       settler,
		signTimeout:   opts.SignTimeout,
		settleRetries: opts.SettleMaxRetries,
		settleDelay:   opts.SettleRetryDelay,
		maxRooms:      opts.MaxRooms,
		wagers:        opts.RankedWagers,
		timers:        make(map[string]*time.Timer),
		names:         nameCache{m: make(map[string]string)},
	}
}

// JoinLobby enqueues the wallet and pairs the two oldest waiters of the bucket
// into a room that starts directly in signing_start.
func (c *Coordinator) JoinLobby(ctx context.Context, addr, username string, mode Mode, tier Tier) error {
	if strings.TrimSpace(addr) == "" {
		return ErrInvalidArgs
	}
	if mode == ModeRanked && tier == TierOpen {
		return ErrOpenTierRanked
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	_, already := c.queues.Enqueue(addr, mode, tier)
	if already {
		obslog.L().Debug("lobby_rejoin_ignored", zap.String("wallet", addr))
		return nil
	}
	c.names.set(addr, username)
	obslog.L().Info("lobby_join",
		zap.String("wallet", addr),
		zap.String("mode", string(mode)),
		zap.String("tier", string(tier)),
		zap.Int("waiting", c.queues.Waiting(mode, tier)),
	)

	white, black, ok := c.queues.PopPair(mode, tier)
	if !ok {
		return nil
	}

	wager := int64(0)
	if mode == ModeRanked {
		wager = c.wagers[string(tier)]
	}
	room := &Room{
		ID:           NewRoomID(mode, tier),
		Mode:         mode,
		Tier:         tier,
		Wager:        wager,
		PlayerColors: SeatMap{W: white, B: black},
		PlayerNames:  SeatMap{W: c.names.get(white), B: c.names.get(black)},
		Turn:         "w",
		Status:       StatusSigningStart,
		CreatedAt:    time.Now(),
	}
	room.StartMessage = BuildStartMessage(room, room.CreatedAt)
	if err := c.store.Save(ctx, room); err != nil {
		return err
	}

	c.notify.JoinRoom(white, room.ID)
	c.notify.JoinRoom(black, room.ID)
	c.armSignTimer(room.ID, StatusSigningStart, room.PhaseSeq)
	c.notify.EmitRoom(room.ID, gambitdto.EvMatchFound, room)
	obslog.L().Info("match_paired",
		zap.String("room_id", room.ID),
		zap.String("white", white),
		zap.String("black", black),
		zap.Int64("wager", wager),
	)
	return nil
}

// CreateRoom registers a waiting arena challenge or private room with the
// creator seated as white.
func (c *Coordinator) CreateRoom(ctx context.Context, addr, username string, tier Tier, wager int64, isChallenge bool) (*Room, error) {
	if strings.TrimSpace(addr) == "" || wager < 0 {
		return nil, ErrInvalidArgs
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, err := c.store.Count(ctx); err != nil {
		return nil, err
	} else if n >= c.maxRooms {
		return nil, ErrTooManyRooms
	}

	c.names.set(addr, username)
	room := &Room{
		ID:           NewRoomID(ModeUnranked, tier),
		Mode:         ModeUnranked,
		Tier:         tier,
		Wager:        wager,
		Challenge:    isChallenge,
		PlayerColors: SeatMap{W: addr},
		PlayerNames:  SeatMap{W: username},
		Turn:         "w",
		Status:       StatusWaiting,
		CreatedAt:    time.Now(),
	}
	if err := c.store.Save(ctx, room); err != nil {
		return nil, err
	}
	c.notify.JoinRoom(addr, room.ID)

	if isChallenge {
		// Every connected client sees new challenges live, the creator
		// included: that's how they learn their room id.
		c.notify.EmitAll(gambitdto.EvChallengeCreated, room)
	} else {
		c.notify.EmitWallet(addr, gambitdto.EvPrivateRoomCreate, gambitdto.PrivateRoomCreatedNotice{RoomID: room.ID})
	}
	obslog.L().Info("room_create",
		zap.String("room_id", room.ID),
		zap.String("creator", addr),
		zap.Int64("wager", wager),
		zap.Bool("challenge", isChallenge),
	)
	return room, nil
}

// JoinRoom fills the black seat, freezes the start message and moves the room
// to signing_start.
func (c *Coordinator) JoinRoom(ctx context.Context, addr, username, roomID string) error {
	if strings.TrimSpace(addr) == "" || strings.TrimSpace(roomID) == "" {
		return ErrInvalidArgs
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrRoomNotFound
	}
	if room.Status != StatusWaiting || room.PlayerColors.B != "" {
		return ErrRoomFull
	}
	if strings.EqualFold(room.PlayerColors.W, addr) {
		return ErrSelfJoin
	}

	c.names.set(addr, username)
	room.PlayerColors.B = addr
	room.PlayerNames.B = username
	room.Status = StatusSigningStart
	room.PhaseSeq++
	room.StartMessage = BuildStartMessage(room, time.Now())
	if err := c.store.Save(ctx, room); err != nil {
		return err
	}

	c.notify.JoinRoom(addr, room.ID)
	c.armSignTimer(room.ID, StatusSigningStart, room.PhaseSeq)
	c.notify.EmitRoom(room.ID, gambitdto.EvMatchFound, room)
	obslog.L().Info("room_join",
		zap.String("room_id", room.ID),
		zap.String("black", addr),
	)
	return nil
}

// GameData sends the full room snapshot to one wallet.
func (c *Coordinator) GameData(ctx context.Context, addr, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrRoomNotFound
	}
	c.notify.JoinRoom(addr, room.ID)
	c.notify.EmitWallet(addr, gambitdto.EvGameData, room)
	return nil
}

// Challenges sends the open challenge list to one wallet.
func (c *Coordinator) Challenges(ctx context.Context, addr string) error {
	rooms, err := c.ListChallenges(ctx)
	if err != nil {
		return err
	}
	c.notify.EmitWallet(addr, gambitdto.EvChallengesList, rooms)
	return nil
}

// ListChallenges is the shared listing used by the websocket event and the
// REST endpoint.
func (c *Coordinator) ListChallenges(ctx context.Context) ([]*Room, error) {
	rooms, err := c.store.Challenges(ctx)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []*Room{}
	}
	return rooms, nil
}

// MakeMove validates and applies one move, then broadcasts the updated board
// facts to the room.
func (c *Coordinator) MakeMove(ctx context.Context, addr, roomID, from, to, promotion string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrRoomNotFound
	}
	if room.Status != StatusStarted {
		c.rejectMove(addr, roomID, "game is not in progress")
		return ErrWrongStatus
	}

	mv, err := applyMove(room, room.SeatOf(addr), from, to, promotion)
	if err != nil {
		c.rejectMove(addr, roomID, err.Error())
		return err
	}

	room.Moves = append(room.Moves, *mv)
	room.FormattedMoves = append(room.FormattedMoves, mv.SAN)
	room.RecordCapture(mv.Color, mv.Captured)
	room.Turn = flip(room.Turn)
	if err := c.store.Save(ctx, room); err != nil {
		return err
	}

	c.notify.EmitRoom(room.ID, gambitdto.EvMove, gambitdto.MoveBroadcast{
		From:           mv.From,
		To:             mv.To,
		Promotion:      mv.Promotion,
		Color:          mv.Color,
		WhoseTurn:      room.Turn,
		Captures:       room.Captures,
		FormattedMoves: room.FormattedMoves,
	})
	obslog.L().Info("move",
		zap.String("room_id", room.ID),
		zap.String("wallet", addr),
		zap.String("san", mv.SAN),
		zap.String("captured", mv.Captured),
		zap.String("next_turn", room.Turn),
	)
	return nil
}

// SignStart collects one start-of-game signature; the second verified
// signature starts the game.
func (c *Coordinator) SignStart(ctx context.Context, addr, roomID, signature string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrRoomNotFound
	}
	if room.Status != StatusSigningStart {
		c.rejectSign(addr, roomID, "start", "room is not collecting start signatures")
		return ErrWrongStatus
	}
	if !room.HasPlayer(addr) {
		c.rejectSign(addr, roomID, "start", "not a player of this room")
		return ErrNotInRoom
	}
	if HasSigned(room.StartSigs, addr) {
		c.notify.EmitWallet(addr, gambitdto.EvSignAccepted, gambitdto.SignAcceptedNotice{RoomID: roomID, Phase: "start"})
		return nil
	}
	if err := c.verify(room.StartMessage, signature, addr); err != nil {
		c.rejectSign(addr, roomID, "start", "signature does not verify against the match message")
		obslog.L().Warn("sign_start_invalid", zap.String("room_id", roomID), zap.String("wallet", addr), zap.Error(err))
		return ErrBadSignature
	}

	room.StartSigs = append(room.StartSigs, SigEntry{Address: addr, Signature: signature})
	c.notify.EmitWallet(addr, gambitdto.EvSignAccepted, gambitdto.SignAcceptedNotice{RoomID: roomID, Phase: "start"})

	if len(room.StartSigs) == 2 {
		room.Status = StatusStarted
		room.PhaseSeq++
		room.Turn = "w"
		c.cancelTimer(room.ID)
		if err := c.store.Save(ctx, room); err != nil {
			return err
		}
		c.notify.EmitRoom(room.ID, gambitdto.EvGameStarted, room)
		obslog.L().Info("game_started", zap.String("room_id", room.ID))
		return nil
	}
	return c.store.Save(ctx, room)
}

// GameEnd moves a started room to ending once the authoritative board agrees
// the game is over, freezing the history both players must sign.
func (c *Coordinator) GameEnd(ctx context.Context, addr, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrRoomNotFound
	}
	if room.Status != StatusStarted {
		c.notify.EmitWallet(addr, gambitdto.EvError, gambitdto.ErrorNotice{Message: "game is not in progress"})
		return ErrWrongStatus
	}
	if !room.HasPlayer(addr) {
		c.notify.EmitWallet(addr, gambitdto.EvError, gambitdto.ErrorNotice{Message: "not a player of this room"})
		return ErrNotInRoom
	}

	result, winnerSeat, over := terminalResult(room.Moves)
	if !over {
		c.notify.EmitWallet(addr, gambitdto.EvError, gambitdto.ErrorNotice{Message: "game is not over"})
		return ErrGameNotOver
	}

	room.EndResult = result
	switch winnerSeat {
	case "w":
		room.Winner = room.PlayerColors.W
	case "b":
		room.Winner = room.PlayerColors.B
	default:
		room.Winner = ""
	}
	room.HistoryMessage = EndSignMessage(room.HistoryString())
	room.Status = StatusEnding
	room.PhaseSeq++
	if err := c.store.Save(ctx, room); err != nil {
		return err
	}
	c.armSignTimer(room.ID, StatusEnding, room.PhaseSeq)
	c.notify.EmitRoom(room.ID, gambitdto.EvGameEnding, gambitdto.GameEndingNotice{
		Result:  result,
		Winner:  room.Winner,
		History: room.HistoryString(),
	})
	obslog.L().Info("game_ending",
		zap.String("room_id", room.ID),
		zap.String("result", result),
		zap.String("winner", room.Winner),
	)
	return nil
}

// SignEnd collects one end-of-game signature; the second verified signature
// hands the room to the settlement bridge.
func (c *Coordinator) SignEnd(ctx context.Context, addr, roomID, signature string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrRoomNotFound
	}
	if room.Status != StatusEnding {
		c.rejectSign(addr, roomID, "end", "room is not collecting end signatures")
		return ErrWrongStatus
	}
	if !room.HasPlayer(addr) {
		c.rejectSign(addr, roomID, "end", "not a player of this room")
		return ErrNotInRoom
	}
	if HasSigned(room.EndSigs, addr) {
		c.notify.EmitWallet(addr, gambitdto.EvSignAccepted, gambitdto.SignAcceptedNotice{RoomID: roomID, Phase: "end"})
		return nil
	}
	if err := c.verify(room.HistoryMessage, signature, addr); err != nil {
		c.rejectSign(addr, roomID, "end", "signature does not verify against the game history")
		obslog.L().Warn("sign_end_invalid", zap.String("room_id", roomID), zap.String("wallet", addr), zap.Error(err))
		return ErrBadSignature
	}

	room.EndSigs = append(room.EndSigs, SigEntry{Address: addr, Signature: signature})
	c.notify.EmitWallet(addr, gambitdto.EvSignAccepted, gambitdto.SignAcceptedNotice{RoomID: roomID, Phase: "end"})

	if len(room.EndSigs) < 2 {
		return c.store.Save(ctx, room)
	}

	// Both signatures in. The settling state keeps a second sign_end or a
	// concurrent retry from double-submitting the same room.
	room.Status = StatusSettling
	room.PhaseSeq++
	c.cancelTimer(room.ID)
	if err := c.store.Save(ctx, room); err != nil {
		return err
	}
	go c.runSettlement(room.Clone())
	return nil
}

// Resign forfeits immediately, bypassing the signing protocol.
func (c *Coordinator) Resign(ctx context.Context, addr, roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	room, err := c.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return ErrRoomNotFound
	}
	if !room.HasPlayer(addr) {
		c.notify.EmitWallet(addr, gambitdto.EvError, gambitdto.ErrorNotice{Message: "not a player of this room"})
		return ErrNotInRoom
	}
	if room.Status == StatusSettling {
		c.notify.EmitWallet(addr, gambitdto.EvError, gambitdto.ErrorNotice{Message: "settlement already in progress"})
		return ErrWrongStatus
	}
	c.closeForfeit(ctx, room, room.Opponent(addr), "resignation")
	return nil
}

// Disconnect removes the wallet from any queue and forfeits its live rooms.
// This is the documented fast path: the remaining player wins without
// end-signatures and no settlement is attempted.
func (c *Coordinator) Disconnect(ctx context.Context, addr string) {
	if strings.TrimSpace(addr) == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queues.Remove(addr)
	c.names.drop(addr)

	rooms, err := c.store.ByPlayer(ctx, addr)
	if err != nil {
		obslog.L().Error("disconnect_lookup_failed", zap.String("wallet", addr), zap.Error(err))
		return
	}
	for _, room := range rooms {
		switch room.Status {
		case StatusSettling:
			// Settlement is already in flight; its outcome closes the room.
			continue
		case StatusWaiting:
			c.cancelTimer(room.ID)
			if err := c.store.Delete(ctx, room.ID); err != nil {
				obslog.L().Error("room_delete_failed", zap.String("room_id", room.ID), zap.Error(err))
			}
			obslog.L().Info("waiting_room_cancelled", zap.String("room_id", room.ID), zap.String("wallet", addr))
		default:
			c.closeForfeit(ctx, room, room.Opponent(addr), "disconnection")
		}
	}
}

// closeForfeit ends a room outside the signing protocol. Caller holds the lock.
func (c *Coordinator) closeForfeit(ctx context.Context, room *Room, winner, reason string) {
	c.cancelTimer(room.ID)
	c.notify.EmitRoom(room.ID, gambitdto.EvGameEnded, gambitdto.GameEndedNotice{
		Result: reason,
		Winner: winner,
	})
	if err := c.store.Delete(ctx, room.ID); err != nil {
		obslog.L().Error("room_delete_failed", zap.String("room_id", room.ID), zap.Error(err))
	}
	obslog.L().Info("game_forfeit",
		zap.String("room_id", room.ID),
		zap.String("reason", reason),
		zap.String("winner", winner),
	)
}

// runSettlement submits the settlement transaction with bounded retries. Runs
// outside the coordinator lock; only the final transition re-enters it.
func (c *Coordinator) runSettlement(room *Room) {
	req := &SettleRequest{
		MatchID:     room.ID,
		MoveHistory: room.HistoryString(),
		Ranked:      room.Mode == ModeRanked,
		Player1:     room.PlayerColors.W,
		Player2:     room.PlayerColors.B,
		Stake:       room.Wager,
		Winner:      room.Winner,
	}
	if len(room.StartSigs) == 2 {
		req.StartSig1 = room.StartSigs[0].Signature
		req.StartSig2 = room.StartSigs[1].Signature
	}

	var txHash string
	var err error
	if c.settler == nil {
		obslog.L().Info("settle_skipped", zap.String("room_id", room.ID))
	} else {
		for attempt := 0; ; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			txHash, err = c.settler.Settle(ctx, req)
			cancel()
			if err == nil {
				break
			}
			obslog.L().Warn("settle_attempt_failed",
				zap.String("room_id", room.ID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			if attempt >= c.settleRetries {
				break
			}
			time.Sleep(c.settleDelay)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		// Out of retries. Keep the full room record in the logs for manual
		// reconciliation, surface the failure, and close the room so no
		// dangling entry remains.
		obslog.L().Error("settle_failed",
			zap.String("room_id", room.ID),
			zap.String("winner", room.Winner),
			zap.String("history", room.HistoryString()),
			zap.Int64("stake", room.Wager),
			zap.Error(err),
		)
		c.notify.EmitRoom(room.ID, gambitdto.EvSettlementFailed, gambitdto.SettlementFailedNotice{
			RoomID: room.ID,
			Reason: "settlement transaction failed",
		})
		_ = c.store.Delete(ctx, room.ID)
		return
	}

	c.notify.EmitRoom(room.ID, gambitdto.EvGameEnded, gambitdto.GameEndedNotice{
		Result: room.EndResult,
		Winner: room.Winner,
		TxHash: txHash,
	})
	if derr := c.store.Delete(ctx, room.ID); derr != nil {
		obslog.L().Error("room_delete_failed", zap.String("room_id", room.ID), zap.Error(derr))
	}
	obslog.L().Info("game_settled",
		zap.String("room_id", room.ID),
		zap.String("winner", room.Winner),
		zap.String("tx", txHash),
	)
}

// armSignTimer force-resolves a room stuck in a signing phase. The phase
// sequence captured at arm time makes a timer that fires after a legitimate
// transition a no-op.
func (c *Coordinator) armSignTimer(roomID string, phase Status, seq int) {
	c.cancelTimer(roomID)
	c.timers[roomID] = time.AfterFunc(c.signTimeout, func() {
		c.expireSigning(roomID, phase, seq)
	})
}

func (c *Coordinator) expireSigning(roomID string, phase Status, seq int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.mu.Lock()
	defer c.mu.Unlock()

	room, err := c.store.Get(ctx, roomID)
	if err != nil || room == nil {
		return
	}
	if room.Status != phase || room.PhaseSeq != seq {
		return
	}

	delete(c.timers, roomID)
	reason := "sign_timeout"
	if phase == StatusSigningStart {
		// Start phase never began: cancel with no winner.
		c.notify.EmitRoom(roomID, gambitdto.EvGameEnded, gambitdto.GameEndedNotice{Result: reason})
	} else {
		// End phase stalled: close without settlement and surface it.
		c.notify.EmitRoom(roomID, gambitdto.EvSettlementFailed, gambitdto.SettlementFailedNotice{
			RoomID: roomID,
			Reason: reason,
		})
	}
	_ = c.store.Delete(ctx, roomID)
	obslog.L().Warn("signing_expired", zap.String("room_id", roomID), zap.String("phase", string(phase)))
}

func (c *Coordinator) cancelTimer(roomID string) {
	if t, ok := c.timers[roomID]; ok {
		t.Stop()
		delete(c.timers, roomID)
	}
}

func (c *Coordinator) rejectMove(addr, roomID, msg string) {
	c.notify.EmitWallet(addr, gambitdto.EvInvalidMove, gambitdto.InvalidMoveNotice{RoomID: roomID, Message: msg})
}

func (c *Coordinator) rejectSign(addr, roomID, phase, reason string) {
	c.notify.EmitWallet(addr, gambitdto.EvSignRejected, gambitdto.SignRejectedNotice{RoomID: roomID, Phase: phase, Reason: reason})
}

func flip(turn string) string {
	if turn == "w" {
		return "b"
	}
	return "w"
}
