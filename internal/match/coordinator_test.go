package match

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gambit-chess/gambit-server/internal/ethsig"
	"github.com/gambit-chess/gambit-server/pkg/gambitdto"
)

type emitted struct {
	Scope  string // "room", "wallet", "all"
	Target string
	Event  string
	Data   any
}

type fakeNotifier struct {
	mu     sync.Mutex
	joins  map[string][]string // wallet -> room ids
	events []emitted
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{joins: make(map[string][]string)}
}

func (f *fakeNotifier) JoinRoom(addr, roomID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins[addr] = append(f.joins[addr], roomID)
}

func (f *fakeNotifier) EmitRoom(roomID, event string, data any) {
	f.record(emitted{Scope: "room", Target: roomID, Event: event, Data: data})
}

func (f *fakeNotifier) EmitWallet(addr, event string, data any) {
	f.record(emitted{Scope: "wallet", Target: addr, Event: event, Data: data})
}

func (f *fakeNotifier) EmitAll(event string, data any) {
	f.record(emitted{Scope: "all", Event: event, Data: data})
}

func (f *fakeNotifier) record(e emitted) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
}

func (f *fakeNotifier) named(event string) []emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []emitted
	for _, e := range f.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeNotifier) last(event string) (emitted, bool) {
	all := f.named(event)
	if len(all) == 0 {
		return emitted{}, false
	}
	return all[len(all)-1], true
}

func (f *fakeNotifier) waitFor(t *testing.T, event string) emitted {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := f.last(event); ok {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q never emitted", event)
	return emitted{}
}

type fakeSettler struct {
	mu    sync.Mutex
	fails int
	calls []*SettleRequest
}

func (s *fakeSettler) Settle(_ context.Context, req *SettleRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.fails > 0 {
		s.fails--
		return "", errors.New("simulation reverted")
	}
	return "0xdeadbeef", nil
}

type player struct {
	key  *ecdsa.PrivateKey
	addr string
}

func newPlayer(t *testing.T) player {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return player{key: key, addr: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (p player) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := ethsig.Sign(message, p.key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func newTestCoordinator(t *testing.T, settler Settler, opts Options) (*Coordinator, *fakeNotifier) {
	t.Helper()
	notifier := newFakeNotifier()
	c := NewCoordinator(NewMemoryStore(), notifier, ethsig.Verify, settler, opts)
	return c, notifier
}

func pairViaQueue(t *testing.T, c *Coordinator, n *fakeNotifier, white, black player) *Room {
	t.Helper()
	ctx := context.Background()
	if err := c.JoinLobby(ctx, white.addr, "alice", ModeUnranked, TierNovice); err != nil {
		t.Fatalf("join lobby white: %v", err)
	}
	if err := c.JoinLobby(ctx, black.addr, "bob", ModeUnranked, TierNovice); err != nil {
		t.Fatalf("join lobby black: %v", err)
	}
	e, ok := n.last(gambitdto.EvMatchFound)
	if !ok {
		t.Fatalf("no match_found after second join")
	}
	room, ok := e.Data.(*Room)
	if !ok {
		t.Fatalf("match_found payload is %T", e.Data)
	}
	return room
}

func startGame(t *testing.T, c *Coordinator, room *Room, white, black player) {
	t.Helper()
	ctx := context.Background()
	if err := c.SignStart(ctx, white.addr, room.ID, white.sign(t, room.StartMessage)); err != nil {
		t.Fatalf("white sign_start: %v", err)
	}
	if err := c.SignStart(ctx, black.addr, room.ID, black.sign(t, room.StartMessage)); err != nil {
		t.Fatalf("black sign_start: %v", err)
	}
}

func playScholarsMate(t *testing.T, c *Coordinator, room *Room, white, black player) {
	t.Helper()
	ctx := context.Background()
	seq := []struct {
		p        player
		from, to string
	}{
		{white, "e2", "e4"}, {black, "e7", "e5"},
		{white, "f1", "c4"}, {black, "b8", "c6"},
		{white, "d1", "h5"}, {black, "g8", "f6"},
		{white, "h5", "f7"},
	}
	for _, m := range seq {
		if err := c.MakeMove(ctx, m.p.addr, room.ID, m.from, m.to, ""); err != nil {
			t.Fatalf("move %s%s: %v", m.from, m.to, err)
		}
	}
}

func TestQueuePairingEmitsMatchFound(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})

	room := pairViaQueue(t, c, n, white, black)
	if room.PlayerColors.W != white.addr || room.PlayerColors.B != black.addr {
		t.Fatalf("seats wrong: %+v", room.PlayerColors)
	}
	if room.Status != StatusSigningStart {
		t.Fatalf("queue pairs must start in signing_start, got %s", room.Status)
	}
	if room.StartMessage == "" {
		t.Fatalf("start message not frozen at pairing")
	}
	if room.Wager != 0 {
		t.Fatalf("unranked wager must be zero, got %d", room.Wager)
	}
}

func TestRankedPairingUsesWagerTable(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	ctx := context.Background()

	if err := c.JoinLobby(ctx, white.addr, "alice", ModeRanked, TierPro); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.JoinLobby(ctx, black.addr, "bob", ModeRanked, TierPro); err != nil {
		t.Fatalf("join: %v", err)
	}
	e, _ := n.last(gambitdto.EvMatchFound)
	room := e.Data.(*Room)
	if room.Wager != 50 {
		t.Fatalf("pro tier wager = %d, want 50", room.Wager)
	}
}

func TestRankedOpenTierRejected(t *testing.T) {
	white := newPlayer(t)
	c, _ := newTestCoordinator(t, nil, Options{})
	err := c.JoinLobby(context.Background(), white.addr, "alice", ModeRanked, TierOpen)
	if !errors.Is(err, ErrOpenTierRanked) {
		t.Fatalf("expected ErrOpenTierRanked, got %v", err)
	}
}

func TestChallengeFlow(t *testing.T) {
	creator := newPlayer(t)
	joiner := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	ctx := context.Background()

	room, err := c.CreateRoom(ctx, creator.addr, "alice", TierOpen, 50, true)
	if err != nil {
		t.Fatalf("create challenge: %v", err)
	}
	if _, ok := n.last(gambitdto.EvChallengeCreated); !ok {
		t.Fatalf("challenge_created not broadcast")
	}

	listed, err := c.ListChallenges(ctx)
	if err != nil || len(listed) != 1 {
		t.Fatalf("challenge listing: %v (%d entries)", err, len(listed))
	}
	if listed[0].Wager != 50 {
		t.Fatalf("listed wager = %d, want 50", listed[0].Wager)
	}

	if err := c.JoinRoom(ctx, joiner.addr, "bob", room.ID); err != nil {
		t.Fatalf("join_room: %v", err)
	}
	e, _ := n.last(gambitdto.EvMatchFound)
	got := e.Data.(*Room)
	if got.PlayerColors.B != joiner.addr {
		t.Fatalf("black seat = %q, want joiner", got.PlayerColors.B)
	}
	if got.Status != StatusSigningStart {
		t.Fatalf("status = %s, want signing_start", got.Status)
	}

	// Paired room must disappear from discovery.
	listed, _ = c.ListChallenges(ctx)
	if len(listed) != 0 {
		t.Fatalf("paired challenge still listed")
	}
}

func TestJoinOwnRoomRejected(t *testing.T) {
	creator := newPlayer(t)
	c, _ := newTestCoordinator(t, nil, Options{})
	ctx := context.Background()
	room, err := c.CreateRoom(ctx, creator.addr, "alice", TierOpen, 0, false)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := c.JoinRoom(ctx, creator.addr, "alice", room.ID); !errors.Is(err, ErrSelfJoin) {
		t.Fatalf("expected ErrSelfJoin, got %v", err)
	}
}

func TestPrivateRoomNotListed(t *testing.T) {
	creator := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	ctx := context.Background()
	if _, err := c.CreateRoom(ctx, creator.addr, "alice", TierOpen, 10, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, ok := n.last(gambitdto.EvPrivateRoomCreate); !ok {
		t.Fatalf("creator did not receive private_room_created")
	}
	listed, _ := c.ListChallenges(ctx)
	if len(listed) != 0 {
		t.Fatalf("private room must not be publicly listed")
	}
}

func TestStartSigningBothSignaturesStartGame(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)

	startGame(t, c, room, white, black)

	e, ok := n.last(gambitdto.EvGameStarted)
	if !ok {
		t.Fatalf("game_started not emitted")
	}
	started := e.Data.(*Room)
	if started.Status != StatusStarted || started.Turn != "w" {
		t.Fatalf("status=%s turn=%s", started.Status, started.Turn)
	}
	if started.StartMessage != room.StartMessage {
		t.Fatalf("start message changed between pairing and start")
	}
}

func TestStartSigningRejectsForeignSignature(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	intruder := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)

	// Signature by a third key claiming white's address.
	err := c.SignStart(context.Background(), white.addr, room.ID, intruder.sign(t, room.StartMessage))
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
	if _, ok := n.last(gambitdto.EvSignRejected); !ok {
		t.Fatalf("sign_rejected not emitted")
	}
	if _, ok := n.last(gambitdto.EvGameStarted); ok {
		t.Fatalf("game must not start on an invalid signature")
	}
}

func TestDuplicateSignatureIsNoOp(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)
	ctx := context.Background()

	sig := white.sign(t, room.StartMessage)
	if err := c.SignStart(ctx, white.addr, room.ID, sig); err != nil {
		t.Fatalf("first sign: %v", err)
	}
	if err := c.SignStart(ctx, white.addr, room.ID, sig); err != nil {
		t.Fatalf("repeat sign: %v", err)
	}
	if _, ok := n.last(gambitdto.EvGameStarted); ok {
		t.Fatalf("one player signing twice must not start the game")
	}
}

func TestMoveFlowTurnsAndCaptures(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)
	ctx := context.Background()

	if err := c.MakeMove(ctx, white.addr, room.ID, "e2", "e4", ""); err != nil {
		t.Fatalf("white move: %v", err)
	}
	e, _ := n.last(gambitdto.EvMove)
	mb := e.Data.(gambitdto.MoveBroadcast)
	if mb.WhoseTurn != "b" || mb.Color != "w" {
		t.Fatalf("broadcast turn fields wrong: %+v", mb)
	}

	// White again out of turn.
	err := c.MakeMove(ctx, white.addr, room.ID, "d2", "d4", "")
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("expected ErrNotYourTurn, got %v", err)
	}
	if _, ok := n.last(gambitdto.EvInvalidMove); !ok {
		t.Fatalf("invalid_move not emitted")
	}

	if err := c.MakeMove(ctx, black.addr, room.ID, "d7", "d5", ""); err != nil {
		t.Fatalf("black move: %v", err)
	}
	if err := c.MakeMove(ctx, white.addr, room.ID, "e4", "d5", ""); err != nil {
		t.Fatalf("capture move: %v", err)
	}
	e, _ = n.last(gambitdto.EvMove)
	mb = e.Data.(gambitdto.MoveBroadcast)
	if mb.Captures.W.P != 1 {
		t.Fatalf("capture tally not broadcast: %+v", mb.Captures)
	}
	if len(mb.FormattedMoves) != 3 {
		t.Fatalf("formatted moves length = %d", len(mb.FormattedMoves))
	}
}

func TestFullGameSettlement(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	settler := &fakeSettler{}
	c, n := newTestCoordinator(t, settler, Options{})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)
	playScholarsMate(t, c, room, white, black)
	ctx := context.Background()

	if err := c.GameEnd(ctx, white.addr, room.ID); err != nil {
		t.Fatalf("game_end: %v", err)
	}
	ending := n.waitFor(t, gambitdto.EvGameEnding).Data.(gambitdto.GameEndingNotice)
	if ending.Result != "checkmate" || ending.Winner != white.addr {
		t.Fatalf("ending notice: %+v", ending)
	}
	if ending.History == "" {
		t.Fatalf("ending must carry the history to sign")
	}

	histMsg := EndSignMessage(ending.History)
	if err := c.SignEnd(ctx, white.addr, room.ID, white.sign(t, histMsg)); err != nil {
		t.Fatalf("white sign_end: %v", err)
	}
	if err := c.SignEnd(ctx, black.addr, room.ID, black.sign(t, histMsg)); err != nil {
		t.Fatalf("black sign_end: %v", err)
	}

	ended := n.waitFor(t, gambitdto.EvGameEnded).Data.(gambitdto.GameEndedNotice)
	if ended.Winner != white.addr || ended.TxHash == "" {
		t.Fatalf("game_ended notice: %+v", ended)
	}

	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.calls) != 1 {
		t.Fatalf("settler called %d times", len(settler.calls))
	}
	req := settler.calls[0]
	if req.MatchID != room.ID || req.Winner != white.addr || req.Ranked {
		t.Fatalf("settle request: %+v", req)
	}
	if req.StartSig1 == "" || req.StartSig2 == "" {
		t.Fatalf("settle request missing start signatures")
	}
	if req.MoveHistory != ending.History {
		t.Fatalf("settled history differs from signed history")
	}

	// Room must be gone.
	deadline := time.Now().Add(time.Second)
	for {
		if err := c.GameData(context.Background(), white.addr, room.ID); errors.Is(err, ErrRoomNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("settled room still in registry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSettlementRetriesThenSucceeds(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	settler := &fakeSettler{fails: 2}
	c, n := newTestCoordinator(t, settler, Options{SettleMaxRetries: 3, SettleRetryDelay: time.Millisecond})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)
	playScholarsMate(t, c, room, white, black)
	ctx := context.Background()

	if err := c.GameEnd(ctx, white.addr, room.ID); err != nil {
		t.Fatalf("game_end: %v", err)
	}
	ending := n.waitFor(t, gambitdto.EvGameEnding).Data.(gambitdto.GameEndingNotice)
	histMsg := EndSignMessage(ending.History)
	if err := c.SignEnd(ctx, white.addr, room.ID, white.sign(t, histMsg)); err != nil {
		t.Fatalf("sign_end: %v", err)
	}
	if err := c.SignEnd(ctx, black.addr, room.ID, black.sign(t, histMsg)); err != nil {
		t.Fatalf("sign_end: %v", err)
	}

	n.waitFor(t, gambitdto.EvGameEnded)
	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.calls) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(settler.calls))
	}
}

func TestSettlementExhaustedSurfacesFailure(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	settler := &fakeSettler{fails: 10}
	c, n := newTestCoordinator(t, settler, Options{SettleMaxRetries: 1, SettleRetryDelay: time.Millisecond})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)
	playScholarsMate(t, c, room, white, black)
	ctx := context.Background()

	if err := c.GameEnd(ctx, white.addr, room.ID); err != nil {
		t.Fatalf("game_end: %v", err)
	}
	ending := n.waitFor(t, gambitdto.EvGameEnding).Data.(gambitdto.GameEndingNotice)
	histMsg := EndSignMessage(ending.History)
	if err := c.SignEnd(ctx, white.addr, room.ID, white.sign(t, histMsg)); err != nil {
		t.Fatalf("sign_end: %v", err)
	}
	if err := c.SignEnd(ctx, black.addr, room.ID, black.sign(t, histMsg)); err != nil {
		t.Fatalf("sign_end: %v", err)
	}

	fail := n.waitFor(t, gambitdto.EvSettlementFailed).Data.(gambitdto.SettlementFailedNotice)
	if fail.RoomID != room.ID {
		t.Fatalf("settlement_failed for wrong room: %+v", fail)
	}
	if _, ok := n.last(gambitdto.EvGameEnded); ok {
		t.Fatalf("game_ended must not follow a failed settlement")
	}
}

func TestSecondSignEndCannotDoubleSettle(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	settler := &fakeSettler{}
	c, n := newTestCoordinator(t, settler, Options{})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)
	playScholarsMate(t, c, room, white, black)
	ctx := context.Background()

	if err := c.GameEnd(ctx, white.addr, room.ID); err != nil {
		t.Fatalf("game_end: %v", err)
	}
	ending := n.waitFor(t, gambitdto.EvGameEnding).Data.(gambitdto.GameEndingNotice)
	histMsg := EndSignMessage(ending.History)
	if err := c.SignEnd(ctx, white.addr, room.ID, white.sign(t, histMsg)); err != nil {
		t.Fatalf("sign_end: %v", err)
	}
	if err := c.SignEnd(ctx, black.addr, room.ID, black.sign(t, histMsg)); err != nil {
		t.Fatalf("sign_end: %v", err)
	}
	// A straggler sign_end while the room is settling must be rejected, not
	// trigger a second submission.
	err := c.SignEnd(ctx, black.addr, room.ID, black.sign(t, histMsg))
	if err != nil && !errors.Is(err, ErrWrongStatus) && !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("unexpected error: %v", err)
	}

	n.waitFor(t, gambitdto.EvGameEnded)
	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.calls) != 1 {
		t.Fatalf("double settlement: %d calls", len(settler.calls))
	}
}

func TestDisconnectForfeitsLiveGame(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)
	ctx := context.Background()

	c.Disconnect(ctx, white.addr)

	ended, _ := n.last(gambitdto.EvGameEnded)
	notice := ended.Data.(gambitdto.GameEndedNotice)
	if notice.Result != "disconnection" || notice.Winner != black.addr {
		t.Fatalf("forfeit notice: %+v", notice)
	}
	if err := c.GameData(ctx, black.addr, room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("room must be deleted after forfeit, got %v", err)
	}
}

func TestDisconnectWhileWaitingCancelsChallenge(t *testing.T) {
	creator := newPlayer(t)
	c, _ := newTestCoordinator(t, nil, Options{})
	ctx := context.Background()
	if _, err := c.CreateRoom(ctx, creator.addr, "alice", TierOpen, 25, true); err != nil {
		t.Fatalf("create: %v", err)
	}
	c.Disconnect(ctx, creator.addr)
	listed, _ := c.ListChallenges(ctx)
	if len(listed) != 0 {
		t.Fatalf("cancelled challenge still listed")
	}
}

func TestDisconnectRemovesFromQueue(t *testing.T) {
	a := newPlayer(t)
	b := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	ctx := context.Background()

	if err := c.JoinLobby(ctx, a.addr, "alice", ModeUnranked, TierNovice); err != nil {
		t.Fatalf("join: %v", err)
	}
	c.Disconnect(ctx, a.addr)
	if err := c.JoinLobby(ctx, b.addr, "bob", ModeUnranked, TierNovice); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, ok := n.last(gambitdto.EvMatchFound); ok {
		t.Fatalf("disconnected wallet must not be paired")
	}
}

func TestResignForfeits(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)
	ctx := context.Background()

	if err := c.Resign(ctx, black.addr, room.ID); err != nil {
		t.Fatalf("resign: %v", err)
	}
	notice := n.waitFor(t, gambitdto.EvGameEnded).Data.(gambitdto.GameEndedNotice)
	if notice.Result != "resignation" || notice.Winner != white.addr {
		t.Fatalf("resign notice: %+v", notice)
	}
}

func TestGameEndRejectedWhileGameLive(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)

	err := c.GameEnd(context.Background(), white.addr, room.ID)
	if !errors.Is(err, ErrGameNotOver) {
		t.Fatalf("expected ErrGameNotOver, got %v", err)
	}
	if _, ok := n.last(gambitdto.EvGameEnding); ok {
		t.Fatalf("live game must not enter ending")
	}
}

func TestStartSigningTimeoutCancelsRoom(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{SignTimeout: 30 * time.Millisecond})
	room := pairViaQueue(t, c, n, white, black)

	notice := n.waitFor(t, gambitdto.EvGameEnded).Data.(gambitdto.GameEndedNotice)
	if notice.Result != "sign_timeout" || notice.Winner != "" {
		t.Fatalf("timeout notice: %+v", notice)
	}
	if err := c.GameData(context.Background(), white.addr, room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("timed-out room must be deleted, got %v", err)
	}
}

func TestEndSigningTimeoutClosesWithoutSettlement(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	settler := &fakeSettler{}
	c, n := newTestCoordinator(t, settler, Options{SignTimeout: 100 * time.Millisecond})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)
	playScholarsMate(t, c, room, white, black)
	ctx := context.Background()

	if err := c.GameEnd(ctx, white.addr, room.ID); err != nil {
		t.Fatalf("game_end: %v", err)
	}
	ending := n.waitFor(t, gambitdto.EvGameEnding).Data.(gambitdto.GameEndingNotice)
	histMsg := EndSignMessage(ending.History)
	// Only one player signs; the other stalls past the timeout.
	if err := c.SignEnd(ctx, white.addr, room.ID, white.sign(t, histMsg)); err != nil {
		t.Fatalf("sign_end: %v", err)
	}

	fail := n.waitFor(t, gambitdto.EvSettlementFailed).Data.(gambitdto.SettlementFailedNotice)
	if fail.RoomID != room.ID || fail.Reason != "sign_timeout" {
		t.Fatalf("timeout notice: %+v", fail)
	}
	if err := c.GameData(ctx, white.addr, room.ID); !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("stalled room must be deleted, got %v", err)
	}
	settler.mu.Lock()
	defer settler.mu.Unlock()
	if len(settler.calls) != 0 {
		t.Fatalf("settlement attempted without both end signatures")
	}
}

func TestGameEndBeforeStartIsNotified(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)

	err := c.GameEnd(context.Background(), white.addr, room.ID)
	if !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("expected ErrWrongStatus, got %v", err)
	}
	e, ok := n.last(gambitdto.EvError)
	if !ok || e.Target != white.addr {
		t.Fatalf("caller not told the game cannot end yet: %+v", e)
	}
}

func TestSignTimerDisarmedOnGameStart(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{SignTimeout: 40 * time.Millisecond})
	room := pairViaQueue(t, c, n, white, black)
	startGame(t, c, room, white, black)

	time.Sleep(80 * time.Millisecond)
	if _, ok := n.last(gambitdto.EvGameEnded); ok {
		t.Fatalf("timer fired after the game started")
	}
}

func TestRoomLimit(t *testing.T) {
	c, _ := newTestCoordinator(t, nil, Options{MaxRooms: 1})
	ctx := context.Background()
	a := newPlayer(t)
	b := newPlayer(t)
	if _, err := c.CreateRoom(ctx, a.addr, "alice", TierOpen, 0, true); err != nil {
		t.Fatalf("first room: %v", err)
	}
	if _, err := c.CreateRoom(ctx, b.addr, "bob", TierOpen, 0, true); !errors.Is(err, ErrTooManyRooms) {
		t.Fatalf("expected ErrTooManyRooms, got %v", err)
	}
}

func TestStartMessageStableAcrossSnapshots(t *testing.T) {
	white := newPlayer(t)
	black := newPlayer(t)
	c, n := newTestCoordinator(t, nil, Options{})
	room := pairViaQueue(t, c, n, white, black)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.GameData(ctx, white.addr, room.ID); err != nil {
			t.Fatalf("game_data: %v", err)
		}
		e, _ := n.last(gambitdto.EvGameData)
		snap := e.Data.(*Room)
		if snap.StartMessage != room.StartMessage {
			t.Fatalf("start message drifted on snapshot %d", i)
		}
	}
}
