package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"arena-server/internal/config"
	"arena-server/internal/game"
	"arena-server/internal/storage"
	"arena-server/pkg/logger"
)

const readTimeout = 3 * time.Second

type testEnv struct {
	srv  *Server
	data *game.DataManager
	addr string
}

// newTestEnv starts a server on a loopback port. Seeded accounts use the
// clear-text password "pw".
func newTestEnv(t *testing.T, tune func(*Options), seed ...game.PlayerData) *testEnv {
	t.Helper()
	ctx := context.Background()

	fb, err := storage.NewFileBackend(t.TempDir())
	require.NoError(t, err)
	_, err = fb.LoadPlayers(ctx)
	require.NoError(t, err)
	for _, p := range seed {
		p.Password = "pw"
		require.NoError(t, fb.SavePlayer(ctx, p))
	}

	dm := game.NewDataManager(fb, bcrypt.MinCost, logger.Discard())
	require.NoError(t, dm.Initialize(ctx))

	match := config.Default().Match
	match.Warmup = 50 * time.Millisecond
	match.Duration = time.Minute
	match.SpawnInterval = time.Hour

	opts := Options{
		Match:         match,
		OutboundQueue: 64,
		Data:          dm,
		Logger:        logger.Discard(),
	}
	if tune != nil {
		tune(&opts)
	}

	srv, err := NewServer(opts)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{srv: srv, data: dm, addr: ln.Addr().String()}
}

type testClient struct {
	t      *testing.T
	conn   net.Conn
	r      *bufio.Reader
	connID string
}

func (e *testEnv) dial(t *testing.T) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", e.addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, r: bufio.NewReader(conn)}
}

// login registers the account if needed and logs in
func (e *testEnv) login(t *testing.T, username string) *testClient {
	t.Helper()
	c := e.dial(t)
	if _, ok := e.data.GetPlayerByUsername(username); !ok {
		c.send("REGISTER;" + username + ";pw")
		c.expect("REGISTER_SUCCESS")
	}
	c.send("LOGIN;" + username + ";pw")
	fields := strings.Split(c.expect("LOGIN_SUCCESS"), ";")
	require.Len(t, fields, 5)
	c.connID = fields[4]
	c.expect("LEADERBOARD")
	return c
}

func (c *testClient) send(line string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

// expect reads until a line starting with prefix arrives, skipping others
func (c *testClient) expect(prefix string) string {
	c.t.Helper()
	deadline := time.Now().Add(readTimeout)
	for {
		c.conn.SetReadDeadline(deadline)
		line, err := c.r.ReadString('\n')
		require.NoError(c.t, err, "waiting for %s", prefix)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
}

// next reads exactly one line
func (c *testClient) next() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\n")
}

// expectNone asserts no line starting with prefix arrives within d
func (c *testClient) expectNone(prefix string, d time.Duration) {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(d))
	for {
		line, err := c.r.ReadString('\n')
		if err != nil {
			var ne net.Error
			require.ErrorAs(c.t, err, &ne)
			require.True(c.t, ne.Timeout())
			return
		}
		assert.False(c.t, strings.HasPrefix(line, prefix), "unexpected %q", strings.TrimSpace(line))
	}
}

// startMatch queues a then b, so a is player1, and waits for START
func (e *testEnv) startMatch(t *testing.T, a, b *testClient) {
	t.Helper()
	a.send("MATCHMAKE")
	require.Eventually(t, func() bool { return e.srv.queue.Contains(a.connID) }, readTimeout, 5*time.Millisecond)
	b.send("MATCHMAKE")

	assert.Equal(t, "MATCH_FOUND;100;300", a.expect("MATCH_FOUND"))
	assert.Equal(t, "MATCH_FOUND;700;300", b.expect("MATCH_FOUND"))
	a.expect("START")
	b.expect("START")
	assert.Equal(t, "SCORES;player1;0;player2;0", a.expect("SCORES"))
	assert.Equal(t, "SCORES;player1;0;player2;0", b.expect("SCORES"))
}

func TestAuthenticationPhase(t *testing.T) {
	e := newTestEnv(t, nil)
	c := e.dial(t)

	c.send("HELLO")
	assert.Equal(t, "LOGIN_FAILED;UNKNOWN_COMMAND", c.expect("LOGIN_FAILED"))

	c.send("REGISTER;alice;pw")
	c.expect("REGISTER_SUCCESS")
	c.send("REGISTER;alice;other")
	assert.Equal(t, "REGISTER_FAILED;USERNAME_TAKEN", c.expect("REGISTER_FAILED"))
	c.send("REGISTER;;pw")
	assert.Equal(t, "REGISTER_FAILED;INVALID_INPUT", c.expect("REGISTER_FAILED"))

	c.send("LOGIN;alice;wrong")
	assert.Equal(t, "LOGIN_FAILED;INVALID_CREDENTIALS", c.expect("LOGIN_FAILED"))
	c.send("LOGIN;nobody;pw")
	assert.Equal(t, "LOGIN_FAILED;INVALID_CREDENTIALS", c.expect("LOGIN_FAILED"))

	c.send("LOGIN;alice;pw")
	line := c.expect("LOGIN_SUCCESS")
	assert.True(t, strings.HasPrefix(line, "LOGIN_SUCCESS;1;0;0;"), line)
	assert.Equal(t, "LEADERBOARD;alice;1;0;0;0", c.expect("LEADERBOARD"))

	other := e.dial(t)
	other.send("LOGIN;alice;pw")
	assert.Equal(t, "LOGIN_FAILED;ALREADY_LOGGED_IN", other.expect("LOGIN_FAILED"))
}

func TestMatchTimeoutCreditsWinner(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.Match.Duration = 700 * time.Millisecond })
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	a.send("HIT;10;20;player1")
	assert.Equal(t, "SCORES;player1;1;player2;0", a.expect("SCORES"))
	assert.Equal(t, "SCORES;player1;1;player2;0", b.expect("SCORES"))
	assert.Equal(t, "HIT;10;20;player1", b.expect("HIT"))

	// shooter given as a connection id
	b.send("HIT;5;5;" + a.connID)
	assert.Equal(t, "SCORES;player1;2;player2;0", b.expect("SCORES"))
	assert.Equal(t, "SCORES;player1;2;player2;0", a.expect("SCORES"))

	assert.Equal(t, "END;2;1;0", a.expect("END"))
	assert.Equal(t, "END;1;0;1", b.expect("END"))
	a.expectNone("END", 300*time.Millisecond)

	alice, _ := e.data.GetPlayerByUsername("alice")
	assert.Equal(t, 2, alice.Level)
	assert.Equal(t, 1, alice.Streak)
	bob, _ := e.data.GetPlayerByUsername("bob")
	assert.Equal(t, 1, bob.Level)
	assert.Equal(t, -1, bob.Streak)
	assert.Equal(t, 0, e.srv.sessions.Len())
}

func TestMatchTimeoutTieLeavesRecords(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.Match.Duration = 300 * time.Millisecond },
		game.PlayerData{Username: "a", Level: 3, Streak: 2},
		game.PlayerData{Username: "b", Level: 3, Streak: -1},
	)
	a := e.login(t, "a")
	b := e.login(t, "b")
	e.startMatch(t, a, b)

	assert.Equal(t, "END;3;2;0", a.expect("END"))
	assert.Equal(t, "END;3;0;1", b.expect("END"))
}

func TestLevelGapMatchmaking(t *testing.T) {
	e := newTestEnv(t, nil,
		game.PlayerData{Username: "low", Level: 1},
		game.PlayerData{Username: "mid", Level: 3},
		game.PlayerData{Username: "high", Level: 4},
	)
	low := e.login(t, "low")
	mid := e.login(t, "mid")
	high := e.login(t, "high")

	low.send("MATCHMAKE")
	mid.send("MATCHMAKE")
	require.Eventually(t, func() bool { return e.srv.queue.Len() == 2 }, readTimeout, 5*time.Millisecond)
	low.expectNone("MATCH_FOUND", 100*time.Millisecond)

	high.send("MATCHMAKE")
	mid.expect("MATCH_FOUND")
	high.expect("MATCH_FOUND")
	low.expectNone("MATCH_FOUND", 200*time.Millisecond)
	assert.True(t, e.srv.queue.Contains(low.connID))

	low.send("CANCEL_MATCHMAKING")
	require.Eventually(t, func() bool { return e.srv.queue.Len() == 0 }, readTimeout, 5*time.Millisecond)
}

func TestWallCollisionScoresOpponent(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	a.send("WALL_COLLISION;" + a.connID)
	assert.Equal(t, "SCORES;player1;0;player2;2", a.expect("SCORES"))
	a.expect("RESET_POSITIONS")
	assert.Equal(t, "SCORES;player1;0;player2;2", b.expect("SCORES"))
	b.expect("RESET_POSITIONS")
	assert.Equal(t, "WALL_COLLISION;"+a.connID, b.expect("WALL_COLLISION"))
	a.expectNone("WALL_COLLISION", 150*time.Millisecond)
}

func TestRelayGoesOnlyToOpponent(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	a.send("player1;120;300.5")
	assert.Equal(t, "player1;120;300.5", b.expect("player1;"))
	a.send("BULLET;1;2;3;4;player1")
	assert.Equal(t, "BULLET;1;2;3;4;player1", b.expect("BULLET"))
	b.send("MODIFIER_PICKUP;100;100;" + b.connID)
	assert.Equal(t, "MODIFIER_PICKUP;100;100;"+b.connID, a.expect("MODIFIER_PICKUP"))

	a.expectNone("BULLET", 150*time.Millisecond)
}

func TestForfeit(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	a.send("FORFEIT;" + a.connID)
	assert.Equal(t, "FORFEIT_CONFIRM;1;0;1", a.expect("FORFEIT_CONFIRM"))
	assert.Equal(t, "FORFEIT_CONFIRM;2;1;0", b.expect("FORFEIT_CONFIRM"))
	assert.Equal(t, 0, e.srv.sessions.Len())

	// a second forfeit has nothing to end
	b.send("FORFEIT;x")
	b.expectNone("FORFEIT_CONFIRM", 150*time.Millisecond)

	// both are free to play again
	e.startMatch(t, a, b)
}

func TestDisconnectForfeitsToRemainingPlayer(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	a.conn.Close()
	assert.Equal(t, "FORFEIT_CONFIRM;2;1;0", b.expect("FORFEIT_CONFIRM"))

	alice, _ := e.data.GetPlayerByUsername("alice")
	assert.Equal(t, -1, alice.Streak)

	require.Eventually(t, func() bool {
		_, online := e.srv.online.Get("alice")
		return !online
	}, readTimeout, 5*time.Millisecond)
	e.login(t, "alice")
}

func TestLogoutForfeitsAndReturnsToAuth(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	a.send("LOGOUT")
	assert.Equal(t, "FORFEIT_CONFIRM;1;0;1", a.expect("FORFEIT_CONFIRM"))
	assert.Equal(t, "FORFEIT_CONFIRM;2;1;0", b.expect("FORFEIT_CONFIRM"))

	a.send("MATCHMAKE")
	assert.Equal(t, "LOGIN_FAILED;UNKNOWN_COMMAND", a.expect("LOGIN_FAILED"))
	a.send("LOGIN;alice;pw")
	assert.True(t, strings.HasPrefix(a.expect("LOGIN_SUCCESS"), "LOGIN_SUCCESS;1;0;1;"))
}

func TestDisconnectWhileQueued(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	a.send("MATCHMAKE")
	require.Eventually(t, func() bool { return e.srv.queue.Len() == 1 }, readTimeout, 5*time.Millisecond)

	a.conn.Close()
	require.Eventually(t, func() bool { return e.srv.queue.Len() == 0 && e.srv.presence.Count() == 0 }, readTimeout, 5*time.Millisecond)
}

func TestAbortedPairingRequeuesSurvivor(t *testing.T) {
	e := newTestEnv(t, nil)
	b := e.login(t, "bob")
	pb, ok := e.srv.presence.Get(b.connID)
	require.True(t, ok)

	// the first entry's player disconnected after queueing
	require.True(t, e.srv.queue.Enqueue(WaitingEntry{ConnID: "gone", Username: "gone", Level: 1}))
	require.True(t, pb.enqueueIfIdle(e.srv.queue, WaitingEntry{ConnID: b.connID, Username: "bob", Level: 1}))

	e.srv.matchmake()

	assert.True(t, e.srv.queue.Contains(b.connID), "bob keeps waiting")
	assert.False(t, e.srv.queue.Contains("gone"))
	assert.Equal(t, "", pb.SessionID())
	assert.Equal(t, 0, e.srv.sessions.Len())

	c := e.login(t, "carol")
	c.send("MATCHMAKE")
	assert.Equal(t, "MATCH_FOUND;100;300", b.expect("MATCH_FOUND"))
	assert.Equal(t, "MATCH_FOUND;700;300", c.expect("MATCH_FOUND"))
}

func TestPlayerInSessionIsNeverPaired(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	pb, ok := e.srv.presence.Get(b.connID)
	require.True(t, ok)
	sid := pb.SessionID()
	require.NotEmpty(t, sid)

	assert.False(t, pb.enqueueIfIdle(e.srv.queue, WaitingEntry{ConnID: b.connID, Username: "bob", Level: 1}),
		"a player in a session cannot queue")

	// a stale entry for bob still gets skipped by matchmaking
	require.True(t, e.srv.queue.Enqueue(WaitingEntry{ConnID: b.connID, Username: "bob", Level: 1}))
	c := e.login(t, "carol")
	c.send("MATCHMAKE")

	require.Eventually(t, func() bool {
		return e.srv.queue.Contains(c.connID) && !e.srv.queue.Contains(b.connID)
	}, readTimeout, 5*time.Millisecond)
	assert.Equal(t, sid, pb.SessionID())
	assert.Equal(t, 1, e.srv.sessions.Len())
	c.expectNone("MATCH_FOUND", 150*time.Millisecond)
}

func TestPairedPlayersLeaveQueue(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	ea := WaitingEntry{ConnID: a.connID, Username: "alice", Level: 1}
	eb := WaitingEntry{ConnID: b.connID, Username: "bob", Level: 1}

	// bob queued again while his first entry was being paired
	require.True(t, e.srv.queue.Enqueue(eb))
	e.srv.startSession(ea, eb)

	a.expect("MATCH_FOUND")
	b.expect("MATCH_FOUND")
	assert.False(t, e.srv.queue.Contains(b.connID))
	assert.Equal(t, 0, e.srv.queue.Len())
	assert.Equal(t, 1, e.srv.sessions.Len())
}

func TestNoScoringDuringWarmup(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.Match.Warmup = 300 * time.Millisecond })
	a := e.login(t, "alice")
	b := e.login(t, "bob")

	a.send("MATCHMAKE")
	require.Eventually(t, func() bool { return e.srv.queue.Contains(a.connID) }, readTimeout, 5*time.Millisecond)
	b.send("MATCHMAKE")
	assert.Equal(t, "MATCH_FOUND;100;300", a.next())
	assert.Equal(t, "MATCH_FOUND;700;300", b.next())

	a.send("HIT;400;300;player1")
	a.send("WALL_COLLISION;" + a.connID)

	// lines are still relayed, but nothing is scored before START
	assert.Equal(t, "HIT;400;300;player1", b.next())
	assert.Equal(t, "WALL_COLLISION;"+a.connID, b.next())
	assert.Equal(t, "START", b.next())
	assert.Equal(t, "SCORES;player1;0;player2;0", b.next())
	assert.Equal(t, "START", a.next())
	assert.Equal(t, "SCORES;player1;0;player2;0", a.next())
}

func TestEndSessionRunsOnce(t *testing.T) {
	e := newTestEnv(t, nil)
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	pa, ok := e.srv.presence.Get(a.connID)
	require.True(t, ok)
	id := pa.SessionID()
	require.NotEmpty(t, id)

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			e.srv.EndSession(id, EndForfeit, a.connID)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
	// the end timer and a late disconnect find nothing to do
	e.srv.EndSession(id, EndTimeout, "")
	e.srv.EndSession(id, EndDisconnect, b.connID)

	alice, _ := e.data.GetPlayerByUsername("alice")
	bob, _ := e.data.GetPlayerByUsername("bob")
	assert.Equal(t, -1, alice.Streak)
	assert.Equal(t, 1, bob.Streak)
	a.expect("FORFEIT_CONFIRM")
	a.expectNone("FORFEIT_CONFIRM", 150*time.Millisecond)
}

func TestSpawnerRespectsCap(t *testing.T) {
	e := newTestEnv(t, nil)
	sess, err := newSession(WaitingEntry{ConnID: "x"}, WaitingEntry{ConnID: "y"})
	require.NoError(t, err)
	e.srv.sessions.Add(sess)

	spawned := 0
	for i := 0; i < 100; i++ {
		if _, ok := e.srv.spawnModifier(sess); ok {
			spawned++
		}
		for _, n := range e.srv.modifiers.Counts(sess.ID) {
			require.LessOrEqual(t, n, game.MaxModifiersPerKind)
		}
	}
	assert.Equal(t, game.MaxModifiersPerKind*len(game.ModifierKinds), spawned)

	e.srv.EndSession(sess.ID, EndTimeout, "")
	assert.Equal(t, 0, e.srv.modifiers.Total())
	_, ok := e.srv.spawnModifier(sess)
	assert.False(t, ok, "ended sessions get no modifiers")
}

func TestModifiersBroadcastDuringMatch(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.Match.SpawnInterval = 20 * time.Millisecond })
	a := e.login(t, "alice")
	b := e.login(t, "bob")
	e.startMatch(t, a, b)

	line := a.expect("MODIFIER;")
	assert.Equal(t, line, b.expect("MODIFIER;"))
	fields := strings.Split(line, ";")
	require.Len(t, fields, 4)
	_, ok := game.ParseModifierKind(fields[3])
	assert.True(t, ok)

	a.send("FORFEIT")
	a.expect("FORFEIT_CONFIRM")
	require.Eventually(t, func() bool { return e.srv.modifiers.Total() == 0 }, readTimeout, 5*time.Millisecond)
}

func TestIdleConnectionsAreReaped(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.IdleTimeout = 200 * time.Millisecond })
	c := e.dial(t)

	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, err := c.r.ReadString('\n')
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "connection should be closed by the server")
	}
	require.Eventually(t, func() bool { return e.srv.conns.Count() == 0 }, readTimeout, 5*time.Millisecond)
}

func TestHTTPEndpoints(t *testing.T) {
	e := newTestEnv(t, nil, game.PlayerData{Username: "C", Level: 6}, game.PlayerData{Username: "A", Level: 5, Streak: 2})
	hs := httptest.NewServer(e.srv.HTTPHandler())
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/healthz")
	require.NoError(t, err)
	var health struct {
		Status string `json:"status"`
		Stats
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health.Status)

	resp, err = http.Get(hs.URL + "/leaderboard")
	require.NoError(t, err)
	var rows []game.LeaderboardEntry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	resp.Body.Close()
	require.Len(t, rows, 2)
	assert.Equal(t, "C", rows[0].Username)
	assert.Equal(t, 2, rows[1].Wins)

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("LOGIN;A;pw")))
	ws.SetReadDeadline(time.Now().Add(readTimeout))
	_, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(msg), "LOGIN_SUCCESS;5;2;0;"), string(msg))
}
