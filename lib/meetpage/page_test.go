package meetpage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inklay/inklay/lib/canvas"
	"github.com/inklay/inklay/lib/eventloop"
	"github.com/inklay/inklay/lib/geom"
	"github.com/inklay/inklay/lib/inksync"
	"github.com/inklay/inklay/lib/lifecycle"
	"github.com/inklay/inklay/lib/protocol"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   []string
	respond func(expr string) (json.RawMessage, error)
}

func (f *fakeRunner) Evaluate(_ context.Context, expr string) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls = append(f.calls, expr)
	f.mu.Unlock()
	return f.respond(expr)
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRunner) lastCall() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return ""
	}
	return f.calls[len(f.calls)-1]
}

func newTestPage(respond func(expr string) (json.RawMessage, error)) (*Page, *fakeRunner) {
	runner := &fakeRunner{respond: respond}
	p := NewPage(runner, slog.Default())
	p.pollInterval = time.Millisecond
	return p, runner
}

func TestCountsAcceptNumberAndStringResults(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(func(expr string) (json.RawMessage, error) {
		switch {
		case strings.Contains(expr, "data-muted"):
			return json.RawMessage(`"2"`), nil
		case strings.Contains(expr, "data-camera-off"):
			return json.RawMessage(`1`), nil
		default:
			return json.RawMessage(`5`), nil
		}
	})

	ctx := context.Background()
	participants, err := p.ParticipantCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, participants)

	muted, err := p.MutedCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, muted)

	hidden, err := p.HiddenCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hidden)
}

func TestCountRejectsNonNumericResult(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(func(string) (json.RawMessage, error) {
		return json.RawMessage(`{"weird":true}`), nil
	})
	_, err := p.ParticipantCount(context.Background())
	require.Error(t, err)
}

func TestWaitJoinedPollsUntilStageAppears(t *testing.T) {
	t.Parallel()

	var polls int
	var mu sync.Mutex
	p, _ := newTestPage(func(string) (json.RawMessage, error) {
		mu.Lock()
		defer mu.Unlock()
		polls++
		if polls < 3 {
			return json.RawMessage(`false`), nil
		}
		return json.RawMessage(`true`), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.WaitJoined(ctx))

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, polls, 3)
}

func TestWaitJoinedGivesUpOnDeadline(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(func(string) (json.RawMessage, error) {
		return json.RawMessage(`false`), nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.WaitJoined(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetPresenceTargetsBothToggles(t *testing.T) {
	t.Parallel()

	p, runner := newTestPage(func(string) (json.RawMessage, error) {
		return json.RawMessage(`true`), nil
	})

	require.NoError(t, p.SetPresence(context.Background(), true, false))

	// The selectors are embedded as quoted JS string literals.
	expr := runner.lastCall()
	assert.Contains(t, expr, fmt.Sprintf("%q", selMicToggle))
	assert.Contains(t, expr, fmt.Sprintf("%q", selCameraToggle))
	assert.Contains(t, expr, ", true)")
	assert.Contains(t, expr, ", false)")
}

func TestRoomFollowsPageURL(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(func(string) (json.RawMessage, error) {
		return json.RawMessage(`"https://meet.example.com/standup-42/lobby?tab=1"`), nil
	})
	assert.Equal(t, "standup-42", p.Room(context.Background()))
}

func TestRoomFallsBackWhenURLUnavailable(t *testing.T) {
	t.Parallel()

	p, _ := newTestPage(func(string) (json.RawMessage, error) {
		return nil, errors.New("page crashed")
	})
	assert.Equal(t, protocol.UnknownRoom, p.Room(context.Background()))
}

func TestConsoleLogs(t *testing.T) {
	t.Parallel()

	p, runner := newTestPage(func(expr string) (json.RawMessage, error) {
		if strings.Contains(expr, "__inklayLogs ||") {
			return json.RawMessage(`["log: joined","error: ice restart"]`), nil
		}
		return json.RawMessage(`true`), nil
	})

	require.NoError(t, p.CaptureConsole(context.Background()))
	logs, err := p.ConsoleLogs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"log: joined", "error: ice restart"}, logs)

	// The capture script was actually evaluated.
	assert.GreaterOrEqual(t, runner.callCount(), 2)
}

type idleConn struct{}

func (idleConn) Read(ctx context.Context) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
func (idleConn) Write(context.Context, []byte) error      { return nil }
func (idleConn) Close(websocket.StatusCode, string) error { return nil }

func TestInstallOverlayConnectsToPageRoom(t *testing.T) {
	t.Parallel()

	loop := eventloop.New()
	t.Cleanup(loop.Stop)

	var mu sync.Mutex
	var dialedAddr string
	dialer := func(_ context.Context, addr string) (inksync.Conn, error) {
		mu.Lock()
		dialedAddr = addr
		mu.Unlock()
		return idleConn{}, nil
	}

	overlay := canvas.New(slog.Default())
	client := inksync.New(loop, overlay, inksync.Options{Dialer: dialer, Logger: slog.Default()})
	guard := lifecycle.NewGuard(loop, slog.Default(), overlay, client,
		lifecycle.NewDispatcher(loop), lifecycle.NewDispatcher(loop))
	t.Cleanup(guard.Teardown)

	p, _ := newTestPage(func(string) (json.RawMessage, error) {
		return json.RawMessage(`"https://meet.example.com/retro-7"`), nil
	})

	require.NoError(t, p.InstallOverlay(context.Background(), guard, "ws://relay.test/ws", geom.Viewport{Width: 800, Height: 600}))
	require.True(t, guard.Initialized())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return strings.Contains(dialedAddr, "roomID=retro-7")
	}, 5*time.Second, 2*time.Millisecond)
}
