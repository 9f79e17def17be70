// Package meetpage is the page object for the conference client. It drives
// the page through a ScriptRunner, reads participant state out of the DOM,
// and installs the drawing overlay session on top of the current meeting.
package meetpage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/inklay/inklay/lib/geom"
	"github.com/inklay/inklay/lib/lifecycle"
	"github.com/inklay/inklay/lib/protocol"
)

// DOM anchors of the conference client.
const (
	selMeetingStage     = `[data-testid="meeting-stage"]`
	selParticipantTiles = `[data-participant-id]`
	selMutedTiles       = `[data-participant-id][data-muted="true"]`
	selHiddenTiles      = `[data-participant-id][data-camera-off="true"]`
	selMicToggle        = `[data-testid="mic-toggle"]`
	selCameraToggle     = `[data-testid="camera-toggle"]`
)

const defaultPollInterval = 250 * time.Millisecond

// consoleCaptureScript mirrors console output into a page-global buffer so
// ConsoleLogs can read it back. Navigation wipes it; reinstall after every
// Visit.
const consoleCaptureScript = `
(() => {
  if (window.__inklayLogs) return true;
  window.__inklayLogs = [];
  for (const level of ['log', 'info', 'warn', 'error']) {
    const original = console[level].bind(console);
    console[level] = (...args) => {
      try {
        window.__inklayLogs.push(level + ': ' + args.map(String).join(' '));
      } catch (e) {}
      original(...args);
    };
  }
  return true;
})()`

// Page drives one conference tab.
type Page struct {
	runner       ScriptRunner
	log          *slog.Logger
	pollInterval time.Duration
}

func NewPage(runner ScriptRunner, log *slog.Logger) *Page {
	return &Page{
		runner:       runner,
		log:          log,
		pollInterval: defaultPollInterval,
	}
}

// Visit navigates the tab to pageURL. The meeting is not joined yet when
// this returns; follow with WaitJoined.
func (p *Page) Visit(ctx context.Context, pageURL string) error {
	_, err := p.runner.Evaluate(ctx, fmt.Sprintf("location.assign(%q)", pageURL))
	if err != nil {
		return fmt.Errorf("navigate to %s: %w", pageURL, err)
	}
	return nil
}

// WaitJoined polls until the meeting stage is rendered or ctx expires.
func (p *Page) WaitJoined(ctx context.Context) error {
	expr := fmt.Sprintf("!!document.querySelector(%q)", selMeetingStage)
	for {
		raw, err := p.runner.Evaluate(ctx, expr)
		if err == nil && string(raw) == "true" {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("meeting stage never appeared: %w", ctx.Err())
		case <-time.After(p.pollInterval):
		}
	}
}

// ParticipantCount returns the number of participant tiles on the stage.
func (p *Page) ParticipantCount(ctx context.Context) (int, error) {
	return p.count(ctx, selParticipantTiles)
}

// MutedCount returns how many participants are currently muted.
func (p *Page) MutedCount(ctx context.Context) (int, error) {
	return p.count(ctx, selMutedTiles)
}

// HiddenCount returns how many participants have their camera off.
func (p *Page) HiddenCount(ctx context.Context) (int, error) {
	return p.count(ctx, selHiddenTiles)
}

func (p *Page) count(ctx context.Context, selector string) (int, error) {
	raw, err := p.runner.Evaluate(ctx, fmt.Sprintf("document.querySelectorAll(%q).length", selector))
	if err != nil {
		return 0, err
	}
	return intFromJSON(raw)
}

// SetPresence toggles the local mic and camera to the requested state.
// Toggles already in the right position are left alone.
func (p *Page) SetPresence(ctx context.Context, muted, cameraOff bool) error {
	expr := fmt.Sprintf(`
(() => {
  const set = (sel, want) => {
    const el = document.querySelector(sel);
    if (!el) throw new Error('toggle not found: ' + sel);
    if ((el.getAttribute('aria-pressed') === 'true') !== want) el.click();
  };
  set(%q, %t);
  set(%q, %t);
  return true;
})()`, selMicToggle, muted, selCameraToggle, cameraOff)
	if _, err := p.runner.Evaluate(ctx, expr); err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

// ICEState reports the peer connection's ICE state, or "unknown" when the
// client does not expose it.
func (p *Page) ICEState(ctx context.Context) (string, error) {
	raw, err := p.runner.Evaluate(ctx, `(window.__meetDebug && window.__meetDebug.pc && window.__meetDebug.pc.iceConnectionState) || 'unknown'`)
	if err != nil {
		return "", err
	}
	var state string
	if err := json.Unmarshal(raw, &state); err != nil {
		return "", fmt.Errorf("ice state: %w", err)
	}
	return state, nil
}

// CaptureConsole installs the console mirror in the current document.
func (p *Page) CaptureConsole(ctx context.Context) error {
	if _, err := p.runner.Evaluate(ctx, consoleCaptureScript); err != nil {
		return fmt.Errorf("install console capture: %w", err)
	}
	return nil
}

// ConsoleLogs returns everything captured since CaptureConsole.
func (p *Page) ConsoleLogs(ctx context.Context) ([]string, error) {
	raw, err := p.runner.Evaluate(ctx, "window.__inklayLogs || []")
	if err != nil {
		return nil, err
	}
	var logs []string
	if err := json.Unmarshal(raw, &logs); err != nil {
		return nil, fmt.Errorf("console logs: %w", err)
	}
	return logs, nil
}

// PageURL returns the tab's current location.
func (p *Page) PageURL(ctx context.Context) (string, error) {
	raw, err := p.runner.Evaluate(ctx, "location.href")
	if err != nil {
		return "", err
	}
	var href string
	if err := json.Unmarshal(raw, &href); err != nil {
		return "", fmt.Errorf("page url: %w", err)
	}
	return href, nil
}

// Room derives the drawing room from the page URL.
func (p *Page) Room(ctx context.Context) string {
	href, err := p.PageURL(ctx)
	if err != nil {
		p.log.Warn("room lookup failed, using fallback", "err", err)
		return protocol.UnknownRoom
	}
	return protocol.RoomFromURL(href)
}

// InstallOverlay starts a drawing session for the meeting currently on
// screen. The room follows the page URL so everyone in the same meeting
// shares a canvas.
func (p *Page) InstallOverlay(ctx context.Context, guard *lifecycle.Guard, relayURL string, v geom.Viewport) error {
	room := p.Room(ctx)
	if !guard.Initialize(relayURL, room, v) {
		return fmt.Errorf("overlay init refused for room %s", room)
	}
	p.log.Info("overlay installed", "room", room)
	return nil
}

// intFromJSON accepts the number shapes evaluate can produce.
func intFromJSON(raw []byte) (int, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("count %q: %w", n, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("count has unexpected type %T", v)
	}
}
