package meetpage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// ScriptRunner evaluates a JavaScript expression in the page and returns its
// JSON value. Tests substitute a fake; production uses CDPRunner.
type ScriptRunner interface {
	Evaluate(ctx context.Context, expression string) (json.RawMessage, error)
}

// CDPRunner drives the page over a DevTools websocket. It attaches to the
// first page target once and evaluates everything in that session.
type CDPRunner struct {
	log    *slog.Logger
	stopCh chan struct{}

	mu           sync.Mutex
	conn         *websocket.Conn
	msgID        atomic.Int64
	pendingCalls map[int64]chan cdpResponse
	sessionID    string
}

type cdpMessage struct {
	ID        int64           `json:"id,omitempty"`
	Method    string          `json:"method,omitempty"`
	Params    json.RawMessage `json:"params,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     *cdpError       `json:"error,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
}

type cdpError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type cdpResponse struct {
	result json.RawMessage
	err    error
}

// NewCDPRunner dials the browser-level DevTools URL and attaches to the
// active page.
func NewCDPRunner(ctx context.Context, devtoolsURL string, log *slog.Logger) (*CDPRunner, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, devtoolsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("connect devtools: %w", err)
	}
	conn.SetReadLimit(100 * 1024 * 1024)

	r := &CDPRunner{
		log:          log,
		stopCh:       make(chan struct{}),
		conn:         conn,
		pendingCalls: make(map[int64]chan cdpResponse),
	}
	go r.readMessages()

	if err := r.attachPage(ctx); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

// Close releases the DevTools connection.
func (r *CDPRunner) Close() {
	select {
	case <-r.stopCh:
		return
	default:
	}
	close(r.stopCh)
	r.mu.Lock()
	if r.conn != nil {
		_ = r.conn.Close(websocket.StatusNormalClosure, "runner closing")
		r.conn = nil
	}
	r.mu.Unlock()
}

func (r *CDPRunner) attachPage(ctx context.Context) error {
	result, err := r.send(ctx, "Target.getTargets", nil, "")
	if err != nil {
		return fmt.Errorf("getTargets: %w", err)
	}

	var targets struct {
		TargetInfos []struct {
			TargetID string `json:"targetId"`
			Type     string `json:"type"`
			URL      string `json:"url"`
		} `json:"targetInfos"`
	}
	if err := json.Unmarshal(result, &targets); err != nil {
		return fmt.Errorf("unmarshal targets: %w", err)
	}

	for _, t := range targets.TargetInfos {
		if t.Type != "page" {
			continue
		}
		attach, err := r.send(ctx, "Target.attachToTarget", map[string]any{
			"targetId": t.TargetID,
			"flatten":  true,
		}, "")
		if err != nil {
			return fmt.Errorf("attachToTarget: %w", err)
		}
		var resp struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(attach, &resp); err != nil {
			return fmt.Errorf("unmarshal attach: %w", err)
		}
		r.mu.Lock()
		r.sessionID = resp.SessionID
		r.mu.Unlock()
		r.log.Info("attached to page target", "url", t.URL, "session", resp.SessionID)
		return nil
	}
	return fmt.Errorf("no page target found")
}

// Evaluate runs an expression in the attached page and returns its value.
// Promises are awaited; a thrown exception becomes an error.
func (r *CDPRunner) Evaluate(ctx context.Context, expression string) (json.RawMessage, error) {
	r.mu.Lock()
	session := r.sessionID
	r.mu.Unlock()
	if session == "" {
		return nil, fmt.Errorf("no page target attached")
	}

	result, err := r.send(ctx, "Runtime.evaluate", map[string]any{
		"expression":    expression,
		"awaitPromise":  true,
		"returnByValue": true,
	}, session)
	if err != nil {
		return nil, err
	}

	var eval struct {
		Result struct {
			Value       json.RawMessage `json:"value"`
			Description string          `json:"description"`
			Subtype     string          `json:"subtype"`
		} `json:"result"`
		ExceptionDetails *struct {
			Text      string `json:"text"`
			Exception struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if err := json.Unmarshal(result, &eval); err != nil {
		return nil, fmt.Errorf("unmarshal eval result: %w", err)
	}
	if eval.ExceptionDetails != nil {
		msg := eval.ExceptionDetails.Text
		if eval.ExceptionDetails.Exception.Description != "" {
			msg = eval.ExceptionDetails.Exception.Description
		}
		return nil, fmt.Errorf("js exception: %s", msg)
	}
	if eval.Result.Subtype == "error" {
		return nil, fmt.Errorf("js error: %s", eval.Result.Description)
	}
	return eval.Result.Value, nil
}

func (r *CDPRunner) send(ctx context.Context, method string, params any, sessionID string) (json.RawMessage, error) {
	id := r.msgID.Add(1)

	var paramsRaw json.RawMessage
	if params != nil {
		var err error
		paramsRaw, err = json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
	}
	data, err := json.Marshal(cdpMessage{
		ID:        id,
		Method:    method,
		Params:    paramsRaw,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal devtools message: %w", err)
	}

	ch := make(chan cdpResponse, 1)
	r.mu.Lock()
	r.pendingCalls[id] = ch
	conn := r.conn
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.pendingCalls, id)
		r.mu.Unlock()
	}()

	if conn == nil {
		return nil, fmt.Errorf("devtools connection closed")
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return nil, fmt.Errorf("write devtools: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case resp := <-ch:
		return resp.result, resp.err
	case <-time.After(30 * time.Second):
		return nil, fmt.Errorf("devtools call timed out: %s", method)
	case <-r.stopCh:
		return nil, fmt.Errorf("runner stopped")
	}
}

func (r *CDPRunner) readMessages() {
	for {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(context.Background())
		if err != nil {
			select {
			case <-r.stopCh:
			default:
				r.log.Error("devtools read error", "err", err)
			}
			return
		}

		var msg cdpMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			r.log.Error("devtools unmarshal error", "err", err)
			continue
		}
		if msg.ID == 0 {
			// Events are uninteresting here.
			continue
		}

		r.mu.Lock()
		ch, ok := r.pendingCalls[msg.ID]
		r.mu.Unlock()
		if !ok {
			continue
		}
		if msg.Error != nil {
			ch <- cdpResponse{err: fmt.Errorf("devtools error: %s", msg.Error.Message)}
		} else {
			ch <- cdpResponse{result: msg.Result}
		}
	}
}
