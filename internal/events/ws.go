package events

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// wireEvent is the JSON shape sent over the websocket stream — a flattened
// envelope rather than Event's pointer-per-kind struct, the way wingthing's
// ws.Envelope/PTYOutput pair separates routing from payload.
type wireEvent struct {
	Type   Kind   `json:"type"`
	TaskID string `json:"task_id"`

	Status       string       `json:"status,omitempty"`
	TerminalKind TerminalKind `json:"terminal_kind,omitempty"`
	Output       []byte       `json:"output,omitempty"`
	Code         *int         `json:"exit_code,omitempty"`
}

func toWire(ev Event) wireEvent {
	w := wireEvent{Type: ev.Kind, TaskID: ev.TaskID}
	switch ev.Kind {
	case KindStatusChanged:
		w.Status = ev.StatusChanged.Status
	case KindOutput:
		w.TerminalKind = ev.Output.Kind
		w.Output = ev.Output.Data
	case KindExit:
		code := ev.Exit.Code
		w.TerminalKind = ev.Exit.Kind
		w.Code = &code
	}
	return w
}

// ServeHTTP upgrades the request to a websocket and streams every bus event
// to it as JSON until the connection closes. One goroutine per connection;
// the subscriber id is unique per connection so multiple UIs can attach to
// the same bus independently.
func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		b.log.Warn("events: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	subID := uuid.New().String()
	ch, unsubscribe := b.Subscribe(subID)
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(toWire(ev))
			if err != nil {
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
