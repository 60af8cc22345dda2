package twilio_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/callcore/pkg/audio/twilio"
)

type event struct {
	Event     string `json:"event"`
	StreamSID string `json:"streamSid"`
	Media     *struct {
		Payload string `json:"payload"`
	} `json:"media"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark"`
}

// dialTestServer starts a websocket server that forwards every received
// event to the returned channel.
func dialTestServer(t *testing.T) (*websocket.Conn, <-chan event) {
	t.Helper()
	events := make(chan event, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.CloseNow()
		for {
			var ev event
			if err := wsjson.Read(r.Context(), conn, &ev); err != nil {
				close(events)
				return
			}
			events <- ev
		}
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn, events
}

func next(t *testing.T, events <-chan event) event {
	t.Helper()
	select {
	case ev := <-events:
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return event{}
	}
}

func TestOutput_PlayMarkClear(t *testing.T) {
	t.Parallel()
	conn, events := dialTestServer(t)
	out := twilio.NewOutput(conn, "MZ123")
	defer out.Close()
	ctx := context.Background()

	chunk := []byte{0xff, 0x7f, 0x00}
	if err := out.Play(ctx, chunk); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if err := out.Mark(ctx, "turn-1"); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if err := out.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}

	media := next(t, events)
	if media.Event != "media" || media.StreamSID != "MZ123" || media.Media == nil {
		t.Fatalf("unexpected media event: %+v", media)
	}
	payload, err := base64.StdEncoding.DecodeString(media.Media.Payload)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !bytes.Equal(payload, chunk) {
		t.Errorf("payload = %x, want %x", payload, chunk)
	}

	mark := next(t, events)
	if mark.Event != "mark" || mark.Mark == nil || mark.Mark.Name != "turn-1" {
		t.Errorf("unexpected mark event: %+v", mark)
	}
	if clear := next(t, events); clear.Event != "clear" {
		t.Errorf("unexpected clear event: %+v", clear)
	}
}

func TestOutput_WriteAfterClose(t *testing.T) {
	t.Parallel()
	conn, _ := dialTestServer(t)
	out := twilio.NewOutput(conn, "MZ1")
	if err := out.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := out.Play(context.Background(), []byte{1}); !errors.Is(err, twilio.ErrClosed) {
		t.Errorf("Play after close: err = %v, want ErrClosed", err)
	}
	if err := out.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
