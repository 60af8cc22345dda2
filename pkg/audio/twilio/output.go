// Package twilio writes agent audio to a Twilio Media Streams websocket.
//
// Twilio expects 8 kHz mu-law payloads, base64-encoded inside JSON "media"
// events. "mark" events echo back once the preceding audio has been played
// and "clear" discards audio that Twilio has buffered but not yet played,
// which is what a barge-in needs.
package twilio

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/callcore/pkg/audio"
)

// Format is the only audio format Twilio Media Streams accepts.
var Format = audio.Mono(audio.EncodingMulaw, audio.MulawSampleRate)

// ErrClosed is returned by writes after [Output.Close].
var ErrClosed = errors.New("twilio: output closed")

type mediaEvent struct {
	Event     string       `json:"event"`
	StreamSID string       `json:"streamSid"`
	Media     *mediaBody   `json:"media,omitempty"`
	Mark      *markPayload `json:"mark,omitempty"`
}

type mediaBody struct {
	Payload string `json:"payload"`
}

type markPayload struct {
	Name string `json:"name"`
}

// Output sends agent audio chunks to one Twilio media stream. It is safe for
// concurrent use; writes are serialised in call order.
type Output struct {
	conn      *websocket.Conn
	streamSID string

	mu     sync.Mutex
	closed bool
}

// NewOutput wraps an already-accepted media stream connection. streamSID is
// the identifier Twilio sent in its "start" event.
func NewOutput(conn *websocket.Conn, streamSID string) *Output {
	return &Output{conn: conn, streamSID: streamSID}
}

// Play sends one chunk of mu-law audio as a media event.
func (o *Output) Play(ctx context.Context, chunk []byte) error {
	return o.send(ctx, mediaEvent{
		Event:     "media",
		StreamSID: o.streamSID,
		Media:     &mediaBody{Payload: base64.StdEncoding.EncodeToString(chunk)},
	})
}

// Mark asks Twilio to echo name once every chunk sent before it has played.
func (o *Output) Mark(ctx context.Context, name string) error {
	return o.send(ctx, mediaEvent{
		Event:     "mark",
		StreamSID: o.streamSID,
		Mark:      &markPayload{Name: name},
	})
}

// Clear discards audio Twilio has buffered but not yet played.
func (o *Output) Clear(ctx context.Context) error {
	return o.send(ctx, mediaEvent{Event: "clear", StreamSID: o.streamSID})
}

// Close closes the underlying websocket with a normal closure status.
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil
	}
	o.closed = true
	return o.conn.Close(websocket.StatusNormalClosure, "")
}

func (o *Output) send(ctx context.Context, ev mediaEvent) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	if err := wsjson.Write(ctx, o.conn, ev); err != nil {
		return fmt.Errorf("twilio: write %s event: %w", ev.Event, err)
	}
	return nil
}
