// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to script connection attempts: each StartStream call consumes
// the next entry of StartStreamErrs (if any) and otherwise the next Stream.
// Use Stream to feed Results and inspect which audio frames were sent.
//
// Example:
//
//	s := mock.NewStream(8)
//	p := &mock.Provider{Streams: []*mock.Stream{s}}
//	s.Push(stt.Result{IsFinal: true, Transcript: "hello"})
//	s.End(nil) // Recv returns io.EOF after the buffered results
package mock

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/MrWong99/callcore/pkg/provider/stt"
)

// ErrClosed is returned by Recv after Close.
var ErrClosed = errors.New("mock: stream closed")

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// StartStreamErrs are returned, in order, by the first StartStream calls.
	// A nil entry falls through to Streams.
	StartStreamErrs []error

	// Streams are returned in order once StartStreamErrs is used up. When it
	// runs out, StartStream returns a fresh stream that ends immediately.
	Streams []*Stream

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns the next scripted outcome.
func (p *Provider) StartStream(_ context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Cfg: cfg})
	if len(p.StartStreamErrs) > 0 {
		err := p.StartStreamErrs[0]
		p.StartStreamErrs = p.StartStreamErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if len(p.Streams) > 0 {
		s := p.Streams[0]
		p.Streams = p.Streams[1:]
		return s, nil
	}
	s := NewStream(0)
	s.End(nil)
	return s, nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

var _ stt.Provider = (*Provider)(nil)

// Stream is a mock implementation of stt.Stream.
type Stream struct {
	mu sync.Mutex

	results  chan stt.Result
	recvErr  error
	endOnce  sync.Once
	closed   chan struct{}
	closeOne sync.Once

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// EndOnCloseSend makes CloseSend end the stream with io.EOF, like a
	// backend that flushes and closes after the end-of-stream message.
	EndOnCloseSend bool

	// --- Call records ---

	// Frames holds a copy of every frame passed to SendAudio, in order.
	Frames [][]byte

	// CloseSendCount is the number of CloseSend calls.
	CloseSendCount int

	// CloseCount is the number of Close calls.
	CloseCount int
}

// NewStream returns a Stream whose result queue holds buffer entries.
func NewStream(buffer int) *Stream {
	return &Stream{
		results: make(chan stt.Result, buffer),
		closed:  make(chan struct{}),
	}
}

// Push queues a result for Recv. It blocks when the buffer is full.
func (s *Stream) Push(r stt.Result) {
	s.results <- r
}

// End makes Recv return err (io.EOF when nil) after all queued results have
// been received. Only the first call has an effect.
func (s *Stream) End(err error) {
	s.endOnce.Do(func() {
		if err == nil {
			err = io.EOF
		}
		s.mu.Lock()
		s.recvErr = err
		s.mu.Unlock()
		close(s.results)
	})
}

// SendAudio records a copy of frame and returns SendAudioErr.
func (s *Stream) SendAudio(_ context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Frames = append(s.Frames, append([]byte(nil), frame...))
	return s.SendAudioErr
}

// CloseSend records the call and, with EndOnCloseSend, ends the stream.
func (s *Stream) CloseSend(context.Context) error {
	s.mu.Lock()
	s.CloseSendCount++
	end := s.EndOnCloseSend
	s.mu.Unlock()
	if end {
		s.End(nil)
	}
	return nil
}

// Recv returns the next queued result.
func (s *Stream) Recv(ctx context.Context) (stt.Result, error) {
	select {
	case r, ok := <-s.results:
		if ok {
			return r, nil
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		return stt.Result{}, s.recvErr
	case <-s.closed:
		return stt.Result{}, ErrClosed
	case <-ctx.Done():
		return stt.Result{}, ctx.Err()
	}
}

// Close records the call and unblocks pending Recv calls.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.CloseCount++
	s.mu.Unlock()
	s.closeOne.Do(func() { close(s.closed) })
	return nil
}

// FrameCount returns the number of frames sent so far. Thread-safe.
func (s *Stream) FrameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Frames)
}

// SentFrames returns a snapshot of the frames sent so far. Thread-safe.
func (s *Stream) SentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.Frames...)
}

// CloseSendCalls returns CloseSendCount. Thread-safe.
func (s *Stream) CloseSendCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseSendCount
}

var _ stt.Stream = (*Stream)(nil)
