package audio

// Drain reads from ch until it is closed, discarding all values. Use it to
// release a producer goroutine whose output is no longer wanted, such as a
// transcription channel after the conversation has ended.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
