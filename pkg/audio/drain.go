package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when the data from a streaming channel
// is not needed (e.g., the Audio channel on an [AudioSegment] that was
// cancelled by barge-in).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
