package alsa_test

import (
	"testing"

	alsa "github.com/gen2brain/alsa-mmap"
)

// To run the hardware tests, the 'snd-aloop' kernel module must be loaded:
//
// sudo modprobe snd-aloop
//
// This creates a virtual loopback sound card: whatever is played on hw:L,0 can be captured
// from hw:L,1. Without it the hardware tests are skipped.

const (
	loopbackPlaybackDevice = 0
	loopbackCaptureDevice  = 1
)

// loopbackCard returns the card number of the loopback device, or skips the test.
func loopbackCard(t *testing.T) uint {
	t.Helper()

	card := alsa.FindCard("Loopback")
	if card == -1 {
		t.Skip("ALSA loopback device not found, run: sudo modprobe snd-aloop")
	}

	return uint(card)
}
