package xchan

import (
	"testing"
	"time"
)

func TestPairDeliversAndCopies(t *testing.T) {
	a, b := NewPair()
	defer a.Close()
	defer b.Close()

	received := make(chan []byte, 1)
	b.OnMessage(func(msg []byte) { received <- msg })

	payload := []byte("hello")
	if err := a.Send(payload); err != nil {
		t.Fatalf("Send: %v", err)
	}
	payload[0] = 'X' // mutate after send; must not affect delivered copy

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Errorf("got %q, want %q (send must copy)", got, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	a, b := NewPair()
	b.Close()
	if err := a.Send([]byte("x")); err != ErrClosed {
		t.Errorf("Send after peer close = %v, want ErrClosed", err)
	}
	a.Close()
}
