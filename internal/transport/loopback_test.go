package transport

import "testing"

func TestLoopbackPairRoundTrip(t *testing.T) {
	a, b := LoopbackPair(4)
	defer a.Close()
	defer b.Close()

	if err := a.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 16)
	n, err := b.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestLoopbackPairBidirectional(t *testing.T) {
	a, b := LoopbackPair(4)
	defer a.Close()
	defer b.Close()

	if err := b.Send([]byte("pong")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	buf := make([]byte, 16)
	n, err := a.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "pong" {
		t.Fatalf("got %q", buf[:n])
	}
}

func TestLoopbackSendAfterCloseFails(t *testing.T) {
	a, b := LoopbackPair(1)
	defer b.Close()
	a.Close()
	if err := a.Send([]byte("x")); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestLoopbackQueueFull(t *testing.T) {
	a, b := LoopbackPair(1)
	defer a.Close()
	defer b.Close()

	if err := a.Send([]byte("1")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := a.Send([]byte("2")); err == nil {
		t.Fatal("expected queue-full error")
	}
}
