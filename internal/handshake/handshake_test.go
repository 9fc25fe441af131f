package handshake

import (
	"io"
	"net"
	"testing"
	"time"
)

// fakeServer performs the server side of the simple handshake well enough
// to drive Do(): read C0/C1, write S0/S1/S2, read C2.
func fakeServer(t *testing.T, conn net.Conn, serverVersion byte) {
	t.Helper()
	c0 := make([]byte, 1)
	if _, err := io.ReadFull(conn, c0); err != nil {
		t.Errorf("server: reading C0: %v", err)
		return
	}
	c1 := make([]byte, sigSize)
	if _, err := io.ReadFull(conn, c1); err != nil {
		t.Errorf("server: reading C1: %v", err)
		return
	}
	s1 := make([]byte, sigSize)
	if _, err := conn.Write(append([]byte{serverVersion}, s1...)); err != nil {
		t.Errorf("server: writing S0/S1: %v", err)
		return
	}
	c2 := make([]byte, sigSize)
	if _, err := io.ReadFull(conn, c2); err != nil {
		t.Errorf("server: reading C2: %v", err)
		return
	}
	if _, err := conn.Write(s1); err != nil {
		t.Errorf("server: writing S2: %v", err)
	}
}

func TestSuccessfulHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go fakeServer(t, server, version)

	done := make(chan error, 1)
	go func() { done <- Do(client) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handshake failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}
}

func TestVersionMismatch(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go fakeServer(t, server, 6)

	done := make(chan error, 1)
	go func() { done <- Do(client) }()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected version mismatch error")
		}
		if _, ok := err.(*ErrVersionMismatch); !ok {
			t.Fatalf("expected ErrVersionMismatch, got %T: %v", err, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handshake timed out")
	}
}
