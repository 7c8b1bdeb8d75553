package ipc

import (
	"encoding/json"
	"net"
	"testing"
	"time"
)

func socketPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func TestConnSendRecv(t *testing.T) {
	serverConn, clientConn := socketPair(t)

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	payload, _ := json.Marshal(map[string]string{"hello": "world"})
	env := &Envelope{
		ID:      "test-1",
		Type:    TypePing,
		Payload: payload,
	}

	done := make(chan error, 1)
	go func() {
		done <- client.Send(env)
	}()

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	recv, err := server.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("send: %v", err)
	}

	if recv.ID != "test-1" {
		t.Errorf("expected ID test-1, got %s", recv.ID)
	}
	if recv.Type != TypePing {
		t.Errorf("expected type %s, got %s", TypePing, recv.Type)
	}
	if recv.Seq != 1 {
		t.Errorf("expected seq 1, got %d", recv.Seq)
	}
}

func TestConnHMACMismatch(t *testing.T) {
	serverConn, clientConn := socketPair(t)

	key, err := GenerateSessionKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	server := NewConn(serverConn)
	server.SetSessionKey(key)

	// Client signs with a different key, so the server must reject.
	otherKey, _ := GenerateSessionKey()
	client := NewConn(clientConn)
	client.SetSessionKey(otherKey)

	payload, _ := json.Marshal("test")
	go client.Send(&Envelope{ID: "bad", Type: TypePong, Payload: payload})

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := server.Recv(); err == nil {
		t.Fatal("expected HMAC mismatch error")
	}
}

func TestConnRejectsReplayedSequence(t *testing.T) {
	serverConn, clientConn := socketPair(t)

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	payload, _ := json.Marshal("x")
	for i := 0; i < 2; i++ {
		go client.Send(&Envelope{ID: "seq", Type: TypePing, Payload: payload})
		server.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, err := server.Recv(); err != nil {
			t.Fatalf("recv %d: %v", i, err)
		}
	}

	// Replay: force the client's sequence counter backwards.
	client.sendSeq.Store(0)
	go client.Send(&Envelope{ID: "replay", Type: TypePing, Payload: payload})
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := server.Recv(); err == nil {
		t.Fatal("expected replay rejection")
	}
}

func TestSendTypedRoundTrip(t *testing.T) {
	serverConn, clientConn := socketPair(t)

	server := NewConn(serverConn)
	client := NewConn(clientConn)

	reply := NotificationReply{RequestID: "req-9", Authenticated: true}
	go client.SendTyped("r1", TypeNotificationReply, reply)

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	env, err := server.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	if env.Type != TypeNotificationReply {
		t.Fatalf("type = %s", env.Type)
	}

	var got NotificationReply
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.RequestID != "req-9" || !got.Authenticated {
		t.Fatalf("payload = %+v", got)
	}
}

func TestDialLimiter(t *testing.T) {
	rl := NewDialLimiter(2, time.Minute)

	if !rl.Allow("/tmp/bundle.sock") {
		t.Fatal("first attempt should be allowed")
	}
	if !rl.Allow("/tmp/bundle.sock") {
		t.Fatal("second attempt should be allowed")
	}
	if rl.Allow("/tmp/bundle.sock") {
		t.Fatal("third attempt within window should be rejected")
	}

	// A different endpoint is tracked independently.
	if !rl.Allow("/tmp/other.sock") {
		t.Fatal("different endpoint should be allowed")
	}

	rl.Reset()
	if !rl.Allow("/tmp/bundle.sock") {
		t.Fatal("attempt after reset should be allowed")
	}
}
