package bundle

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wardensec/agent/internal/event"
	"github.com/wardensec/agent/internal/ipc"
)

// fakeService runs the service side of one hashing exchange on a pipe.
func fakeService(t *testing.T) (*Coordinator, *ipc.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})

	dial := func(path string, timeout time.Duration) (*ipc.Conn, error) {
		return ipc.NewConn(client), nil
	}
	return NewWithDialer("/tmp/fake.sock", dial), ipc.NewConn(server)
}

type progressRecorder struct {
	mu      sync.Mutex
	labels  []string
	updates []float64
}

func (p *progressRecorder) record(fraction float64, label string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, fraction)
	p.labels = append(p.labels, label)
}

func (p *progressRecorder) lastLabel() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.labels) == 0 {
		return ""
	}
	return p.labels[len(p.labels)-1]
}

func TestStartUnreachableServiceDegrades(t *testing.T) {
	dial := func(path string, timeout time.Duration) (*ipc.Conn, error) {
		return nil, errors.New("connection refused")
	}
	c := NewWithDialer("/tmp/missing.sock", dial)

	results := make(chan Result, 1)
	c.Start(event.ExecutionEvent{FileSHA256: "h"}, func(float64, string) {},
		func(r Result) { results <- r })

	select {
	case r := <-results:
		if r.BundleHash != "" {
			t.Fatalf("expected empty bundle hash, got %q", r.BundleHash)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected immediate terminal result on dial failure")
	}

	if c.State() != StateTimedOut {
		t.Fatalf("state = %v, want %v", c.State(), StateTimedOut)
	}
}

func TestStartDeliversProgressAndResult(t *testing.T) {
	c, server := fakeService(t)

	var rec progressRecorder
	results := make(chan Result, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		server.SetReadDeadline(time.Now().Add(5 * time.Second))
		env, err := server.Recv()
		if err != nil {
			t.Errorf("service recv: %v", err)
			return
		}
		if env.Type != ipc.TypeHashBundle {
			t.Errorf("service got %s, want %s", env.Type, ipc.TypeHashBundle)
			return
		}

		server.SendTyped("p1", ipc.TypeBundleProgress, ipc.BundleProgress{Fraction: 0.25, Label: "hashing"})
		server.SendTyped("c1", ipc.TypeBundleCounts, ipc.BundleCounts{BinaryCount: 4, FileCount: 10, HashedCount: 2})
		server.SendTyped("r1", ipc.TypeBundleResult, ipc.BundleResult{
			BundleHash:    "bundlehash",
			RelatedEvents: []event.ExecutionEvent{{FileSHA256: "rel1"}},
			ElapsedMillis: 1234,
		})
	}()

	c.Start(event.ExecutionEvent{FileSHA256: "h", FileBundlePath: "/Applications/App.app"},
		rec.record, func(r Result) { results <- r })

	select {
	case r := <-results:
		if r.BundleHash != "bundlehash" {
			t.Fatalf("BundleHash = %q", r.BundleHash)
		}
		if len(r.RelatedEvents) != 1 || r.RelatedEvents[0].FileSHA256 != "rel1" {
			t.Fatalf("RelatedEvents = %+v", r.RelatedEvents)
		}
		if r.BinaryCount != 4 {
			t.Fatalf("BinaryCount = %d, want 4", r.BinaryCount)
		}
		if r.ElapsedMillis != 1234 {
			t.Fatalf("ElapsedMillis = %d", r.ElapsedMillis)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal result")
	}
	<-done

	if c.State() != StateCompleted {
		t.Fatalf("state = %v, want %v", c.State(), StateCompleted)
	}
	if got := rec.lastLabel(); got != "2/4 binaries hashed" {
		t.Fatalf("last label = %q", got)
	}
}

func TestEmptyHashResultIsFailure(t *testing.T) {
	c, server := fakeService(t)
	results := make(chan Result, 1)

	go func() {
		server.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, err := server.Recv(); err != nil {
			return
		}
		server.SendTyped("r1", ipc.TypeBundleResult, ipc.BundleResult{ElapsedMillis: 10})
	}()

	c.Start(event.ExecutionEvent{FileSHA256: "h"}, func(float64, string) {},
		func(r Result) { results <- r })

	select {
	case r := <-results:
		if r.BundleHash != "" {
			t.Fatalf("expected empty hash, got %q", r.BundleHash)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal result")
	}

	if c.State() != StateFailed {
		t.Fatalf("state = %v, want %v", c.State(), StateFailed)
	}
}

func TestConnectionDropIsSingleTerminalFailure(t *testing.T) {
	c, server := fakeService(t)

	var mu sync.Mutex
	var count int
	go func() {
		server.SetReadDeadline(time.Now().Add(5 * time.Second))
		server.Recv()
		server.Close()
	}()

	done := make(chan struct{})
	c.Start(event.ExecutionEvent{FileSHA256: "h"}, func(float64, string) {},
		func(Result) {
			mu.Lock()
			count++
			mu.Unlock()
			select {
			case <-done:
			default:
				close(done)
			}
		})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal result")
	}
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("terminal result delivered %d times, want 1", count)
	}
}

func TestCountsLabel(t *testing.T) {
	tests := []struct {
		binary, file, hashed uint64
		want                 string
	}{
		{4, 10, 0, "4 binaries in 10 files"},
		{4, 2, 0, "4 binaries in 4 files"}, // fileCount clamped up
		{4, 10, 1, "1/4 binaries hashed"},
		{4, 10, 4, "4/4 binaries hashed"},
	}
	for _, tt := range tests {
		if got := countsLabel(tt.binary, tt.file, tt.hashed); got != tt.want {
			t.Errorf("countsLabel(%d,%d,%d) = %q, want %q", tt.binary, tt.file, tt.hashed, got, tt.want)
		}
	}
}

func TestDialLimiterSuppressesRepeatedDials(t *testing.T) {
	dials := 0
	dial := func(path string, timeout time.Duration) (*ipc.Conn, error) {
		dials++
		return nil, errors.New("refused")
	}
	c := NewWithDialer("/tmp/down.sock", dial)
	c.limiter = ipc.NewDialLimiter(2, time.Minute)

	for i := 0; i < 4; i++ {
		done := make(chan struct{})
		c.Start(event.ExecutionEvent{}, func(float64, string) {}, func(Result) { close(done) })
		<-done
	}

	if dials != 2 {
		t.Fatalf("dial attempts = %d, want 2 (limiter should suppress the rest)", dials)
	}
}
