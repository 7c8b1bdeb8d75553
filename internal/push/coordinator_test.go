package push

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeRegistrar struct {
	registers atomic.Int32
}

func (f *fakeRegistrar) Register() {
	f.registers.Add(1)
}

func TestConcurrentRequestsCoalesce(t *testing.T) {
	reg := &fakeRegistrar{}
	c := New(reg)

	const n = 5
	var mu sync.Mutex
	received := make(map[int][]string)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.RequestToken(func(token string) {
				mu.Lock()
				received[i] = append(received[i], token)
				mu.Unlock()
			})
		}(i)
	}
	wg.Wait()

	if got := reg.registers.Load(); got != 1 {
		t.Fatalf("registration triggered %d times, want 1", got)
	}

	c.OnTokenAvailable("tok")

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if len(received[i]) != 1 || received[i][0] != "tok" {
			t.Fatalf("waiter %d received %v, want exactly one \"tok\"", i, received[i])
		}
	}
}

func TestCachedTokenIsSynchronous(t *testing.T) {
	c := New(&fakeRegistrar{})
	c.OnTokenAvailable("tok")

	var got string
	c.RequestToken(func(token string) { got = token })
	if got != "tok" {
		t.Fatalf("cached token = %q, want \"tok\"", got)
	}
}

func TestNoRegistrarRepliesEmptySynchronously(t *testing.T) {
	c := New(nil)

	delivered := false
	c.RequestToken(func(token string) {
		delivered = true
		if token != "" {
			t.Errorf("token = %q, want empty", token)
		}
	})
	if !delivered {
		t.Fatal("callback should run synchronously when push is not configured")
	}
}

func TestWaitersSurviveRegistrationFailure(t *testing.T) {
	reg := &fakeRegistrar{}
	c := New(reg)

	got := make(chan string, 1)
	c.RequestToken(func(token string) { got <- token })

	c.OnRegistrationFailure(errors.New("no network"))

	select {
	case <-got:
		t.Fatal("waiter should stay queued after a registration failure")
	case <-time.After(50 * time.Millisecond):
	}

	// A later successful registration drains the waiter.
	c.OnTokenAvailable("tok2")
	select {
	case token := <-got:
		if token != "tok2" {
			t.Fatalf("token = %q", token)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not drained after late success")
	}
}

func TestRegistrationRetriggersAfterFailure(t *testing.T) {
	reg := &fakeRegistrar{}
	c := New(reg)

	c.RequestToken(func(string) {})
	c.OnRegistrationFailure(errors.New("transient"))
	c.RequestToken(func(string) {})

	if got := reg.registers.Load(); got != 2 {
		t.Fatalf("registration triggered %d times, want 2", got)
	}
}

func TestShutdownWipesCachedToken(t *testing.T) {
	reg := &fakeRegistrar{}
	c := New(reg)
	c.OnTokenAvailable("tok")

	c.Shutdown()

	// With the cache wiped, the next request must re-register rather than
	// hand out the old token.
	c.RequestToken(func(string) {})
	if got := reg.registers.Load(); got != 1 {
		t.Fatalf("registration triggered %d times after shutdown, want 1", got)
	}
}

func TestTokenChangedNotification(t *testing.T) {
	c := New(&fakeRegistrar{})

	changes := make(chan string, 4)
	c.SetTokenChangedNotifier(func(token string) { changes <- token })

	c.OnTokenAvailable("tok1")
	c.OnTokenAvailable("tok1") // unchanged, no notification
	c.OnTokenAvailable("tok2")

	if got := <-changes; got != "tok1" {
		t.Fatalf("first change = %q", got)
	}
	if got := <-changes; got != "tok2" {
		t.Fatalf("second change = %q", got)
	}
	select {
	case extra := <-changes:
		t.Fatalf("unexpected extra change notification %q", extra)
	default:
	}
}
