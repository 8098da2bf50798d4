package pacemaker

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

func TestExponentialBackoff(t *testing.T) {
	const base = 100 * time.Millisecond
	const max = 10 * time.Second
	p := New(base, max, clock.NewMock())

	// after k timeouts the duration is min(base * 2^k, max)
	want := base
	for k := 0; k < 10; k++ {
		if got := p.Duration(); got != want {
			t.Errorf("Duration() after %d timeouts: got: %v, want: %v", k, got, want)
		}
		p.ViewTimeout()
		want *= 2
		if want > max {
			want = max
		}
	}
}

func TestMultiplierCap(t *testing.T) {
	p := New(time.Second, time.Hour, clock.NewMock())
	for i := 0; i < 100; i++ {
		p.ViewTimeout()
	}
	if got, want := p.Duration(), 32*time.Second; got != want {
		t.Errorf("Duration() at the multiplier cap: got: %v, want: %v", got, want)
	}
}

func TestMaxTimeoutCap(t *testing.T) {
	p := New(time.Second, 5*time.Second, clock.NewMock())
	for i := 0; i < 4; i++ {
		p.ViewTimeout()
	}
	if got, want := p.Duration(), 5*time.Second; got != want {
		t.Errorf("Duration() above max: got: %v, want: %v", got, want)
	}
}

func TestViewSucceededResets(t *testing.T) {
	const base = time.Second
	p := New(base, time.Minute, clock.NewMock())
	p.ViewTimeout()
	p.ViewTimeout()
	p.ViewSucceeded()
	if got := p.Duration(); got != base {
		t.Errorf("Duration() after reset: got: %v, want: %v", got, base)
	}
}

func TestExpired(t *testing.T) {
	mock := clock.NewMock()
	p := New(time.Second, time.Minute, mock)
	start := mock.Now()

	if p.Expired(start) {
		t.Error("Expired immediately after start")
	}
	mock.Add(time.Second)
	if p.Expired(start) {
		t.Error("Expired at exactly the timeout")
	}
	mock.Add(time.Millisecond)
	if !p.Expired(start) {
		t.Error("not Expired past the timeout")
	}
}
