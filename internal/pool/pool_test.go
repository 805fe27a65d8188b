package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/h2owater425/qached/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New("TEST", "error")
}

func TestNew_RejectsZeroSize(t *testing.T) {
	if _, err := New(0, testLogger()); err == nil {
		t.Error("expected error for size 0")
	}
}

func TestExecute_RunsJobs(t *testing.T) {
	p, err := New(4, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer p.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup
	const jobs = 100

	wg.Add(jobs)
	for i := 0; i < jobs; i++ {
		if err := p.Execute(func() {
			counter.Add(1)
			wg.Done()
		}); err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for jobs to complete")
	}

	if got := counter.Load(); got != jobs {
		t.Errorf("counter = %d, want %d", got, jobs)
	}
}

func TestClose_RejectsFurtherExecute(t *testing.T) {
	p, err := New(2, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()

	if err := p.Execute(func() {}); err != ErrClosed {
		t.Errorf("Execute after Close = %v, want ErrClosed", err)
	}
}

func TestClose_IsIdempotent(t *testing.T) {
	p, err := New(1, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	p.Close()
	p.Close() // must not panic or block
}

func TestClose_WaitsForWorkersToExit(t *testing.T) {
	p, err := New(3, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	if err := p.Execute(func() {
		close(started)
		<-release
	}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	<-started
	close(release)
	p.Close() // should return once the in-flight job finishes
}
