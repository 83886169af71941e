package async

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualResetEventWaitBlocksUntilSet(t *testing.T) {
	e := NewManualResetEvent()
	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before Set")
	case <-time.After(20 * time.Millisecond):
	}

	e.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Set")
	}
}

func TestManualResetEventWaitOnAlreadySetReturnsImmediately(t *testing.T) {
	e := NewManualResetEvent()
	e.Set()

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Wait on already-set event blocked")
	}
}

func TestManualResetEventSetIsIdempotent(t *testing.T) {
	e := NewManualResetEvent()
	e.Set()
	require.NotPanics(t, func() { e.Set() })
}

func TestManualResetEventResetClearsWithoutWakingNewWaiters(t *testing.T) {
	e := NewManualResetEvent()
	e.Set()
	e.Reset()

	done := make(chan struct{})
	go func() {
		e.Wait()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("Wait returned after Reset with no subsequent Set")
	case <-time.After(20 * time.Millisecond):
	}
	e.Set()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait never returned after the post-Reset Set")
	}
}

func TestReturningManualResetEventCarriesValueToWaiters(t *testing.T) {
	e := NewReturningManualResetEvent[string]()
	results := make(chan string, 2)
	for i := 0; i < 2; i++ {
		go func() { results <- e.Wait() }()
	}
	time.Sleep(10 * time.Millisecond)
	e.Set("payload")

	for i := 0; i < 2; i++ {
		select {
		case v := <-results:
			assert.Equal(t, "payload", v)
		case <-time.After(time.Second):
			t.Fatal("waiter never observed the value")
		}
	}
}

func TestReturningManualResetEventResetClearsValue(t *testing.T) {
	e := NewReturningManualResetEvent[int]()
	e.Set(7)
	e.Reset()

	done := make(chan int, 1)
	go func() { done <- e.Wait() }()
	time.Sleep(10 * time.Millisecond)
	e.Set(9)

	select {
	case v := <-done:
		assert.Equal(t, 9, v)
	case <-time.After(time.Second):
		t.Fatal("Wait never returned")
	}
}
