package loader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeLoadable struct {
	runs  int
	fail  int
	block chan struct{}
}

func (f *fakeLoadable) Load(ctx context.Context) error {
	f.runs++
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.runs <= f.fail {
		return fmt.Errorf("transient failure %d", f.runs)
	}
	return nil
}

type recordingCallback struct {
	mu        sync.Mutex
	completed bool
	canceled  bool
	released  bool
	errs      int
	done      chan struct{}
}

func newRecordingCallback() *recordingCallback {
	return &recordingCallback{done: make(chan struct{})}
}

func (c *recordingCallback) OnLoadCompleted(Loadable, time.Duration) {
	c.mu.Lock()
	c.completed = true
	c.mu.Unlock()
	close(c.done)
}

func (c *recordingCallback) OnLoadCanceled(_ Loadable, _ time.Duration, released bool) {
	c.mu.Lock()
	c.canceled = true
	c.released = released
	c.mu.Unlock()
	close(c.done)
}

func (c *recordingCallback) OnLoadError(_ Loadable, _ time.Duration, _ error, _ int) RetryAction {
	c.mu.Lock()
	c.errs++
	c.mu.Unlock()
	return Retry
}

func TestLoaderCompletesOnSuccess(t *testing.T) {
	cb := newRecordingCallback()
	l := New(cb)
	l.StartLoading(&fakeLoadable{})

	<-cb.done
	l.Release()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	require.True(t, cb.completed)
}

func TestLoaderRetriesTransientFailures(t *testing.T) {
	cb := newRecordingCallback()
	l := New(cb)
	l.StartLoading(&fakeLoadable{fail: 2})

	<-cb.done
	l.Release()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	require.True(t, cb.completed)
	require.Equal(t, 2, cb.errs)
}

func TestLoaderCancelLoadingReportsNotReleased(t *testing.T) {
	cb := newRecordingCallback()
	l := New(cb)
	loadable := &fakeLoadable{block: make(chan struct{})}
	l.StartLoading(loadable)

	require.True(t, l.IsLoading())
	l.CancelLoading()

	<-cb.done

	cb.mu.Lock()
	defer cb.mu.Unlock()
	require.True(t, cb.canceled)
	require.False(t, cb.released)
}

func TestLoaderReleaseReportsReleased(t *testing.T) {
	cb := newRecordingCallback()
	l := New(cb)
	loadable := &fakeLoadable{block: make(chan struct{})}
	l.StartLoading(loadable)

	l.Release()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	require.True(t, cb.canceled)
	require.True(t, cb.released)
}
