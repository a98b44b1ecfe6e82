package pool

import (
	"context"
	"fmt"
	"sort"
	goSync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	logrusTest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/boxsync/pkg/errors"
)

type namedTask struct {
	name string
	err  error
}

func (task namedTask) Run() error {
	return task.err
}

func (task namedTask) String() string {
	return task.name
}

func TestRunsAllTasks(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	p := New(3, clockwork.NewRealClock(), logger)
	defer p.Close()

	var exp []string
	for i := 0; i < 20; i++ {
		task := namedTask{name: fmt.Sprintf("task-%02d", i)}
		if i%5 == 0 {
			task.err = errors.New("failed")
		}
		require.NoError(t, p.Submit(task))
		exp = append(exp, task.name)
	}

	results, err := p.DrainAndWait(context.Background(), 0)
	require.NoError(t, err)

	var actual []string
	var failed int
	for _, res := range results {
		actual = append(actual, res.Task.(namedTask).name)
		if res.Err != nil {
			failed++
		}
	}
	sort.Strings(actual)
	assert.Equal(t, exp, actual)
	assert.Equal(t, 4, failed)
	assert.Equal(t, 0, p.Pending())
}

func TestConcurrencyIsBounded(t *testing.T) {
	p := New(2, clockwork.NewRealClock(), nil)
	defer p.Close()

	var running, maxRunning int32
	release := make(chan struct{})
	for i := 0; i < 6; i++ {
		require.NoError(t, p.Submit(TaskFunc(func() error {
			curr := atomic.AddInt32(&running, 1)
			for {
				prev := atomic.LoadInt32(&maxRunning)
				if curr <= prev || atomic.CompareAndSwapInt32(&maxRunning, prev, curr) {
					break
				}
			}
			<-release
			atomic.AddInt32(&running, -1)
			return nil
		})))
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&running) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 6, p.Pending())

	close(release)
	results, err := p.DrainAndWait(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.Equal(t, int32(2), atomic.LoadInt32(&maxRunning))
}

func TestSubmitWhileDraining(t *testing.T) {
	p := New(1, clockwork.NewRealClock(), nil)
	defer p.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.Submit(TaskFunc(func() error {
		close(started)
		<-release
		return nil
	})))
	<-started

	drained := make(chan []Result)
	go func() {
		results, err := p.DrainAndWait(context.Background(), 0)
		assert.NoError(t, err)
		drained <- results
	}()

	assert.Eventually(t, p.Draining, time.Second, 10*time.Millisecond)
	assert.Equal(t, errors.ErrPoolDraining, p.Submit(TaskFunc(func() error { return nil })))

	_, err := p.DrainAndWait(context.Background(), 0)
	assert.Equal(t, errors.ErrPoolDraining, err)

	close(release)
	assert.Len(t, <-drained, 1)

	// The pool accepts work again after draining.
	var ran int32
	require.NoError(t, p.Submit(TaskFunc(func() error {
		atomic.StoreInt32(&ran, 1)
		return nil
	})))
	results, err := p.DrainAndWait(context.Background(), 0)
	assert.NoError(t, err)
	assert.Len(t, results, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestDrainTimeoutKeepsWaiting(t *testing.T) {
	logger, hook := logrusTest.NewNullLogger()
	clock := clockwork.NewFakeClock()
	p := New(1, clock, logger)
	defer p.Close()

	release := make(chan struct{})
	require.NoError(t, p.Submit(TaskFunc(func() error {
		<-release
		return nil
	})))

	type drainResult struct {
		results []Result
		err     error
	}
	drained := make(chan drainResult, 1)
	go func() {
		results, err := p.DrainAndWait(context.Background(), time.Minute)
		drained <- drainResult{results, err}
	}()

	for i := 0; i < 2; i++ {
		clock.BlockUntil(1)
		clock.Advance(time.Minute)
	}

	assert.Eventually(t, func() bool {
		return len(hook.AllEntries()) >= 2
	}, time.Second, 10*time.Millisecond)
	for _, entry := range hook.AllEntries()[:2] {
		assert.Equal(t, logrus.WarnLevel, entry.Level)
		assert.Equal(t, "Still waiting for transfers to finish", entry.Message)
		assert.Equal(t, 1, entry.Data["pending"])
	}

	select {
	case <-drained:
		t.Fatal("drain returned before the task finished")
	default:
	}

	close(release)
	res := <-drained
	assert.NoError(t, res.err)
	assert.Len(t, res.results, 1)
}

func TestDrainContextCancelled(t *testing.T) {
	p := New(1, clockwork.NewRealClock(), nil)
	defer p.Close()

	release := make(chan struct{})
	var finished int32
	require.NoError(t, p.Submit(TaskFunc(func() error {
		<-release
		atomic.StoreInt32(&finished, 1)
		return nil
	})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.DrainAndWait(ctx, 0)
	assert.Equal(t, context.Canceled, err)

	// Cancelling the wait doesn't cancel the task.
	close(release)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&finished) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestResize(t *testing.T) {
	p := New(1, clockwork.NewRealClock(), nil)
	defer p.Close()
	p.Resize(3)
	assert.Equal(t, 3, p.Size())

	_, err := p.DrainAndWait(context.Background(), 0)
	require.NoError(t, err)

	var wg goSync.WaitGroup
	wg.Add(3)
	release := make(chan struct{})
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Submit(TaskFunc(func() error {
			wg.Done()
			<-release
			return nil
		})))
	}

	// All three tasks run at once with the new size.
	wg.Wait()
	close(release)
	results, err := p.DrainAndWait(context.Background(), 0)
	assert.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestPanickingTask(t *testing.T) {
	logger, _ := logrusTest.NewNullLogger()
	p := New(1, clockwork.NewRealClock(), logger)
	defer p.Close()

	require.NoError(t, p.Submit(TaskFunc(func() error {
		panic("boom")
	})))
	results, err := p.DrainAndWait(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.EqualError(t, results[0].Err, "task panicked: boom")
}

func TestClose(t *testing.T) {
	p := New(2, clockwork.NewRealClock(), nil)

	var ran int32
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Submit(TaskFunc(func() error {
			atomic.AddInt32(&ran, 1)
			return nil
		})))
	}
	p.Close()
	assert.Equal(t, int32(4), atomic.LoadInt32(&ran))
	assert.Equal(t, errors.ErrPoolDraining, p.Submit(TaskFunc(func() error { return nil })))
}
