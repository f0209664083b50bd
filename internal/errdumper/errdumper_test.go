package errdumper

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDumperReportsCountAndLastError(t *testing.T) {
	var mu sync.Mutex
	var counts []uint64
	var lastErrs []error

	boom := errors.New("boom")

	d := &Dumper{
		OnReport: func(count uint64, last error) {
			mu.Lock()
			counts = append(counts, count)
			lastErrs = append(lastErrs, last)
			mu.Unlock()
		},
	}
	d.Start()
	defer d.Stop()

	d.Add(errors.New("first"))
	d.Add(errors.New("second"))
	d.Add(boom)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(counts) >= 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, uint64(3), counts[0])
	require.Equal(t, boom, lastErrs[0])
}

func TestDumperStopFlushesPending(t *testing.T) {
	var mu sync.Mutex
	var reported bool

	d := &Dumper{
		OnReport: func(count uint64, _ error) {
			mu.Lock()
			reported = count == 1
			mu.Unlock()
		},
	}
	d.Start()
	d.Add(errors.New("x"))
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, reported)
}

func TestDumperNoReportWhenEmpty(t *testing.T) {
	calls := 0
	d := &Dumper{
		OnReport: func(uint64, error) { calls++ },
	}
	d.Start()
	d.Stop()
	require.Zero(t, calls)
}

func TestCounterDumperAccumulatesAcrossAdds(t *testing.T) {
	var mu sync.Mutex
	var total uint64

	d := &CounterDumper{
		OnReport: func(count uint64) {
			mu.Lock()
			total += count
			mu.Unlock()
		},
	}
	d.Start()
	d.Increase()
	d.Add(4)
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, uint64(5), total)
}
