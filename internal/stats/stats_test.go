package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"pulse/internal/probe"
)

func TestRecordAndSnapshot(t *testing.T) {
	a := NewAggregator()

	a.Record(probe.Outcome{Success: true, Elapsed: 100 * time.Millisecond, Status: 200})
	a.Record(probe.Outcome{Success: true, Elapsed: 200 * time.Millisecond, Status: 200})
	a.Record(probe.Outcome{Success: false, Elapsed: 300 * time.Millisecond, Err: "connect refused"})

	s := a.Snapshot(2 * time.Second)

	assert.Equal(t, uint64(3), s.RequestsSent)
	assert.Equal(t, uint64(2), s.SuccessCount)
	assert.Equal(t, uint64(1), s.ErrorCount)
	assert.Equal(t, 600*time.Millisecond, s.CumulativeResponse)
	assert.Equal(t, uint64(2), s.StatusCodes[200])
	assert.NotContains(t, s.StatusCodes, 0, "transport failures have no status bucket")

	assert.InDelta(t, 66.6, s.SuccessRate, 0.1)
	assert.Equal(t, 200*time.Millisecond, s.AvgResponse)
	assert.InDelta(t, 1.5, s.CurrentRate, 0.001)
}

func TestSnapshotZeroGuards(t *testing.T) {
	a := NewAggregator()
	s := a.Snapshot(0)

	assert.Zero(t, s.RequestsSent)
	assert.Zero(t, s.SuccessRate)
	assert.Zero(t, s.AvgResponse)
	assert.Zero(t, s.CurrentRate)
}

func TestSnapshotIsACopy(t *testing.T) {
	a := NewAggregator()
	a.Record(probe.Outcome{Success: true, Elapsed: time.Millisecond, Status: 200})

	s := a.Snapshot(time.Second)
	s.StatusCodes[200] = 999

	assert.Equal(t, uint64(1), a.Snapshot(time.Second).StatusCodes[200])
}

func TestConcurrentRecordAndSnapshot(t *testing.T) {
	a := NewAggregator()

	const writers = 16
	const perWriter = 500

	var wg sync.WaitGroup
	done := make(chan struct{})

	// Reader path: snapshots must stay internally consistent while writers
	// hammer the counters.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			s := a.Snapshot(time.Second)
			assert.LessOrEqual(t, s.SuccessCount, s.RequestsSent)
			assert.Equal(t, s.RequestsSent, s.SuccessCount+s.ErrorCount)
		}
	}()

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				a.Record(probe.Outcome{
					Success: j%3 != 0,
					Elapsed: time.Duration(j) * time.Microsecond,
					Status:  200,
				})
			}
		}(i)
	}

	// Wait for writers by watching the total before stopping the reader.
	for a.Snapshot(time.Second).RequestsSent < writers*perWriter {
		time.Sleep(time.Millisecond)
	}
	close(done)
	wg.Wait()

	s := a.Snapshot(time.Second)
	assert.Equal(t, uint64(writers*perWriter), s.RequestsSent)
	assert.Equal(t, s.RequestsSent, s.SuccessCount+s.ErrorCount)
}
