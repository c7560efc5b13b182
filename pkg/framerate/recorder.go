// Package framerate paces interactive frame loops and measures the rate they
// actually achieve.
package framerate

import (
	"sync"
	"time"
)

// Interval converts a target frame rate into the per-frame input wait, in
// whole milliseconds (1000/fps). Non-positive rates poll without waiting
// longer than a millisecond.
func Interval(fps int) time.Duration {
	if fps <= 0 {
		return time.Millisecond
	}
	return time.Duration(1000/fps) * time.Millisecond
}

// Recorder records the times of the last N frames.
type Recorder struct {
	MaxRecordCount int
	LastFrameTimes []time.Time
	mu             *sync.Mutex
}

// NewRecorder returns a new Recorder keeping at most maxRecordCount records.
func NewRecorder(maxRecordCount int) *Recorder {
	return &Recorder{
		MaxRecordCount: maxRecordCount,
		LastFrameTimes: make([]time.Time, 0),
		mu:             &sync.Mutex{},
	}
}

// AddRecordNow adds a new record with the current time.
func (r *Recorder) AddRecordNow() {
	r.AddRecord(time.Now())
}

// AddRecord adds a new record.
func (r *Recorder) AddRecord(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Strip monotonic clock reading.
	t = t.Round(0)

	if r.MaxRecordCount > 0 && len(r.LastFrameTimes) >= r.MaxRecordCount {
		r.LastFrameTimes = r.LastFrameTimes[1:]
	}
	r.LastFrameTimes = append(r.LastFrameTimes, t)
}

// ClearRecords clears all records.
func (r *Recorder) ClearRecords() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.LastFrameTimes = make([]time.Time, 0)
}

// GetRecords returns a copy of the records.
func (r *Recorder) GetRecords() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]time.Time(nil), r.LastFrameTimes...)
}

// Count returns the number of records held.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.LastFrameTimes)
}

// Rate returns the average number of frames per second across the recorded
// window, or 0 with fewer than two records.
func (r *Recorder) Rate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.LastFrameTimes)
	if n < 2 {
		return 0
	}
	span := r.LastFrameTimes[n-1].Sub(r.LastFrameTimes[0])
	if span <= 0 {
		return 0
	}
	return float64(n-1) / span.Seconds()
}
