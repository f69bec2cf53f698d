package consumers

import "sync/atomic"

// Stats counts messages processed across every consumer that shares it.
type Stats struct {
	processed atomic.Int64
	skipped   atomic.Int64
}

func (s *Stats) processedOne() {
	if s != nil {
		s.processed.Add(1)
	}
}

func (s *Stats) skippedOne() {
	if s != nil {
		s.skipped.Add(1)
	}
}

// Processed is the number of messages handled to completion.
func (s *Stats) Processed() int64 { return s.processed.Load() }

// Skipped is the number of duplicates acknowledged without work.
func (s *Stats) Skipped() int64 { return s.skipped.Load() }
