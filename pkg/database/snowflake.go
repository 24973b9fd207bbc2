package database

import (
	"sync"
	"time"
)

// Snowflake generates unique, time-ordered 64-bit message IDs.
// Layout: 1 bit unused | 41 bits ms since epoch | 10 bits worker | 12 bits sequence.
// IDs from one generator are strictly increasing, which gives history
// queries a stable tie-break for messages stored in the same millisecond.
type Snowflake struct {
	mu       sync.Mutex
	epoch    int64
	workerID int64
	lastTime int64
	sequence int64
	now      func() int64
}

const (
	workerIDBits   = 10
	sequenceBits   = 12
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
	sequenceMask   = (1 << sequenceBits) - 1
	maxWorkerID    = (1 << workerIDBits) - 1
)

// SnowflakeEpoch is 2024-01-01T00:00:00Z in Unix milliseconds
const SnowflakeEpoch int64 = 1704067200000

// NewSnowflake creates a generator; epoch is in Unix milliseconds and
// workerID is clamped to 0 when out of range
func NewSnowflake(epoch int64, workerID int64) *Snowflake {
	if workerID < 0 || workerID > maxWorkerID {
		workerID = 0
	}
	return &Snowflake{
		epoch:    epoch,
		workerID: workerID,
		now:      func() int64 { return time.Now().UnixMilli() },
	}
}

// NextID returns the next ID
func (s *Snowflake) NextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// A clock step backwards keeps using the last timestamp
	if now < s.lastTime {
		now = s.lastTime
	}

	if now == s.lastTime {
		s.sequence = (s.sequence + 1) & sequenceMask
		if s.sequence == 0 {
			// 4096 IDs issued this millisecond, wait for the next one
			for now <= s.lastTime {
				time.Sleep(100 * time.Microsecond)
				now = s.now()
			}
		}
	} else {
		s.sequence = 0
	}
	s.lastTime = now

	return ((now - s.epoch) << timestampShift) | (s.workerID << workerIDShift) | s.sequence
}

// TimestampFromID extracts the Unix millisecond timestamp encoded in an ID
func (s *Snowflake) TimestampFromID(id int64) int64 {
	return (id >> timestampShift) + s.epoch
}
