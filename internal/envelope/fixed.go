package envelope

import (
	"strconv"
	"sync/atomic"
	"time"
)

// FixedClock always reports the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// SequentialIDs yields prefix-1, prefix-2, ... and is safe for concurrent use.
type SequentialIDs struct {
	prefix string
	n      atomic.Int64
}

func NewSequentialIDs(prefix string) *SequentialIDs {
	return &SequentialIDs{prefix: prefix}
}

func (s *SequentialIDs) NewID() string {
	return s.prefix + "-" + strconv.FormatInt(s.n.Add(1), 10)
}
