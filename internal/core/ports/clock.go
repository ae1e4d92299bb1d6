package ports

import "time"

// Clock lets tests drive time for services and in-memory stores.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
