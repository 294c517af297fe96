package scheduler

import "time"

// Clock supplies the current time to the tick driver.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in Location (UTC if nil).
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	return time.Now().In(loc)
}
