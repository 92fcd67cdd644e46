package connection

import "time"

type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(delay time.Duration, f func()) Timer
}

type timeScheduler struct{}

func (timeScheduler) AfterFunc(delay time.Duration, f func()) Timer {
	return time.AfterFunc(delay, f)
}
