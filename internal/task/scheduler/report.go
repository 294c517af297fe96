package scheduler

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const reportEvery = 5 * time.Second

// reporter throttles repeated warnings per task.
type reporter struct {
	mu sync.Mutex
	m  map[string]*rate.Sometimes
}

func (r *reporter) do(name string, fn func()) {
	r.mu.Lock()
	if r.m == nil {
		r.m = map[string]*rate.Sometimes{}
	}
	st := r.m[name]
	if st == nil {
		st = &rate.Sometimes{Interval: reportEvery}
		r.m[name] = st
	}
	r.mu.Unlock()
	st.Do(fn)
}

func (r *reporter) forget(name string) {
	r.mu.Lock()
	delete(r.m, name)
	r.mu.Unlock()
}
