package usecase

import "sync"

// repoLocks hands out one mutex per repository so that a ledger is only
// ever mutated by one goroutine of this process at a time.
type repoLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newRepoLocks() *repoLocks {
	return &repoLocks{locks: make(map[string]*sync.Mutex)}
}

// lock blocks until repo is free and returns its unlock function.
func (r *repoLocks) lock(repo string) func() {
	r.mu.Lock()
	l, ok := r.locks[repo]
	if !ok {
		l = &sync.Mutex{}
		r.locks[repo] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
