package scheduler

// pendingSet tracks image hashes with an accepted, not yet completed
// Preparation request. Each entry owns a channel that is closed on
// release, waking every duplicate submitter waiting on that hash.
//
// pendingSet is not safe for concurrent use; the scheduler guards it.
type pendingSet struct {
	m map[string]*pendingEntry
}

type pendingEntry struct {
	owner *request
	done  chan struct{}
}

func newPendingSet() pendingSet {
	return pendingSet{m: make(map[string]*pendingEntry)}
}

// add marks hash as pending on behalf of owner. It reports false if the
// hash is already pending.
func (p *pendingSet) add(hash string, owner *request) bool {
	if _, ok := p.m[hash]; ok {
		return false
	}
	p.m[hash] = &pendingEntry{owner: owner, done: make(chan struct{})}
	return true
}

// wait returns a channel closed when hash is released, or false if hash
// is not pending.
func (p *pendingSet) wait(hash string) (<-chan struct{}, bool) {
	e, ok := p.m[hash]
	if !ok {
		return nil, false
	}
	return e.done, true
}

// release removes hash if owner still holds it. Releasing twice, or on
// behalf of a request that no longer owns the entry, is a no-op.
func (p *pendingSet) release(hash string, owner *request) bool {
	e, ok := p.m[hash]
	if !ok || e.owner != owner {
		return false
	}
	delete(p.m, hash)
	close(e.done)
	return true
}

func (p *pendingSet) has(hash string) bool {
	_, ok := p.m[hash]
	return ok
}

func (p *pendingSet) len() int { return len(p.m) }
