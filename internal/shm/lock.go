package shm

import (
	"runtime"
	"sync/atomic"
	"time"

	"prefork.dev/internal/process"
)

const (
	spinTries  = 64
	maxBackoff = time.Millisecond
)

// spinLock is an inter-process mutex over a word in shared memory. The word
// holds 0 when free and the owner's pid when held. It is not reentrant, and
// goroutines of one process exclude each other as well since the CAS itself
// is the arbiter.
type spinLock struct {
	word *uint32
}

func (l spinLock) tryLock(pid uint32) bool {
	return atomic.CompareAndSwapUint32(l.word, 0, pid)
}

func (l spinLock) lock(pid uint32) {
	backoff := time.Microsecond
	for i := 0; ; i++ {
		if l.tryLock(pid) {
			return
		}
		if i < spinTries {
			runtime.Gosched()
			continue
		}

		// A holder that died inside the critical section never releases.
		owner := atomic.LoadUint32(l.word)
		if owner != 0 && owner != pid && !process.Alive(int(owner)) {
			if atomic.CompareAndSwapUint32(l.word, owner, pid) {
				return
			}
			continue
		}

		time.Sleep(backoff)
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}

func (l spinLock) unlock() {
	atomic.StoreUint32(l.word, 0)
}

func (l spinLock) owner() uint32 {
	return atomic.LoadUint32(l.word)
}
