/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package httpserver

import (
	"net/http"
	"sync"
)

// handlerTracker counts handlers that are still running. Closing net/http's server
// does not wait for them, so Stop waits here before the caller releases shared memory.
type handlerTracker struct {
	mu     sync.Mutex
	cond   *sync.Cond
	n      int
	closed bool
}

func newHandlerTracker() *handlerTracker {
	t := &handlerTracker{}
	t.cond = sync.NewCond(&t.mu)
	return t
}

func (t *handlerTracker) enter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.n++
	return true
}

func (t *handlerTracker) leave() {
	t.mu.Lock()
	t.n--
	if t.n == 0 {
		t.cond.Broadcast()
	}
	t.mu.Unlock()
}

// closeAndWait rejects new handlers and blocks until the running ones return.
func (t *handlerTracker) closeAndWait() {
	t.mu.Lock()
	t.closed = true
	for t.n > 0 {
		t.cond.Wait()
	}
	t.mu.Unlock()
}

func (t *handlerTracker) running() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.n
}

func (t *handlerTracker) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if !t.enter() {
			rw.Header().Set("Connection", "close")
			rw.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		defer t.leave()
		next.ServeHTTP(rw, r)
	})
}
