package ws

import "sync"

// Output is the result of a pool operation: the value produced plus the
// partition of targeted relays into those that succeeded and those that
// failed with a reason. The two sets never share a url.
type Output[T any] struct {
	Val     T
	Success []string
	Failed  map[string]string
}

// Ok reports whether at least one relay succeeded.
func (o *Output[T]) Ok() bool { return len(o.Success) > 0 }

// collector accumulates per-relay outcomes from concurrent fan-out workers.
type collector struct {
	mx      sync.Mutex
	success []string
	failed  map[string]string
}

func newCollector() *collector {
	return &collector{failed: make(map[string]string)}
}

func (cl *collector) ok(url string) {
	cl.mx.Lock()
	defer cl.mx.Unlock()
	cl.success = append(cl.success, url)
	delete(cl.failed, url)
}

func (cl *collector) fail(url, reason string) {
	cl.mx.Lock()
	defer cl.mx.Unlock()
	for _, u := range cl.success {
		if u == url {
			return
		}
	}
	cl.failed[url] = reason
}

// output freezes the collected partition around val.
func output[T any](cl *collector, val T) *Output[T] {
	cl.mx.Lock()
	defer cl.mx.Unlock()
	return &Output[T]{Val: val, Success: cl.success, Failed: cl.failed}
}
