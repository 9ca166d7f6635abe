package fake

import "sync"

// Call is one recorded invocation on a fake.
type Call struct {
	Method string
	Args   []any
}

// CallRecorder is embedded by every fake so tests can assert which engine
// or catalogue operations an operation issued, and with what.
type CallRecorder struct {
	mu    sync.Mutex
	calls []Call
}

func (r *CallRecorder) record(method string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
}

// Calls returns the invocations of method in order, or all of them when
// method is empty.
func (r *CallRecorder) Calls(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if method == "" || c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (r *CallRecorder) Count(method string) int {
	return len(r.Calls(method))
}

// Last returns the most recent invocation of method.
func (r *CallRecorder) Last(method string) (Call, bool) {
	calls := r.Calls(method)
	if len(calls) == 0 {
		return Call{}, false
	}
	return calls[len(calls)-1], true
}
