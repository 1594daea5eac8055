package filemanager

import (
	"fmt"

	"github.com/google/uuid"
)

type Outcome int

const (
	OutcomeResolve Outcome = iota
	OutcomeReject
)

// Completion reports what a completion attempt did. CompletionNoPending
// is the expected result of a double completion or of a reply for a call
// that was superseded, detached or never registered; it is logged and
// never surfaced to a caller.
type Completion int

const (
	CompletionDone Completion = iota
	CompletionNoPending
)

func (c Completion) String() string {
	if c == CompletionDone {
		return "done"
	}
	return "no-pending"
}

type pendingCall struct {
	future *Future
	path   string
}

func (c *pendingCall) id() string { return c.future.requestID }

// registry holds the pending completion handles of every attached
// consumer. Calls are addressed by request id; the per-operation slot
// only remembers the latest call so a getter can supersede it.
//
// registry is not safe for concurrent use; Manager serializes access.
type registry struct {
	consumers map[string]map[Operation]*pendingCall
	calls     map[string]*pendingCall
	connErr   error
	newID     func() string
}

func newRegistry() *registry {
	return &registry{
		consumers: make(map[string]map[Operation]*pendingCall),
		calls:     make(map[string]*pendingCall),
		newID:     uuid.NewString,
	}
}

// allocate gives consumer a fresh set of empty slots. Calls still pending
// from a previous attach are returned for the caller to reject.
func (r *registry) allocate(consumer string) []*pendingCall {
	evicted := r.release(consumer)
	slots := make(map[Operation]*pendingCall, len(Operations))
	for _, op := range Operations {
		slots[op] = nil
	}
	r.consumers[consumer] = slots
	return evicted
}

// release drops consumer and returns every call it still had pending.
func (r *registry) release(consumer string) []*pendingCall {
	var evicted []*pendingCall
	for id, call := range r.calls {
		if call.future.consumer == consumer {
			evicted = append(evicted, call)
			delete(r.calls, id)
		}
	}
	delete(r.consumers, consumer)
	return evicted
}

func (r *registry) attached(consumer string) bool {
	_, ok := r.consumers[consumer]
	return ok
}

// register stores a fresh handle for (consumer, op). For getters the call
// previously held in the slot is detached from the registry and returned
// so the caller can reject it with the abort error.
func (r *registry) register(consumer string, op Operation, path string) (call, superseded *pendingCall, err error) {
	if r.connErr != nil {
		return nil, nil, &ConnectionError{Err: r.connErr}
	}
	slots, ok := r.consumers[consumer]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownConsumer, consumer)
	}
	if prev := slots[op]; prev != nil && op.IsGetter() {
		superseded = prev
		delete(r.calls, prev.id())
	}
	call = &pendingCall{future: newFuture(r.newID(), consumer, op), path: path}
	slots[op] = call
	r.calls[call.id()] = call
	return call, superseded, nil
}

func (r *registry) lookup(requestID string) (*pendingCall, bool) {
	call, ok := r.calls[requestID]
	return call, ok
}

// complete resolves or rejects the call registered under requestID and
// frees it. For OutcomeReject, result is the error to reject with.
func (r *registry) complete(requestID string, result any, outcome Outcome) (*pendingCall, Completion) {
	call, ok := r.calls[requestID]
	if !ok {
		return nil, CompletionNoPending
	}
	r.clear(call)

	var done bool
	switch outcome {
	case OutcomeReject:
		err, isErr := result.(error)
		if !isErr {
			err = fmt.Errorf("%s rejected: %v", call.future.op, result)
		}
		done = call.future.reject(err)
	default:
		done = call.future.resolve(result)
	}
	if !done {
		return call, CompletionNoPending
	}
	return call, CompletionDone
}

func (r *registry) clear(call *pendingCall) {
	delete(r.calls, call.id())
	if slots := r.consumers[call.future.consumer]; slots != nil && slots[call.future.op] == call {
		slots[call.future.op] = nil
	}
}

// drain removes every pending call.
func (r *registry) drain() []*pendingCall {
	calls := make([]*pendingCall, 0, len(r.calls))
	for _, call := range r.calls {
		calls = append(calls, call)
	}
	r.calls = make(map[string]*pendingCall)
	for consumer := range r.consumers {
		delete(r.consumers, consumer)
	}
	return calls
}

func (r *registry) pending() int {
	return len(r.calls)
}
