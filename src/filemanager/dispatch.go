package filemanager

import (
	"fmt"

	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/metrics"
	logs "github.com/danmuck/smplog"
)

// call registers a completion handle for (consumer, op) and sends the
// request. A getter supersedes the call still pending on its slot; the
// superseded call is rejected with the abort error before the new request
// goes out. seed runs under the lock once the call is registered.
func (m *Manager) call(consumer string, op Operation, params transport.Params, payload []byte, seed func(*pendingCall)) *Future {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return rejectedFuture(consumer, op, ErrClosed)
	}
	call, superseded, err := m.reg.register(consumer, op, params.String(transport.ParamPath))
	if err != nil {
		m.mu.Unlock()
		logs.Warnf("call(%s): refused for %s: %v", op, consumer, err)
		return rejectedFuture(consumer, op, err)
	}
	if superseded != nil {
		m.abortLocked(superseded)
	}
	if seed != nil {
		seed(call)
	}
	m.metrics.CallStarted(string(op))
	m.mu.Unlock()

	params[transport.ParamConsumer] = consumer
	params[transport.ParamRequestID] = call.id()
	m.send(op, call.id(), params, payload)
	return call.future
}

func (m *Manager) abortLocked(superseded *pendingCall) {
	f := superseded.future
	if f.reject(abortError(f.consumer, f.op, superseded.path)) {
		m.metrics.CallCompleted(string(f.op), metrics.OutcomeAborted)
	}
	logs.Debugf("call(%s): aborted request %s of %s", f.op, f.requestID, f.consumer)
}

// send hands a request to the link. The reply callback is the router; a
// request that never reaches the link rejects its call right away.
func (m *Manager) send(op Operation, requestID string, params transport.Params, payload []byte) {
	logs.Debugf("send(%s): request %s %v", op, requestID, params)
	if err := m.link.Send(string(op), m.onReply, payload, params); err != nil {
		m.complete(op, requestID, fmt.Errorf("send %s: %w", op, err), OutcomeReject)
	}
}
