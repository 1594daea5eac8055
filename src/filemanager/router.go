package filemanager

import (
	"github.com/danmuck/dps_filemanager/src/api/transport"
	"github.com/danmuck/dps_filemanager/src/metrics"
	logs "github.com/danmuck/smplog"
)

// onReply routes every reply from the link. Error replies reject the call
// named by the request id, Load replies feed the chunked reader and every
// other reply resolves its call with the telegram data.
func (m *Manager) onReply(kind transport.MessageKind, t *transport.Telegram) {
	if t == nil {
		return
	}
	op := Operation(t.Operation)
	requestID := t.RequestID()

	switch {
	case kind.IsError():
		m.complete(op, requestID, newTelegramError(kind, t), OutcomeReject)
	case op == Load:
		m.handleChunk(requestID, t)
	default:
		m.complete(op, requestID, t.Data, OutcomeResolve)
	}
}

func (m *Manager) complete(op Operation, requestID string, result any, outcome Outcome) Completion {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completeLocked(op, requestID, result, outcome)
}

func (m *Manager) completeLocked(op Operation, requestID string, result any, outcome Outcome) Completion {
	call, c := m.reg.complete(requestID, result, outcome)
	if c == CompletionNoPending {
		logs.Warnf("complete(%s): no pending call for request %q", op, requestID)
		m.metrics.ReplyDropped(string(op), "no-pending")
		return c
	}
	if call.future.op == Load {
		if tr := m.transfers[call.future.consumer]; tr != nil && tr.requestID == requestID {
			delete(m.transfers, call.future.consumer)
		}
	}
	label := metrics.OutcomeResolved
	if outcome == OutcomeReject {
		label = metrics.OutcomeRejected
	}
	m.metrics.CallCompleted(string(call.future.op), label)
	return c
}
