package rtauth

import "context"

// emitAudit is a no-op when auditing is disabled. metadata is only called
// when an event is actually emitted.
func (e *Engine) emitAudit(ctx context.Context, eventType string, success bool, principal, clientAddr, reason string, metadata func() map[string]string) {
	if e == nil || e.audit == nil {
		return
	}

	event := AuditEvent{
		Timestamp:  e.now().UTC(),
		EventType:  eventType,
		Principal:  principal,
		ClientAddr: clientAddr,
		Success:    success,
		Reason:     reason,
	}
	if metadata != nil {
		event.Metadata = metadata()
	}
	e.audit.Emit(ctx, event)
}
