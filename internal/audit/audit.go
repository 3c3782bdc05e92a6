package audit

import (
	"context"

	"github.com/TobyVincentJohn/wheedle-sub000/pkg/log"
)

// Audit actions for the session service.
const (
	ActionCreateSession   = "session.create"
	ActionJoinSession     = "session.join"
	ActionLeaveSession    = "session.leave"
	ActionStartCountdown  = "session.start_countdown"
	ActionStartGame       = "session.start_game"
	ActionCompleteSession = "session.complete"
)

// Field constants for audit entries.
const (
	FieldAction = "action"
	FieldDetail = "detail"
)

// Log emits a structured audit log entry via the context logger.
func Log(ctx context.Context, action string, userID string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Msg(msg)
}

// LogWithDetail emits an audit log with extra detail field.
func LogWithDetail(ctx context.Context, action string, userID string, detail string, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(FieldDetail, detail).
		Msg(msg)
}
