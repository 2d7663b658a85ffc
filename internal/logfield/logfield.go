package lf

import (
	"time"

	"go.uber.org/zap"
)

const (
	FieldModule   = "module"
	FieldRunID    = "run_id"
	FieldGate     = "gate"
	FieldBranch   = "branch"
	FieldEvent    = "event"
	FieldCommit   = "commit"
	FieldSpecName = "spec_name"
	FieldStatus   = "status"
	FieldExitCode = "exit_code"
	FieldDuration = "duration"
	FieldAttempt  = "attempt"
)

func Module(module string) zap.Field {
	return zap.String(FieldModule, module)
}

func RunID(id string) zap.Field {
	return zap.String(FieldRunID, id)
}

func Gate(name string) zap.Field {
	return zap.String(FieldGate, name)
}

func Branch(branch string) zap.Field {
	return zap.String(FieldBranch, branch)
}

func Event(event string) zap.Field {
	return zap.String(FieldEvent, event)
}

func Commit(sha string) zap.Field {
	return zap.String(FieldCommit, sha)
}

func SpecName(name string) zap.Field {
	return zap.String(FieldSpecName, name)
}

func Status(status string) zap.Field {
	return zap.String(FieldStatus, status)
}

func ExitCode(code int) zap.Field {
	return zap.Int(FieldExitCode, code)
}

func Duration(d time.Duration) zap.Field {
	return zap.Duration(FieldDuration, d)
}

func Attempt(n int) zap.Field {
	return zap.Int(FieldAttempt, n)
}
