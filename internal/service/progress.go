package service

// 進捗の段階名。jobs の記録にもそのまま使われます。
const (
	StageQueued    = "queued"
	StageLoad      = "load"
	StageProcess   = "process"
	StageWrite     = "write"
	StageCompleted = "completed"
)

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func (cb ProgressReporter) report(stage string, percent int) {
	if cb == nil {
		return
	}
	cb(stage, min(max(percent, 0), 100))
}
