package pdf

const (
	stageLoad      = "load"
	stageProcess   = "process"
	stageWrite     = "write"
	stageCompleted = "completed"
)

// ProgressReporter は進捗更新用コールバックです。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	cb(stage, clampPercent(percent))
}

// processPercent は処理段階（20→80%）のうち done/total 件終わった時点の値です。
func processPercent(done, total int) int {
	if total <= 0 {
		return 80
	}
	return 20 + (60*done)/total
}

func clampPercent(percent int) int {
	switch {
	case percent < 0:
		return 0
	case percent > 100:
		return 100
	default:
		return percent
	}
}
