package checker

import "github.com/iabetor/snswatch/internal/logger"

// State 表示单次检查所处的阶段。
type State int

const (
	// StateIdle 尚未开始。
	StateIdle State = iota
	// StateFetched 已取得订阅源条目。
	StateFetched
	// StateExtracted 已提取最新条目的标识。
	StateExtracted
	// StateCompared 已与去重记录比较，且为新条目。
	StateCompared
	// StateSkipped 本轮无需通知（抓取失败、无标识或未更新）。
	StateSkipped
	// StateDelivering 正在投递。
	StateDelivering
	// StateCommitted 至少一个目标投递成功，记录已更新。
	StateCommitted
	// StateDeliveryFailed 没有任何目标投递成功，记录未更新。
	StateDeliveryFailed
	// StateCommitFailed 投递成功但写入记录失败。
	StateCommitFailed
)

var stateNames = [...]string{
	"Idle",
	"Fetched",
	"Extracted",
	"Compared",
	"Skipped",
	"Delivering",
	"Committed",
	"DeliveryFailed",
	"CommitFailed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal 报告 s 是否为一次检查的最终状态。
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateCommitted, StateDeliveryFailed, StateCommitFailed:
		return true
	}
	return false
}

// cycle 跟踪某个订阅源一次检查的状态。只在单个 goroutine 内使用。
type cycle struct {
	source  string
	id      string
	current State
}

// transition 尝试切换状态。合法的转换：
//
//	Idle → Fetched → Extracted → Compared → Delivering
//	Delivering → Committed | DeliveryFailed | CommitFailed
//
// Delivering 之前的任何状态都可以转换到 Skipped。
func (c *cycle) transition(to State) bool {
	if !validTransition(c.current, to) {
		logger.Warnf("[checker] %s(%s): 非法转换 %s → %s", c.source, c.id, c.current, to)
		return false
	}
	logger.Debugf("[checker] %s(%s): %s → %s", c.source, c.id, c.current, to)
	c.current = to
	return true
}

func validTransition(from, to State) bool {
	if to == StateSkipped {
		return from < StateSkipped
	}
	switch from {
	case StateIdle:
		return to == StateFetched
	case StateFetched:
		return to == StateExtracted
	case StateExtracted:
		return to == StateCompared
	case StateCompared:
		return to == StateDelivering
	case StateDelivering:
		return to == StateCommitted || to == StateDeliveryFailed || to == StateCommitFailed
	}
	return false
}
