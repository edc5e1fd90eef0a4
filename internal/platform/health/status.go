// Package health 跟踪Redis和数据库的可用性，并在Redis重启后重建缓存。
package health

import (
	"sync"

	"go.uber.org/zap"
)

// State 定义了系统健康状态的枚举类型
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateRebuilding
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateRebuilding:
		return "rebuilding"
	default:
		return "unknown"
	}
}

// Status 线程安全地维护Redis的状态机和数据库的可达性
type Status struct {
	mu             sync.RWMutex
	redisState     State
	dbHealthy      bool
	lastKnownRunID string
	logger         *zap.Logger
}

// NewStatus 创建状态管理器，启动时假定一切正常
func NewStatus(logger *zap.Logger) *Status {
	return &Status{redisState: StateHealthy, dbHealthy: true, logger: logger.Named("health")}
}

// SetInitialRunID 在应用启动时记录Redis的run_id
func (s *Status) SetInitialRunID(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastKnownRunID = runID
}

func (s *Status) RedisState() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redisState
}

// IsRedisHealthy 只有在健康状态下才返回true，重建期间的后台任务应当暂停
func (s *Status) IsRedisHealthy() bool {
	return s.RedisState() == StateHealthy
}

func (s *Status) IsDBHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbHealthy
}

// IsHealthy 报告Redis和数据库是否都可用
func (s *Status) IsHealthy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.redisState == StateHealthy && s.dbHealthy
}

func (s *Status) SetDBHealthy(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dbHealthy != ok {
		if ok {
			s.logger.Info("数据库连接已恢复")
		} else {
			s.logger.Warn("数据库不可达")
		}
	}
	s.dbHealthy = ok
}

// Assess 根据一次Redis检查的结果推进状态机，返回是否需要重建缓存
func (s *Status) Assess(connected bool, runID string) (needsRebuild bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	restarted := s.lastKnownRunID != "" && s.lastKnownRunID != runID

	switch s.redisState {
	case StateHealthy:
		if !connected {
			s.redisState = StateDegraded
			s.logger.Warn("Redis连接丢失，系统状态 -> [降级]")
		} else if restarted {
			s.redisState = StateRebuilding
			needsRebuild = true
			s.logger.Warn("检测到Redis重启，系统状态 -> [重建中]",
				zap.String("old_run_id", s.lastKnownRunID), zap.String("new_run_id", runID))
		}
	case StateDegraded:
		if connected {
			if restarted {
				s.redisState = StateRebuilding
				needsRebuild = true
				s.logger.Warn("Redis已恢复但检测到重启，系统状态 -> [重建中]",
					zap.String("old_run_id", s.lastKnownRunID), zap.String("new_run_id", runID))
			} else {
				s.redisState = StateHealthy
				s.logger.Info("Redis连接已恢复，系统状态 -> [健康]")
			}
		}
	case StateRebuilding:
		if !connected {
			s.redisState = StateDegraded
			s.logger.Warn("重建期间Redis连接再次丢失，系统状态 -> [降级]")
		} else {
			// 仍处于重建中说明上次重建失败了
			needsRebuild = true
		}
	}

	if connected {
		s.lastKnownRunID = runID
	}
	return needsRebuild
}

// MarkRebuildComplete 在一次重建尝试后调用。重建期间Redis又重启过则保持[重建中]。
func (s *Status) MarkRebuildComplete(success bool, runIDAfterRebuild string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.redisState != StateRebuilding {
		return
	}
	if success && s.lastKnownRunID != runIDAfterRebuild {
		s.logger.Warn("重建期间Redis再次重启，重建无效",
			zap.String("old_run_id", s.lastKnownRunID), zap.String("new_run_id", runIDAfterRebuild))
		s.lastKnownRunID = runIDAfterRebuild
		return
	}
	if success {
		s.redisState = StateHealthy
		s.logger.Info("缓存重建成功，系统状态 -> [健康]")
	} else {
		s.logger.Warn("缓存重建失败，保持 [重建中] 以待重试")
	}
}
