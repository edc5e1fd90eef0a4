// Package happiness 把兔子的胡萝卜计数和用户配置换算成幸福值、百分比和心情。
// 这里的函数都是纯函数：同样的输入永远得到同样的输出，也从不读写存储。
// 幸福值从不持久化，修改配置会立刻追溯影响所有兔子的显示结果。
package happiness

import "math"

// Mood 是按百分比分档的心情
type Mood string

const (
	MoodSad     Mood = "sad"
	MoodAverage Mood = "average"
	MoodHappy   Mood = "happy"
)

// Params 是换算所需的用户配置
type Params struct {
	PointsPerCarrot int
	// MaxHappinessPoints 为nil时取 PointsPerCarrot*100
	MaxHappinessPoints   *int
	MoodSadThreshold     int
	MoodAverageThreshold int
}

// Result 是一只兔子的派生视图
type Result struct {
	Happiness       int  `json:"happiness"`
	ProgressPercent int  `json:"progressPercent"`
	Mood            Mood `json:"mood"`
}

// EffectiveMax 返回计算百分比时的分母，始终 ≥ 1
func (p Params) EffectiveMax() int {
	if p.MaxHappinessPoints != nil && *p.MaxHappinessPoints >= 1 {
		return *p.MaxHappinessPoints
	}
	return max(1, p.PointsPerCarrot*100)
}

// MoodFor 按阈值给百分比分档
func (p Params) MoodFor(progressPercent int) Mood {
	switch {
	case progressPercent < p.MoodSadThreshold:
		return MoodSad
	case progressPercent < p.MoodAverageThreshold:
		return MoodAverage
	default:
		return MoodHappy
	}
}

// Derive 计算一只兔子的幸福值、百分比(0-100)和心情
func Derive(eventCount int, p Params) Result {
	h := max(0, eventCount) * p.PointsPerCarrot
	progress := int(math.Round(float64(h) / float64(p.EffectiveMax()) * 100))
	progress = min(100, max(0, progress))
	return Result{
		Happiness:       h,
		ProgressPercent: progress,
		Mood:            p.MoodFor(progress),
	}
}

// Average 返回幸福值的四舍五入平均数，没有兔子时为0
func Average(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return int(math.Round(float64(sum) / float64(len(values))))
}
