package settings

import (
	"fmt"
	"math"

	"github.com/SlpAus/uvbunny-backend/internal/platform/apperr"
)

const (
	minPointsPerCarrot = 1
	maxPointsPerCarrot = 10
	maxHappinessCap    = math.MaxInt32
)

func isInteger(n float64) bool {
	return !math.IsNaN(n) && !math.IsInf(n, 0) && n == math.Trunc(n)
}

// validatePointsPerCarrot 拒绝超出 [1,10] 或非整数的值，不做静默修正
func validatePointsPerCarrot(n float64) (int, error) {
	clamped := math.Min(maxPointsPerCarrot, math.Max(minPointsPerCarrot, n))
	if math.Round(clamped) != n {
		return 0, fmt.Errorf("%w: pointsPerCarrot must be an integer between %d and %d",
			apperr.ErrValidation, minPointsPerCarrot, maxPointsPerCarrot)
	}
	return int(n), nil
}

func validateMaxHappinessPoints(n float64) (int, error) {
	if !isInteger(n) || n < 1 || n > maxHappinessCap {
		return 0, fmt.Errorf("%w: maxHappinessPoints must be an integer of at least 1", apperr.ErrValidation)
	}
	return int(n), nil
}

func validateThreshold(name string, n float64) (int, error) {
	if !isInteger(n) || n < 0 || n > 100 {
		return 0, fmt.Errorf("%w: %s must be an integer between 0 and 100", apperr.ErrValidation, name)
	}
	return int(n), nil
}

func validateThresholdOrder(sad, avg int) error {
	if sad >= avg {
		return fmt.Errorf("%w: moodSadThreshold must be lower than moodAverageThreshold", apperr.ErrValidation)
	}
	return nil
}

// apply 校验补丁并合并到 current 上，返回合并后的配置和被修改的列名
func (p Patch) apply(current Config) (Config, []string, error) {
	next := current
	var columns []string

	if p.PointsPerCarrot != nil {
		v, err := validatePointsPerCarrot(*p.PointsPerCarrot)
		if err != nil {
			return current, nil, err
		}
		next.PointsPerCarrot = v
		columns = append(columns, "points_per_carrot")
	}
	if p.MaxHappinessPoints != nil {
		v, err := validateMaxHappinessPoints(*p.MaxHappinessPoints)
		if err != nil {
			return current, nil, err
		}
		next.MaxHappinessPoints = &v
		columns = append(columns, "max_happiness_points")
	}
	if p.MoodSadThreshold != nil {
		v, err := validateThreshold("moodSadThreshold", *p.MoodSadThreshold)
		if err != nil {
			return current, nil, err
		}
		next.MoodSadThreshold = v
		columns = append(columns, "mood_sad_threshold")
	}
	if p.MoodAverageThreshold != nil {
		v, err := validateThreshold("moodAverageThreshold", *p.MoodAverageThreshold)
		if err != nil {
			return current, nil, err
		}
		next.MoodAverageThreshold = v
		columns = append(columns, "mood_average_threshold")
	}
	// 只给出一个阈值时，和已存储的另一个比较
	if p.MoodSadThreshold != nil || p.MoodAverageThreshold != nil {
		if err := validateThresholdOrder(next.MoodSadThreshold, next.MoodAverageThreshold); err != nil {
			return current, nil, err
		}
	}
	return next, columns, nil
}
