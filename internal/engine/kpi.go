package engine

import "bottling-oee-sim/internal/types"

// kpiScores 在单个时间片粒度上推导四项 KPI，全部落在 [0,100]：
//   - Availability: Running 为 100，Stopped 为 0（更长窗口的聚合由下游消费方完成）
//   - Performance:  Running 时为 min(100, 100 x 实际产出 / 目标产能)，Stopped 时为 0
//   - Quality:      有产出时为良品占比，无产出时视为 100
//   - OEE:          A x P x Q / 10000，仍以 0-100 表示
func kpiScores(status types.MachineStatus, good, scrap int, targetRate float64) (availability, performance, quality, oee float64) {
	if status == types.StatusRunning {
		availability = 100
		if targetRate > 0 {
			performance = 100 * float64(good+scrap) / targetRate
			if performance > 100 {
				performance = 100
			}
		}
	}

	quality = 100.0
	if good+scrap > 0 {
		quality = 100 * float64(good) / float64(good+scrap)
	}

	availability = clampScore(availability)
	performance = clampScore(performance)
	quality = clampScore(quality)
	oee = clampScore(availability * performance * quality / 10000)
	return availability, performance, quality, oee
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
