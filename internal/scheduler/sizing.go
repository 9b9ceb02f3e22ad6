package scheduler

import (
	"math"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// DefaultGenerationShare доля воркеров генерации по умолчанию
const DefaultGenerationShare = 0.6

// ConcurrencyHint возвращает число логических процессоров
func ConcurrencyHint() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// SplitWorkers делит воркеры между пулами генерации и мешей.
// В каждом пуле минимум один воркер.
func SplitWorkers(total int, generationShare float64) (generation, mesh int) {
	if total < 2 {
		total = 2
	}
	if generationShare <= 0 || generationShare >= 1 || math.IsNaN(generationShare) {
		generationShare = DefaultGenerationShare
	}

	generation = int(math.Round(float64(total) * generationShare))
	if generation < 1 {
		generation = 1
	}
	if generation > total-1 {
		generation = total - 1
	}
	return generation, total - generation
}
