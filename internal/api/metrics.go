package api

import (
	"os"
	"runtime"
	"time"

	"github.com/annel0/blockworld/internal/engine"
	"github.com/annel0/blockworld/internal/world"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats состояние процесса рядом с размером мира.
// HeapPerChunkKB: куча процесса, поделённая на число загруженных чанков.
type ProcessStats struct {
	Uptime         string  `json:"uptime"`
	UptimeSec      int64   `json:"uptime_sec"`
	Goroutines     int     `json:"goroutines"`
	HeapMB         float64 `json:"heap_mb"`
	SysMB          float64 `json:"sys_mb"`
	NumGC          uint32  `json:"num_gc"`
	CPUPercent     float64 `json:"cpu_percent"`
	LogicalCPUs    int     `json:"logical_cpus"`
	ChunkStoreMB   float64 `json:"chunk_store_mb"`
	HeapPerChunkKB float64 `json:"heap_per_chunk_kb,omitempty"`
	ServerTime     int64   `json:"server_time"`
}

// ServerMetrics собирает ProcessStats для /api/stats
type ServerMetrics struct {
	startTime time.Time
	proc      *process.Process
	cpus      int
}

// NewServerMetrics создает сборщик; ошибки gopsutil не фатальны
func NewServerMetrics() *ServerMetrics {
	sm := &ServerMetrics{startTime: time.Now()}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		sm.proc = p
	}
	if n, err := cpu.Counts(true); err == nil {
		sm.cpus = n
	} else {
		sm.cpus = runtime.NumCPU()
	}
	return sm
}

// Collect снимает статистику процесса для снимка движка
func (sm *ServerMetrics) Collect(snap engine.Snapshot) ProcessStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(sm.startTime)
	stats := ProcessStats{
		Uptime:       uptime.Truncate(time.Second).String(),
		UptimeSec:    int64(uptime.Seconds()),
		Goroutines:   runtime.NumGoroutine(),
		HeapMB:       toMB(m.HeapAlloc),
		SysMB:        toMB(m.Sys),
		NumGC:        m.NumGC,
		LogicalCPUs:  sm.cpus,
		ChunkStoreMB: toMB(uint64(snap.Chunks) * world.ChunkVolume),
		ServerTime:   time.Now().Unix(),
	}
	if snap.Chunks > 0 {
		stats.HeapPerChunkKB = float64(m.HeapAlloc) / 1024 / float64(snap.Chunks)
	}
	if sm.proc != nil {
		if pct, err := sm.proc.CPUPercent(); err == nil {
			stats.CPUPercent = pct
		}
	}
	return stats
}

func toMB(b uint64) float64 {
	return float64(b) / 1024 / 1024
}
