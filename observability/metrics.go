// Package observability aggregates service counters for logging and the
// operator tooling. Counters are atomic so room operations never block on
// metrics.
package observability

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// RoomStats is one aggregated metrics snapshot.
type RoomStats struct {
	Joins    uint64 `json:"joins"`
	Leaves   uint64 `json:"leaves"`
	Kicks    uint64 `json:"kicks"`
	Denied   uint64 `json:"denied"`
	Messages uint64 `json:"messages"`

	LiveRooms int `json:"live_rooms"`

	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
}

// RoomMetrics tracks room activity counters and process health.
type RoomMetrics struct {
	log *slog.Logger

	mu     sync.RWMutex
	latest RoomStats

	joins    uint64
	leaves   uint64
	kicks    uint64
	denied   uint64
	messages uint64
}

func NewRoomMetrics(log *slog.Logger) *RoomMetrics {
	return &RoomMetrics{log: log}
}

func (m *RoomMetrics) IncrJoins()    { atomic.AddUint64(&m.joins, 1) }
func (m *RoomMetrics) IncrLeaves()   { atomic.AddUint64(&m.leaves, 1) }
func (m *RoomMetrics) IncrKicks()    { atomic.AddUint64(&m.kicks, 1) }
func (m *RoomMetrics) IncrDenied()   { atomic.AddUint64(&m.denied, 1) }
func (m *RoomMetrics) IncrMessages() { atomic.AddUint64(&m.messages, 1) }

// Latest returns the most recent aggregated snapshot.
func (m *RoomMetrics) Latest() RoomStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// Listen aggregates and logs a snapshot on every interval tick until the
// context is cancelled. liveRooms is sampled on each tick.
func (m *RoomMetrics) Listen(ctx context.Context, interval time.Duration, liveRooms func() int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		m.log.Warn("process stats unavailable", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			m.log.Info("Metrics listener stopped")
			return
		case <-ticker.C:
			stats := RoomStats{
				Joins:    atomic.LoadUint64(&m.joins),
				Leaves:   atomic.LoadUint64(&m.leaves),
				Kicks:    atomic.LoadUint64(&m.kicks),
				Denied:   atomic.LoadUint64(&m.denied),
				Messages: atomic.LoadUint64(&m.messages),
			}
			if liveRooms != nil {
				stats.LiveRooms = liveRooms()
			}
			if proc != nil {
				if memInfo, err := proc.MemoryInfo(); err == nil {
					stats.RSSBytes = memInfo.RSS
				}
				if cpu, err := proc.CPUPercent(); err == nil {
					stats.CPUPercent = cpu
				}
			}

			m.mu.Lock()
			m.latest = stats
			m.mu.Unlock()

			m.log.Info("room metrics",
				"joins", stats.Joins,
				"leaves", stats.Leaves,
				"kicks", stats.Kicks,
				"denied", stats.Denied,
				"messages", stats.Messages,
				"live_rooms", stats.LiveRooms,
				"rss_bytes", stats.RSSBytes,
			)
		}
	}
}
