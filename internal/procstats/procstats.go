// Package procstats periodically logs the bot's own resource usage so
// a drifting deployment (leaking goroutines, creeping RSS) shows up in
// plain logs without any external monitoring.
package procstats

import (
	"context"
	"log"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

type Sampler struct {
	interval time.Duration
	proc     *process.Process
}

// New builds a sampler for the current process. interval <= 0 disables
// sampling (Run returns immediately).
func New(interval time.Duration) (*Sampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &Sampler{interval: interval, proc: proc}, nil
}

func (s *Sampler) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	cpu, err := s.proc.CPUPercent()
	if err != nil {
		log.Printf("procstats: cpu sample failed: %v", err)
		return
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		log.Printf("procstats: memory sample failed: %v", err)
		return
	}
	log.Printf("procstats: cpu=%.1f%% rss=%dMB goroutines=%d", cpu, mem.RSS>>20, runtime.NumGoroutine())
}
