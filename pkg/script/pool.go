package script

import (
	"context"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// runner owns a single goja VM. VMs are reused between fragment runs;
// Handler.Run is responsible for scrubbing the scope it injected.
type runner struct {
	vm *goja.Runtime
}

func newRunner() *runner {
	return &runner{vm: goja.New()}
}

type RunnerPool struct {
	pool               chan *runner
	activeRunnersCount int
	activeRunnersMu    *sync.Mutex
	maxVmPoolSize      int // max amount of active runners
	minVmPoolSize      int // min amount of active runners
}

func NewRunnerPool(ctx context.Context, minVmPoolSize int, maxVmPoolSize int) *RunnerPool {
	if maxVmPoolSize < minVmPoolSize {
		panic("vm pool min size is larger than vm pool max size")
	}

	p := RunnerPool{
		pool:               make(chan *runner, maxVmPoolSize),
		activeRunnersCount: 0,
		activeRunnersMu:    &sync.Mutex{},
		maxVmPoolSize:      maxVmPoolSize,
		minVmPoolSize:      minVmPoolSize,
	}

	// start min amount of runners
	for i := 0; i < minVmPoolSize; i++ {
		p.activeRunnersMu.Lock()
		p.pool <- newRunner()
		p.activeRunnersCount++
		p.activeRunnersMu.Unlock()
	}

	// cleanup runners every 10 minutes
	// should clean runners only when they are not being used
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for len(p.pool) > p.minVmPoolSize {
					p.activeRunnersMu.Lock()
					select {
					case <-p.pool:
						p.activeRunnersCount--
					default:
					}
					p.activeRunnersMu.Unlock()
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return &p
}

func (r *RunnerPool) GetRunnerFromPool() *runner {
	var rn *runner
	select {
	case rn = <-r.pool:
	default:
		r.activeRunnersMu.Lock()
		if r.activeRunnersCount < r.maxVmPoolSize {
			rn = newRunner()
			r.activeRunnersCount++
		}
		r.activeRunnersMu.Unlock()
		if rn == nil {
			rn = <-r.pool
		}
	}
	return rn
}

func (r *RunnerPool) ReturnRunnerToPool(rn *runner) {
	select {
	case r.pool <- rn:
	default:
		// delete runner if pool is full
		r.activeRunnersMu.Lock()
		r.activeRunnersCount--
		r.activeRunnersMu.Unlock()
	}
}
