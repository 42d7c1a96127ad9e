package arbor

import "sync"

// poolManager pools the short-lived allocations task invocation and event
// dispatch churn through on every call: the values map behind a Deps
// accessor, and the error slice event dispatch accumulates before joining.
type poolManager struct {
	depsValuesPool sync.Pool
	dispatchErrPool sync.Pool
	metrics         poolMetrics
}

type poolMetrics struct {
	mu                  sync.RWMutex
	depsValuesHits      uint64
	depsValuesMisses    uint64
	dispatchErrHits     uint64
	dispatchErrMisses   uint64
}

func newPoolManager() *poolManager {
	return &poolManager{
		depsValuesPool: sync.Pool{
			New: func() any { return make(map[ID]any, 8) },
		},
		dispatchErrPool: sync.Pool{
			New: func() any { return make([]error, 0, 4) },
		},
	}
}

func (pm *poolManager) acquireDepsValues() map[ID]any {
	v, ok := pm.depsValuesPool.Get().(map[ID]any)
	pm.metrics.mu.Lock()
	if ok {
		pm.metrics.depsValuesHits++
	} else {
		pm.metrics.depsValuesMisses++
	}
	pm.metrics.mu.Unlock()
	if !ok {
		return make(map[ID]any, 8)
	}
	return v
}

func (pm *poolManager) releaseDepsValues(v map[ID]any) {
	if v == nil {
		return
	}
	for k := range v {
		delete(v, k)
	}
	pm.depsValuesPool.Put(v)
}

func (pm *poolManager) acquireDispatchErrs() []error {
	v, ok := pm.dispatchErrPool.Get().([]error)
	pm.metrics.mu.Lock()
	if ok {
		pm.metrics.dispatchErrHits++
	} else {
		pm.metrics.dispatchErrMisses++
	}
	pm.metrics.mu.Unlock()
	if !ok {
		return make([]error, 0, 4)
	}
	return v[:0]
}

func (pm *poolManager) releaseDispatchErrs(v []error) {
	if v == nil {
		return
	}
	pm.dispatchErrPool.Put(v[:0])
}

func (pm *poolManager) snapshotMetrics() poolMetrics {
	pm.metrics.mu.RLock()
	defer pm.metrics.mu.RUnlock()
	return poolMetrics{
		depsValuesHits:    pm.metrics.depsValuesHits,
		depsValuesMisses:  pm.metrics.depsValuesMisses,
		dispatchErrHits:   pm.metrics.dispatchErrHits,
		dispatchErrMisses: pm.metrics.dispatchErrMisses,
	}
}

var globalPoolManager = newPoolManager()
