//go:build !linux

package scraper

import "runtime"

// sampler falls back to Go runtime statistics on platforms without procfs.
// Only process heap usage is reported; CPU usage is unavailable.
type sampler struct{}

func newSampler() *sampler {
	return &sampler{}
}

func (s *sampler) sample() []measurement {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	if ms.Sys == 0 {
		return nil
	}
	v := 100 * float64(ms.HeapAlloc) / float64(ms.Sys)
	return []measurement{{name: "memory_percent", value: v}}
}
