//go:build linux

package scraper

import (
	"os"
	"strconv"
	"strings"
)

// sampler reads CPU and memory usage from procfs. CPU usage is a delta
// against the previous sample, so the very first cycle reports only memory.
type sampler struct {
	prevTotal int64
	prevIdle  int64
	hasPrev   bool
}

func newSampler() *sampler {
	return &sampler{}
}

func (s *sampler) sample() []measurement {
	var out []measurement
	if v, ok := s.cpuPercent(); ok {
		out = append(out, measurement{name: "cpu_percent", value: v})
	}
	if v, ok := memoryPercent(); ok {
		out = append(out, measurement{name: "memory_percent", value: v})
	}
	return out
}

func (s *sampler) cpuPercent() (float64, bool) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return 0, false
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, false
	}
	var total, idle int64
	for i, f := range fields[1:] {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return 0, false
		}
		total += v
		// fields: user nice system idle iowait ...
		if i == 3 || i == 4 {
			idle += v
		}
	}
	defer func() {
		s.prevTotal, s.prevIdle, s.hasPrev = total, idle, true
	}()
	if !s.hasPrev {
		return 0, false
	}
	dTotal := total - s.prevTotal
	dIdle := idle - s.prevIdle
	if dTotal <= 0 {
		return 0, false
	}
	return 100 * float64(dTotal-dIdle) / float64(dTotal), true
}

func memoryPercent() (float64, bool) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, false
	}
	var total, avail int64
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			avail, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	if total <= 0 || avail < 0 {
		return 0, false
	}
	return 100 * float64(total-avail) / float64(total), true
}
