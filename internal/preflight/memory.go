package preflight

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// MinMemoryBytes is the minimum recommended available memory (1GB).
// The HNSW graph and the embedding memo are both memory-resident.
const MinMemoryBytes = 1 * 1024 * 1024 * 1024

// fallbackMemoryEstimate stands in on platforms without a cheap way to
// read available memory.
const fallbackMemoryEstimate = 4 * 1024 * 1024 * 1024

// CheckMemory checks if there's sufficient memory available.
func (c *Checker) CheckMemory() CheckResult {
	result := CheckResult{
		Name:     "memory",
		Required: true,
	}

	available := availableMemory()

	if available < MinMemoryBytes {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(available))
		return result
	}

	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s available (minimum: 1 GB)", formatBytes(available))
	return result
}

// availableMemory reports available system memory. Linux reads
// MemAvailable from /proc/meminfo; other platforms get a conservative
// fixed estimate.
func availableMemory() uint64 {
	if runtime.GOOS == "linux" {
		if avail, ok := readMemAvailable("/proc/meminfo"); ok {
			return avail
		}
	}
	return fallbackMemoryEstimate
}

// readMemAvailable parses the MemAvailable line (reported in kB) from
// a meminfo-format file.
func readMemAvailable(path string) (uint64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}

	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemAvailable:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, false
		}
		kb, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, false
		}
		return kb * 1024, true
	}
	return 0, false
}
