//go:build linux

package limiter

import "golang.org/x/sys/unix"

// sampleHostMemory reports host RSS-in-use (total minus free, in MB) via
// unix.Sysinfo, grounded on the teacher's golang.org/x/sys/unix use for
// rlimit/process introspection in internal/upstream/core/isolation.go.
func sampleHostMemory() (usedMb, totalMb int, ok bool) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, 0, false
	}

	unitMb := uint64(info.Unit) * 1024 * 1024
	if unitMb == 0 {
		unitMb = 1024 * 1024
	}

	total := uint64(info.Totalram) * uint64(info.Unit) / (1024 * 1024)
	free := uint64(info.Freeram) * uint64(info.Unit) / (1024 * 1024)
	if total == 0 {
		return 0, 0, false
	}

	used := total - free
	return int(used), int(total), true
}
