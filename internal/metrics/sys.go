package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// SysHealth is a snapshot of the process and its database footprint.
type SysHealth struct {
	AllocMB    uint64
	SysMB      uint64
	NumGC      uint32
	Goroutines int
	// DatabaseSize covers the database file and its WAL/SHM siblings.
	DatabaseSize int64
}

// GetSysHealth collects real-time health data for the database at dbPath.
func GetSysHealth(dbPath string) SysHealth {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return SysHealth{
		AllocMB:      m.Alloc / 1024 / 1024,
		SysMB:        m.Sys / 1024 / 1024,
		NumGC:        m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
		DatabaseSize: databaseSize(dbPath),
	}
}

func databaseSize(dbPath string) int64 {
	matches, _ := filepath.Glob(dbPath + "*")
	var size int64
	for _, path := range matches {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			size += info.Size()
		}
	}
	return size
}

// FormatBytes renders a byte count with a binary unit suffix.
func FormatBytes(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
