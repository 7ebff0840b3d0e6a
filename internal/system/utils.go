// Package system provides the OS-level checks behind `player check` and the
// health endpoint, and housekeeping for the player's working directories.
package system

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// Dependency checks one runtime dependency. Check returns a short description
// of what was found.
type Dependency struct {
	Name  string
	Check func() (string, error)
}

// DependencyResult is the outcome of one Dependency.
type DependencyResult struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

// HealthStatus represents the current system health snapshot.
type HealthStatus struct {
	DiskPath      string             `json:"disk_path"`
	DiskUsedPct   float64            `json:"disk_used_pct"`
	DiskFreeBytes uint64             `json:"disk_free_bytes"`
	Dependencies  []DependencyResult `json:"dependencies"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Healthy reports whether every dependency check passed.
func (s HealthStatus) Healthy() bool {
	for _, p := range s.Dependencies {
		if !p.OK {
			return false
		}
	}
	return true
}

// GetDiskUsage returns the usage percentage and free bytes for
// the filesystem mounted at the given path (default "/").
func GetDiskUsage(path string) (usedPct float64, freeBytes uint64, err error) {
	if path == "" {
		path = "/"
	}

	out, err := exec.Command("df", "--output=pcent,avail", "-B1", path).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("df command failed: %w", err)
	}
	return parseDF(string(out))
}

func parseDF(out string) (usedPct float64, freeBytes uint64, err error) {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) < 2 {
		return 0, 0, fmt.Errorf("unexpected df output")
	}

	fields := strings.Fields(lines[1])
	if len(fields) < 2 {
		return 0, 0, fmt.Errorf("unexpected df fields")
	}

	pct, err := strconv.ParseFloat(strings.TrimSuffix(fields[0], "%"), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse disk pct: %w", err)
	}

	free, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse disk free: %w", err)
	}

	return pct, free, nil
}

// RunHealthCheck measures disk usage at diskPath and checks every dependency.
func RunHealthCheck(diskPath string, deps ...Dependency) HealthStatus {
	status := HealthStatus{
		DiskPath:  diskPath,
		Timestamp: time.Now(),
	}

	if pct, free, err := GetDiskUsage(diskPath); err == nil {
		status.DiskUsedPct = pct
		status.DiskFreeBytes = free
	} else {
		log.Warnf("[system] health: disk read error: %v", err)
	}

	for _, p := range deps {
		r := DependencyResult{Name: p.Name}
		detail, err := p.Check()
		if err != nil {
			r.Detail = err.Error()
		} else {
			r.OK = true
			r.Detail = detail
		}
		status.Dependencies = append(status.Dependencies, r)
	}

	log.Debugf("[system] health: disk=%.1f%% deps=%d healthy=%v",
		status.DiskUsedPct, len(status.Dependencies), status.Healthy())

	return status
}

// EnsureDir creates a directory and all parents if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

// CleanOldFiles removes files older than maxAge from the given directory.
// Used to purge exported artwork left by earlier runs.
func CleanOldFiles(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > maxAge {
			fp := filepath.Join(dir, entry.Name())
			if err := os.Remove(fp); err == nil {
				removed++
				log.Debugf("[system] cleaned old file: %s", fp)
			}
		}
	}

	return removed, nil
}
