package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Retention defines how many rotated log files are kept per log name
type Retention struct {
	MaxFiles int           // Maximum number of rotated files to keep per log (0 = unlimited)
	MaxAge   time.Duration // Maximum age of rotated files to keep (0 = unlimited)
}

// DefaultRetention provides default retention policy
var DefaultRetention = Retention{
	MaxFiles: 5,
	MaxAge:   7 * 24 * time.Hour, // 7 days
}

type rotatedFile struct {
	path    string
	rotated time.Time
}

// listRotated returns the rotated files of every log, grouped by log name
// and sorted oldest first.
func listRotated() (map[string][]rotatedFile, error) {
	entries, err := os.ReadDir(LogDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read log directory: %w", err)
	}

	byName := make(map[string][]rotatedFile)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name, stamp, ok := strings.Cut(entry.Name(), ".log.")
		if !ok {
			continue
		}
		ts, err := strconv.ParseInt(stamp, 10, 64)
		if err != nil {
			continue
		}
		byName[name] = append(byName[name], rotatedFile{
			path:    filepath.Join(LogDir, entry.Name()),
			rotated: time.Unix(0, ts),
		})
	}

	for _, files := range byName {
		sort.Slice(files, func(i, j int) bool {
			return files[i].rotated.Before(files[j].rotated)
		})
	}
	return byName, nil
}

// CleanupRotated removes rotated log files according to the retention policy
// Returns the number of files deleted and any error
func CleanupRotated(retention Retention) (int, error) {
	byName, err := listRotated()
	if err != nil {
		return 0, err
	}

	now := time.Now()
	deleted := 0
	for _, files := range byName {
		for i, f := range files {
			tooOld := retention.MaxAge > 0 && now.Sub(f.rotated) > retention.MaxAge
			tooMany := retention.MaxFiles > 0 && len(files)-i > retention.MaxFiles
			if !tooOld && !tooMany {
				continue
			}
			if err := os.Remove(f.path); err != nil {
				// Log error but continue with other files
				fmt.Fprintf(os.Stderr, "Warning: failed to delete rotated log %s: %v\n", f.path, err)
				continue
			}
			deleted++
		}
	}

	return deleted, nil
}
