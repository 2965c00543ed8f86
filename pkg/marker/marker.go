// Backup completion markers: empty directories in the target root whose names carry
// the start time of a succeeded backup run, e.g. "!Backup_2024-03-05_1407".
// downstream tooling enumerates these to see which runs completed and when.
package marker

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/djherbis/times"
	"github.com/function61/gokit/logex"
)

// minute resolution, local time (these names are for humans eyeballing the target dir)
const TimeFormat = "2006-01-02_1504"

type Marker struct {
	Name      string
	Path      string
	Timestamp time.Time // parsed back from the name
	CreatedAt time.Time // filesystem timestamp (birth time where the OS tracks it)
}

func Name(prefix string, startedAt time.Time) string {
	return prefix + "_" + startedAt.Format(TimeFormat)
}

// Create writes the marker for a run that started at startedAt. the marker already
// existing means another run completed within the same minute - the marker is still
// truthful, so that is not an error.
func Create(targetDir string, prefix string, startedAt time.Time) (string, error) {
	name := Name(prefix, startedAt)
	path := filepath.Join(targetDir, name)

	if err := os.Mkdir(path, 0755); err != nil {
		if !os.IsExist(err) {
			return "", fmt.Errorf("marker: %w", err)
		}

		existing, statErr := os.Stat(path)
		if statErr != nil || !existing.IsDir() {
			return "", fmt.Errorf("marker: %s exists but is not a directory", name)
		}
	}

	return name, nil
}

// newest first
func List(targetDir string, prefix string) ([]Marker, error) {
	entries, err := os.ReadDir(targetDir)
	if err != nil {
		return nil, fmt.Errorf("marker list: %w", err)
	}

	markers := []Marker{}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		timestamp, is := parseName(prefix, entry.Name())
		if !is {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, err
		}

		createdAt := info.ModTime()
		if allTimes := times.Get(info); allTimes.HasBirthTime() {
			createdAt = allTimes.BirthTime()
		}

		markers = append(markers, Marker{
			Name:      entry.Name(),
			Path:      filepath.Join(targetDir, entry.Name()),
			Timestamp: timestamp,
			CreatedAt: createdAt,
		})
	}

	sort.Slice(markers, func(i, j int) bool {
		return markers[i].Timestamp.After(markers[j].Timestamp)
	})

	return markers, nil
}

// Prune removes all but the "keep" newest markers, returning the names it removed.
func Prune(targetDir string, prefix string, keep int, logger *log.Logger) ([]string, error) {
	logl := logex.Levels(logex.NonNil(logger))

	if keep < 1 {
		return nil, errors.New("marker prune: keep must be >= 1")
	}

	markers, err := List(targetDir, prefix)
	if err != nil {
		return nil, err
	}

	if len(markers) <= keep {
		return []string{}, nil
	}

	removed := []string{}

	for _, stale := range markers[keep:] {
		// markers are empty by definition. os.Remove() refuses to remove non-empty
		// directories, so anything that somehow got content inside stays put.
		if err := os.Remove(stale.Path); err != nil {
			return removed, fmt.Errorf("marker prune: %w", err)
		}

		logl.Info.Printf("pruned %s", stale.Name)

		removed = append(removed, stale.Name)
	}

	return removed, nil
}

func parseName(prefix string, name string) (time.Time, bool) {
	rest := strings.TrimPrefix(name, prefix+"_")
	if rest == name { // prefix wasn't there
		return time.Time{}, false
	}

	timestamp, err := time.ParseInLocation(TimeFormat, rest, time.Local)
	if err != nil {
		return time.Time{}, false
	}

	return timestamp, true
}
