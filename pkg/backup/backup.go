// Orchestrates one backup run: lock the target, snapshot the source volume, mirror
// the source into the target, then drop a timestamped marker dir for eyeball
// verification. Everything acquired along the way is released even when a phase
// fails.
package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/function61/gokit/cryptorandombytes"
	"github.com/function61/gokit/logex"
	"github.com/function61/peili/pkg/fssnapshot"
	"github.com/function61/peili/pkg/logtee"
	"github.com/function61/peili/pkg/marker"
	"github.com/function61/peili/pkg/mirror"
	"github.com/function61/peili/pkg/runjournal"
	"github.com/function61/peili/pkg/runlock"
)

type Deps struct {
	Snapshotter fssnapshot.Snapshotter
	Mirrorer    mirror.Mirrorer
	Journal     *runjournal.Journal
	Clock       func() time.Time // nil = time.Now

	// listing mode: the mirror tool only reports what it would do, so we must not
	// write markers or journal records either
	DryRun bool

	// last lines of mirror tool output, kept in the journal record of a failed run
	ToolOutputTail *logtee.StringTail

	Logger *log.Logger
}

// Run executes one backup run. The returned record is also non-nil for failed runs
// (with Error set), except when the run lock was refused: a refused run never got
// going, and the lock holder is the one keeping records.
func Run(ctx context.Context, conf *Config, deps Deps) (outRun *runjournal.Run, outErr error) {
	logger := logex.NonNil(deps.Logger)
	logl := logex.Levels(logger)

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	run := &runjournal.Run{
		ID:       cryptorandombytes.Hex(4),
		Started:  clock(),
		Provider: conf.SnapshotProvider,
	}

	// the lock file lives inside the target, so the target must exist first. on
	// first-ever run the mirror tool would create it anyway, just too late for us.
	if err := os.MkdirAll(conf.TargetPath, 0755); err != nil {
		return nil, fmt.Errorf("target dir: %w", err)
	}

	lock, err := runlock.Acquire(
		filepath.Join(conf.TargetPath, runlock.FileName),
		runlock.NewHolder(run.ID),
		logex.Prefix("runlock", logger))
	if err != nil {
		return nil, fmt.Errorf("lock: %w", err)
	}

	defer func() {
		if err := lock.Release(); err != nil {
			logl.Error.Printf("releasing lock: %v", err)

			if outErr == nil {
				outErr = fmt.Errorf("releasing lock: %w", err)
			}
		}
	}()

	runErr := mirrorFromSnapshot(ctx, conf, deps, run)

	if runErr == nil && !deps.DryRun {
		markerName, err := marker.Create(conf.TargetPath, conf.MarkerPrefix, run.Started)
		if err != nil {
			runErr = fmt.Errorf("marker: %w", err)
		} else {
			run.MarkerName = markerName
			logl.Info.Printf("marker %s", markerName)

			if conf.RetentionKeep > 0 {
				if _, err := marker.Prune(
					conf.TargetPath,
					conf.MarkerPrefix,
					conf.RetentionKeep,
					logex.Prefix("marker", logger),
				); err != nil {
					// old markers lingering is not worth failing a fresh backup over
					logl.Error.Printf("marker prune: %v", err)
				}
			}
		}
	}

	run.Finished = clock()
	run.OK = runErr == nil

	if runErr != nil {
		run.Error = runErr.Error()

		if deps.ToolOutputTail != nil {
			run.ToolOutputTail = deps.ToolOutputTail.Snapshot()
		}
	}

	if !deps.DryRun {
		if err := deps.Journal.Append(*run); err != nil {
			if runErr == nil {
				runErr = fmt.Errorf("journal: %w", err)
			} else {
				logl.Error.Printf("journal append: %v", err)
			}
		}

		if conf.MetricsTextfile != "" {
			if err := writeMetricsTextfile(conf.MetricsTextfile, run, deps.Journal); err != nil {
				logl.Error.Printf("metrics textfile: %v", err)
			}
		}

		if conf.OffsiteBackup != nil && run.OK {
			if err := offsiteJournalBackup(ctx, conf, deps.Journal, logger); err != nil {
				logl.Error.Printf("offsite journal backup: %v", err)
			}
		}
	}

	return run, runErr
}

// snapshot -> mirror -> release, with release guaranteed (and a release failure
// surfacing when the run was otherwise clean, because a leaked snapshot blocks the
// next run's alias bind)
func mirrorFromSnapshot(ctx context.Context, conf *Config, deps Deps, run *runjournal.Run) (outErr error) {
	logl := logex.Levels(logex.NonNil(deps.Logger))

	logl.Info.Printf("snapshotting %s", conf.SourcePath)

	snap, err := deps.Snapshotter.Snapshot(conf.SourcePath)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	run.SnapshotID = snap.ID

	defer func() {
		if err := deps.Snapshotter.Release(*snap); err != nil {
			logl.Error.Printf("snapshot release: %v", err)

			if outErr == nil {
				outErr = fmt.Errorf("snapshot release: %w", err)
			}
		}
	}()

	logl.Info.Printf("mirroring %s -> %s", snap.OriginInSnapshotPath, conf.TargetPath)

	stats, err := deps.Mirrorer.Mirror(ctx, snap.OriginInSnapshotPath, conf.TargetPath)
	if err != nil {
		return fmt.Errorf("mirror: %w", err)
	}

	run.FilesCopied = stats.FilesCopied
	run.BytesCopied = stats.BytesCopied
	run.ExtrasDeleted = stats.ExtrasDeleted

	logl.Info.Printf(
		"mirrored %d files (%s), %d extras removed",
		stats.FilesCopied,
		humanize.IBytes(uint64(stats.BytesCopied)),
		stats.ExtrasDeleted)

	return nil
}
