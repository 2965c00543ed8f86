package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/function61/gokit/assert"
	"github.com/function61/peili/pkg/fssnapshot"
	"github.com/function61/peili/pkg/logtee"
	"github.com/function61/peili/pkg/mirror"
	"github.com/function61/peili/pkg/runjournal"
	"github.com/function61/peili/pkg/runlock"
)

// fixed so marker names are predictable
func testClock() time.Time {
	return time.Date(2024, 3, 5, 14, 7, 31, 0, time.Local)
}

func TestRun(t *testing.T) {
	env := newTestEnv(t)
	env.conf.RetentionKeep = 2
	env.conf.MetricsTextfile = filepath.Join(env.tempDir, "peili.prom")

	// markers from previous runs. the oldest should get pruned after this run.
	makeMarker(t, env.conf, "!Backup_2024-03-01_1200")
	makeMarker(t, env.conf, "!Backup_2024-03-02_1200")

	run, err := Run(context.Background(), env.conf, env.deps)
	assert.Assert(t, err == nil)
	assert.Assert(t, run.OK)

	assert.EqualString(t, env.rec.eventLog(), strings.Join([]string{
		"snapshot C:/Users/Alice/AppData/Roaming",
		"mirror B:/Users/Alice/AppData/Roaming (lock present: yes)",
		"release snap-1",
	}, " | "))

	// exactly one new empty marker, named from the run's start time
	assert.EqualString(t, run.MarkerName, "!Backup_2024-03-05_1407")
	markerEntries, err := os.ReadDir(filepath.Join(env.conf.TargetPath, run.MarkerName))
	assert.Assert(t, err == nil)
	assert.Assert(t, len(markerEntries) == 0)

	// 2024-03-01 was beyond retention
	assert.EqualString(t, strings.Join(targetDirListing(t, env.conf), " "),
		"!Backup_2024-03-02_1200 !Backup_2024-03-05_1407")

	// lock must be gone
	_, err = os.Stat(filepath.Join(env.conf.TargetPath, runlock.FileName))
	assert.Assert(t, os.IsNotExist(err))

	recorded, err := env.journal.Latest()
	assert.Assert(t, err == nil)
	assert.Assert(t, recorded.OK)
	assert.EqualString(t, recorded.MarkerName, "!Backup_2024-03-05_1407")
	assert.Assert(t, recorded.FilesCopied == 14)
	assert.Assert(t, recorded.BytesCopied == 22609306)
	assert.EqualString(t, recorded.SnapshotID, "snap-1")

	metrics, err := os.ReadFile(env.conf.MetricsTextfile)
	assert.Assert(t, err == nil)
	assert.Assert(t, strings.Contains(string(metrics), "peili_last_run_ok 1"))
	assert.Assert(t, strings.Contains(string(metrics), "peili_files_copied 14"))
	assert.Assert(t, strings.Contains(string(metrics), `peili_runs_total{outcome="ok"} 1`))
	assert.Assert(t, strings.Contains(string(metrics), `peili_runs_total{outcome="failed"} 0`))
}

func TestRunSameMinuteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)

	_, err := Run(context.Background(), env.conf, env.deps)
	assert.Assert(t, err == nil)

	// same clock, so same marker name. the existing marker is still truthful.
	run, err := Run(context.Background(), env.conf, env.deps)
	assert.Assert(t, err == nil)
	assert.EqualString(t, run.MarkerName, "!Backup_2024-03-05_1407")

	runs, err := env.journal.List(0)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(runs) == 2)
}

func TestMirrorFailureStillReleasesEverything(t *testing.T) {
	env := newTestEnv(t)
	env.mirrorer.fail = true

	run, err := Run(context.Background(), env.conf, env.deps)
	assert.Assert(t, err != nil)
	assert.EqualString(t, err.Error(), "mirror: robocopy: exit status 16")

	// snapshot released despite the failure
	assert.EqualString(t, env.rec.eventLog(), strings.Join([]string{
		"snapshot C:/Users/Alice/AppData/Roaming",
		"mirror B:/Users/Alice/AppData/Roaming (lock present: yes)",
		"release snap-1",
	}, " | "))

	// no marker for a failed run
	assert.EqualString(t, strings.Join(targetDirListing(t, env.conf), " "), "")
	assert.EqualString(t, run.MarkerName, "")

	// lock released too
	_, err = os.Stat(filepath.Join(env.conf.TargetPath, runlock.FileName))
	assert.Assert(t, os.IsNotExist(err))

	// but the run was still journaled, with the tool's last words
	recorded, err := env.journal.Latest()
	assert.Assert(t, err == nil)
	assert.Assert(t, !recorded.OK)
	assert.EqualString(t, recorded.Error, "mirror: robocopy: exit status 16")
	assert.EqualString(t, strings.Join(recorded.ToolOutputTail, "\n"),
		"ERROR 32 (0x00000020) Copying File ntuser.dat")
}

func TestSnapshotFailureJournaled(t *testing.T) {
	env := newTestEnv(t)
	env.snapshotter.failSnapshot = true

	_, err := Run(context.Background(), env.conf, env.deps)
	assert.EqualString(t, err.Error(), "snapshot: VSS: access denied")

	// nothing to release because nothing was acquired
	assert.EqualString(t, env.rec.eventLog(), "snapshot C:/Users/Alice/AppData/Roaming")

	recorded, err := env.journal.Latest()
	assert.Assert(t, err == nil)
	assert.EqualString(t, recorded.Error, "snapshot: VSS: access denied")
}

func TestReleaseFailureFailsAnOtherwiseCleanRun(t *testing.T) {
	env := newTestEnv(t)
	env.snapshotter.failRelease = true

	run, err := Run(context.Background(), env.conf, env.deps)
	assert.EqualString(t, err.Error(), "snapshot release: leaked shadow copy")

	// a leaked snapshot blocks the next run's alias bind, so no marker: the run
	// needs operator attention
	assert.Assert(t, !run.OK)
	assert.EqualString(t, run.MarkerName, "")
}

func TestSecondConcurrentRunRefused(t *testing.T) {
	env := newTestEnv(t)

	assert.Assert(t, os.MkdirAll(env.conf.TargetPath, 0755) == nil)

	// simulate a concurrent run: its holder is this very process, so provably alive
	held, err := runlock.Acquire(
		filepath.Join(env.conf.TargetPath, runlock.FileName),
		runlock.NewHolder("other"),
		nil)
	assert.Assert(t, err == nil)
	defer func() {
		assert.Assert(t, held.Release() == nil)
	}()

	run, err := Run(context.Background(), env.conf, env.deps)
	assert.Assert(t, errors.Is(err, runlock.ErrAlreadyLocked))
	assert.Assert(t, run == nil)

	// refused run didn't get going at all
	assert.EqualString(t, env.rec.eventLog(), "")

	// and left no journal record: the lock holder is the one keeping records
	runs, err := env.journal.List(0)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(runs) == 0)
}

func TestDryRunLeavesNoTrace(t *testing.T) {
	env := newTestEnv(t)
	env.deps.DryRun = true
	env.conf.MetricsTextfile = filepath.Join(env.tempDir, "peili.prom")

	run, err := Run(context.Background(), env.conf, env.deps)
	assert.Assert(t, err == nil)
	assert.Assert(t, run.OK)

	// copy tool ran (in listing mode), but no marker, journal record or metrics
	assert.EqualString(t, env.rec.eventLog(), strings.Join([]string{
		"snapshot C:/Users/Alice/AppData/Roaming",
		"mirror B:/Users/Alice/AppData/Roaming (lock present: yes)",
		"release snap-1",
	}, " | "))

	assert.EqualString(t, strings.Join(targetDirListing(t, env.conf), " "), "")

	runs, err := env.journal.List(0)
	assert.Assert(t, err == nil)
	assert.Assert(t, len(runs) == 0)

	_, err = os.Stat(env.conf.MetricsTextfile)
	assert.Assert(t, os.IsNotExist(err))
}

type testEnv struct {
	tempDir     string
	conf        *Config
	deps        Deps
	rec         *recorder
	snapshotter *fakeSnapshotter
	mirrorer    *fakeMirrorer
	journal     *runjournal.Journal
}

func newTestEnv(t *testing.T) *testEnv {
	tempDir := t.TempDir()

	conf := &Config{
		SourcePath:       "C:/Users/Alice/AppData/Roaming",
		TargetPath:       filepath.Join(tempDir, "target"),
		MarkerPrefix:     "!Backup",
		SnapshotProvider: "vshadow",
		JournalPath:      filepath.Join(tempDir, "runs.db"),
	}

	journal, err := runjournal.Open(conf.JournalPath)
	assert.Assert(t, err == nil)
	t.Cleanup(func() { journal.Close() })

	rec := &recorder{}
	tail := logtee.NewStringTail(8)

	snapshotter := &fakeSnapshotter{rec: rec}
	mirrorer := &fakeMirrorer{
		rec:   rec,
		tail:  tail,
		stats: mirror.Stats{FilesCopied: 14, BytesCopied: 22609306, ExtrasDeleted: 3},
	}

	return &testEnv{
		tempDir:     tempDir,
		conf:        conf,
		rec:         rec,
		snapshotter: snapshotter,
		mirrorer:    mirrorer,
		journal:     journal,
		deps: Deps{
			Snapshotter:    snapshotter,
			Mirrorer:       mirrorer,
			Journal:        journal,
			Clock:          testClock,
			ToolOutputTail: tail,
		},
	}
}

type recorder struct {
	events []string
}

func (r *recorder) observe(event string) {
	r.events = append(r.events, event)
}

func (r *recorder) eventLog() string {
	return strings.Join(r.events, " | ")
}

type fakeSnapshotter struct {
	rec          *recorder
	failSnapshot bool
	failRelease  bool
}

func (f *fakeSnapshotter) Snapshot(path string) (*fssnapshot.Snapshot, error) {
	f.rec.observe("snapshot " + path)

	if f.failSnapshot {
		return nil, errors.New("VSS: access denied")
	}

	return &fssnapshot.Snapshot{
		ID:                    "snap-1",
		Device:                `\\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy1`,
		OriginPath:            path,
		OriginInSnapshotPath:  "B:/Users/Alice/AppData/Roaming",
		SnapshotRootMountPath: "B:/",
	}, nil
}

func (f *fakeSnapshotter) Release(snap fssnapshot.Snapshot) error {
	f.rec.observe("release " + snap.ID)

	if f.failRelease {
		return errors.New("leaked shadow copy")
	}

	return nil
}

type fakeMirrorer struct {
	rec   *recorder
	tail  *logtee.StringTail
	stats mirror.Stats
	fail  bool
}

func (f *fakeMirrorer) Mirror(ctx context.Context, source string, target string) (*mirror.Stats, error) {
	lockPresent := "no"
	if _, err := os.Stat(filepath.Join(target, runlock.FileName)); err == nil {
		lockPresent = "yes"
	}

	f.rec.observe(fmt.Sprintf("mirror %s (lock present: %s)", source, lockPresent))

	if f.fail {
		f.tail.Write("ERROR 32 (0x00000020) Copying File ntuser.dat")

		return nil, errors.New("robocopy: exit status 16")
	}

	stats := f.stats

	return &stats, nil
}

func makeMarker(t *testing.T, conf *Config, name string) {
	assert.Assert(t, os.MkdirAll(filepath.Join(conf.TargetPath, name), 0755) == nil)
}

// names only, sorted, lock file excluded (its presence is asserted separately)
func targetDirListing(t *testing.T, conf *Config) []string {
	entries, err := os.ReadDir(conf.TargetPath)
	assert.Assert(t, err == nil)

	names := []string{}
	for _, entry := range entries {
		if entry.Name() == runlock.FileName {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names
}
