package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/function61/peili/pkg/doctor"
	"github.com/function61/peili/pkg/fssnapshot"
	"github.com/function61/peili/pkg/runjournal"
	"github.com/function61/peili/pkg/runlock"
	"github.com/samber/lo"
)

// answers "will the next run work?" without actually running one
func environmentChecks() doctor.Check {
	failedBeforeConfig := func(err error) doctor.Check {
		return doctor.NewFolder("peili",
			doctor.NewStaticCheck("Config", doctor.StatusFail, err.Error())).Check()
	}

	confPath, err := ConfigFilePath()
	if err != nil {
		return failedBeforeConfig(err)
	}

	conf, err := readConfigWithPath(confPath)
	if err != nil {
		return failedBeforeConfig(err)
	}

	provider := fssnapshot.EffectiveProvider(conf.SnapshotProvider)

	return doctor.NewFolder("peili",
		doctor.NewStaticCheck("Config", doctor.StatusPass, confPath),
		providerCheck(provider),
		doctor.NewFolder("Tools", toolChecks(provider)...),
		doctor.NewWritableDirCheck("Target dir", conf.TargetPath),
		lockCheck(conf),
		journalCheck(conf),
	).Check()
}

func providerCheck(provider string) doctor.Checker {
	if provider == fssnapshot.ProviderNone {
		return doctor.NewStaticCheck(
			"Snapshot provider",
			doctor.StatusWarn,
			"none: will copy from the live filesystem")
	}

	return doctor.NewStaticCheck("Snapshot provider", doctor.StatusPass, provider)
}

func toolChecks(provider string) []doctor.Checker {
	binaries := []string{mirrorToolBinary()}

	switch provider {
	case fssnapshot.ProviderVshadow:
		binaries = append(binaries, "vshadow", "dosdev")
	case fssnapshot.ProviderWmic:
		binaries = append(binaries, "wmic", "vssadmin")
	case fssnapshot.ProviderLvm:
		binaries = append(binaries, "lvcreate", "lvs", "lvremove")
	}

	return lo.Map(binaries, func(binary string, _ int) doctor.Checker {
		return doctor.NewBinaryInPathCheck(binary)
	})
}

func mirrorToolBinary() string {
	if runtime.GOOS == "windows" {
		return "robocopy"
	}

	return "rsync"
}

func lockCheck(conf *Config) doctor.Checker {
	return doctor.NewFuncCheck("Run lock", func() (doctor.Status, string) {
		holder, err := runlock.ReadHolder(filepath.Join(conf.TargetPath, runlock.FileName))
		switch {
		case os.IsNotExist(err):
			return doctor.StatusPass, "free"
		case err != nil:
			return doctor.StatusFail, err.Error()
		default:
			// a run in progress is not an error, but worth knowing about
			return doctor.StatusWarn, fmt.Sprintf(
				"held by pid %d on %s since %s",
				holder.Pid,
				holder.Hostname,
				holder.Started.Format(time.RFC3339))
		}
	})
}

func journalCheck(conf *Config) doctor.Checker {
	return doctor.NewFuncCheck("Run journal", func() (doctor.Status, string) {
		journal, err := runjournal.Open(conf.JournalPath)
		if err != nil {
			return doctor.StatusFail, err.Error()
		}
		defer journal.Close()

		latest, err := journal.Latest()
		if err != nil {
			return doctor.StatusFail, err.Error()
		}

		if latest == nil {
			return doctor.StatusPass, "no runs recorded yet"
		}

		outcome := "ok"
		if !latest.OK {
			outcome = "failed"
		}

		return doctor.StatusPass, fmt.Sprintf(
			"last run %s, %s",
			humanize.Time(latest.Finished),
			outcome)
	})
}
