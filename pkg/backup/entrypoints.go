// Backs up a directory to another: snapshot -> mirror -> marker
package backup

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/osutil"
	"github.com/function61/peili/pkg/doctor"
	"github.com/function61/peili/pkg/duration"
	"github.com/function61/peili/pkg/fssnapshot"
	"github.com/function61/peili/pkg/logtee"
	"github.com/function61/peili/pkg/marker"
	"github.com/function61/peili/pkg/mirror"
	"github.com/function61/peili/pkg/runjournal"
	"github.com/function61/peili/pkg/runlock"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

func Entrypoints() []*cobra.Command {
	return []*cobra.Command{
		runEntrypoint(),
		doctorEntrypoint(),
		unlockEntrypoint(),
		markersEntrypoint(),
		runsEntrypoint(),
		configInitEntrypoint(),
		configPrintEntrypoint(),
	}
}

func runEntrypoint() *cobra.Command {
	dryRun := false
	noSnapshot := false

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs a backup now",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				return runWithConfigFromFile(ctx, dryRun, noSnapshot, logex.StandardLogger())
			}))
		},
	}

	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", dryRun, "Only report what would be copied/deleted")
	cmd.Flags().BoolVarP(&noSnapshot, "no-snapshot", "", noSnapshot, "Copy from the live filesystem without snapshotting")

	return cmd
}

func runWithConfigFromFile(ctx context.Context, dryRun bool, noSnapshot bool, logger *log.Logger) error {
	conf, err := ReadConfig()
	if err != nil {
		return err
	}

	if noSnapshot {
		conf.SnapshotProvider = fssnapshot.ProviderNone
	}

	snapshotter, err := fssnapshot.ProviderSnapshotter(
		conf.SnapshotProvider,
		conf.AliasLetter,
		conf.LvmSnapshotSize,
		logex.Prefix("fssnapshot", logger))
	if err != nil {
		return err
	}

	toolOutputTail := logtee.NewStringTail(20)

	mirrorer := mirror.PlatformSpecificMirrorer(mirror.Options{
		DryRun: dryRun,

		// previous runs' markers and our lock file live inside the target. without
		// these the mirror would faithfully delete them as "extras".
		ExcludeDirs:  []string{conf.MarkerPrefix + "_*"},
		ExcludeFiles: []string{runlock.FileName},

		OutputLine: toolOutputTail.Write,
	}, logex.Prefix("mirror", logger))

	journal, err := runjournal.Open(conf.JournalPath)
	if err != nil {
		return err
	}
	defer journal.Close()

	_, err = Run(ctx, conf, Deps{
		Snapshotter:    snapshotter,
		Mirrorer:       mirrorer,
		Journal:        journal,
		DryRun:         dryRun,
		ToolOutputTail: toolOutputTail,
		Logger:         logger,
	})

	return err
}

func doctorEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Checks that the next run has everything it needs",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			checks := environmentChecks()

			doctor.Render(os.Stdout, checks)

			if doctor.Worst(checks) == doctor.StatusFail {
				os.Exit(1)
			}
		},
	}
}

func unlockEntrypoint() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock",
		Short: "Force-releases the run lock. Make sure no run is actually in progress first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			lockPath := filepath.Join(conf.TargetPath, runlock.FileName)

			holder, err := runlock.ReadHolder(lockPath)
			if os.IsNotExist(err) {
				fmt.Println("already unlocked")
				return
			}

			// an unreadable lock file is exactly the kind this command exists to remove,
			// so other errors just mean we can't say who held it
			if err == nil {
				fmt.Printf(
					"lock was held by pid %d on %s since %s\n",
					holder.Pid,
					holder.Hostname,
					holder.Started.Format(time.RFC3339))
			}

			osutil.ExitIfError(runlock.ForceRelease(lockPath))
		},
	}
}

func markersEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markers",
		Short: "Backup markers in the target dir",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "Lists markers, newest first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			markers, err := marker.List(conf.TargetPath, conf.MarkerPrefix)
			osutil.ExitIfError(err)

			renderTable([]string{"Marker", "Created"}, lo.Map(markers, func(m marker.Marker, _ int) []string {
				return []string{m.Name, humanize.Time(m.CreatedAt)}
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "prune [keep]",
		Short: "Removes all but the newest [keep] markers",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			keep, err := strconv.Atoi(args[0])
			osutil.ExitIfError(err)

			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			removed, err := marker.Prune(conf.TargetPath, conf.MarkerPrefix, keep, logex.StandardLogger())
			osutil.ExitIfError(err)

			for _, name := range removed {
				fmt.Println(name)
			}
		},
	})

	return cmd
}

func runsEntrypoint() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "History of backup runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "Lists recorded runs, newest first",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			journal, err := runjournal.Open(conf.JournalPath)
			osutil.ExitIfError(err)
			defer journal.Close()

			runs, err := journal.List(20)
			osutil.ExitIfError(err)

			renderTable([]string{"Started", "Took", "Files", "Copied", "Outcome"}, lo.Map(runs, func(run runjournal.Run, _ int) []string {
				outcome := "ok"
				if !run.OK {
					outcome = "FAILED: " + run.Error
				}

				return []string{
					run.Started.Local().Format("2006-01-02 15:04"),
					duration.Humanize(run.Duration()),
					strconv.FormatInt(run.FilesCopied, 10),
					humanize.IBytes(uint64(run.BytesCopied)),
					outcome,
				}
			}))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "export",
		Short: "Exports the journal as JSON lines",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			conf, err := ReadConfig()
			osutil.ExitIfError(err)

			journal, err := runjournal.Open(conf.JournalPath)
			osutil.ExitIfError(err)
			defer journal.Close()

			osutil.ExitIfError(journal.Export(os.Stdout))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "offsite",
		Short: "Pushes a copy of the journal offsite now",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			osutil.ExitIfError(wrapWithStopSupport(func(ctx context.Context) error {
				conf, err := ReadConfig()
				if err != nil {
					return err
				}

				journal, err := runjournal.Open(conf.JournalPath)
				if err != nil {
					return err
				}
				defer journal.Close()

				return offsiteJournalBackup(ctx, conf, journal, logex.StandardLogger())
			}))
		},
	})

	return cmd
}

// table when a human is looking, tab-separated when piped into tooling
func renderTable(headers []string, rows [][]string) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		for _, row := range rows {
			fmt.Println(strings.Join(row, "\t"))
		}

		return
	}

	tblBuilder := tablewriter.NewWriter(os.Stdout)
	tblBuilder.SetAutoFormatHeaders(false)
	tblBuilder.SetBorder(false)
	tblBuilder.SetHeader(headers)
	tblBuilder.AppendBulk(rows)
	tblBuilder.Render()
}

func wrapWithStopSupport(fn func(ctx context.Context) error) error {
	return fn(osutil.CancelOnInterruptOrTerminate(logex.StandardLogger()))
}
