package mirror

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/peili/pkg/logtee"
)

func RsyncMirrorer(opts Options, logger *log.Logger) Mirrorer {
	return &rsyncMirrorer{
		opts: opts,
		run:  runToolViaExec,
		log:  logex.Levels(logex.NonNil(logger)),
	}
}

type rsyncMirrorer struct {
	opts Options
	run  runToolFn
	log  *logex.Leveled
}

func (r *rsyncMirrorer) Mirror(ctx context.Context, source string, target string) (*Stats, error) {
	outputLines := []string{}

	output := logtee.NewLineSplitter(func(line string) {
		outputLines = append(outputLines, line)

		r.log.Debug.Println(line)

		if r.opts.OutputLine != nil {
			r.opts.OutputLine(line)
		}
	})

	err := silenceRsyncVanishedFileExitCode(r.run(
		ctx,
		output,
		"rsync",
		rsyncArgs(source, target, r.opts)...))
	if err != nil {
		return nil, fmt.Errorf("rsync: %w", err)
	}

	return parseRsyncStats(outputLines), nil
}

func rsyncArgs(source string, target string, opts Options) []string {
	args := []string{
		"--archive",
		"--delete", // mirror semantics. NOTE: --delete-excluded must stay off, the
		// excluded entries below live only on the target
		"--stats",
	}

	if opts.DryRun {
		args = append(args, "--dry-run")
	}

	for _, dir := range opts.ExcludeDirs {
		args = append(args, "--exclude", dir+"/") // trailing slash = directories only
	}

	for _, file := range opts.ExcludeFiles {
		args = append(args, "--exclude", file)
	}

	// trailing slash: copy source's *contents* into target (robocopy semantics)
	return append(args, strings.TrimSuffix(source, "/")+"/", target)
}

// exit code 24 = "some source files vanished mid-transfer". copying from a snapshot
// this cannot happen, but the null snapshotter copies a live tree where vanishing temp
// files are business as usual, not a failed backup
func silenceRsyncVanishedFileExitCode(err error) error {
	if err != nil {
		if exitError, is := err.(*exec.ExitError); is {
			if exitError.ExitCode() == 24 {
				return nil
			}
		}
	}

	return err
}

// --stats output (rsync >= 3.1; older versions say "Number of files transferred"):
//
//	Number of files: 1,432 (reg: 1,200, dir: 232)
//	Number of created files: 12 (reg: 12)
//	Number of deleted files: 3 (reg: 2, dir: 1)
//	Number of regular files transferred: 14
//	Total file size: 1,523,477,690 bytes
//	Total transferred file size: 22,609,306 bytes
var (
	rsyncFilesTransferredRe = regexp.MustCompile(`Number of (?:regular )?files transferred: ([\d,]+)`)
	rsyncBytesTransferredRe = regexp.MustCompile(`Total transferred file size: ([\d,]+) bytes`)
	rsyncFilesDeletedRe     = regexp.MustCompile(`Number of deleted files: ([\d,]+)`)
)

func parseRsyncStats(lines []string) *Stats {
	stats := &Stats{}

	for _, line := range lines {
		if match := rsyncFilesTransferredRe.FindStringSubmatch(line); match != nil {
			stats.FilesCopied = parseInt64(match[1])
		}
		if match := rsyncBytesTransferredRe.FindStringSubmatch(line); match != nil {
			stats.BytesCopied = parseInt64(match[1])
		}
		if match := rsyncFilesDeletedRe.FindStringSubmatch(line); match != nil {
			stats.ExtrasDeleted = parseInt64(match[1])
		}
	}

	return stats
}
