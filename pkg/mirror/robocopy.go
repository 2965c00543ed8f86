package mirror

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/function61/gokit/logex"
	"github.com/function61/peili/pkg/logtee"
)

func RobocopyMirrorer(opts Options, logger *log.Logger) Mirrorer {
	return &robocopyMirrorer{
		opts: opts,
		run:  runToolViaExec,
		log:  logex.Levels(logex.NonNil(logger)),
	}
}

type robocopyMirrorer struct {
	opts Options
	run  runToolFn
	log  *logex.Leveled
}

func (r *robocopyMirrorer) Mirror(ctx context.Context, source string, target string) (*Stats, error) {
	outputLines := []string{}

	output := logtee.NewLineSplitter(func(line string) {
		outputLines = append(outputLines, line)

		r.log.Debug.Println(line)

		if r.opts.OutputLine != nil {
			r.opts.OutputLine(line)
		}
	})

	err := silenceRobocopyInfoExitCodes(r.run(
		ctx,
		output,
		"robocopy",
		robocopyArgs(source, target, r.opts)...))
	if err != nil {
		return nil, fmt.Errorf("robocopy: %w", err)
	}

	return parseRobocopySummary(outputLines), nil
}

func robocopyArgs(source string, target string, opts Options) []string {
	args := []string{
		windowsPath(source),
		windowsPath(target),
		"/MIR",         // copy subdirs (also empty ones) + purge target entries gone from source
		"/NFL", "/NDL", // no per-file / per-dir listing, the summary is enough
		"/NJH",         // no job header
		"/NP",          // no per-file progress percentages
		"/BYTES",       // plain byte counts in summary (default scales to "1.419 g")
		"/R:2", "/W:5", // retry count default is one million (!)
	}

	if opts.DryRun {
		args = append(args, "/L")
	}

	for _, dir := range opts.ExcludeDirs {
		args = append(args, "/XD", dir)
	}

	for _, file := range opts.ExcludeFiles {
		args = append(args, "/XF", file)
	}

	return args
}

// robocopy's exit code is a bitmask where bits 0-2 are informational (files were
// copied / extra target entries seen / mismatched attributes seen), and only bit 3
// and up signal actual failures: https://ss64.com/nt/robocopy-exit.html
func silenceRobocopyInfoExitCodes(err error) error {
	if err != nil {
		if exitError, is := err.(*exec.ExitError); is {
			if !robocopyExitCodeIsFailure(exitError.ExitCode()) {
				return nil
			}
		}
	}

	return err
}

func robocopyExitCodeIsFailure(code int) bool {
	return code&^0x7 != 0
}

// the summary (with /BYTES) looks like:
//
//	               Total    Copied   Skipped  Mismatch    FAILED    Extras
//	    Dirs :        23         2        21         0         0         0
//	   Files :       143        14       129         0         0         3
//	   Bytes :  1523477690  22609306  1500868384         0         0      4123
//	   Times :   0:00:21   0:00:04                       0:00:00   0:00:16
var robocopySummaryLineRe = regexp.MustCompile(`^\s*(Dirs|Files|Bytes) :\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s+(\d+)\s*$`)

func parseRobocopySummary(lines []string) *Stats {
	stats := &Stats{}

	for _, line := range lines {
		match := robocopySummaryLineRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}

		copied := parseInt64(match[3])
		extras := parseInt64(match[7])

		switch match[1] {
		case "Dirs":
			stats.ExtrasDeleted += extras
		case "Files":
			stats.FilesCopied = copied
			stats.ExtrasDeleted += extras
		case "Bytes":
			stats.BytesCopied = copied
		}
	}

	return stats
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	return n
}

// '/' => '\'
func windowsPath(in string) string {
	return strings.ReplaceAll(in, "/", `\`)
}
