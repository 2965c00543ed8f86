// Mirror copying of directory trees with external tools: robocopy on Windows, rsync
// elsewhere. mirroring means the target becomes an exact copy of the source's
// contents, including deletion of target entries that no longer exist in source.
package mirror

import (
	"context"
	"io"
	"os/exec"
)

type Stats struct {
	FilesCopied   int64
	BytesCopied   int64
	ExtrasDeleted int64 // target entries removed because source no longer has them
}

type Options struct {
	DryRun       bool     // ask the tool to only report what it would do
	ExcludeDirs  []string // directory name patterns the mirror must not copy nor delete
	ExcludeFiles []string // file name patterns, ditto

	// receives each line of tool output (summaries, errors). optional.
	OutputLine func(string)
}

type Mirrorer interface {
	// Mirror makes target an exact copy of source's contents
	Mirror(ctx context.Context, source string, target string) (*Stats, error)
}

// the copy tools are external commands whose output we parse. tests swap this out.
type runToolFn func(ctx context.Context, output io.Writer, name string, args ...string) error

func runToolViaExec(ctx context.Context, output io.Writer, name string, args ...string) error {
	//nolint:gosec // ok
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = output
	cmd.Stderr = output

	return cmd.Run()
}
