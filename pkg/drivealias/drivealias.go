// DOS device aliases: binding a drive letter to an arbitrary device path with the
// dosdev utility, so that shadow copy devices become browseable like any other drive
package drivealias

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/function61/gokit/logex"
	"github.com/function61/gokit/retry"
)

var ErrLetterInUse = errors.New("drive letter already in use")

type Alias struct {
	Letter string // single uppercase letter, e.g. "B"
	Device string // e.g. `\\?\GLOBALROOT\Device\HarddiskVolumeShadowCopy2`
}

// Root returns the path under which the aliased device's contents are visible
func (a Alias) Root() string {
	return a.Letter + ":/"
}

type runCommandFn func(name string, args ...string) ([]byte, error)

func runCommandViaExec(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

type Binder struct {
	run runCommandFn
	log *logex.Leveled
}

func New(logger *log.Logger) *Binder {
	return &Binder{
		run: runCommandViaExec,
		log: logex.Levels(logex.NonNil(logger)),
	}
}

// Bind points letter at device. refuses if the letter already points somewhere (a
// previous run that crashed before unbind leaves its alias behind - that needs an
// explicit decision from the operator, not silent reuse).
func (b *Binder) Bind(letter string, device string) (*Alias, error) {
	if err := ValidateLetter(letter); err != nil {
		return nil, err
	}

	existing, err := b.Query(letter)
	if err != nil {
		return nil, err
	}
	if existing != "" {
		return nil, fmt.Errorf("%w: %s: -> %s", ErrLetterInUse, letter, existing)
	}

	output, err := b.run("dosdev", letter+":", device)
	if err != nil {
		return nil, fmt.Errorf(
			"dosdev bind failed: %v, output: %s",
			err,
			output)
	}

	b.log.Debug.Printf("bound %s: -> %s", letter, device)

	return &Alias{Letter: letter, Device: device}, nil
}

// Unbind removes the alias. retried with backoff because removal fails while any
// process still has an open handle below the drive letter
func (b *Binder) Unbind(ctx context.Context, alias Alias) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return retry.Retry(ctx, func(_ context.Context) error {
		return b.unbindOnce(alias)
	}, retry.DefaultBackoff(), func(err error) {
		b.log.Error.Printf("unbind %s: %v", alias.Letter, err)
	})
}

func (b *Binder) unbindOnce(alias Alias) error {
	output, err := b.run("dosdev", "-r", "-d", alias.Letter+":")
	if err != nil {
		return fmt.Errorf(
			"dosdev unbind failed: %v, output: %s",
			err,
			output)
	}

	return nil
}

// Query returns the device the letter currently points at ("" = letter is free)
func (b *Binder) Query(letter string) (string, error) {
	if err := ValidateLetter(letter); err != nil {
		return "", err
	}

	output, err := b.run("dosdev", letter+":")
	if err != nil {
		// dosdev exits nonzero when the device name does not exist, i.e. letter is free
		return "", nil
	}

	return parseQueryOutput(string(output)), nil
}

var letterRe = regexp.MustCompile("^[A-Z]$")

func ValidateLetter(letter string) error {
	if !letterRe.MatchString(letter) {
		return fmt.Errorf("not a valid drive letter: %q", letter)
	}

	return nil
}

// example output:
//
//	B: = \??\C:\Users\example
//
// (the query form of dosdev prints the mapping; other lines are chatter)
var queryMappingRe = regexp.MustCompile(`^[A-Za-z]: = (.+?)\r?$`)

func parseQueryOutput(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if match := queryMappingRe.FindStringSubmatch(line); match != nil {
			return match[1]
		}
	}

	return ""
}
