// Exclusive lock for a backup run, held as a file in the target directory. exists so
// that two overlapping runs can't fight over the same snapshot tooling and target tree.
package runlock

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/function61/gokit/jsonfile"
	"github.com/function61/gokit/logex"
)

const FileName = ".peili.lock"

var ErrAlreadyLocked = errors.New("run lock already held")

// written into the lock file so a refused run (or an operator) can tell who holds it
type Holder struct {
	RunID    string    `json:"run_id"`
	Pid      int       `json:"pid"`
	Hostname string    `json:"hostname"`
	Started  time.Time `json:"started"`
}

func NewHolder(runID string) Holder {
	hostname, _ := os.Hostname()

	return Holder{
		RunID:    runID,
		Pid:      os.Getpid(),
		Hostname: hostname,
		Started:  time.Now(),
	}
}

type Lock struct {
	path     string
	released bool
}

// Acquire takes the lock or tells you who has it. a lock whose holder process is
// provably dead gets broken: the stale lock was a crash, and refusing all future
// runs because of it would turn one failed backup into zero future backups.
func Acquire(path string, holder Holder, logger *log.Logger) (*Lock, error) {
	logl := logex.Levels(logex.NonNil(logger))

	if err := tryCreateExclusive(path, holder); err == nil {
		return &Lock{path: path}, nil
	} else if !os.IsExist(err) {
		return nil, fmt.Errorf("run lock: %w", err)
	}

	previous, err := ReadHolder(path)
	if err != nil {
		// unreadable lock file = a run that crashed mid-write. stale.
		logl.Error.Printf("breaking unreadable lock file: %v", err)
	} else if alive := holderStillRunning(*previous, holder.Hostname); alive {
		return nil, fmt.Errorf(
			"%w: by pid %d on %s (started %s)",
			ErrAlreadyLocked,
			previous.Pid,
			previous.Hostname,
			previous.Started.Format(time.RFC3339))
	} else {
		logl.Info.Printf(
			"breaking stale lock: holder pid %d (started %s) no longer running",
			previous.Pid,
			previous.Started.Format(time.RFC3339))
	}

	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("run lock: breaking stale lock: %w", err)
	}

	// no second round of stale-breaking: if this fails with "exists", someone else
	// raced us between the remove and here, and they won fair and square
	if err := tryCreateExclusive(path, holder); err != nil {
		if os.IsExist(err) {
			return nil, ErrAlreadyLocked
		}
		return nil, fmt.Errorf("run lock: %w", err)
	}

	return &Lock{path: path}, nil
}

// Release is safe to call twice (the defer-plus-explicit-call pattern)
func (l *Lock) Release() error {
	if l.released {
		return nil
	}
	l.released = true

	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("run lock release: %w", err)
	}

	return nil
}

func ReadHolder(path string) (*Holder, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	holder := &Holder{}
	if err := jsonfile.Unmarshal(file, holder, true); err != nil {
		return nil, fmt.Errorf("lock file %s: %w", path, err)
	}

	return holder, nil
}

// for the "unlock" command. the human has decided the lock is bogus.
func ForceRelease(path string) error {
	return os.Remove(path)
}

func tryCreateExclusive(path string, holder Holder) error {
	// O_EXCL makes create-if-not-exists atomic: of two simultaneous runs exactly one
	// gets the file
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}

	if err := jsonfile.Marshal(file, &holder); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return err
	}

	return file.Close()
}

// only process presence on the same host is provable. a lock from another hostname
// (target on a network share) is never considered stale.
func holderStillRunning(previous Holder, ourHostname string) bool {
	if previous.Hostname != ourHostname {
		return true
	}

	return pidAlive(previous.Pid)
}
