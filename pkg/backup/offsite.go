package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/function61/gokit/logex"
	"github.com/function61/peili/pkg/runjournal"
	"github.com/function61/ubackup/pkg/ubbackup"
	"github.com/function61/ubackup/pkg/ubtypes"
)

// ships a copy of the run journal offsite (wherever µbackup is configured to store
// it), so "when did backups last work?" is answerable even after losing the machine
func offsiteJournalBackup(
	ctx context.Context,
	conf *Config,
	journal *runjournal.Journal,
	logger *log.Logger,
) error {
	if conf.OffsiteBackup == nil {
		return errors.New("offsite backup not configured")
	}

	target := ubtypes.BackupTarget{
		ServiceName: "peili",
		TaskId:      fmt.Sprintf("%d", os.Getpid()),
	}

	return ubbackup.BackupAndStore(ctx, target, *conf.OffsiteBackup, func(sink io.Writer) error {
		return journal.Export(sink)
	}, logex.Prefix("µbackup", logger))
}
