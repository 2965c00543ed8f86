// Persistent journal of backup runs: one record per run (failed ones included) in a
// small bbolt database, so "when did this last work?" survives console scrollback.
package runjournal

import (
	"fmt"
	"time"

	"github.com/asdine/storm/codec/msgpack"
	bolt "go.etcd.io/bbolt"
)

type Run struct {
	ID             string
	Started        time.Time
	Finished       time.Time
	OK             bool
	Error          string // "" when OK
	Provider       string // snapshot provider used
	SnapshotID     string
	MarkerName     string // "" when the run didn't get far enough to write one
	FilesCopied    int64
	BytesCopied    int64
	ExtrasDeleted  int64
	ToolOutputTail []string // last lines of copy tool output, kept for failed runs
}

func (r *Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

var runsBucket = []byte("runs")

type Journal struct {
	db *bolt.DB
}

// the file is created on first open. another process holding it open would block us
// forever without the timeout.
func Open(path string) (*Journal, error) {
	db, err := bolt.Open(path, 0700, &bolt.Options{Timeout: 3 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("run journal: %w", err)
	}

	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) Append(run Run) error {
	data, err := msgpack.Codec.Marshal(&run)
	if err != nil {
		return err
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(runsBucket)
		if err != nil {
			return err
		}

		return bucket.Put(runKey(run), data)
	})
}

// newest first. limit <= 0 means everything.
func (j *Journal) List(limit int) ([]Run, error) {
	runs := []Run{}

	if err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runsBucket)
		if bucket == nil { // no runs yet
			return nil
		}

		cursor := bucket.Cursor()

		for key, data := cursor.Last(); key != nil; key, data = cursor.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}

			run := Run{}
			if err := msgpack.Codec.Unmarshal(data, &run); err != nil {
				return err
			}

			runs = append(runs, run)
		}

		return nil
	}); err != nil {
		return nil, err
	}

	return runs, nil
}

// nil when the journal is empty
func (j *Journal) Latest() (*Run, error) {
	runs, err := j.List(1)
	if err != nil {
		return nil, err
	}

	if len(runs) == 0 {
		return nil, nil
	}

	return &runs[0], nil
}

// RFC3339 in UTC sorts lexicographically in time order, the run ID disambiguates
// same-second starts
func runKey(run Run) []byte {
	return []byte(run.Started.UTC().Format(time.RFC3339) + "/" + run.ID)
}
