package runjournal

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/asdine/storm/codec/msgpack"
	bolt "go.etcd.io/bbolt"
)

// Export dumps the whole journal as text: a heading followed by one JSON document
// per line, oldest run first. this is what the offsite backup ships - the bbolt file
// itself would be a poor archive format (binary, and possibly mid-write).
func (j *Journal) Export(output io.Writer) error {
	outputBuffered := bufio.NewWriterSize(output, 1024*32)

	if _, err := outputBuffered.WriteString("# peili backup runs\n"); err != nil {
		return err
	}

	jsonEncoder := json.NewEncoder(outputBuffered)

	if err := j.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(runsBucket)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(_ []byte, data []byte) error {
			run := Run{}
			if err := msgpack.Codec.Unmarshal(data, &run); err != nil {
				return err
			}

			return jsonEncoder.Encode(run)
		})
	}); err != nil {
		return err
	}

	return outputBuffered.Flush()
}
