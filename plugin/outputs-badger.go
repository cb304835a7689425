package plugin

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	St "github.com/maroda/systole/types"
)

// BadgerOutput keeps finished readings on local disk
type BadgerOutput struct {
	MU        sync.Mutex
	DB        *badger.DB
	BatchSize int
	Buffer    []*St.Reading
}

func NewBadgerOutput(path string, batchSize int) (*BadgerOutput, error) {
	if batchSize < 1 {
		batchSize = 1
	}

	opts := badger.DefaultOptions(path).
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		slog.Error("BadgerOutput failed to open database", slog.Any("error", err))
		return nil, fmt.Errorf("database error: %w", err)
	}

	slog.Info("BadgerOutput opened",
		slog.String("path", path),
		slog.Int("batchSize", batchSize))

	return &BadgerOutput{
		DB:        db,
		BatchSize: batchSize,
		Buffer:    make([]*St.Reading, 0, batchSize),
	}, nil
}

// WriteBeat is a no-op, only whole sessions are stored
func (bo *BadgerOutput) WriteBeat(beat St.Beat) error { return nil }

// WriteReading queues up a reading,
// when batchsize is reached it calls WriteBatch with the buffer
func (bo *BadgerOutput) WriteReading(reading *St.Reading) error {
	bo.MU.Lock()
	defer bo.MU.Unlock()

	bo.Buffer = append(bo.Buffer, reading)
	if len(bo.Buffer) >= bo.BatchSize {
		return bo.flushLocked()
	}
	return nil
}

// WriteBatch performs the key/value creation to be stored
// and actually calls BadgerDB to write the data
func (bo *BadgerOutput) WriteBatch(readings []*St.Reading) error {
	wb := bo.DB.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range readings {
		v, err := ReadingEncode(r)
		if err != nil {
			return fmt.Errorf("encode reading %s: %w", r.ID, err)
		}
		if err := wb.Set(ReadingKey(r), v); err != nil {
			slog.Error("BadgerOutput failed to set key in batch",
				slog.Any("error", err),
				slog.Time("readingTime", r.StartTime),
				slog.String("id", r.ID))
			return fmt.Errorf("write batch error: %w", err)
		}
	}

	if err := wb.Flush(); err != nil {
		slog.Error("BadgerOutput failed to flush batch", slog.Any("error", err))
		return fmt.Errorf("batch flush error: %w", err)
	}

	return nil
}

// Flush is the public method that blocks,
// it sends data to WriteBatch and then clears the buffer
func (bo *BadgerOutput) Flush() error {
	bo.MU.Lock()
	defer bo.MU.Unlock()

	if len(bo.Buffer) == 0 {
		return nil
	}
	return bo.flushLocked()
}

// flushLocked mimics Flush without locking
func (bo *BadgerOutput) flushLocked() error {
	err := bo.WriteBatch(bo.Buffer)
	bo.Buffer = bo.Buffer[:0]
	return err
}

// Close returns a Flush error but still attempts to close
func (bo *BadgerOutput) Close() error {
	slog.Info("BadgerOutput closing, flushing buffer",
		slog.Int("bufferSize", len(bo.Buffer)))
	flushErr := bo.Flush()
	closeErr := bo.DB.Close()

	if flushErr != nil {
		slog.Error("BadgerOutput failed to flush on close", slog.Any("error", flushErr))
		return fmt.Errorf("flush failed, close may have failed: %w", flushErr)
	}

	if closeErr != nil {
		slog.Error("BadgerOutput failed to close database", slog.Any("error", closeErr))
		return fmt.Errorf("close failed: %w", closeErr)
	}

	slog.Info("BadgerOutput closed successfully")
	return nil
}

func (bo *BadgerOutput) Type() string { return "BadgerDB" }

// ReadingKey is the start time followed by the first eight bytes of the ID.
// Big endian keeps keys sorted chronologically in BadgerDB.
func ReadingKey(r *St.Reading) []byte {
	key := make([]byte, 8+8)
	binary.BigEndian.PutUint64(key[0:8], uint64(r.StartTime.UnixNano()))
	copy(key[8:], r.ID)
	return key
}

// ReadingEncode serializes the reading for data storage
func ReadingEncode(r *St.Reading) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadingDecode deserializes the reading data
func ReadingDecode(data []byte) (*St.Reading, error) {
	var r St.Reading
	err := gob.NewDecoder(bytes.NewBuffer(data)).Decode(&r)
	return &r, err
}

// QueryRange retrieves readings that started inside [start, end)
func (bo *BadgerOutput) QueryRange(start, end time.Time) ([]*St.Reading, error) {
	var readings []*St.Reading

	lower := make([]byte, 8)
	binary.BigEndian.PutUint64(lower, uint64(start.UnixNano()))

	err := bo.DB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		// keys are time ordered, seek to start and stop past end
		for it.Seek(lower); it.Valid(); it.Next() {
			item := it.Item()
			ts := int64(binary.BigEndian.Uint64(item.Key()[0:8]))
			if ts >= end.UnixNano() {
				break
			}

			err := item.Value(func(val []byte) error {
				r, err := ReadingDecode(val)
				if err != nil {
					slog.Error("BadgerOutput failed to decode reading", slog.Any("error", err))
					return fmt.Errorf("reading decode error: %w", err)
				}
				readings = append(readings, r)
				return nil
			})
			if err != nil {
				return fmt.Errorf("item data error: %w", err)
			}
		}
		return nil
	})

	slog.Debug("BadgerOutput QueryRange", slog.Int("count", len(readings)))
	return readings, err
}
