package expiration

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"
	platformerrors "github.com/jmgilman/go/errors"
	"go.uber.org/zap"
)

// BadgerIndex is the durable, local Index. Two key families per record:
//
//	u/<cache>\x00<url>                 -> timestamp and sequence
//	t/<cache>\x00<timestamp><seq><url> -> empty, iterated oldest first
//
// Timestamps are unix nanos and sequences a database-wide write counter,
// both big endian, so records sharing a timestamp keep write order.
type BadgerIndex struct {
	db  *badger.DB
	seq *badger.Sequence
}

// OpenBadgerIndex opens (or creates) the index under dir. An empty dir
// keeps the index in memory.
func OpenBadgerIndex(dir string, logger *zap.Logger) (*BadgerIndex, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{logger.Named("badger").Sugar()})
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "open eviction index")
	}
	seq, err := db.GetSequence([]byte("s/write"), 1000)
	if err != nil {
		_ = db.Close()
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "open eviction index sequence")
	}
	return &BadgerIndex{db: db, seq: seq}, nil
}

func (b *BadgerIndex) Close() error {
	if err := b.seq.Release(); err != nil {
		_ = b.db.Close()
		return err
	}
	return b.db.Close()
}

func urlKey(cache, url string) []byte {
	return []byte("u/" + cache + "\x00" + url)
}

func timePrefix(cache string) []byte {
	return []byte("t/" + cache + "\x00")
}

// stamp is the big-endian timestamp followed by the write sequence.
type stamp [16]byte

func newStamp(ts int64, seq uint64) stamp {
	var s stamp
	binary.BigEndian.PutUint64(s[:8], uint64(ts))
	binary.BigEndian.PutUint64(s[8:], seq)
	return s
}

func timeKey(cache string, s stamp, url string) []byte {
	k := timePrefix(cache)
	k = append(k, s[:]...)
	return append(k, url...)
}

func (b *BadgerIndex) SetTimestamp(_ context.Context, cache, url string, ts time.Time) error {
	seq, err := b.seq.Next()
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "badger next sequence failed")
	}
	s := newStamp(ts.UnixNano(), seq)
	err = b.db.Update(func(txn *badger.Txn) error {
		if err := deleteRecord(txn, cache, url); err != nil {
			return err
		}
		if err := txn.Set(urlKey(cache, url), s[:]); err != nil {
			return err
		}
		return txn.Set(timeKey(cache, s, url), nil)
	})
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "badger set timestamp failed")
	}
	return nil
}

func (b *BadgerIndex) Expire(_ context.Context, cache string, maxEntries int, maxAge time.Duration, now time.Time) ([]string, error) {
	var victims []string
	err := b.db.Update(func(txn *badger.Txn) error {
		records := scan(txn, cache)
		victims = plan(records, maxEntries, maxAge, now)
		for _, url := range victims {
			if err := deleteRecord(txn, cache, url); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "badger expire failed")
	}
	return victims, nil
}

func (b *BadgerIndex) Delete(_ context.Context, cache, url string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return deleteRecord(txn, cache, url)
	})
	if err != nil {
		return platformerrors.Wrap(err, platformerrors.CodeDatabase, "badger delete failed")
	}
	return nil
}

func (b *BadgerIndex) Records(_ context.Context, cache string) ([]Record, error) {
	var records []Record
	err := b.db.View(func(txn *badger.Txn) error {
		records = scan(txn, cache)
		return nil
	})
	if err != nil {
		return nil, platformerrors.Wrap(err, platformerrors.CodeDatabase, "badger list records failed")
	}
	return records, nil
}

// scan walks the time-ordered keys of cache.
func scan(txn *badger.Txn, cache string) []Record {
	prefix := timePrefix(cache)
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	it := txn.NewIterator(opts)
	defer it.Close()

	var records []Record
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		rest := bytes.TrimPrefix(it.Item().Key(), prefix)
		if len(rest) < len(stamp{}) {
			continue
		}
		ts := int64(binary.BigEndian.Uint64(rest[:8]))
		records = append(records, Record{URL: string(rest[len(stamp{}):]), Timestamp: time.Unix(0, ts)})
	}
	return records
}

func deleteRecord(txn *badger.Txn, cache, url string) error {
	item, err := txn.Get(urlKey(cache, url))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return err
	}
	var s stamp
	if len(val) == len(s) {
		copy(s[:], val)
		if err := txn.Delete(timeKey(cache, s, url)); err != nil {
			return err
		}
	}
	return txn.Delete(urlKey(cache, url))
}

// badgerLogger routes badger's internal logging through zap.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l badgerLogger) Errorf(f string, v ...interface{})   { l.s.Errorf(f, v...) }
func (l badgerLogger) Warningf(f string, v ...interface{}) { l.s.Warnf(f, v...) }
func (l badgerLogger) Infof(f string, v ...interface{})    { l.s.Debugf(f, v...) }
func (l badgerLogger) Debugf(f string, v ...interface{})   { l.s.Debugf(f, v...) }
