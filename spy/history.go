package spy

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mtraver/base91"
	"github.com/vmihailenco/msgpack/v5"
)

const historyKeyPrefix = "run"

// HistoryRecord is one instrumentation run as kept in the history store.
type HistoryRecord struct {
	Key          string    `msgpack:"k" json:"key"`
	Name         string    `msgpack:"n" json:"name"`
	Time         time.Time `msgpack:"t" json:"time"`
	FunctionName string    `msgpack:"f,omitempty" json:"function,omitempty"`
	Source       string    `msgpack:"s" json:"source"`
	Output       string    `msgpack:"o,omitempty" json:"output,omitempty"`
	Kinds        []string  `msgpack:"kd,omitempty" json:"kinds,omitempty"`
	Spliced      int       `msgpack:"sp" json:"spliced"`
	Error        string    `msgpack:"e,omitempty" json:"error,omitempty"`
}

// SourceKey returns the stable history key for a source text.
func SourceKey(src string) string {
	sha := sha1.Sum([]byte(src))
	return base91.StdEncoding.EncodeToString(sha[:])
}

// NewHistoryRecord builds a record from the outcome of instrumenting src.
func NewHistoryRecord(name, src string, result *Result, runErr error, now time.Time) HistoryRecord {
	rec := HistoryRecord{
		Key:    SourceKey(src),
		Name:   name,
		Time:   now,
		Source: src,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	if result != nil {
		rec.FunctionName = result.FunctionName
		rec.Output = result.Output
		rec.Spliced = result.Spliced
		rec.Kinds = make([]string, len(result.Kinds))
		for i, k := range result.Kinds {
			rec.Kinds[i] = k.String()
		}
	}
	return rec
}

// History keeps the latest run for each distinct source.
type History struct {
	store Storage
}

// NewHistory keeps records in store under the history key prefix.
func NewHistory(store Storage) *History {
	return &History{store: store}
}

func historyStoreKey(key string) string {
	return historyKeyPrefix + ";" + key
}

// Save writes rec, replacing an earlier run of the same source.
func (h *History) Save(rec HistoryRecord) error {
	if rec.Key == "" {
		return errors.New("history record missing key")
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode history record: %w", err)
	}
	return h.store.Put(historyStoreKey(rec.Key), compressRecord(data))
}

// Load returns the record stored under key.
func (h *History) Load(key string) (HistoryRecord, bool, error) {
	var rec HistoryRecord
	blob, ok, err := h.store.Get(historyStoreKey(key))
	if err != nil || !ok {
		return rec, ok, err
	}
	data, err := decompressRecord(blob)
	if err != nil {
		return rec, false, fmt.Errorf("decompress history record %s: %w", key, err)
	} else if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, false, fmt.Errorf("decode history record %s: %w", key, err)
	}
	return rec, true, nil
}

// List returns every record, oldest first.
func (h *History) List() ([]HistoryRecord, error) {
	keys, err := h.store.Keys(historyStoreKey(""))
	if err != nil {
		return nil, err
	}
	records := make([]HistoryRecord, 0, len(keys))
	for _, storeKey := range keys {
		rec, ok, err := h.Load(strings.TrimPrefix(storeKey, historyStoreKey("")))
		if err != nil {
			return nil, err
		} else if ok {
			records = append(records, rec)
		}
	}
	slices.SortFunc(records, func(a, b HistoryRecord) int {
		if c := a.Time.Compare(b.Time); c != 0 {
			return c
		}
		return strings.Compare(a.Key, b.Key)
	})
	return records, nil
}

// Delete removes the record stored under key, reporting whether it existed.
func (h *History) Delete(key string) (bool, error) {
	storeKey := historyStoreKey(key)
	if _, ok, err := h.store.Get(storeKey); err != nil || !ok {
		return false, err
	}
	return true, h.store.Delete(storeKey)
}

// Clear removes every record.
func (h *History) Clear() error {
	return h.store.DeletePrefix(historyStoreKey(""))
}

// Close releases the underlying store.
func (h *History) Close() error {
	return h.store.Close()
}
