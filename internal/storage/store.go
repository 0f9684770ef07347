// Package storage persists run summaries to a local bbolt database so past
// runs can be listed and compared.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"pulse/internal/config"
	"pulse/internal/engine"
)

const bucketRuns = "runs"

// maxHistory caps the number of retained runs.
const maxHistory = 100

// HistoryItem is one persisted run.
type HistoryItem struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Config    config.TestConfig `json:"config"`
	State     string            `json:"state"`
	Summary   RunSummary        `json:"summary"`
}

// RunSummary is the compact slice of the final stats worth keeping.
type RunSummary struct {
	Requests    uint64  `json:"requests"`
	Success     uint64  `json:"success"`
	Errors      uint64  `json:"errors"`
	SuccessRate float64 `json:"success_rate"`
	AvgMs       float64 `json:"avg_ms"`
	P99Ms       float64 `json:"p99_ms"`
	Rate        float64 `json:"rate"`
}

// Summarize condenses a final report into a HistoryItem (without ID).
func Summarize(rep engine.Report) HistoryItem {
	return HistoryItem{
		Timestamp: time.Now(),
		Config:    rep.Config,
		State:     rep.State,
		Summary: RunSummary{
			Requests:    rep.Stats.RequestsSent,
			Success:     rep.Stats.SuccessCount,
			Errors:      rep.Stats.ErrorCount,
			SuccessRate: rep.Stats.SuccessRate,
			AvgMs:       float64(rep.Stats.AvgResponse.Microseconds()) / 1000.0,
			P99Ms:       rep.Stats.P99Ms,
			Rate:        rep.Stats.CurrentRate,
		},
	}
}

type Store struct {
	db *bbolt.DB
}

// Open creates or opens the history database at path. An empty path defaults
// to ~/.pulse/history.db.
func Open(path string) (*Store, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir := filepath.Join(home, ".pulse")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		path = filepath.Join(dir, "history.db")
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes one run, keyed by a time-ordered key so List returns newest
// first, and prunes the history past the cap.
func (s *Store) Save(item HistoryItem) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))

		key := []byte(fmt.Sprintf("%020d_%s", item.Timestamp.UnixNano(), item.ID))
		data, err := json.Marshal(item)
		if err != nil {
			return err
		}
		if err := b.Put(key, data); err != nil {
			return err
		}

		// Prune oldest entries beyond the cap.
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for i := 0; len(keys)-i > maxHistory; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// List returns stored runs, newest first.
func (s *Store) List() ([]HistoryItem, error) {
	var items []HistoryItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err == nil {
				items = append(items, item)
			}
		}
		return nil
	})
	return items, err
}

// Get returns one run by ID, or nil if absent.
func (s *Store) Get(id string) (*HistoryItem, error) {
	var found *HistoryItem

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		return b.ForEach(func(k, v []byte) error {
			var item HistoryItem
			if err := json.Unmarshal(v, &item); err != nil {
				return nil
			}
			if item.ID == id {
				found = &item
			}
			return nil
		})
	})
	return found, err
}
