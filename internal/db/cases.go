package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"mammo-assist/pkg"
)

// ErrPersistence marks a failed snapshot write.  It is never fatal: the
// in-memory case list stays authoritative for the session.
var ErrPersistence = errors.New("persistence failure")

// CaseRepository snapshots the whole case list under a single key.  There
// are no partial writes: Load restores the full list and Save overwrites it.
type CaseRepository struct {
	Store    KV
	Key      string
	Notifier *Notifier
	// Instance is sent as the notification payload so a server can ignore
	// its own snapshots.
	Instance string
}

// NewCaseRepository constructs a repository for the given key.  notifier may
// be nil.
func NewCaseRepository(store KV, key string, notifier *Notifier) *CaseRepository {
	return &CaseRepository{Store: store, Key: key, Notifier: notifier}
}

// Load restores the case list.  A missing key or malformed content is
// replaced by the seed dataset, which is written back.  A read failure
// returns the seed without touching the store.
func (r *CaseRepository) Load(ctx context.Context) []pkg.PatientCase {
	raw, found, err := r.Store.Get(ctx, r.Key)
	if err != nil {
		log.Printf("cases load key=%s err=%v", r.Key, err)
		return Seed()
	}
	if found {
		cases, err := decodeCases(raw)
		if err == nil {
			return cases
		}
		log.Printf("cases load key=%s discarding malformed snapshot: %v", r.Key, err)
	}
	seed := Seed()
	if err := r.Save(ctx, seed); err != nil {
		log.Printf("cases load key=%s seed write failed: %v", r.Key, err)
	}
	return seed
}

// Save writes the full list.  Image bytes are never serialised.
func (r *CaseRepository) Save(ctx context.Context, cases []pkg.PatientCase) error {
	if cases == nil {
		cases = []pkg.PatientCase{}
	}
	data, err := json.Marshal(cases)
	if err != nil {
		log.Printf("cases save key=%s marshal err=%v", r.Key, err)
		return fmt.Errorf("%w: marshal: %v", ErrPersistence, err)
	}
	if err := r.Store.Set(ctx, r.Key, string(data)); err != nil {
		log.Printf("cases save key=%s err=%v", r.Key, err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if r.Notifier != nil {
		if err := r.Notifier.Notify(ctx, r.Instance); err != nil {
			log.Printf("cases notify key=%s err=%v", r.Key, err)
		}
	}
	return nil
}

func decodeCases(raw string) ([]pkg.PatientCase, error) {
	var cases []pkg.PatientCase
	if err := json.Unmarshal([]byte(raw), &cases); err != nil {
		return nil, err
	}
	// "null" decodes without error but is not an array.
	if cases == nil {
		return nil, errors.New("snapshot is not an array")
	}
	for i := range cases {
		cases[i].ImageFile = nil
		cases[i].ImageMIME = ""
		if cases[i].ChatHistory == nil {
			cases[i].ChatHistory = []pkg.ChatMessage{}
		}
		// a case with a result is never Pending
		if cases[i].AnalysisResult != nil && cases[i].Status == pkg.StatusPending {
			log.Printf("cases load promoting id=%s to %s", cases[i].ID, pkg.StatusAnalyzed)
			cases[i].Status = pkg.StatusAnalyzed
		}
	}
	return cases, nil
}
