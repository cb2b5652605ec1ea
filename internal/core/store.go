package core

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"mammo-assist/pkg"
)

// Snapshotter is the persistence contract: whole-list load and save.
type Snapshotter interface {
	Load(ctx context.Context) []pkg.PatientCase
	Save(ctx context.Context, cases []pkg.PatientCase) error
}

// ImageSource resolves the image bytes of a case for analysis.
type ImageSource interface {
	Resolve(ctx context.Context, c *pkg.PatientCase) ([]byte, string, error)
}

// AnalyzeTimeout bounds one shared analysis request.
const AnalyzeTimeout = 2 * time.Minute

// PersistStatus is the outcome of the most recent snapshot.
type PersistStatus struct {
	At  time.Time `json:"at"`
	Err error     `json:"-"`
}

// OK reports whether the last snapshot succeeded.
func (p PersistStatus) OK() bool { return p.Err == nil }

// CaseStore is the only writer of the case list.  Cases are kept in a map
// keyed by ID plus a separate ordering (newest first).  Every mutation
// replaces the case by ID with an updated copy and re-snapshots the whole
// list.  Upstream calls run without holding the lock; when two operations on
// the same case overlap, the last write wins.
type CaseStore struct {
	mu       sync.RWMutex
	cases    map[string]*pkg.PatientCase
	order    []string
	selected string
	persist  PersistStatus

	// persistMu serialises snapshots so an older list never overwrites a
	// newer one.
	persistMu sync.Mutex

	subMu   sync.Mutex
	subs    map[int]chan string
	nextSub int

	analyses singleflight.Group

	repo   Snapshotter
	diag   Diagnoser
	images ImageSource

	now   func() time.Time
	newID func() string
}

// NewCaseStore loads the case list from repo and selects the first case.
func NewCaseStore(ctx context.Context, repo Snapshotter, diag Diagnoser, images ImageSource) *CaseStore {
	s := &CaseStore{
		cases:  make(map[string]*pkg.PatientCase),
		subs:   make(map[int]chan string),
		repo:   repo,
		diag:   diag,
		images: images,
		now:    time.Now,
		newID:  func() string { return "case-" + uuid.NewString() },
	}
	s.replaceAll(repo.Load(ctx))
	return s
}

func (s *CaseStore) replaceAll(list []pkg.PatientCase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.cases
	s.cases = make(map[string]*pkg.PatientCase, len(list))
	s.order = s.order[:0]
	for i := range list {
		c := list[i].Clone()
		if _, dup := s.cases[c.ID]; dup {
			log.Printf("cases load dropping duplicate id=%s", c.ID)
			continue
		}
		// image bytes only exist in this process
		if old, ok := prev[c.ID]; ok && len(old.ImageFile) > 0 {
			c.ImageFile = old.ImageFile
			c.ImageMIME = old.ImageMIME
		}
		s.cases[c.ID] = c
		s.order = append(s.order, c.ID)
	}
	s.fixSelectionLocked()
}

// Reload replaces the in-memory list with the persisted snapshot, keeping
// image bytes for cases that survive.  Used when another instance sharing the
// same database has written a newer snapshot.
func (s *CaseStore) Reload(ctx context.Context) {
	s.replaceAll(s.repo.Load(ctx))
	s.publish("")
}

// fixSelectionLocked falls back to the first case when the selected one is
// gone, or to none when the list is empty.
func (s *CaseStore) fixSelectionLocked() {
	if _, ok := s.cases[s.selected]; ok {
		return
	}
	s.selected = ""
	if len(s.order) > 0 {
		s.selected = s.order[0]
	}
}

// List returns copies of all cases, newest first.
func (s *CaseStore) List() []*pkg.PatientCase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*pkg.PatientCase, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.cases[id].Clone())
	}
	return out
}

// Get returns a copy of the case with the given ID.
func (s *CaseStore) Get(id string) (*pkg.PatientCase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.Clone(), nil
}

// SelectedID returns the selected case ID, or "" when the list is empty.
func (s *CaseStore) SelectedID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

// Selected returns a copy of the selected case, or nil.
func (s *CaseStore) Selected() *pkg.PatientCase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.cases[s.selected]; ok {
		return c.Clone()
	}
	return nil
}

// Select makes id the selected case.
func (s *CaseStore) Select(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cases[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.selected = id
	return nil
}

// PatientIDs returns the distinct patient labels (the part before the first
// "-") in list order, for suggesting existing patients on upload.
func (s *CaseStore) PatientIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, id := range s.order {
		p, _, _ := strings.Cut(s.cases[id].PatientID, "-")
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// PersistStatus returns the outcome of the last snapshot.
func (s *CaseStore) PersistStatus() PersistStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persist
}

// Subscribe returns a channel receiving the ID of every changed case ("" for
// a whole-list change) and a function that cancels the subscription.
// Notifications are dropped for slow subscribers.
func (s *CaseStore) Subscribe() (<-chan string, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan string, 32)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *CaseStore) publish(caseID string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- caseID:
		default:
		}
	}
}

// commit snapshots the whole list and notifies subscribers.  Persistence
// failures are logged and recorded but never returned: the in-memory list
// stays authoritative.
func (s *CaseStore) commit(ctx context.Context, caseID string) {
	s.publish(caseID)

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	snapshot := make([]pkg.PatientCase, 0, len(s.order))
	for _, id := range s.order {
		snapshot = append(snapshot, *s.cases[id])
	}
	s.mu.RUnlock()

	// a cancelled request must not abort the snapshot
	err := s.repo.Save(context.WithoutCancel(ctx), snapshot)
	if err != nil {
		log.Printf("cases snapshot failed cases=%d err=%v", len(snapshot), err)
	}
	s.mu.Lock()
	s.persist = PersistStatus{At: s.now(), Err: err}
	s.mu.Unlock()
}

// update applies fn to a copy of the case and swaps it in.  The lock is
// released even if fn panics.
func (s *CaseStore) update(ctx context.Context, id string, fn func(c *pkg.PatientCase) error) (*pkg.PatientCase, error) {
	out, err := func() (*pkg.PatientCase, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		cur, ok := s.cases[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		s.cases[id] = next
		return next.Clone(), nil
	}()
	if err != nil {
		return nil, err
	}

	s.commit(ctx, id)
	return out, nil
}

// Create adds a freshly uploaded image as a Pending case at the head of the
// list and selects it.  The patient label is the upper-cased patient ID
// joined to the file name.
func (s *CaseStore) Create(ctx context.Context, patientID, filename string, data []byte, mime string) (*pkg.PatientCase, error) {
	patientID = strings.ToUpper(strings.TrimSpace(patientID))
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient ID is required", ErrInvalidInput)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: unsupported file type %s", ErrInvalidInput, mime)
	}
	if filename == "" {
		filename = "image"
	}

	c := &pkg.PatientCase{
		ID:          s.newID(),
		PatientID:   patientID + "-" + filename,
		Date:        s.now().Format("2006-01-02"),
		Status:      pkg.StatusPending,
		ImageFile:   data,
		ImageMIME:   mime,
		PreviewURL:  EncodeDataURL(data, mime),
		ChatHistory: []pkg.ChatMessage{},
	}

	s.mu.Lock()
	if _, dup := s.cases[c.ID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: duplicate case id %s", ErrInvalidInput, c.ID)
	}
	s.cases[c.ID] = c
	s.order = append([]string{c.ID}, s.order...)
	s.selected = c.ID
	out := c.Clone()
	s.mu.Unlock()

	log.Printf("cases create id=%s patient=%s mime=%s size=%d", c.ID, c.PatientID, mime, len(data))
	s.commit(ctx, c.ID)
	return out, nil
}

// Remove deletes a case.  Selection falls back to the first remaining case.
func (s *CaseStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.cases[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.cases, id)
	order := make([]string, 0, len(s.order))
	for _, o := range s.order {
		if o != id {
			order = append(order, o)
		}
	}
	s.order = order
	s.fixSelectionLocked()
	s.mu.Unlock()

	log.Printf("cases remove id=%s", id)
	s.commit(ctx, id)
	return nil
}

// Analyze sends a Pending case to the diagnostic model and attaches the
// result, moving the case to Analyzed.  On failure the case is left exactly
// as it was.  Concurrent calls for the same case share one upstream request.
func (s *CaseStore) Analyze(ctx context.Context, id string) (*pkg.PatientCase, error) {
	ch := s.analyses.DoChan(id, func() (interface{}, error) {
		// checked inside the call so a caller arriving just after a shared
		// call finished sees the new status instead of analysing again
		c, err := s.Get(id)
		if err != nil {
			return nil, err
		}
		if c.Status != pkg.StatusPending {
			return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, id, c.Status)
		}
		// shared by every caller, so one disconnecting must not cancel it
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), AnalyzeTimeout)
		defer cancel()
		image, mime, err := s.images.Resolve(actx, c)
		if err != nil {
			return nil, err
		}
		result, err := s.diag.Analyze(actx, image, mime)
		if err != nil {
			return nil, err
		}
		return s.update(actx, id, func(c *pkg.PatientCase) error {
			if c.Status != pkg.StatusPending {
				return fmt.Errorf("%w: %s is %s", ErrNotPending, id, c.Status)
			}
			c.AnalysisResult = result
			c.Status = pkg.StatusAnalyzed
			return nil
		})
	})
	select {
	case <-ctx.Done():
		// the shared call keeps running and still lands its result
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			log.Printf("cases analyze id=%s shared=%t err=%v", id, res.Shared, res.Err)
			return nil, res.Err
		}
		return res.Val.(*pkg.PatientCase).Clone(), nil
	}
}

// UpdateNotes stores the radiologist's notes and moves the case to In
// Review.  Cases without a result cannot be annotated.
func (s *CaseStore) UpdateNotes(ctx context.Context, id, notes string) (*pkg.PatientCase, error) {
	return s.update(ctx, id, func(c *pkg.PatientCase) error {
		if c.AnalysisResult == nil {
			return fmt.Errorf("%w: %s", ErrNotAnalyzed, id)
		}
		c.Notes = notes
		c.Status = pkg.StatusInReview
		return nil
	})
}
