package core

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mammo-assist/internal/db"
	"mammo-assist/internal/llm"
	"mammo-assist/pkg"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n0000")

type fakeStream struct {
	parts []string
	err   error
	i     int
	ctx   context.Context
	// after runs once each part has been handed out
	after func(i int)
}

func (f *fakeStream) Recv() (string, error) {
	if f.ctx != nil && f.ctx.Err() != nil {
		return "", f.ctx.Err()
	}
	if f.i < len(f.parts) {
		if f.after != nil && f.i > 0 {
			f.after(f.i)
		}
		f.i++
		return f.parts[f.i-1], nil
	}
	if f.err != nil {
		return "", f.err
	}
	return "", io.EOF
}

func (f *fakeStream) Close() error { return nil }

type fakeDiagnoser struct {
	result   *pkg.AnalysisResult
	err      error
	parts    []string
	streamEr error
	startErr error
	between  func(i int)
	calls    atomic.Int32
	block    chan struct{}
	entered  chan struct{}

	mu          sync.Mutex
	lastHistory []pkg.ChatMessage
	lastText    string
}

func (f *fakeDiagnoser) Analyze(ctx context.Context, image []byte, mime string) (*pkg.AnalysisResult, error) {
	f.calls.Add(1)
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	r := *f.result
	return &r, nil
}

func (f *fakeDiagnoser) StartFollowUp(ctx context.Context, result pkg.AnalysisResult, history []pkg.ChatMessage, text string) (llm.Stream, error) {
	f.mu.Lock()
	f.lastHistory = history
	f.lastText = text
	f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &fakeStream{parts: f.parts, err: f.streamEr, ctx: ctx, after: f.between}, nil
}

type staticImages struct{}

func (staticImages) Resolve(ctx context.Context, c *pkg.PatientCase) ([]byte, string, error) {
	return pngBytes, "image/png", nil
}

type failingSnapshots struct{ saves int }

func (f *failingSnapshots) Load(context.Context) []pkg.PatientCase { return db.Seed() }
func (f *failingSnapshots) Save(context.Context, []pkg.PatientCase) error {
	f.saves++
	return errors.New("quota exceeded")
}

// seedSnapshots always loads the untouched seed and discards saves, like a
// peer instance whose snapshot predates local writes.
type seedSnapshots struct{}

func (seedSnapshots) Load(context.Context) []pkg.PatientCase { return db.Seed() }
func (seedSnapshots) Save(context.Context, []pkg.PatientCase) error {
	return nil
}

func sampleResult() *pkg.AnalysisResult {
	return &pkg.AnalysisResult{
		Diagnosis:       pkg.DiagnosisMalignant,
		Confidence:      0.91,
		LimeExplanation: "...",
		ShapExplanation: []string{"a", "b", "c"},
		GradCamRegion:   pkg.GradCamRegion{X: 0.5, Y: 0.5, R: 0.2},
	}
}

func newTestStore(t *testing.T, diag Diagnoser) (*CaseStore, *db.CaseRepository) {
	t.Helper()
	repo := db.NewCaseRepository(db.NewMemoryKV(), "radiology_cases_v2", nil)
	s := NewCaseStore(context.Background(), repo, diag, staticImages{})
	s.now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) }
	return s, repo
}

func assertInvariant(t *testing.T, s *CaseStore) {
	t.Helper()
	seen := map[string]bool{}
	for _, c := range s.List() {
		assert.False(t, seen[c.ID], "duplicate id %s", c.ID)
		seen[c.ID] = true
		if c.AnalysisResult != nil {
			assert.NotEqual(t, pkg.StatusPending, c.Status, "case %s has a result but is Pending", c.ID)
		}
	}
}

func TestNewCaseStoreLoadsSeedAndSelectsFirst(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{})

	list := s.List()
	require.Len(t, list, 3)
	assert.Equal(t, "case-1", list[0].ID)
	assert.Equal(t, "case-1", s.SelectedID())
	assert.Equal(t, []string{"P001", "P002", "P003"}, s.PatientIDs())
}

func TestCreateInsertsPendingCaseAtHead(t *testing.T) {
	s, repo := newTestStore(t, &fakeDiagnoser{})

	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	assert.Equal(t, "P9-photo.png", c.PatientID)
	assert.Equal(t, pkg.StatusPending, c.Status)
	assert.Equal(t, "2025-03-14", c.Date)
	assert.Nil(t, c.AnalysisResult)
	assert.Equal(t, EncodeDataURL(pngBytes, "image/png"), c.PreviewURL)

	list := s.List()
	require.Len(t, list, 4)
	assert.Equal(t, c.ID, list[0].ID)
	assert.Equal(t, c.ID, s.SelectedID())

	persisted := repo.Load(context.Background())
	require.Len(t, persisted, 4)
	assert.Equal(t, c.ID, persisted[0].ID)
	assert.Nil(t, persisted[0].ImageFile, "image bytes must not be persisted")
	assertInvariant(t, s)
}

func TestCreateRejectsBadInput(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{})
	ctx := context.Background()

	_, err := s.Create(ctx, "  ", "a.png", pngBytes, "image/png")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Create(ctx, "p1", "a.png", nil, "image/png")
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = s.Create(ctx, "p1", "notes.txt", []byte("plain text"), "")
	assert.ErrorIs(t, err, ErrInvalidInput)

	assert.Len(t, s.List(), 3)
}

func TestAnalyzeAttachesResult(t *testing.T) {
	diag := &fakeDiagnoser{result: sampleResult()}
	s, _ := newTestStore(t, diag)
	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	got, err := s.Analyze(context.Background(), c.ID)
	require.NoError(t, err)

	assert.Equal(t, pkg.StatusAnalyzed, got.Status)
	assert.Equal(t, sampleResult(), got.AnalysisResult)
	stored, _ := s.Get(c.ID)
	assert.Equal(t, pkg.StatusAnalyzed, stored.Status)
	assertInvariant(t, s)
}

func TestAnalyzeFailureLeavesCaseUnchanged(t *testing.T) {
	diag := &fakeDiagnoser{err: ErrUpstream}
	s, _ := newTestStore(t, diag)
	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	_, err = s.Analyze(context.Background(), c.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpstream)

	after, err := s.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, c, after)
}

func TestAnalyzeRejectsNonPendingAndUnknown(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{result: sampleResult()})

	_, err := s.Analyze(context.Background(), "case-1")
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = s.Analyze(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentAnalyzeSharesOneUpstreamCall(t *testing.T) {
	diag := &fakeDiagnoser{result: sampleResult(), block: make(chan struct{}), entered: make(chan struct{})}
	s, _ := newTestStore(t, diag)
	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = s.Analyze(context.Background(), c.ID)
	}()
	<-diag.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[1] = s.Analyze(context.Background(), c.ID)
	}()
	time.Sleep(50 * time.Millisecond)
	close(diag.block)
	wg.Wait()

	assert.NoError(t, errs[0])
	assert.NoError(t, errs[1])
	assert.Equal(t, int32(1), diag.calls.Load())
}

func TestAnalyzeAfterSharedCallFinishedDoesNotCallUpstream(t *testing.T) {
	diag := &fakeDiagnoser{result: sampleResult()}
	s, _ := newTestStore(t, diag)
	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	_, err = s.Analyze(context.Background(), c.ID)
	require.NoError(t, err)
	_, err = s.Analyze(context.Background(), c.ID)
	assert.ErrorIs(t, err, ErrNotPending)
	assert.Equal(t, int32(1), diag.calls.Load())
}

func TestAnalyzeSurvivesFirstCallerDisconnect(t *testing.T) {
	diag := &fakeDiagnoser{result: sampleResult(), block: make(chan struct{}), entered: make(chan struct{})}
	s, _ := newTestStore(t, diag)
	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var firstErr, secondErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = s.Analyze(firstCtx, c.ID)
	}()
	<-diag.entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, secondErr = s.Analyze(context.Background(), c.ID)
	}()
	time.Sleep(50 * time.Millisecond)
	cancelFirst()
	time.Sleep(50 * time.Millisecond)
	close(diag.block)
	wg.Wait()

	assert.ErrorIs(t, firstErr, context.Canceled)
	require.NoError(t, secondErr)
	after, err := s.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, pkg.StatusAnalyzed, after.Status)
	assert.Equal(t, int32(1), diag.calls.Load())
}

func TestUpdateNotesMovesToInReview(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{})
	before, _ := s.Get("case-2")

	got, err := s.UpdateNotes(context.Background(), "case-2", "Compare with prior study.")
	require.NoError(t, err)

	assert.Equal(t, pkg.StatusInReview, got.Status)
	assert.Equal(t, "Compare with prior study.", got.Notes)
	assert.Equal(t, before.AnalysisResult, got.AnalysisResult)
	assert.Equal(t, before.ChatHistory, got.ChatHistory)
}

func TestUpdateNotesOnPendingCaseIsRejected(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{})
	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	_, err = s.UpdateNotes(context.Background(), c.ID, "early note")
	assert.ErrorIs(t, err, ErrNotAnalyzed)

	after, _ := s.Get(c.ID)
	assert.Equal(t, pkg.StatusPending, after.Status)
	assert.Empty(t, after.Notes)
}

func TestSendMessageWithoutResultIsNoop(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{parts: []string{"x"}})
	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	_, err = s.SendMessage(context.Background(), c.ID, "hello?", nil)
	assert.ErrorIs(t, err, ErrNotAnalyzed)

	after, _ := s.Get(c.ID)
	assert.Empty(t, after.ChatHistory)
}

func TestSendMessageFoldsStreamIntoOneModelMessage(t *testing.T) {
	diag := &fakeDiagnoser{parts: []string{"Spiculated ", "margins ", "suggest malignancy."}}
	s, repo := newTestStore(t, diag)

	var partials []string
	got, err := s.SendMessage(context.Background(), "case-3", "Why malignant?", func(m pkg.ChatMessage) {
		partials = append(partials, m.Text)
	})
	require.NoError(t, err)

	assert.Equal(t, []pkg.ChatMessage{
		{Role: pkg.RoleUser, Text: "Why malignant?"},
		{Role: pkg.RoleModel, Text: "Spiculated margins suggest malignancy."},
	}, got.ChatHistory)
	assert.Equal(t, []string{"Spiculated ", "Spiculated margins ", "Spiculated margins suggest malignancy."}, partials)
	assert.Empty(t, diag.lastHistory, "prior history excludes the new message")
	assert.Equal(t, "Why malignant?", diag.lastText)

	persisted := repo.Load(context.Background())
	assert.Equal(t, got.ChatHistory, persisted[2].ChatHistory)

	// second turn sees the first exchange as prior history
	_, err = s.SendMessage(context.Background(), "case-3", "Next steps?", nil)
	require.NoError(t, err)
	assert.Len(t, diag.lastHistory, 2)
}

func TestSendMessageSurvivesReloadMidStream(t *testing.T) {
	diag := &fakeDiagnoser{parts: []string{"Spiculated ", "margins ", "suggest malignancy."}}
	s := NewCaseStore(context.Background(), seedSnapshots{}, diag, staticImages{})
	diag.between = func(i int) {
		if i == 1 {
			s.Reload(context.Background())
		}
	}

	var got *pkg.PatientCase
	var err error
	require.NotPanics(t, func() {
		got, err = s.SendMessage(context.Background(), "case-3", "Why malignant?", nil)
	})
	require.NoError(t, err)

	// the reload dropped the user message and the first increment
	assert.Equal(t, []pkg.ChatMessage{
		{Role: pkg.RoleModel, Text: "Spiculated margins suggest malignancy."},
	}, got.ChatHistory)

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.List()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("store lock still held after the stream")
	}
}

func TestUpdateReleasesLockWhenFnPanics(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{})

	require.Panics(t, func() {
		_, _ = s.update(context.Background(), "case-1", func(c *pkg.PatientCase) error {
			panic("fold went wrong")
		})
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.List()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("store lock still held after panic")
	}
}

func TestSendMessageStreamFailureKeepsPartialAndAppendsFallback(t *testing.T) {
	diag := &fakeDiagnoser{parts: []string{"Partial"}, streamEr: errors.New("connection reset")}
	s, _ := newTestStore(t, diag)

	got, err := s.SendMessage(context.Background(), "case-1", "Explain", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStream)

	require.NotNil(t, got)
	assert.Equal(t, []pkg.ChatMessage{
		{Role: pkg.RoleUser, Text: "Explain"},
		{Role: pkg.RoleModel, Text: "Partial"},
		{Role: pkg.RoleModel, Text: FallbackReply},
	}, got.ChatHistory)
}

func TestSendMessageStartFailureAppendsFallback(t *testing.T) {
	diag := &fakeDiagnoser{startErr: ErrUpstream}
	s, _ := newTestStore(t, diag)

	got, err := s.SendMessage(context.Background(), "case-1", "Explain", nil)
	assert.ErrorIs(t, err, ErrStream)
	require.Len(t, got.ChatHistory, 2)
	assert.Equal(t, FallbackReply, got.ChatHistory[1].Text)
}

func TestSendMessageCancelledKeepsUserMessage(t *testing.T) {
	diag := &fakeDiagnoser{parts: []string{"never"}}
	s, _ := newTestStore(t, diag)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.SendMessage(ctx, "case-1", "Explain", nil)
	assert.ErrorIs(t, err, context.Canceled)

	after, _ := s.Get("case-1")
	assert.Equal(t, []pkg.ChatMessage{{Role: pkg.RoleUser, Text: "Explain"}}, after.ChatHistory)
}

func TestRemoveFallsBackSelection(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{})
	ctx := context.Background()
	require.NoError(t, s.Select("case-2"))

	require.NoError(t, s.Remove(ctx, "case-2"))
	assert.Equal(t, "case-1", s.SelectedID())

	require.NoError(t, s.Remove(ctx, "case-1"))
	require.NoError(t, s.Remove(ctx, "case-3"))
	assert.Equal(t, "", s.SelectedID())
	assert.Nil(t, s.Selected())

	assert.ErrorIs(t, s.Remove(ctx, "case-3"), ErrNotFound)
	assert.ErrorIs(t, s.Select("case-3"), ErrNotFound)
}

func TestPersistenceFailureIsRecordedNotReturned(t *testing.T) {
	snaps := &failingSnapshots{}
	s := NewCaseStore(context.Background(), snaps, &fakeDiagnoser{}, staticImages{})

	got, err := s.UpdateNotes(context.Background(), "case-1", "noted")
	require.NoError(t, err)
	assert.Equal(t, "noted", got.Notes)
	assert.Equal(t, 1, snaps.saves)
	assert.False(t, s.PersistStatus().OK())
}

func TestSubscribeReceivesChangedCaseIDs(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{})
	ch, cancel := s.Subscribe()
	defer cancel()

	_, err := s.UpdateNotes(context.Background(), "case-1", "n")
	require.NoError(t, err)

	select {
	case id := <-ch:
		assert.Equal(t, "case-1", id)
	case <-time.After(time.Second):
		t.Fatal("no notification")
	}
}

func TestReloadKeepsInMemoryImages(t *testing.T) {
	s, _ := newTestStore(t, &fakeDiagnoser{})
	c, err := s.Create(context.Background(), "p9", "photo.png", pngBytes, "image/png")
	require.NoError(t, err)

	s.Reload(context.Background())

	after, err := s.Get(c.ID)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, after.ImageFile)
	assert.Equal(t, c.ID, s.SelectedID())
}
