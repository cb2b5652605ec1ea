package shell

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mammo-assist/pkg"
)

var radiologist = &pkg.User{Name: "Dr. Radiologist", Email: "radiologist@health.com", Specialization: "Radiology"}

func TestReduceLoginLandsOnDashboard(t *testing.T) {
	s := Reduce(Initial(), Action{Kind: ShowLogin})
	assert.Equal(t, PageAuth, s.Page)
	assert.Equal(t, ViewLogin, s.AuthView)

	s = Reduce(s, Action{Kind: LoggedIn, User: radiologist})
	assert.Equal(t, PageDashboard, s.Page)
	require.NotNil(t, s.User)
	assert.Equal(t, "Dr. Radiologist", s.User.Name)
}

func TestReduceLogoutClearsUser(t *testing.T) {
	s := Reduce(Initial(), Action{Kind: ShowRegister})
	s = Reduce(s, Action{Kind: LoggedIn, User: radiologist})
	s = Reduce(s, Action{Kind: LoggedOut})

	assert.Equal(t, PageHome, s.Page)
	assert.Equal(t, ViewLogin, s.AuthView)
	assert.Nil(t, s.User)
}

func TestReduceDashboardRequiresUser(t *testing.T) {
	s := Reduce(Initial(), Action{Kind: NavigateDashboard})
	assert.Equal(t, PageHome, s.Page)

	s = Reduce(s, Action{Kind: LoggedIn})
	assert.Equal(t, PageHome, s.Page, "login without a user is ignored")
}

func TestReduceKeepsSignedInUserOnDashboard(t *testing.T) {
	s := Reduce(Initial(), Action{Kind: LoggedIn, User: radiologist})

	for _, kind := range []ActionKind{NavigateHome, ShowLogin, ShowRegister} {
		got := Reduce(s, Action{Kind: kind})
		assert.Equal(t, PageDashboard, got.Page, "action %d", kind)
		assert.NotNil(t, got.User)
	}

	contact := Reduce(s, Action{Kind: NavigateContact})
	assert.Equal(t, PageContact, contact.Page)
	assert.Equal(t, PageDashboard, Reduce(contact, Action{Kind: NavigateHome}).Page)
}

func TestReduceDoesNotAliasUser(t *testing.T) {
	u := *radiologist
	s := Reduce(Initial(), Action{Kind: LoggedIn, User: &u})
	u.Name = "changed"
	assert.Equal(t, "Dr. Radiologist", s.User.Name)
}

func TestActionForPage(t *testing.T) {
	a, ok := ActionForPage("contact")
	require.True(t, ok)
	assert.Equal(t, NavigateContact, a.Kind)

	_, ok = ActionForPage("admin")
	assert.False(t, ok)
}

func TestLogin(t *testing.T) {
	a := NewAuthenticator("radiologist@health.com", "password123", "Dr. Radiologist", "Radiology")

	u, err := a.Login(" Radiologist@Health.com ", "password123")
	require.NoError(t, err)
	assert.Equal(t, "Radiology", u.Specialization)

	_, err = a.Login("radiologist@health.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegister(t *testing.T) {
	a := NewAuthenticator("x@y", "p", "X", "Y")

	_, err := a.Register(RegisterForm{Name: "Ann", Email: "ann@clinic.org", Specialization: "Oncology", Password: "a", ConfirmPassword: "b"})
	assert.ErrorIs(t, err, ErrPasswordMismatch)

	_, err = a.Register(RegisterForm{Name: " ", Email: "ann@clinic.org", Specialization: "Oncology", Password: "a", ConfirmPassword: "a"})
	assert.ErrorIs(t, err, ErrMissingFields)

	u, err := a.Register(RegisterForm{Name: "Ann", Email: "ann@clinic.org", Specialization: "Oncology", Password: "a", ConfirmPassword: "a"})
	require.NoError(t, err)
	assert.Equal(t, &pkg.User{Name: "Ann", Email: "ann@clinic.org", Specialization: "Oncology"}, u)
}

func TestSessionsIssueCookieAndRemember(t *testing.T) {
	s := NewSessions()

	rec := httptest.NewRecorder()
	id, st := s.Get(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, Initial(), st)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, id, cookies[0].Value)

	s.Apply(id, Action{Kind: LoggedIn, User: radiologist})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	again, st := s.Get(rec, req)
	assert.Equal(t, id, again)
	assert.Equal(t, PageDashboard, st.Page)
	assert.Empty(t, rec.Result().Cookies())

	_, ok := s.Lookup("unknown")
	assert.False(t, ok)
}

func TestSessionsAreNotStoredUntilApplied(t *testing.T) {
	s := NewSessions()

	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		id, st := s.Get(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, Initial(), st)
		_, ok := s.Lookup(id)
		assert.False(t, ok)
	}
	assert.Equal(t, 0, s.Len())
}

func TestSessionsExpireWhenIdle(t *testing.T) {
	s := NewSessions()
	now := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.TTL = time.Hour

	s.Apply("idle", Action{Kind: LoggedIn, User: radiologist})
	s.Apply("busy", Action{Kind: LoggedIn, User: radiologist})

	now = now.Add(40 * time.Minute)
	_, ok := s.Lookup("busy")
	require.True(t, ok)
	s.Apply("busy", Action{Kind: NavigateContact})

	now = now.Add(40 * time.Minute)
	_, ok = s.Lookup("idle")
	assert.False(t, ok, "idle session outlived its TTL")
	st, ok := s.Lookup("busy")
	require.True(t, ok)
	assert.Equal(t, PageContact, st.Page)

	// a later write sweeps whatever is left over
	s.Apply("other", Action{Kind: NavigateContact})
	now = now.Add(2 * time.Hour)
	s.Apply("fresh", Action{Kind: NavigateContact})
	assert.Equal(t, 1, s.Len())
}
