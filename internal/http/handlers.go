package http

import (
	"embed"
	"errors"
	"html/template"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"mammo-assist/internal/core"
	"mammo-assist/internal/shell"
	"mammo-assist/pkg"
)

//go:embed templates/*.html
var templateFS embed.FS

// Server bundles together the dependencies required by HTTP handlers.
type Server struct {
	Store     *core.CaseStore
	Sessions  *shell.Sessions
	Auth      *shell.Authenticator
	Templates *template.Template
}

// NewServer constructs a Server with the embedded page templates.
func NewServer(store *core.CaseStore, sessions *shell.Sessions, auth *shell.Authenticator) (*Server, error) {
	tmpl, err := template.New("pages").Funcs(template.FuncMap{"imageURL": imageURL}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Server{Store: store, Sessions: sessions, Auth: auth, Templates: tmpl}, nil
}

// imageURL lets inline data:image previews through the template URL filter.
// Anything other than an image data URL or http(s) is dropped.
func imageURL(u string) template.URL {
	switch {
	case strings.HasPrefix(u, "data:image/"), strings.HasPrefix(u, "https://"), strings.HasPrefix(u, "http://"):
		return template.URL(u)
	}
	return ""
}

// Router returns the routes of the application.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(Logging)
	r.Use(Recovery)

	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/nav/{page}", s.handleNavigate).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	r.HandleFunc("/contact", s.handleContact).Methods(http.MethodPost)
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	patient := r.PathPrefix("/patient").Subrouter()
	patient.Use(s.requireUser)
	patient.HandleFunc("/{patientId}", s.handlePatientPage).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.requireUser)
	api.HandleFunc("/cases", s.handleListCases).Methods(http.MethodGet)
	api.HandleFunc("/cases", s.handleCreateCase).Methods(http.MethodPost)
	api.HandleFunc("/cases/{id}", s.handleGetCase).Methods(http.MethodGet)
	api.HandleFunc("/cases/{id}", s.handleDeleteCase).Methods(http.MethodDelete)
	api.HandleFunc("/cases/{id}/select", s.handleSelectCase).Methods(http.MethodPost)
	api.HandleFunc("/cases/{id}/analyze", s.handleAnalyzeCase).Methods(http.MethodPost)
	api.HandleFunc("/cases/{id}/notes", s.handleUpdateNotes).Methods(http.MethodPut)
	api.HandleFunc("/cases/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	api.HandleFunc("/patients", s.handlePatients).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	return r
}

// requireUser rejects requests from sessions that are not logged in.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(shell.CookieName)
		if err == nil {
			if st, ok := s.Sessions.Lookup(c.Value); ok && st.User != nil {
				next.ServeHTTP(w, r)
				return
			}
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			WriteError(w, http.StatusUnauthorized, CodeUnauthorized, "login required")
			return
		}
		http.Redirect(w, r, "/nav/login", http.StatusSeeOther)
	})
}

type pageData struct {
	State      shell.State
	Error      string
	Flash      string
	Cases      []CaseView
	Selected   *CaseView
	PatientIDs []string
	Persisted  bool

	PatientID string
	Patient   *CaseView
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.Templates.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("render template=%s err=%v", name, err)
	}
}

// renderState renders whichever page the session is on.
func (s *Server) renderState(w http.ResponseWriter, status int, st shell.State, data pageData) {
	data.State = st
	switch st.Page {
	case shell.PageAuth:
		s.render(w, status, "auth.html", data)
	case shell.PageContact:
		s.render(w, status, "contact.html", data)
	case shell.PageDashboard:
		for _, c := range s.Store.List() {
			data.Cases = append(data.Cases, presentCase(c))
		}
		if sel := s.Store.Selected(); sel != nil {
			v := presentCase(sel)
			data.Selected = &v
		}
		data.PatientIDs = s.Store.PatientIDs()
		data.Persisted = s.Store.PersistStatus().OK()
		s.render(w, status, "dashboard.html", data)
	default:
		s.render(w, status, "home.html", data)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	_, st := s.Sessions.Get(w, r)
	s.renderState(w, http.StatusOK, st, pageData{})
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	action, ok := shell.ActionForPage(mux.Vars(r)["page"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	id, _ := s.Sessions.Get(w, r)
	s.Sessions.Apply(id, action)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, st := s.Sessions.Get(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	user, err := s.Auth.Login(r.FormValue("email"), r.FormValue("password"))
	if err != nil {
		st = s.Sessions.Apply(id, shell.Action{Kind: shell.ShowLogin})
		s.renderState(w, http.StatusUnauthorized, st, pageData{
			Error: "Invalid credentials. Hint: " + s.Auth.Email + " / " + s.Auth.Password,
		})
		return
	}
	s.Sessions.Apply(id, shell.Action{Kind: shell.LoggedIn, User: user})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	id, _ := s.Sessions.Get(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	user, err := s.Auth.Register(shell.RegisterForm{
		Name:            r.FormValue("name"),
		Email:           r.FormValue("email"),
		Specialization:  r.FormValue("specialization"),
		Password:        r.FormValue("password"),
		ConfirmPassword: r.FormValue("confirm_password"),
	})
	if err != nil {
		st := s.Sessions.Apply(id, shell.Action{Kind: shell.ShowRegister})
		msg := "Please fill out all fields."
		if errors.Is(err, shell.ErrPasswordMismatch) {
			msg = "Passwords do not match."
		}
		s.renderState(w, http.StatusBadRequest, st, pageData{Error: msg})
		return
	}
	s.Sessions.Apply(id, shell.Action{Kind: shell.LoggedIn, User: user})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _ := s.Sessions.Get(w, r)
	s.Sessions.Apply(id, shell.Action{Kind: shell.LoggedOut})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleContact accepts the contact form.  Submissions are only logged.
func (s *Server) handleContact(w http.ResponseWriter, r *http.Request) {
	id, _ := s.Sessions.Get(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	log.Printf("contact name=%q email=%q chars=%d", r.FormValue("name"), r.FormValue("email"), len(r.FormValue("message")))
	st := s.Sessions.Apply(id, shell.Action{Kind: shell.NavigateContact})
	s.renderState(w, http.StatusOK, st, pageData{
		Flash: "Your message has been sent successfully. We will get back to you shortly.",
	})
}

// handlePatientPage renders the read-only report for one patient label.
func (s *Server) handlePatientPage(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["patientId"]
	_, st := s.Sessions.Get(w, r)
	data := pageData{State: st, PatientID: patientID}
	status := http.StatusNotFound
	if c := s.findPatientCase(patientID); c != nil {
		v := presentPatientCase(c)
		data.Patient = &v
		status = http.StatusOK
	}
	s.render(w, status, "patient.html", data)
}

func (s *Server) findPatientCase(patientID string) *pkg.PatientCase {
	for _, c := range s.Store.List() {
		if strings.EqualFold(c.PatientID, patientID) {
			return c
		}
	}
	return nil
}
