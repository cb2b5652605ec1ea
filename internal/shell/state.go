// Package shell holds the page-level workflow: which page a browser session
// is on, which auth form is showing, and who is logged in.
package shell

import "mammo-assist/pkg"

// Page is one of the top-level screens.
type Page string

const (
	PageHome      Page = "home"
	PageAuth      Page = "auth"
	PageDashboard Page = "dashboard"
	PageContact   Page = "contact"
)

// AuthView selects the form shown on the auth page.
type AuthView string

const (
	ViewLogin    AuthView = "login"
	ViewRegister AuthView = "register"
)

// State is the shell state of one browser session.  The dashboard is only
// reachable while User is set.
type State struct {
	Page     Page      `json:"page"`
	AuthView AuthView  `json:"authView"`
	User     *pkg.User `json:"user,omitempty"`
}

// Initial is the state of a fresh session.
func Initial() State {
	return State{Page: PageHome, AuthView: ViewLogin}
}

// ActionKind names a shell transition.
type ActionKind int

const (
	NavigateHome ActionKind = iota
	ShowLogin
	ShowRegister
	NavigateContact
	NavigateDashboard
	LoggedIn
	LoggedOut
)

// Action is a transition request.  User is only read for LoggedIn.
type Action struct {
	Kind ActionKind
	User *pkg.User
}

// Reduce returns the state after applying a.  It never mutates s.
func Reduce(s State, a Action) State {
	next := s
	switch a.Kind {
	case NavigateHome:
		next.Page = PageHome
	case ShowLogin:
		next.Page = PageAuth
		next.AuthView = ViewLogin
	case ShowRegister:
		next.Page = PageAuth
		next.AuthView = ViewRegister
	case NavigateContact:
		next.Page = PageContact
	case NavigateDashboard:
		next.Page = PageDashboard
	case LoggedIn:
		if a.User == nil {
			return s
		}
		u := *a.User
		next.User = &u
		next.Page = PageDashboard
	case LoggedOut:
		next.User = nil
		next.AuthView = ViewLogin
		next.Page = PageHome
	}
	switch {
	case next.Page == PageDashboard && next.User == nil:
		next.Page = PageHome
	case next.User != nil && next.Page != PageContact:
		// a signed-in user only ever sees the dashboard or the contact page
		next.Page = PageDashboard
	}
	return next
}

// ActionForPage maps a navigation target to its action.  ok is false for
// unknown pages.
func ActionForPage(page string) (Action, bool) {
	switch page {
	case "home", "":
		return Action{Kind: NavigateHome}, true
	case "login":
		return Action{Kind: ShowLogin}, true
	case "register":
		return Action{Kind: ShowRegister}, true
	case "contact":
		return Action{Kind: NavigateContact}, true
	case "dashboard":
		return Action{Kind: NavigateDashboard}, true
	}
	return Action{}, false
}
