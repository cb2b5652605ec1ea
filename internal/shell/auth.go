package shell

import (
	"errors"
	"log"
	"strings"

	"mammo-assist/pkg"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordMismatch   = errors.New("passwords do not match")
	ErrMissingFields      = errors.New("all fields are required")
)

// Authenticator checks a single configured credential.  There is no user
// database: registration only validates the form and logs the new user in.
type Authenticator struct {
	Email          string
	Password       string
	Name           string
	Specialization string
}

// NewAuthenticator constructs an Authenticator for one fixed account.
func NewAuthenticator(email, password, name, specialization string) *Authenticator {
	return &Authenticator{Email: email, Password: password, Name: name, Specialization: specialization}
}

// Login returns the account's user when email (case-insensitive) and
// password match.
func (a *Authenticator) Login(email, password string) (*pkg.User, error) {
	email = strings.TrimSpace(email)
	if !strings.EqualFold(email, a.Email) || password != a.Password {
		log.Printf("auth login rejected email=%s", email)
		return nil, ErrInvalidCredentials
	}
	log.Printf("auth login email=%s", email)
	return &pkg.User{Name: a.Name, Email: a.Email, Specialization: a.Specialization}, nil
}

// RegisterForm is the submitted registration form.
type RegisterForm struct {
	Name            string
	Email           string
	Specialization  string
	Password        string
	ConfirmPassword string
}

// Register validates the form and returns the user to log in.
func (a *Authenticator) Register(f RegisterForm) (*pkg.User, error) {
	name := strings.TrimSpace(f.Name)
	email := strings.TrimSpace(f.Email)
	specialty := strings.TrimSpace(f.Specialization)
	if name == "" || email == "" || specialty == "" || f.Password == "" {
		return nil, ErrMissingFields
	}
	if f.Password != f.ConfirmPassword {
		return nil, ErrPasswordMismatch
	}
	log.Printf("auth register email=%s specialization=%s", email, specialty)
	return &pkg.User{Name: name, Email: email, Specialization: specialty}, nil
}
