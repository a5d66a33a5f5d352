package sip

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// Credentials for the instrument's HTTP basic auth.
type Credentials struct {
	User   string
	Secret string
}

// CredentialSource supplies credentials on demand, typically by asking the
// operator.  It is injected so the gate is testable without a terminal.
type CredentialSource func() (Credentials, error)

// Gate hands out credentials for firmware versions that demand them, asking
// its source at most once per process.
type Gate struct {
	Source CredentialSource

	cached *Credentials
}

// Ensure returns credentials when the firmware version requires them, nil
// otherwise.  The first call that needs credentials blocks on the source;
// later calls return the cached pair.
func (g *Gate) Ensure(version string) (*Credentials, error) {
	names, err := Names(version)
	if err != nil {
		return nil, err
	}
	if !names.RequiresAuth {
		return nil, nil
	}
	if g.cached != nil {
		return g.cached, nil
	}
	if g.Source == nil {
		return nil, &AuthError{Reason: "firmware " + version + " requires credentials but no credential source is available"}
	}
	c, err := g.Source()
	if err != nil {
		return nil, &AuthError{Reason: "reading credentials", Err: err}
	}
	if c.User == "" {
		return nil, &AuthError{Reason: "firmware " + version + " requires a login name"}
	}
	g.cached = &c
	return g.cached, nil
}

// TerminalSource prompts for credentials on the controlling terminal.  The
// password is read without echo.
func TerminalSource() (Credentials, error) {
	fmt.Println("Please enter your authentication data for the SIP server.")
	fmt.Print("Login name: ")
	user, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return Credentials{}, err
	}
	fmt.Print("Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{User: strings.TrimSpace(user), Secret: string(pw)}, nil
}
