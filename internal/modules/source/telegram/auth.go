package telegram

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"
	"github.com/samber/oops"
)

// terminalAuth drives the interactive login flow. The phone number comes from
// configuration; the confirmation code and the optional 2FA password are read
// from the terminal on first login only, after which the session file takes
// over.
type terminalAuth struct {
	phone string
	in    *bufio.Reader
}

func newTerminalAuth(phone string) terminalAuth {
	return terminalAuth{phone: phone, in: bufio.NewReader(os.Stdin)}
}

func (a terminalAuth) Phone(_ context.Context) (string, error) {
	if a.phone != "" {
		return a.phone, nil
	}
	return a.prompt("Phone number: ")
}

func (a terminalAuth) Code(_ context.Context, _ *tg.AuthSentCode) (string, error) {
	return a.prompt("Confirmation code: ")
}

func (a terminalAuth) Password(_ context.Context) (string, error) {
	return a.prompt("2FA password: ")
}

func (a terminalAuth) AcceptTermsOfService(_ context.Context, _ tg.HelpTermsOfService) error {
	return nil
}

func (a terminalAuth) SignUp(_ context.Context) (auth.UserInfo, error) {
	return auth.UserInfo{}, oops.With("context", "account sign-up is not supported, register the account first").Errorf("sign-up required")
}

func (a terminalAuth) prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := a.in.ReadString('\n')
	if err != nil {
		return "", oops.With("context", "failed to read terminal input").Wrap(err)
	}
	return strings.TrimSpace(line), nil
}
