package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	errSessionPasswordNeeded = "SESSION_PASSWORD_NEEDED"
	errPhoneCodeInvalid      = "PHONE_CODE_INVALID"
)

// Authorization errors.
var (
	ErrPasswordNeeded  = errors.New("two-factor password required")
	ErrCodeInvalid     = errors.New("login code invalid")
	ErrPasswordInvalid = errors.New("two-factor password invalid")
	ErrUnauthorized    = errors.New("session not authorized")
)

// Prompter collects login secrets from a human.
type Prompter interface {
	Code(ctx context.Context, phone string) (string, error)
	Password(ctx context.Context) (string, error)
}

type credentials struct {
	APIID   int    `json:"api_id"`
	APIHash string `json:"api_hash"`
	Phone   string `json:"phone"`
}

type statusResponse struct {
	Authorized bool `json:"authorized"`
}

type sendCodeResponse struct {
	PhoneCodeHash string `json:"phone_code_hash"`
}

type signInRequest struct {
	credentials
	Code          string `json:"code"`
	PhoneCodeHash string `json:"phone_code_hash"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

func (c *Client) creds() credentials {
	return credentials{APIID: c.cfg.APIID, APIHash: c.cfg.APIHash, Phone: c.cfg.Phone}
}

// Authorized reports whether the bridge session is logged in.
func (c *Client) Authorized(ctx context.Context) (bool, error) {
	var st statusResponse
	if err := c.call(ctx, "/v1/auth/status", c.creds(), &st); err != nil {
		return false, err
	}
	return st.Authorized, nil
}

// Authorize connects the session, running the login-code flow (and the
// two-factor password step when the account has one) if it is not yet
// authorized. An invalid login code is fatal.
func (c *Client) Authorize(ctx context.Context, p Prompter) error {
	ok, err := c.Authorized(ctx)
	if err != nil {
		return fmt.Errorf("check authorization: %w", err)
	}
	if ok {
		return nil
	}
	if p == nil {
		return fmt.Errorf("authorize %s: %w", c.cfg.Phone, ErrUnauthorized)
	}

	var sent sendCodeResponse
	if err := c.call(ctx, "/v1/auth/send-code", c.creds(), &sent); err != nil {
		return fmt.Errorf("send login code: %w", err)
	}

	code, err := p.Code(ctx, c.cfg.Phone)
	if err != nil {
		return fmt.Errorf("read login code: %w", err)
	}

	err = c.call(ctx, "/v1/auth/sign-in", signInRequest{
		credentials:   c.creds(),
		Code:          strings.TrimSpace(code),
		PhoneCodeHash: sent.PhoneCodeHash,
	}, nil)
	if err == nil {
		return nil
	}
	// PHONE_CODE_INVALID and everything else except the 2FA challenge end here.
	if !errors.Is(err, ErrPasswordNeeded) {
		return fmt.Errorf("sign in: %w", err)
	}

	password, err := p.Password(ctx)
	if err != nil {
		return fmt.Errorf("read 2FA password: %w", err)
	}
	if err := c.call(ctx, "/v1/auth/password", passwordRequest{Password: password}, nil); err != nil {
		return fmt.Errorf("check 2FA password: %w", err)
	}
	return nil
}

// TerminalPrompter reads the login code as a line and the password with
// echo disabled when In is a terminal.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer

	reader *bufio.Reader
}

// NewTerminalPrompter prompts on stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

func (t *TerminalPrompter) line() (string, error) {
	if t.reader == nil {
		t.reader = bufio.NewReader(t.In)
	}
	s, err := t.reader.ReadString('\n')
	if err != nil && (err != io.EOF || s == "") {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

func (t *TerminalPrompter) Code(_ context.Context, phone string) (string, error) {
	fmt.Fprintf(t.Out, "Enter the code sent to %s: ", phone)
	return t.line()
}

func (t *TerminalPrompter) Password(context.Context) (string, error) {
	fmt.Fprint(t.Out, "Enter your 2FA password: ")
	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		return t.line()
	}
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(t.Out)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
