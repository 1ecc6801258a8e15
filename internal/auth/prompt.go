package auth

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/florianilch/credkeep/internal/secret"
)

// Prompter asks the user for a username and password.
// ok is false when the user gave no answer or no interactive input is available.
type Prompter interface {
	PromptCredential(ctx context.Context, target *url.URL) (cred *secret.Credential, ok bool, err error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context, target *url.URL) (*secret.Credential, bool, error)

// PromptCredential implements Prompter.
func (f PrompterFunc) PromptCredential(ctx context.Context, target *url.URL) (*secret.Credential, bool, error) {
	return f(ctx, target)
}

// TerminalPrompter reads credentials from a terminal. The password is read without echo.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// Compile-time check to ensure TerminalPrompter implements Prompter
var _ Prompter = (*TerminalPrompter)(nil)

// NewTerminalPrompter returns a prompter on stdin/stderr.
func NewTerminalPrompter() *TerminalPrompter {
	return &TerminalPrompter{In: os.Stdin, Out: os.Stderr}
}

// PromptCredential implements Prompter. It reports false without prompting when In
// is not a terminal.
func (p *TerminalPrompter) PromptCredential(ctx context.Context, target *url.URL) (*secret.Credential, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	fd := int(p.In.Fd())
	if !term.IsTerminal(fd) {
		slog.DebugContext(ctx, "not prompting for credentials, input is not a terminal")
		return nil, false, nil
	}

	_, _ = fmt.Fprintf(p.Out, "Credentials for %s\nUsername: ", target.Redacted())
	username, err := bufio.NewReader(p.In).ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, false, fmt.Errorf("reading username: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, false, nil
	}

	_, _ = fmt.Fprint(p.Out, "Password: ")
	password, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(p.Out)
	if err != nil {
		return nil, false, fmt.Errorf("reading password: %w", err)
	}

	cred, err := secret.NewCredential(username, string(password))
	if err != nil {
		return nil, false, nil
	}
	return cred, true, nil
}
