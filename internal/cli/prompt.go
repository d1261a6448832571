package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/koustreak/sqlexplorer/internal/errs"
)

// Prompter reads answers from the user.
type Prompter interface {
	Line(prompt string) (string, error)
	Secret(prompt string) (string, error)
}

// termPrompter reads from stdin, hiding secrets when stdin is a terminal.
type termPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *termPrompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", errs.Wrap(errs.ErrKindCanceled, "no input", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *termPrompter) Secret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return p.Line(prompt)
	}
	fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindCanceled, "no input", err)
	}
	return string(b), nil
}

// rlPrompter asks through the console's readline instance.
type rlPrompter struct {
	rl     *readline.Instance
	prompt string
}

func (p *rlPrompter) Line(prompt string) (string, error) {
	p.rl.SetPrompt(prompt)
	defer p.rl.SetPrompt(p.prompt)
	line, err := p.rl.Readline()
	if err != nil {
		return "", errs.Wrap(errs.ErrKindCanceled, "no input", err)
	}
	return strings.TrimSpace(line), nil
}

func (p *rlPrompter) Secret(prompt string) (string, error) {
	b, err := p.rl.ReadPassword(prompt)
	if err != nil {
		return "", errs.Wrap(errs.ErrKindCanceled, "no input", err)
	}
	return string(b), nil
}
