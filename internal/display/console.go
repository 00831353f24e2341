// Package display renders reports and progress for the operator and reads
// operator input.
package display

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

type line struct {
	text string
	err  error
}

// Console reads operator input line by line. A background reader feeds a
// channel so that ReadLine can be abandoned when its context is done without
// losing the line typed afterwards.
type Console struct {
	out         io.Writer
	interactive bool

	once  sync.Once
	in    io.Reader
	lines chan line
	mu    sync.Mutex
}

// NewConsole reads from in and writes prompts to out.
func NewConsole(in io.Reader, out io.Writer, interactive bool) *Console {
	return &Console{in: in, out: out, interactive: interactive, lines: make(chan line)}
}

// NewTerminalConsole uses stdin and stdout. It is interactive when stdin is
// a terminal.
func NewTerminalConsole() *Console {
	return NewConsole(os.Stdin, os.Stdout, term.IsTerminal(int(os.Stdin.Fd())))
}

// Interactive reports whether an operator can answer prompts.
func (c *Console) Interactive() bool { return c.interactive }

func (c *Console) start() {
	c.once.Do(func() {
		go func() {
			scanner := bufio.NewScanner(c.in)
			for scanner.Scan() {
				c.lines <- line{text: scanner.Text()}
			}
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			for {
				c.lines <- line{err: err}
			}
		}()
	})
}

// ReadLine prints prompt and waits for one line. It returns io.EOF once the
// input is closed.
func (c *Console) ReadLine(ctx context.Context, prompt string) (string, error) {
	c.start()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prompt != "" {
		fmt.Fprint(c.out, prompt)
	}

	select {
	case <-ctx.Done():
		fmt.Fprintln(c.out)
		return "", ctx.Err()
	case l := <-c.lines:
		if l.err != nil {
			return "", l.err
		}
		return strings.TrimRight(l.text, "\r"), nil
	}
}
