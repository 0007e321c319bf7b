// Package console handles the operator side of an interactive extraction:
// free-text replies to the agent and y/n confirmations.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

// ErrExit is returned by Ask when the operator types "exit".
var ErrExit = errors.New("operator requested exit")

type lineResult struct {
	line string
	err  error
}

// Prompter reads one line at a time from an input stream. A read abandoned
// by a cancelled context stays pending and feeds the next call.
type Prompter struct {
	out     io.Writer
	scanner *bufio.Scanner

	mu      sync.Mutex
	pending chan lineResult
}

// New returns a Prompter reading from in and writing prompts to out.
func New(in io.Reader, out io.Writer) *Prompter {
	return &Prompter{
		out:     out,
		scanner: bufio.NewScanner(in),
	}
}

// ReadLine prints prompt and waits for the next input line, without its
// line terminator. End of input yields io.EOF.
func (p *Prompter) ReadLine(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	fmt.Fprint(p.out, prompt)

	p.mu.Lock()
	ch := p.pending
	if ch == nil {
		ch = make(chan lineResult, 1)
		p.pending = ch
		go p.scan(ch)
	}
	p.mu.Unlock()

	select {
	case r := <-ch:
		p.mu.Lock()
		p.pending = nil
		p.mu.Unlock()
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *Prompter) scan(ch chan<- lineResult) {
	if p.scanner.Scan() {
		ch <- lineResult{line: p.scanner.Text()}
		return
	}
	err := p.scanner.Err()
	if err == nil {
		err = io.EOF
	}
	ch <- lineResult{err: err}
}

// Ask reads a free-text reply. Typing exit, in any case and with any
// surrounding whitespace, returns ErrExit.
func (p *Prompter) Ask(ctx context.Context, prompt string) (string, error) {
	line, err := p.ReadLine(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.EqualFold(strings.TrimSpace(line), "exit") {
		return "", ErrExit
	}
	return line, nil
}

// Confirm asks a y/n question. Only "y" counts as yes.
func (p *Prompter) Confirm(ctx context.Context, prompt string) (bool, error) {
	line, err := p.ReadLine(ctx, prompt)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(line), "y"), nil
}
