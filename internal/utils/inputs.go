package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ErrSelectionCancelled is returned when the user cancels a selection.
var ErrSelectionCancelled = errors.New("selection cancelled")

// ErrNoInput is returned when the input ends before an answer was given.
var ErrNoInput = errors.New("no input")

// Prompter asks questions on a writer and reads the answers line by line.
// Every read goes through one buffered reader, so consecutive questions can
// share the same input.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter creates a prompter reading from in and writing to out.
func NewPrompter(in io.Reader, out io.Writer) *Prompter {
	br, ok := in.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(in)
	}
	return &Prompter{in: br, out: out}
}

// ReadLine reads one line with surrounding whitespace removed.
func (p *Prompter) ReadLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		if errors.Is(err, io.EOF) {
			return "", ErrNoInput
		}
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// Ask prints prompt and returns the answer.
func (p *Prompter) Ask(prompt string) (string, error) {
	_, _ = fmt.Fprint(p.out, prompt)
	return p.ReadLine()
}

// Confirm asks a yes/no question until it gets a valid answer. The end of
// input counts as no.
func (p *Prompter) Confirm(question string) bool {
	for {
		answer, err := p.Ask(question + " (y/n): ")
		if err != nil {
			return false
		}
		switch strings.ToLower(answer) {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
	}
}

// Select prints items numbered from 1 and returns the 0-based index of the
// chosen one. Entering 0, or the end of input, cancels.
func Select[T any](p *Prompter, prompt string, items []T, label func(T) string) (int, error) {
	for i, item := range items {
		_, _ = fmt.Fprintf(p.out, "  %d. %s\n", i+1, label(item))
	}
	for {
		answer, err := p.Ask(prompt + " (0 to cancel): ")
		if err != nil {
			return -1, ErrSelectionCancelled
		}
		num, err := strconv.Atoi(answer)
		if err != nil {
			_, _ = fmt.Fprintln(p.out, "Please enter a number")
			continue
		}
		if num == 0 {
			return -1, ErrSelectionCancelled
		}
		if num < 1 || num > len(items) {
			_, _ = fmt.Fprintf(p.out, "Please enter a number between 1 and %d\n", len(items))
			continue
		}
		return num - 1, nil
	}
}
