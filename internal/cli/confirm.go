package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// promptConfirmer asks on out and reads the answer from in. With yes set it
// accepts without asking.
type promptConfirmer struct {
	in  io.Reader
	out io.Writer
	yes bool

	reader *bufio.Reader
}

func (p *promptConfirmer) Confirm(_ context.Context, prompt string) (bool, error) {
	if p.yes {
		return true, nil
	}
	fmt.Fprintf(p.out, "%s [y/N]: ", prompt)
	answer, err := p.readLine()
	if err != nil && answer == "" {
		if err == io.EOF {
			fmt.Fprintln(p.out)
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *promptConfirmer) readLine() (string, error) {
	if p.reader == nil {
		p.reader = bufio.NewReader(p.in)
	}
	line, err := p.reader.ReadString('\n')
	return strings.TrimSpace(line), err
}

// readSecret reads one line from in, prompting on out first.
func readSecret(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(prompt), ": "), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
