package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errInterrupted = errors.New("interrupted")

// console reads user input. On a terminal it uses raw mode so Shift+Tab can
// toggle the agent mode and approvals take a single key; otherwise it reads
// plain lines.
type console struct {
	in    *os.File
	out   io.Writer
	lines *bufio.Reader
}

func newConsole(in *os.File, out io.Writer) *console {
	return &console{in: in, out: out, lines: bufio.NewReader(in)}
}

func (c *console) isTerminal() bool { return term.IsTerminal(int(c.in.Fd())) }

func (c *console) readPlainLine() (string, error) {
	line, err := c.lines.ReadString('\n')
	if err != nil && line == "" {
		return "", io.EOF
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadLine prints prompt and reads one line. Shift+Tab calls onToggle and
// redraws the prompt. Ctrl+D on an empty line returns io.EOF and Ctrl+C
// returns errInterrupted.
func (c *console) ReadLine(prompt func() string, onToggle func()) (string, error) {
	fmt.Fprint(c.out, prompt())
	if !c.isTerminal() {
		return c.readPlainLine()
	}
	fd := int(c.in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return c.readPlainLine()
	}
	defer term.Restore(fd, oldState)

	var buf []byte
	var esc []byte
	b := make([]byte, 1)
	for {
		if n, err := c.in.Read(b); err != nil || n == 0 {
			return "", io.EOF
		}
		ch := b[0]

		if len(esc) > 0 {
			esc = append(esc, ch)
			switch {
			case len(esc) == 3 && esc[1] == '[' && esc[2] == 'Z': // Shift+Tab
				esc = esc[:0]
				if onToggle != nil {
					onToggle()
				}
				fmt.Fprint(c.out, "\r\033[K"+prompt()+string(buf))
			case len(esc) >= 3, len(esc) == 2 && esc[1] != '[':
				esc = esc[:0]
			}
			continue
		}

		switch ch {
		case 0x1b:
			esc = append(esc, ch)
		case '\r', '\n':
			fmt.Fprint(c.out, "\r\n")
			return string(buf), nil
		case 0x03: // Ctrl+C
			fmt.Fprint(c.out, "^C\r\n")
			return "", errInterrupted
		case 0x04: // Ctrl+D
			if len(buf) == 0 {
				fmt.Fprint(c.out, "\r\n")
				return "", io.EOF
			}
		case 0x7f, 0x08:
			if len(buf) > 0 {
				buf = buf[:len(buf)-1]
				fmt.Fprint(c.out, "\b \b")
			}
		default:
			if ch >= 0x20 {
				buf = append(buf, ch)
				fmt.Fprint(c.out, string(ch))
			}
		}
	}
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (c *console) Confirm(question string) (bool, error) {
	fmt.Fprintf(c.out, "%s [y/N] ", question)
	if !c.isTerminal() {
		line, err := c.readPlainLine()
		if err != nil {
			return false, err
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		return answer == "y" || answer == "yes", nil
	}

	fd := int(c.in.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return false, err
	}
	defer term.Restore(fd, oldState)

	b := make([]byte, 1)
	if n, err := c.in.Read(b); err != nil || n == 0 {
		return false, io.EOF
	}
	switch b[0] {
	case 'y', 'Y':
		fmt.Fprint(c.out, "yes\r\n")
		return true, nil
	case 0x03:
		fmt.Fprint(c.out, "^C\r\n")
		return false, errInterrupted
	default:
		fmt.Fprint(c.out, "no\r\n")
		return false, nil
	}
}

// Ask prints question and returns the answer line.
func (c *console) Ask(question string) (string, error) {
	line, err := c.ReadLine(func() string { return "\n" + question + "\n> " }, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
