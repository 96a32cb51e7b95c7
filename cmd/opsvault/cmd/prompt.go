package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// Terminal access, replaced in tests.
var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

var stdin io.Reader = os.Stdin

var promptOut io.Writer = os.Stderr

var stdinLineReader *bufio.Reader

// promptPassword reads a password without echo from a terminal, or one
// line from stdin when it is not a terminal.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if isTerminal(fd) {
		fmt.Fprintf(promptOut, "%s: ", label)
		b, err := readPassword(fd)
		fmt.Fprintln(promptOut)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	if stdinLineReader == nil {
		stdinLineReader = bufio.NewReader(stdin)
	}
	line, err := stdinLineReader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// promptNewPassword asks twice and requires both entries to match.
func promptNewPassword(label string) (string, error) {
	first, err := promptPassword(label)
	if err != nil {
		return "", err
	}
	second, err := promptPassword("Repeat " + strings.ToLower(label[:1]) + label[1:])
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passwords do not match")
	}
	if first == "" {
		return "", errors.New("password must not be empty")
	}
	return first, nil
}
