// Package readpassword reads the database password from the terminal, from
// standard input or from a password file.
package readpassword

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/jcxfs/jcxfs/internal/exitcodes"
	"github.com/jcxfs/jcxfs/internal/tlog"
)

// Once tries to get a password from the user: from the "-w" literal, the
// "--pw-file" file, stdin when "-W" was passed or stdin is not a terminal,
// or interactively from the terminal otherwise.
func Once(literal string, passfile string, fromStdin bool) string {
	if literal != "" {
		return literal
	}
	if passfile != "" {
		return fromFile(passfile)
	}
	if fromStdin || !term.IsTerminal(int(os.Stdin.Fd())) {
		return fromStdinReader()
	}
	return fromTerminal("Password: ")
}

// Twice is the same as Once but will prompt twice if we get the password
// from the terminal. Used when setting a new password.
func Twice(literal string, passfile string, fromStdin bool) string {
	if literal != "" {
		return literal
	}
	if passfile != "" {
		return fromFile(passfile)
	}
	if fromStdin || !term.IsTerminal(int(os.Stdin.Fd())) {
		return fromStdinReader()
	}
	p1 := fromTerminal("Password: ")
	p2 := fromTerminal("Repeat: ")
	if p1 != p2 {
		tlog.Fatal.Println("Passwords do not match")
		os.Exit(exitcodes.ReadPassword)
	}
	return p1
}

// fromTerminal reads a line from the terminal.
// Exits on read error or empty result.
func fromTerminal(prompt string) string {
	fd := int(os.Stdin.Fd())
	fmt.Fprintf(os.Stderr, "%s", prompt)
	// term.ReadPassword removes the trailing newline
	p, err := term.ReadPassword(fd)
	if err != nil {
		tlog.Fatal.Printf("Could not read password from terminal: %v", err)
		os.Exit(exitcodes.ReadPassword)
	}
	fmt.Fprintf(os.Stderr, "\n")
	if len(p) == 0 {
		tlog.Fatal.Println("Password is empty")
		os.Exit(exitcodes.PasswordEmpty)
	}
	return string(p)
}

// fromStdinReader reads a line from stdin.
// Exits on read error or empty result.
func fromStdinReader() string {
	tlog.Info.Println("Reading password from stdin")
	p := readLineUnbuffered(os.Stdin)
	if len(p) == 0 {
		tlog.Fatal.Println("Got empty password from stdin")
		os.Exit(exitcodes.PasswordEmpty)
	}
	return p
}

// fromFile reads the first line from a password file.
// Exits on read error or empty result.
func fromFile(path string) string {
	f, err := os.Open(path)
	if err != nil {
		tlog.Fatal.Printf("Could not open password file: %v", err)
		os.Exit(exitcodes.ReadPassword)
	}
	defer f.Close()
	p := readLineUnbuffered(f)
	if len(p) == 0 {
		tlog.Fatal.Printf("Password file %q is empty", path)
		os.Exit(exitcodes.PasswordEmpty)
	}
	return p
}

// readLineUnbuffered reads a single line without buffering ahead, so stdin
// stays usable for the interactive mount console afterwards.
func readLineUnbuffered(r io.Reader) string {
	br := bufio.NewReaderSize(onebyteReader{r}, 1)
	line, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		tlog.Fatal.Printf("Could not read password: %v", err)
		os.Exit(exitcodes.ReadPassword)
	}
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	return line
}

// onebyteReader forwards reads one byte at a time.
type onebyteReader struct {
	r io.Reader
}

func (o onebyteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}
