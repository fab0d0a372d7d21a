package shell

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// PasswordReader prints prompt and reads a password.
type PasswordReader func(prompt string) (string, error)

// terminalPasswordReader reads without echo when in is a terminal, and falls
// back to readLine otherwise.
func terminalPasswordReader(in io.Reader, out io.Writer, readLine func() (string, bool)) PasswordReader {
	return func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			b, err := term.ReadPassword(int(f.Fd()))
			fmt.Fprintln(out)
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
		line, ok := readLine()
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}
