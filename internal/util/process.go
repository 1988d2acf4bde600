package util

import "io"

// QuitViaStdin writes a quit command to a child's stdin and closes it.
// Used where signals cannot ask a process to exit cleanly.
func QuitViaStdin(stdin io.WriteCloser, command string) error {
	if stdin == nil {
		return nil
	}
	_, _ = io.WriteString(stdin, command)
	return stdin.Close()
}
