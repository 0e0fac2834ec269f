package compiler

import (
	"bytes"
	"fmt"
	"os/exec"

	"github.com/sirupsen/logrus"
)

// Error is a failed compiler invocation.
type Error struct {
	Args   []string
	Stdout []byte
	Stderr []byte
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("running %s\n - stdout: %q\n - stderr: %q\n - cause: %s", CommandLine(e.Args...), e.Stdout, e.Stderr, e.Cause)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ExitCode returns the process exit status, or 0 when the process never ran.
func (e *Error) ExitCode() int {
	if exitError, ok := e.Cause.(*exec.ExitError); ok {
		return exitError.ExitCode()
	}
	return 0
}

// Command runs external processes. Tests substitute a fake.
type Command interface {
	RunCmdOut(cmd *exec.Cmd) ([]byte, error)
}

// Commander is the exec.Cmd implementation of the Command interface.
// A nil Log uses the standard logger.
type Commander struct {
	Log *logrus.Entry
}

// RunCmdOut runs cmd and returns its stdout. A non-zero exit yields *Error.
// Both streams are buffered while the process runs, so a chatty child never
// blocks on a full pipe.
func (c *Commander) RunCmdOut(cmd *exec.Cmd) ([]byte, error) {
	log := c.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log.Debugf("Running command: %s", CommandLine(cmd.Args...))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), &Error{
			Args:   cmd.Args,
			Stdout: stdout.Bytes(),
			Stderr: stderr.Bytes(),
			Cause:  err,
		}
	}

	if stderr.Len() > 0 {
		log.Debugf("Command output: [%s], stderr: %s", stdout.Bytes(), stderr.Bytes())
	} else {
		log.Debugf("Command output: [%s]", stdout.Bytes())
	}
	return stdout.Bytes(), nil
}
