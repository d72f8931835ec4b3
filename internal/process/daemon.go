//go:build linux

package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// EnvDaemonStage marks the re-executed child of Daemonize.
const EnvDaemonStage = "PREFORK_DAEMON_STAGE"

// ErrDaemonize wraps every failure of the daemonization sequence. Callers
// should treat it as fatal: there is no rolling back a half-detached process.
var ErrDaemonize = errors.New("daemonize failed")

// Daemonize turns the calling program into a background service.
//
// The Go runtime cannot fork without exec, so the program is started again
// with EnvDaemonStage set. In the launching process Daemonize exits with
// status 0 once the child is running and never returns. In the child it
// starts a new session, sets the file creation mask and points standard
// input, output and error at the null device, then returns nil.
//
// Everything before Daemonize runs twice, once per stage, so call it before
// acquiring any resources.
func Daemonize(umask int) error {
	if os.Getenv(EnvDaemonStage) == "" {
		return forkStage()
	}
	if err := os.Unsetenv(EnvDaemonStage); err != nil {
		return fmt.Errorf("%w: clear stage marker: %w", ErrDaemonize, err)
	}
	return detachStage(umask)
}

func forkStage() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: resolve executable: %w", ErrDaemonize, err)
	}

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Env = append(os.Environ(), EnvDaemonStage+"=1")
	// nil Stdin, Stdout and Stderr connect the child to the null device.
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: fork: %w", ErrDaemonize, err)
	}

	os.Exit(0)
	return nil
}

func detachStage(umask int) error {
	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("%w: setsid: %w", ErrDaemonize, err)
	}

	unix.Umask(umask)

	return redirectStdio()
}

// redirectStdio points descriptors 0-2 at the null device. The null
// descriptor is released on every path. Descriptors 0-2 are always open in
// the child stage, so the null device never lands on one of them.
func redirectStdio() error {
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrDaemonize, os.DevNull, err)
	}
	defer null.Close()

	for _, fd := range []int{0, 1, 2} {
		if err := unix.Dup3(int(null.Fd()), fd, 0); err != nil {
			return fmt.Errorf("%w: redirect fd %d: %w", ErrDaemonize, fd, err)
		}
	}
	return nil
}
