// Package exitcodes contains all well-defined exit codes that jcxfs
// can return.
package exitcodes

import (
	"fmt"
	"os"
)

const (
	// Usage - usage error like wrong cli syntax, wrong number of parameters.
	Usage = 1
	// 2 is reserved because it is used by Go panic

	// DbDir means that the database directory does not exist, is not empty
	// when it should be, or is not a directory.
	DbDir = 6
	// Init is an error while initializing a new database
	Init = 7
	// LoadEnv is an error while loading jcxfs.env
	LoadEnv = 8
	// ReadPassword means something went wrong reading the password
	ReadPassword = 9
	// MountPoint error means that the mountpoint is invalid (not empty etc).
	MountPoint = 10
	// Other error - please inspect the message
	Other = 11
	// PasswordIncorrect - the password was incorrect when mounting or when
	// changing the password.
	PasswordIncorrect = 12
	// OpenDb - could not open the encrypted database
	OpenDb = 13
	// SigInt means we got SIGINT
	SigInt = 15
	// FuseNewServer - this exit code means that the call to fuse.NewServer
	// failed. This usually means that there was a problem executing
	// fusermount, or fusermount could not attach the mountpoint to the
	// kernel.
	FuseNewServer = 19
	// PasswordEmpty - we received an empty password
	PasswordEmpty = 22
	// WriteEnv - could not write the jcxfs.env sidecar
	WriteEnv = 24
)

// Err wraps an error with an associated numeric exit code
type Err struct {
	error
	code int
}

// NewErr returns an error containing "msg" and the exit code "code".
func NewErr(msg string, code int) Err {
	return Err{
		error: fmt.Errorf("%s", msg),
		code:  code,
	}
}

// Exit extracts the numeric exit code from "err" (if available) and exits
// the application.
func Exit(err error) {
	err2, ok := err.(Err)
	if !ok {
		os.Exit(Other)
	}
	os.Exit(err2.code)
}
