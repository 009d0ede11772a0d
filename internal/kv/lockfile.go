package kv

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// lockFileName is created inside the database directory and held with an
// exclusive advisory lock for the lifetime of the process.
const lockFileName = "xd.lck"

type lockFile struct {
	f *os.File
}

func acquireLock(path string) (*lockFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("kv: cannot open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("kv: database is locked by another process: %w", err)
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &lockFile{f: f}, nil
}

func (l *lockFile) release() {
	if l.f == nil {
		return
	}
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
	l.f = nil
}
