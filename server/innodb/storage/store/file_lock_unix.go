//go:build unix

package store

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockFile 对表文件加排他的非阻塞flock, 同一文件只能被一个进程打开
func lockFile(f *os.File) error {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		if err == unix.EWOULDBLOCK {
			return ErrTableLocked
		}
		return err
	}
	return nil
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

func syncFile(f *os.File) error {
	return unix.Fsync(int(f.Fd()))
}
