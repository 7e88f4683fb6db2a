//go:build unix

package ipc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sun_path size, including the trailing NUL.
const socketPathLimit = len(unix.RawSockaddrUnix{}.Path)

func validateHookPath(path string) error {
	if path == "" {
		return nil
	}
	limit := socketPathLimit - 1
	if len(path) > limit {
		return fmt.Errorf("hook socket path exceeds %d bytes: %s", limit, path)
	}
	return nil
}
