//go:build unix

package preview

import "syscall"

// setsid puts the preview child in its own process group so a SIGTERM sent
// to its pid doesn't also race with signals delivered to this process.
func setsid() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
