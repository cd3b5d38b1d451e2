//go:build unix

package daemon

import "syscall"

// daemonSysProcAttr detaches the spawned daemon from the caller's session
// so it outlives the terminal that launched it.
func daemonSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}
