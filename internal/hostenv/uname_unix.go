//go:build unix

package hostenv

import (
	"runtime"

	"golang.org/x/sys/unix"
)

func uname() (machine, release string) {
	var u unix.Utsname
	if err := unix.Uname(&u); err != nil {
		return runtime.GOARCH, ""
	}
	return unix.ByteSliceToString(u.Machine[:]), unix.ByteSliceToString(u.Release[:])
}
