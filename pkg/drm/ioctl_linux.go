//go:build linux && (amd64 || arm64)

package drm

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	iocWrite = 1
	iocRead  = 2
)

func ioWR(typ, nr, size uintptr) uintptr {
	return (iocRead|iocWrite)<<30 | size<<16 | typ<<8 | nr
}

func ioctl(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
		if errno == 0 {
			return nil
		}
		// O kernel devolve EINTR e EAGAIN em modeset concorrente; repetir é
		// o comportamento da libdrm.
		if errno == unix.EINTR || errno == unix.EAGAIN {
			continue
		}
		return errno
	}
}
