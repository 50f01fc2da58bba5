//go:build windows

package pathutil

import (
	"syscall"
	"unsafe"
)

func isWindows() bool { return true }

// tryResolveUNCPath resolves a mapped drive letter (e.g. V:\manga) to its
// UNC form (e.g. \\server\share\manga) via WNetGetUniversalNameW, mirroring
// path_service.py's try_resolve_unc_path. Mapped drives can be invisible to
// a background service process running under a different logon session, so
// the catalog stores the UNC form instead.
func tryResolveUNCPath(path string) (string, bool) {
	mpr := syscall.NewLazyDLL("mpr.dll")
	proc := mpr.NewProc("WNetGetUniversalNameW")

	const universalNameInfoLevel = 0x00000001
	const errorMoreData = 234

	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return "", false
	}

	bufSize := uint32(1024)
	buf := make([]byte, bufSize)
	r, _, _ := proc.Call(
		uintptr(unsafe.Pointer(pathPtr)),
		uintptr(universalNameInfoLevel),
		uintptr(unsafe.Pointer(&buf[0])),
		uintptr(unsafe.Pointer(&bufSize)),
	)
	if r == errorMoreData && bufSize > 0 {
		buf = make([]byte, bufSize)
		r, _, _ = proc.Call(
			uintptr(unsafe.Pointer(pathPtr)),
			uintptr(universalNameInfoLevel),
			uintptr(unsafe.Pointer(&buf[0])),
			uintptr(unsafe.Pointer(&bufSize)),
		)
	}
	if r != 0 {
		return "", false
	}

	// UNIVERSAL_NAME_INFOW is a single LPWSTR field pointing into buf.
	type universalNameInfo struct {
		lpUniversalName *uint16
	}
	info := (*universalNameInfo)(unsafe.Pointer(&buf[0]))
	if info.lpUniversalName == nil {
		return "", false
	}
	return syscall.UTF16PtrToString(info.lpUniversalName), true
}
