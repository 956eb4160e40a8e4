package progress

import (
	"os"
	"runtime"
)

// enableANSIOnWindows turns on virtual terminal processing so mpb's cursor
// movements render on Windows consoles.
func enableANSIOnWindows(f *os.File) {
	if runtime.GOOS == "windows" {
		enableWindowsANSI(f)
	}
}
