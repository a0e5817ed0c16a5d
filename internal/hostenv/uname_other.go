//go:build !unix

package hostenv

import "runtime"

func uname() (machine, release string) {
	switch runtime.GOARCH {
	case "amd64":
		return "AMD64", ""
	case "arm64":
		return "ARM64", ""
	case "386":
		return "x86", ""
	}
	return runtime.GOARCH, ""
}
