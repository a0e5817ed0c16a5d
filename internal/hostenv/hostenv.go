// Package hostenv describes the machine a bisection runs on: OS name and
// version, CPU architecture and, on Linux, the C library version.
package hostenv

import (
	"context"
	"fmt"
	"runtime"
	"strings"

	"autobisect/internal/tool"

	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

const (
	Linux   = "Linux"
	Darwin  = "Darwin"
	Windows = "Windows"
)

type Host struct {
	OS        string // Linux, Darwin, Windows, ...
	OSVersion string // product version on Darwin, kernel release elsewhere
	Arch      string // machine name as uname reports it, e.g. x86_64, aarch64
}

type Prober struct {
	runner tool.Runner
	logger *zap.Logger
}

func NewProber(runner tool.Runner, logger *zap.Logger) *Prober {
	return &Prober{runner, logger.Named("hostenv")}
}

// Detect inspects the running host.
func (p *Prober) Detect(ctx context.Context) (Host, error) {
	h := Host{OS: osName(runtime.GOOS)}
	machine, release := uname()
	h.Arch = machine
	h.OSVersion = release

	if h.OS == Darwin {
		cmd := tool.Command{Name: "sw_vers", Args: []string{"-productVersion"}}
		res, err := p.runner.Run(ctx, cmd)
		if err != nil {
			return Host{}, err
		}
		if err := res.Check("query macOS version", cmd); err != nil {
			return Host{}, err
		}
		h.OSVersion = strings.TrimSpace(string(res.Stdout))
	}

	p.logger.Debug("detected host",
		zap.String("os", h.OS),
		zap.String("os_version", h.OSVersion),
		zap.String("arch", h.Arch))
	return h, nil
}

// LibcVersion asks ldd for the installed glibc version. Any failure is
// returned as is; callers must not guess a version.
func (p *Prober) LibcVersion(ctx context.Context) (string, error) {
	cmd := tool.Command{Name: "ldd", Args: []string{"--version"}}
	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return "", err
	}
	if err := res.Check("query glibc version", cmd); err != nil {
		return "", err
	}
	version, err := ParseLddVersion(string(res.Stdout))
	if err != nil {
		return "", &tool.FaultError{Op: "query glibc version", Command: cmd.String(), Err: err}
	}
	p.logger.Debug("detected glibc", zap.String("version", version))
	return version, nil
}

// ParseLddVersion takes the last token of the first line of `ldd --version`,
// e.g. "ldd (Ubuntu GLIBC 2.35-0ubuntu3.1) 2.35" yields "2.35".
func ParseLddVersion(out string) (string, error) {
	first, _, _ := strings.Cut(out, "\n")
	fields := strings.Fields(first)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty ldd --version output")
	}
	return fields[len(fields)-1], nil
}

// AtLeast compares dotted numeric versions such as "2.28" or "10.13.6".
func AtLeast(version, min string) (bool, error) {
	v, err := canonical(version)
	if err != nil {
		return false, err
	}
	m, err := canonical(min)
	if err != nil {
		return false, err
	}
	return semver.Compare(v, m) >= 0, nil
}

func canonical(version string) (string, error) {
	parts := strings.Split(strings.TrimSpace(version), ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	for i, p := range parts {
		// drop vendor suffixes like "35-0ubuntu3"
		if j := strings.IndexFunc(p, func(r rune) bool { return r < '0' || r > '9' }); j >= 0 {
			parts[i] = p[:j]
		}
		if parts[i] == "" {
			return "", fmt.Errorf("invalid version %q", version)
		}
		parts[i] = strings.TrimLeft(parts[i], "0")
		if parts[i] == "" {
			parts[i] = "0"
		}
	}
	v := "v" + strings.Join(parts, ".")
	if !semver.IsValid(v) {
		return "", fmt.Errorf("invalid version %q", version)
	}
	return v, nil
}

func osName(goos string) string {
	switch goos {
	case "linux":
		return Linux
	case "darwin":
		return Darwin
	case "windows":
		return Windows
	case "freebsd":
		return "FreeBSD"
	default:
		return goos
	}
}
