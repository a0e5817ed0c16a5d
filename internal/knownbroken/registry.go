// Package knownbroken holds the revision ranges of the engine that are known
// not to build or run for a given host and build configuration, and the
// earliest revisions that support each shell flag.
package knownbroken

import (
	"context"
	"errors"

	"autobisect/internal/hostenv"
	"autobisect/internal/revset"

	"go.uber.org/zap"
)

// ErrUnsupportedHost is returned for hosts that no revision in the tables is
// known to build on. It is fatal.
var ErrUnsupportedHost = errors.New("unsupported host")

// MinDarwinVersion is the oldest macOS release bisection supports.
const MinDarwinVersion = "10.13"

// LibcProber reports the host C library version. It is only consulted on Linux.
type LibcProber interface {
	LibcVersion(ctx context.Context) (string, error)
}

// Environment is everything the tables are conditioned on besides build options.
type Environment struct {
	Host hostenv.Host
	Libc LibcProber
}

// Registry holds the broken-range and flag-floor tables. It is read-only
// after construction and safe to share.
type Registry struct {
	broken      []BrokenEntry
	constraints []FlagConstraint
	floor       revset.Revision
	logger      *zap.Logger
}

// NewRegistry returns the built-in tables, extended by overrides when non-nil.
func NewRegistry(logger *zap.Logger, overrides *Overrides) *Registry {
	r := &Registry{
		broken:      append([]BrokenEntry(nil), brokenEntries...),
		constraints: append([]FlagConstraint(nil), flagConstraints...),
		floor:       absoluteFloor,
		logger:      logger.Named("knownbroken"),
	}
	if overrides != nil {
		r.broken = append(r.broken, overrides.brokenEntries()...)
		r.constraints = append(r.constraints, overrides.flagConstraints()...)
		r.logger.Info("loaded table overrides",
			zap.Int("broken_ranges", len(overrides.Broken)),
			zap.Int("flag_floors", len(overrides.Floors)))
	}
	return r
}

// Floor is the absolute earliest revision, applied regardless of flags.
func (r *Registry) Floor() revset.Revision {
	return r.floor
}
