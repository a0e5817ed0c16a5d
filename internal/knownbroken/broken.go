package knownbroken

import (
	"context"
	"fmt"

	"autobisect/internal/hostenv"
	"autobisect/internal/revset"
	"autobisect/internal/types"

	"go.uber.org/zap"
)

// BuildCondition is the build-option predicate of a broken range.
type BuildCondition int

const (
	Always BuildCondition = iota
	DebugDisabled
	ProfilingEnabled
	MoreDeterministic
	SimulatorArm32
)

func (c BuildCondition) holds(o types.BuildOptions) bool {
	switch c {
	case DebugDisabled:
		return !o.EnableDbg
	case ProfilingEnabled:
		return !o.DisableProfiling
	case MoreDeterministic:
		return o.EnableMoreDeterministic
	case SimulatorArm32:
		return o.EnableSimulatorArm32
	}
	return true
}

// BrokenEntry is a range of revisions that cannot be tested when its
// predicate holds. Empty OS, Arch and MinLibc match anything.
type BrokenEntry struct {
	Bug     string
	Range   revset.Expr
	OS      string
	Arch    string // only checked once OS matched
	Build   BuildCondition
	MinLibc string // glibc version at or above which the range is broken
}

// To add an entry, bisect with --compilation-failed-label=bad from a failing
// revision to find where the breakage started, then with the start set to the
// failing revision to find where it ended.
var brokenEntries = []BrokenEntry{
	// Fx38..Fx69, broken spidermonkey
	{Bug: "Fx38", Range: revset.Range("7c25be97325d96eeb04940e8b4e2559787310319", "d426154dd31d97474e2c240c55995cd6506f5c47")},
	{Bug: "Fx39", Range: revset.Range("da286f0f7a49dfcdffa89e254afdc1b8b0b75201", "62fecc6ab96e72c0958e8ebda798700ff431a8ae")},
	{Bug: "Fx41", Range: revset.Range("8a416fedec44d5238cbdc9f1c1970d4e28a98163", "7f9252925e262fc05ba37df6c875abf9012fd953")},
	{Bug: "Fx44", Range: revset.Range("3bcc3881b95d119b3f554a57d994e3f3755409f7", "c609df6d3895e655dc6ca85241bbad0ba1de60ef")},
	{Bug: "Fx52", Range: revset.Range("d3a026933bce3d55873dada68b18eec2ecde58d0", "5fa834fe9b96d1b6b1cf99d14335b0beb1bd3811")},
	{Bug: "Fx60", Range: revset.Range("4c72627cfc6c2dafb4590637fe1f3b5a24e133a4", "926f80f2c5ccaa5b0374b48678d62c304cbc9a68")},
	{Bug: "Fx63", Range: revset.Range("1fb7ddfad86d5e085c4f2af23a2519d37e45a3e4", "5202cfbf8d60ffbb1ad9c385eda725992fc43d7f")},
	{Bug: "Fx64", Range: revset.Range("aae4f349fa588aa844cfb14fae278b776aed6cb7", "c5fbbf959e23a4f33d450cb6c64ef739e09fbe13")},
	{Bug: "Fx66", Range: revset.Range("f611bc50d11cae1f48cc44d1468f2c34ec46e287", "39d0c50a2209e0f0c982b1d121765c9dc950e161")},
	{Bug: "Fx69", Range: revset.Range("1e4c1b283ba3e4260e1f52bd3b4cba8805bc28b9", "7fd7b5ac5743c0b219fc823441e09d84143f306a")},
	{Bug: "Fx69", Range: revset.Range("36ceb8f15cb9fd797cced7f4f37c2691916b72d5", "25663e783e96b0c1a879685c295955fa2eaaf8d8")},

	{Bug: "1544418", OS: hostenv.Darwin,
		Range: revset.Range("3d0236f985f83c6b2f4800f814c004e0a2902468", "32cef42080b1f7443dfe767652ea44e0dafbfd9c")},

	// clang failure, probably recent GCC as well
	{Bug: "1140482", OS: hostenv.Linux,
		Range: revset.Range("5232dd059c11090c118ca413f60b22822823b2c3", "ed98e1b9168d9a0629b5ab96f897613472181c0e")},
	// GCC 5 and earlier only
	{Bug: "1386011", OS: hostenv.Linux,
		Range: revset.Range("e94dceac80907abd4b579ddc8b7c202bbf461ec7", "516c01f62d840744648768b6fac23feb770ffdc1")},
	{Bug: "1336344", OS: hostenv.Linux, Arch: "aarch64",
		Range: revset.Range("e8bb22053e65e2a82456e9243a07af023a8ebb13", "999757e9e5a576c884201746546a3420a92f7447")},
	// month-long breakage, avoid with --disable-profiling
	{Bug: "1339190", OS: hostenv.Linux, Build: ProfilingEnabled,
		Range: revset.Range("aa1da5ed8a0719e0ab424e672d2f477b70ef593c", "5a03382283ae0a020b2a2d84bbbc91ff13cb2130")},
	// Fx62-67, avoid with glibc < 2.28
	{Bug: "1533969", OS: hostenv.Linux, MinLibc: "2.28",
		Range: revset.Range("e8d4a24e47a943db327206a4680fb75c156f9086", "7b85bf9c5210e5679fa6cfad92466a6e2ba30232")},

	{Bug: "1598709", OS: hostenv.Windows,
		Range: revset.Range("0ae96da6fdb236f70579eb2ca10cbe3cf992aa1f", "130b1fe87279432128efd58fda9d9d452f55a466")},

	// opt builds with --enable-gczeal
	{Bug: "Fx46", Build: DebugDisabled,
		Range: revset.Range("a048c55e1906f380a9f95d8f1dfa8308c37629cd", "ddaa87cfd7fafd303ecfa84c324af09804676932")},
	{Bug: "Fx58", Build: DebugDisabled,
		Range: revset.Range("c5561749c1c64793c31699d46bbf12cc0c69815c", "f4c15a88c937e8b3940f5c1922142a6ffb137320")},
	{Bug: "Fx66", Build: DebugDisabled,
		Range: revset.Range("247e265373eb26566e94303fa42b1237b80295d9", "e4aa68e2a85b027c5498bf8d8f379b06d07df6c2")},

	{Bug: "1149739", Build: MoreDeterministic,
		Range: revset.Range("1d672188b8aabc4e7b6867e8fdc8a6868a781655", "ea7dabcd215ec8a379c53f35e75e1e18bc8389d7")},
	{Bug: "1542980", Build: MoreDeterministic,
		Range: revset.Range("427b854cdb1c47ce6a643f83245914d66dca4382", "4c4e45853808229f832e32f6bcdbd4c92a72b13b")},

	// 32-bit ARM simulator builds
	{Bug: "Fx43", Build: SimulatorArm32,
		Range: revset.Range("3a580b48d1adca56f74b2a7491b468af3e70bee8", "20c9570b07342a00d881cfb606695d1608626b16")},
	{Bug: "Fx45", Build: SimulatorArm32,
		Range: revset.Range("f35d1107fe2eabc3128c9430724fa730c3336fd5", "bdf975ad2fcd2eafc67aa9100971c5a096bd2532")},
	{Bug: "Fx50", Build: SimulatorArm32,
		Range: revset.Range("6c37be9cee51e14e1f04ebfb96ab58cc5113c477", "4548ba932bde3067a722b267f9b1e43256740d4e")},
	{Bug: "Fx57", Build: SimulatorArm32,
		Range: revset.Range("284002382c21842a7ebb39dcf53d5d34fd3f7692", "05669ce25b032bf83ca38e082e6f2c1bf683ed19")},
}

// KnownBrokenRanges returns every broken range whose predicate holds for env
// and opts, in table order. On Linux it queries the C library version once;
// if that query fails the whole computation fails.
func (r *Registry) KnownBrokenRanges(ctx context.Context, env Environment, opts types.BuildOptions) ([]revset.Expr, error) {
	var (
		libc      string
		libcKnown bool
		ranges    []revset.Expr
	)

	for _, e := range r.broken {
		if e.OS != "" && e.OS != env.Host.OS {
			continue
		}
		if e.Arch != "" && e.Arch != env.Host.Arch {
			continue
		}
		if !e.Build.holds(opts) {
			continue
		}
		if e.MinLibc != "" {
			if env.Host.OS != hostenv.Linux {
				continue
			}
			if !libcKnown {
				if env.Libc == nil {
					return nil, fmt.Errorf("no C library prober for Linux host")
				}
				v, err := env.Libc.LibcVersion(ctx)
				if err != nil {
					return nil, fmt.Errorf("probe C library version: %w", err)
				}
				libc, libcKnown = v, true
			}
			ok, err := hostenv.AtLeast(libc, e.MinLibc)
			if err != nil {
				return nil, fmt.Errorf("compare C library version: %w", err)
			}
			if !ok {
				continue
			}
		}
		ranges = append(ranges, e.Range)
	}

	r.logger.Debug("known broken ranges",
		zap.String("os", env.Host.OS),
		zap.String("arch", env.Host.Arch),
		zap.String("libc", libc),
		zap.Int("count", len(ranges)))
	return ranges, nil
}
