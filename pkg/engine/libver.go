package engine

import "fmt"

// Version bound tokens, oldest to newest. "latest" is an alias resolved to
// the newest concrete token during normalization.
const (
	LibverEarliest = "earliest"
	LibverV1       = "v1"
	LibverV2       = "v2"
	LibverV3       = "v3"
	LibverLatest   = "latest"
)

// LibverBounds constrains the on-disk format version range used when
// writing new structures. Low bounds compatibility, High selects the
// superblock version.
type LibverBounds struct {
	Low  string
	High string
}

func (b LibverBounds) String() string {
	return "(" + b.Low + ", " + b.High + ")"
}

// libverRank maps a token to its position in the version ordering.
func libverRank(token string) (uint8, bool) {
	switch token {
	case LibverEarliest:
		return 0, true
	case LibverV1:
		return 1, true
	case LibverV2:
		return 2, true
	case LibverV3, LibverLatest:
		return 3, true
	default:
		return 0, false
	}
}

// NormalizeLibver fills defaults and resolves aliases.
//
// The zero value becomes (earliest, v3). A single low token T becomes
// (T, v3). "latest" resolves to the newest concrete token in both
// positions. Unknown tokens and low > high fail with ErrInvalidArgument.
func NormalizeLibver(b LibverBounds) (LibverBounds, error) {
	if b.Low == "" {
		b.Low = LibverEarliest
	}
	if b.High == "" {
		b.High = LibverLatest
	}
	if b.Low == LibverLatest {
		b.Low = LibverV3
	}
	if b.High == LibverLatest {
		b.High = LibverV3
	}

	low, ok := libverRank(b.Low)
	if !ok {
		return LibverBounds{}, &Error{
			Code:    ErrInvalidArgument,
			Message: fmt.Sprintf("unknown version bound %q", b.Low),
		}
	}
	high, ok := libverRank(b.High)
	if !ok {
		return LibverBounds{}, &Error{
			Code:    ErrInvalidArgument,
			Message: fmt.Sprintf("unknown version bound %q", b.High),
		}
	}
	if low > high {
		return LibverBounds{}, &Error{
			Code:    ErrInvalidArgument,
			Message: fmt.Sprintf("version bounds out of order: %s", b),
		}
	}
	return b, nil
}

// LibverRank returns the position of a version bound token in the version
// ordering, used when persisting bounds.
func LibverRank(token string) (uint8, bool) {
	return libverRank(token)
}

// SuperblockVersion returns the superblock version selected by the high
// bound of normalized bounds.
func SuperblockVersion(b LibverBounds) uint8 {
	rank, ok := libverRank(b.High)
	if !ok {
		return 0
	}
	return rank
}

// LibverForVersion returns the concrete token for a stored superblock
// version, used when reporting bounds of an opened container.
func LibverForVersion(version uint8) string {
	switch version {
	case 0:
		return LibverEarliest
	case 1:
		return LibverV1
	case 2:
		return LibverV2
	default:
		return LibverV3
	}
}

// File-space strategy tokens.
const (
	StrategyFSM  = "fsm"
	StrategyPage = "page"
	StrategyNone = "none"
)

// FileSpaceStrategy selects how raw space is accounted and laid out. It is
// a create-time property persisted in the superblock.
type FileSpaceStrategy struct {
	// Strategy is one of the strategy tokens; "" means StrategyFSM
	Strategy string `mapstructure:"strategy"`

	// Persist controls whether free-space tracking survives reopen
	Persist bool `mapstructure:"persist"`

	// Threshold is the minimum tracked free-block size in bytes
	Threshold uint64 `mapstructure:"threshold"`

	// PageSize is the allocation page size for StrategyPage
	PageSize uint64 `mapstructure:"page_size"`
}

// DefaultStrategy returns the strategy applied when none is requested.
func DefaultStrategy() FileSpaceStrategy {
	return FileSpaceStrategy{
		Strategy:  StrategyFSM,
		Threshold: 1,
		PageSize:  4096,
	}
}

// IsDefault reports whether s requests nothing beyond DefaultStrategy.
// The zero value is considered default.
func (s FileSpaceStrategy) IsDefault() bool {
	d := DefaultStrategy()
	if s == (FileSpaceStrategy{}) {
		return true
	}
	return s == d
}

// NormalizeStrategy fills defaults and validates tokens and sizes.
func NormalizeStrategy(s FileSpaceStrategy) (FileSpaceStrategy, error) {
	if s.Strategy == "" {
		s.Strategy = StrategyFSM
	}
	if s.Threshold == 0 {
		s.Threshold = 1
	}
	if s.PageSize == 0 {
		s.PageSize = 4096
	}

	switch s.Strategy {
	case StrategyFSM, StrategyPage, StrategyNone:
	default:
		return FileSpaceStrategy{}, &Error{
			Code:    ErrInvalidArgument,
			Message: fmt.Sprintf("unknown file-space strategy %q", s.Strategy),
		}
	}
	if s.Strategy == StrategyPage {
		if s.PageSize < 512 || s.PageSize&(s.PageSize-1) != 0 {
			return FileSpaceStrategy{}, &Error{
				Code:    ErrInvalidArgument,
				Message: fmt.Sprintf("page size must be a power of two >= 512, got %d", s.PageSize),
			}
		}
	}
	return s, nil
}

// StrategyCode maps a strategy token to its persisted code.
func StrategyCode(token string) uint8 {
	switch token {
	case StrategyPage:
		return 1
	case StrategyNone:
		return 2
	default:
		return 0
	}
}

// StrategyToken maps a persisted code back to its token.
func StrategyToken(code uint8) string {
	switch code {
	case 1:
		return StrategyPage
	case 2:
		return StrategyNone
	default:
		return StrategyFSM
	}
}
