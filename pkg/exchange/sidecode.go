package exchange

// Direction is the strategy's intended exposure change for a symbol.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionClose Direction = "close"
)

// PositionSide describes the currently held position for a symbol.
type PositionSide string

const (
	PositionFlat  PositionSide = "flat"
	PositionLong  PositionSide = "long"
	PositionShort PositionSide = "short"
)

type sideKey struct {
	dir Direction
	pos PositionSide
}

// sideTable declares every (direction, position) pair. Pairs that map to no
// order (same-direction re-entry, close from flat) are absent.
var sideTable = map[sideKey]SideCode{
	{DirectionLong, PositionFlat}:   SideOpenLong,
	{DirectionLong, PositionShort}:  SideCloseShort,
	{DirectionShort, PositionFlat}:  SideOpenShort,
	{DirectionShort, PositionLong}:  SideCloseLong,
	{DirectionClose, PositionLong}:  SideCloseLong,
	{DirectionClose, PositionShort}: SideCloseShort,
}

// ResolveSideCode returns the venue side code for the intended direction given
// the current position. ok is false when the pair requires no order.
func ResolveSideCode(dir Direction, pos PositionSide) (SideCode, bool) {
	code, ok := sideTable[sideKey{dir, pos}]
	return code, ok
}
