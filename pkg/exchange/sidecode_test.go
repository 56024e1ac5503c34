package exchange

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveSideCode(t *testing.T) {
	tests := []struct {
		name string
		dir  Direction
		pos  PositionSide
		code SideCode
		ok   bool
	}{
		{"open long when flat", DirectionLong, PositionFlat, SideOpenLong, true},
		{"long against short closes the short", DirectionLong, PositionShort, SideCloseShort, true},
		{"long while already long is a no-op", DirectionLong, PositionLong, 0, false},
		{"open short when flat", DirectionShort, PositionFlat, SideOpenShort, true},
		{"short against long closes the long", DirectionShort, PositionLong, SideCloseLong, true},
		{"short while already short is a no-op", DirectionShort, PositionShort, 0, false},
		{"close long", DirectionClose, PositionLong, SideCloseLong, true},
		{"close short", DirectionClose, PositionShort, SideCloseShort, true},
		{"close from flat is a no-op", DirectionClose, PositionFlat, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := ResolveSideCode(tt.dir, tt.pos)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.code, code)
				assert.True(t, code.Valid())
			}
		})
	}
}

func TestSideCodeString(t *testing.T) {
	assert.Equal(t, "open_long", SideOpenLong.String())
	assert.Equal(t, "close_short", SideCloseShort.String())
	assert.Equal(t, "open_short", SideOpenShort.String())
	assert.Equal(t, "close_long", SideCloseLong.String())
	assert.Equal(t, "unknown", SideCode(9).String())
	assert.False(t, SideCode(0).Valid())
}
