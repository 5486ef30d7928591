package rental

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnitNumberLess(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"9", "10", true},
		{"10", "9", false},
		{"101", "204", true},
		{"007", "7", true},
		{"7", "007", false},
		{"99", "A1", true},
		{"A1", "99", false},
		{"12B", "A1", true},
		{"", "A1", true},
		{"", "1", false},
		{"5", "5", false},
	}
	for _, tt := range tests {
		t.Run(tt.a+"<"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, UnitNumberLess(tt.a, tt.b))
		})
	}
}
