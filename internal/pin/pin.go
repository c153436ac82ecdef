// Package pin resolves board pin names to GPIO line offsets.
package pin

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// A Pin is a named GPIO line.
type Pin struct {
	Name string
	Line int
}

func (p Pin) String() string {
	if p.Name == "" {
		return strconv.Itoa(p.Line)
	}
	return p.Name + "(" + strconv.Itoa(p.Line) + ")"
}

// nodeMCU maps the silkscreen labels of NodeMCU/Wemos boards to GPIO numbers.
var nodeMCU = map[string]int{
	"D0": 16,
	"D1": 5,
	"D2": 4,
	"D3": 0,
	"D4": 2,
	"D5": 14,
	"D6": 12,
	"D7": 13,
	"D8": 15,
}

var ErrUnknownPin = errors.New("unknown pin")

// Parse accepts board labels (D1), GPIO names (GPIO17) and bare line numbers (17).
func Parse(name string) (Pin, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if s == "" {
		return Pin{}, errors.Wrap(ErrUnknownPin, "empty pin name")
	}
	if line, ok := nodeMCU[s]; ok {
		return Pin{Name: s, Line: line}, nil
	}
	num := strings.TrimPrefix(s, "GPIO")
	line, err := strconv.Atoi(num)
	if err != nil || line < 0 {
		return Pin{}, errors.Wrapf(ErrUnknownPin, "%q", name)
	}
	return Pin{Name: s, Line: line}, nil
}
