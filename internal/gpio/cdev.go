package gpio

import (
	"time"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"

	"github.com/voidwarranties/spacestate/internal/pin"
)

const consumer = "spacestate"

// Open requests p on the GPIO character device chip (e.g. gpiochip0) as a
// pulled-up input with edge detection. Edges wake the returned Switch
// immediately instead of waiting for the next poll.
func Open(chip string, p pin.Pin, activeLow bool, debounce time.Duration) (*Switch, error) {
	sw := New(nil, activeLow, debounce)
	line, err := gpiocdev.RequestLine(chip, p.Line,
		gpiocdev.AsInput,
		gpiocdev.WithPullUp,
		gpiocdev.WithBothEdges,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithEventHandler(func(gpiocdev.LineEvent) { sw.Poke() }),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "requesting %s line %s", chip, p)
	}
	sw.line = line
	return sw, nil
}
