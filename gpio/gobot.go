package gpio

import (
	"context"
	"fmt"

	gobot "gobot.io/x/gobot/v2/drivers/gpio"

	"github.com/mklimuk/sunrise"
)

// BoardPin drives a header pin of a gobot platform adaptor, e.g. pin "22" of
// nanopi.NewNeoAdaptor().
type BoardPin struct {
	writer gobot.DigitalWriter
	id     string
}

var _ sunrise.OutputPin = &BoardPin{}

func NewBoardPin(writer gobot.DigitalWriter, id string) *BoardPin {
	return &BoardPin{writer: writer, id: id}
}

func (p *BoardPin) Out(ctx context.Context, high bool) error {
	var val byte
	if high {
		val = 1
	}
	if err := p.writer.DigitalWrite(p.id, val); err != nil {
		return fmt.Errorf("could not write pin %s: %w", p.id, err)
	}
	return nil
}
