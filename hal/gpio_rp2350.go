//go:build tinygo

package hal

import "machine"

// programPin is the physical button an operator holds during an
// in-person recovery unlock (spec §4.4). Configured as an input with
// an internal pull-down, so an unconnected pin reads deasserted
// rather than floating.
const programPin = machine.GP5

// RP2350GPIO reads the program pin. It satisfies GPIO.
type RP2350GPIO struct{}

// NewRP2350GPIO configures the program pin and returns a reader for it.
func NewRP2350GPIO() RP2350GPIO {
	programPin.Configure(machine.PinConfig{Mode: machine.PinInputPulldown})
	return RP2350GPIO{}
}

func (RP2350GPIO) ProgramPinAsserted() bool {
	return programPin.Get()
}
