//go:build tinygo

package main

import (
	"log/slog"
	"machine"
	"time"

	"openenterprise/fwupdater/engine"
	"openenterprise/fwupdater/errcode"
)

// Status LED pin, separate from the engine's program pin (hal.GPIO,
// GP5): this LED reports engine state to anyone standing at the
// device, it never gates a command.
const pinStatusLED = machine.GP6

var indicatorLogger *slog.Logger

var ledOn bool

// indicatorPaused stops LED updates while set via SetIndicatorPaused.
// Nothing in this firmware calls SetIndicatorPaused, so the LED is
// not paused during program or erase commands.
var indicatorPaused bool

func SetIndicatorPaused(p bool) {
	indicatorPaused = p
}

func initIndicator() {
	pinStatusLED.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pinStatusLED.Low()
}

func setIndicatorLED(on bool) {
	if on == ledOn {
		return
	}
	if on {
		pinStatusLED.High()
	} else {
		pinStatusLED.Low()
	}
	ledOn = on
	if indicatorLogger != nil {
		indicatorLogger.Debug("indicator:changed", slog.Bool("on", on))
	}
}

// runIndicator drives the status LED from engine state on a fixed
// tick, for as long as the process runs: solid on while locked, a
// slow blink on any recorded error, off while unlocked and healthy.
func runIndicator(eng *engine.Engine) {
	initIndicator()
	ticker := time.NewTicker(500 * time.Millisecond)
	blinkPhase := false
	for range ticker.C {
		if indicatorPaused {
			continue
		}
		blinkPhase = !blinkPhase

		switch {
		case eng.LastError() != errcode.Success:
			setIndicatorLED(blinkPhase)
		case eng.Locked():
			setIndicatorLED(true)
		default:
			setIndicatorLED(false)
		}
	}
}
