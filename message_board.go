package dhtkit

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/dhtkit/dht"
	"github.com/hubertat/dhtkit/drivers"
)

const boardOnDuration = 2 * time.Second
const boardOffDuration = 1 * time.Second

// screens shown in a row before switching content
const boardRepeats = 2

var defaultWelcome = [2]string{"dhtkit", "dht " + dht.Version}

// Lcd configures the character display a MessageBoard writes to.
type Lcd struct {
	Pins     drivers.HD44780Pins
	Cols     uint8
	Rows     uint8
	SensorId string
	Welcome  []string
}

// MessageBoard alternates a welcome screen with the latest reading of one
// sensor and blinks the display.
type MessageBoard struct {
	display drivers.Display
	report  func() Report
	welcome [2]string
	wait    func(ctx context.Context, d time.Duration) bool
	logger  *log.Logger

	count int
	// true when the welcome was the previous content, starts true so the
	// first screen is the reading
	showingWelcome bool
}

func NewMessageBoard(display drivers.Display, report func() Report, welcome ...string) *MessageBoard {
	mb := &MessageBoard{
		display:        display,
		report:         report,
		welcome:        defaultWelcome,
		wait:           waitFor,
		showingWelcome: true,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "board",
			Level:  log.GetLevel(),
		}),
	}
	for i := 0; i < len(welcome) && i < len(mb.welcome); i++ {
		mb.welcome[i] = welcome[i]
	}
	return mb
}

func waitFor(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Step redraws the display when the content is due to change and advances
// the counter.
func (mb *MessageBoard) Step() (err error) {
	if mb.count == 0 {
		err = mb.display.Clear()
		if err == nil {
			if mb.showingWelcome {
				err = mb.showReading(mb.report())
			} else {
				err = mb.showWelcome()
			}
		}
	}
	if mb.count > boardRepeats {
		mb.count = 0
		mb.showingWelcome = !mb.showingWelcome
	} else {
		mb.count++
	}
	return
}

func (mb *MessageBoard) printAt(row uint8, text string) error {
	if err := mb.display.SetCursor(0, row); err != nil {
		return err
	}
	return mb.display.Print(text)
}

func (mb *MessageBoard) showWelcome() error {
	for row, text := range mb.welcome {
		if err := mb.printAt(uint8(row), text); err != nil {
			return errors.Wrap(err, "welcome screen")
		}
	}
	return nil
}

func (mb *MessageBoard) showReading(r Report) error {
	lines := readingScreen(r)
	for row, text := range lines {
		if err := mb.printAt(uint8(row), text); err != nil {
			return errors.Wrapf(err, "reading screen of %s", r.Id)
		}
	}
	return nil
}

func readingScreen(r Report) [2]string {
	variant, err := dht.ParseVariant(r.Variant)
	if err != nil || r.ErrorCode() != dht.OK || !r.Valid {
		code := r.ErrorCode()
		if code == dht.OK {
			code = dht.InvalidValue
		}
		return [2]string{
			fmt.Sprintf("%s: error", r.Variant),
			fmt.Sprintf("%s: code %d", r.Variant, code),
		}
	}
	return [2]string{
		fmt.Sprintf("Temp.: %s°C", dht.FormatValue(r.Temperature, variant.Decimals())),
		fmt.Sprintf("Humidity.: %s%%", dht.FormatValue(r.Humidity, variant.Decimals())),
	}
}

// Run steps and blinks the board until ctx is done.
func (mb *MessageBoard) Run(ctx context.Context) {
	for {
		if err := mb.Step(); err != nil {
			mb.logger.Error("failed to update display", "err", err)
		}
		if err := mb.display.Show(true); err != nil {
			mb.logger.Error("failed to turn display on", "err", err)
		}
		if !mb.wait(ctx, boardOnDuration) {
			return
		}
		if err := mb.display.Show(false); err != nil {
			mb.logger.Error("failed to turn display off", "err", err)
		}
		if !mb.wait(ctx, boardOffDuration) {
			return
		}
	}
}
