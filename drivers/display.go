package drivers

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Display is a character display addressed by column and row.
type Display interface {
	Clear() error
	SetCursor(col, row uint8) error
	Print(text string) error
	Show(on bool) error
}

const (
	lcdClear          = 0x01
	lcdEntryModeSet   = 0x04
	lcdDisplayControl = 0x08
	lcdFunctionSet    = 0x20
	lcdSetDDRAMAddr   = 0x80

	lcdEntryLeft   = 0x02
	lcdDisplayOn   = 0x04
	lcdTwoLine     = 0x08
	lcdDegreeGlyph = 0xDF
)

var lcdRowOffsets = [4]uint8{0x00, 0x40, 0x14, 0x54}

// HD44780Pins are output pin numbers on the driver named by DriverName.
type HD44780Pins struct {
	DriverName string
	Rs         uint16
	En         uint16
	D4         uint16
	D5         uint16
	D6         uint16
	D7         uint16
}

func (p HD44780Pins) All() []uint16 {
	return []uint16{p.Rs, p.En, p.D4, p.D5, p.D6, p.D7}
}

// HD44780 drives a character LCD in 4-bit mode over six outputs.
type HD44780 struct {
	Cols uint8
	Rows uint8

	rs, en DigitalOutput
	data   [4]DigitalOutput
	sleep  func(time.Duration)
	on     bool
	lock   sync.Mutex
}

func NewHD44780(driver IoDriver, pins HD44780Pins, cols, rows uint8) (lcd *HD44780, err error) {
	if cols == 0 || rows == 0 {
		return nil, errors.Errorf("lcd needs at least one row and column, got %dx%d", cols, rows)
	}

	outs := make([]DigitalOutput, 0, 6)
	for _, pin := range pins.All() {
		out, err := driver.GetOutput(pin)
		if err != nil {
			return nil, errors.Wrapf(err, "lcd pin %d on %s", pin, driver)
		}
		outs = append(outs, out)
	}

	lcd = &HD44780{
		Cols:  cols,
		Rows:  rows,
		rs:    outs[0],
		en:    outs[1],
		data:  [4]DigitalOutput{outs[2], outs[3], outs[4], outs[5]},
		sleep: time.Sleep,
	}
	return
}

// Begin runs the 4-bit initialisation sequence.
func (lcd *HD44780) Begin() error {
	lcd.lock.Lock()
	defer lcd.lock.Unlock()

	lcd.sleep(50 * time.Millisecond)
	if err := lcd.rs.Set(false); err != nil {
		return errors.Wrap(err, "lcd init")
	}
	if err := lcd.en.Set(false); err != nil {
		return errors.Wrap(err, "lcd init")
	}

	steps := []struct {
		nibble uint8
		wait   time.Duration
	}{
		{0x03, 4500 * time.Microsecond},
		{0x03, 4500 * time.Microsecond},
		{0x03, 150 * time.Microsecond},
		{0x02, 150 * time.Microsecond},
	}
	for _, step := range steps {
		if err := lcd.write4(step.nibble); err != nil {
			return errors.Wrap(err, "lcd init")
		}
		lcd.sleep(step.wait)
	}

	function := uint8(lcdFunctionSet)
	if lcd.Rows > 1 {
		function |= lcdTwoLine
	}
	for _, cmd := range []uint8{function, lcdDisplayControl | lcdDisplayOn, lcdEntryModeSet | lcdEntryLeft} {
		if err := lcd.command(cmd); err != nil {
			return errors.Wrap(err, "lcd init")
		}
	}
	lcd.on = true
	return lcd.clear()
}

func (lcd *HD44780) Clear() error {
	lcd.lock.Lock()
	defer lcd.lock.Unlock()
	return lcd.clear()
}

func (lcd *HD44780) clear() error {
	err := lcd.command(lcdClear)
	lcd.sleep(2 * time.Millisecond)
	return err
}

func (lcd *HD44780) SetCursor(col, row uint8) error {
	lcd.lock.Lock()
	defer lcd.lock.Unlock()

	return lcd.command(lcdSetDDRAMAddr | (col + lcdRowOffsets[lcd.clampRow(row)]))
}

// clampRow keeps row on the last line the controller can address.
func (lcd *HD44780) clampRow(row uint8) uint8 {
	last := len(lcdRowOffsets) - 1
	if lcd.Rows > 0 && int(lcd.Rows)-1 < last {
		last = int(lcd.Rows) - 1
	}
	if int(row) > last {
		return uint8(last)
	}
	return row
}

// Print writes text at the cursor. '°' is written as the ROM degree glyph,
// other runes outside ASCII become '?'.
func (lcd *HD44780) Print(text string) error {
	lcd.lock.Lock()
	defer lcd.lock.Unlock()

	for _, r := range text {
		var b uint8
		switch {
		case r == '°':
			b = lcdDegreeGlyph
		case r < 0x80:
			b = uint8(r)
		default:
			b = '?'
		}
		if err := lcd.send(b, true); err != nil {
			return errors.Wrapf(err, "lcd print %q", text)
		}
	}
	return nil
}

func (lcd *HD44780) Show(on bool) error {
	lcd.lock.Lock()
	defer lcd.lock.Unlock()

	cmd := uint8(lcdDisplayControl)
	if on {
		cmd |= lcdDisplayOn
	}
	lcd.on = on
	return lcd.command(cmd)
}

func (lcd *HD44780) command(value uint8) error {
	return lcd.send(value, false)
}

func (lcd *HD44780) send(value uint8, isData bool) error {
	if err := lcd.rs.Set(isData); err != nil {
		return err
	}
	if err := lcd.write4(value >> 4); err != nil {
		return err
	}
	return lcd.write4(value & 0x0F)
}

func (lcd *HD44780) write4(nibble uint8) error {
	for i, out := range lcd.data {
		if err := out.Set(nibble&(1<<i) != 0); err != nil {
			return err
		}
	}
	return lcd.pulseEnable()
}

func (lcd *HD44780) pulseEnable() error {
	if err := lcd.en.Set(false); err != nil {
		return err
	}
	lcd.sleep(time.Microsecond)
	if err := lcd.en.Set(true); err != nil {
		return err
	}
	lcd.sleep(time.Microsecond)
	if err := lcd.en.Set(false); err != nil {
		return err
	}
	lcd.sleep(100 * time.Microsecond)
	return nil
}

// ConsoleDisplay renders a character display as text frames on a writer.
type ConsoleDisplay struct {
	Cols uint8
	Rows uint8

	out  io.Writer
	grid [][]rune
	col  uint8
	row  uint8
	on   bool
	lock sync.Mutex
}

func NewConsoleDisplay(out io.Writer, cols, rows uint8) (*ConsoleDisplay, error) {
	if cols == 0 || rows == 0 {
		return nil, errors.Errorf("console display needs at least one row and column, got %dx%d", cols, rows)
	}
	cd := &ConsoleDisplay{Cols: cols, Rows: rows, out: out}
	cd.reset()
	return cd, nil
}

func (cd *ConsoleDisplay) reset() {
	cd.grid = make([][]rune, cd.Rows)
	for r := range cd.grid {
		cd.grid[r] = []rune(strings.Repeat(" ", int(cd.Cols)))
	}
	cd.col, cd.row = 0, 0
}

func (cd *ConsoleDisplay) Clear() error {
	cd.lock.Lock()
	defer cd.lock.Unlock()
	cd.reset()
	return nil
}

func (cd *ConsoleDisplay) SetCursor(col, row uint8) error {
	cd.lock.Lock()
	defer cd.lock.Unlock()
	if row >= cd.Rows && cd.Rows > 0 {
		row = cd.Rows - 1
	}
	cd.col, cd.row = col, row
	return nil
}

func (cd *ConsoleDisplay) Print(text string) error {
	cd.lock.Lock()
	defer cd.lock.Unlock()
	if int(cd.row) >= len(cd.grid) {
		return nil
	}
	for _, r := range text {
		if cd.col < cd.Cols {
			cd.grid[cd.row][cd.col] = r
		}
		cd.col++
	}
	return nil
}

func (cd *ConsoleDisplay) Show(on bool) error {
	cd.lock.Lock()
	defer cd.lock.Unlock()
	if on && !cd.on {
		cd.render()
	}
	cd.on = on
	return nil
}

// Line returns the text of one row, trailing blanks trimmed.
func (cd *ConsoleDisplay) Line(row uint8) string {
	cd.lock.Lock()
	defer cd.lock.Unlock()
	if row >= cd.Rows {
		return ""
	}
	return strings.TrimRight(string(cd.grid[row]), " ")
}

func (cd *ConsoleDisplay) render() {
	if cd.out == nil {
		return
	}
	border := "+" + strings.Repeat("-", int(cd.Cols)) + "+"
	fmt.Fprintln(cd.out, border)
	for _, line := range cd.grid {
		fmt.Fprintf(cd.out, "|%s|\n", string(line))
	}
	fmt.Fprintln(cd.out, border)
}
