package dhtkit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hubertat/dhtkit/dht"
	"github.com/hubertat/dhtkit/drivers"
)

func goodReport() Report {
	return Report{Id: "attic", Variant: "DHT11", Valid: true, Humidity: 55, Temperature: 26}
}

func newConsole(t testing.TB) *drivers.ConsoleDisplay {
	t.Helper()

	cd, err := drivers.NewConsoleDisplay(nil, 16, 2)
	if err != nil {
		t.Fatal(err)
	}
	return cd
}

func assertLines(t testing.TB, cd *drivers.ConsoleDisplay, first, second string) {
	t.Helper()

	if got := cd.Line(0); got != first {
		t.Errorf("line 0: got %q want %q", got, first)
	}
	if got := cd.Line(1); got != second {
		t.Errorf("line 1: got %q want %q", got, second)
	}
}

func TestMessageBoardAlternates(t *testing.T) {
	cd := newConsole(t)
	reads := 0
	mb := NewMessageBoard(cd, func() Report {
		reads++
		return goodReport()
	}, "Bienvenue au", "GPA788 OC/IoT")

	mb.Step()
	assertLines(t, cd, "Temp.: 26°C", "Humidity.: 55%")

	for i := 0; i < 3; i++ {
		cd.Clear()
		mb.Step()
		assertLines(t, cd, "", "")
	}

	mb.Step()
	assertLines(t, cd, "Bienvenue au", "GPA788 OC/IoT")
	for i := 0; i < 3; i++ {
		mb.Step()
	}

	mb.Step()
	assertLines(t, cd, "Temp.: 26°C", "Humidity.: 55%")
	if reads != 2 {
		t.Errorf("report fetched %d times want 2", reads)
	}
}

func TestReadingScreen(t *testing.T) {
	cases := []struct {
		name   string
		report Report
		want   [2]string
	}{
		{"dht11", goodReport(), [2]string{"Temp.: 26°C", "Humidity.: 55%"}},
		{"dht22 tenths", Report{Variant: "DHT22", Valid: true, Humidity: 65.2, Temperature: -15}, [2]string{"Temp.: -15.0°C", "Humidity.: 65.2%"}},
		{"timeout", Report{Variant: "DHT11", Code: int16(dht.ErrorTimeout)}, [2]string{"DHT11: error", "DHT11: code -2"}},
		{"checksum", Report{Variant: "DHT22", Valid: true, Code: int16(dht.ErrorChecksum)}, [2]string{"DHT22: error", "DHT22: code -1"}},
		{"never read", Report{Variant: "DHT11"}, [2]string{"DHT11: error", "DHT11: code -999"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := readingScreen(c.report); got != c.want {
				t.Errorf("got %q want %q", got, c.want)
			}
		})
	}
}

func TestMessageBoardDefaultWelcome(t *testing.T) {
	cd := newConsole(t)
	mb := NewMessageBoard(cd, goodReport)
	mb.showingWelcome = false

	mb.Step()
	assertLines(t, cd, "dhtkit", "dht "+dht.Version)
}

type recordingDisplay struct {
	events []string
}

func (rd *recordingDisplay) Clear() error {
	rd.events = append(rd.events, "clear")
	return nil
}

func (rd *recordingDisplay) SetCursor(col, row uint8) error { return nil }

func (rd *recordingDisplay) Print(text string) error { return nil }

func (rd *recordingDisplay) Show(on bool) error {
	rd.events = append(rd.events, fmt.Sprintf("show %v", on))
	return nil
}

func TestMessageBoardRun(t *testing.T) {
	rd := &recordingDisplay{}
	mb := NewMessageBoard(rd, goodReport)

	var waits []time.Duration
	mb.wait = func(ctx context.Context, d time.Duration) bool {
		waits = append(waits, d)
		return len(waits) < 4
	}

	mb.Run(context.Background())

	wantEvents := []string{"clear", "show true", "show false", "show true", "show false"}
	if fmt.Sprint(rd.events) != fmt.Sprint(wantEvents) {
		t.Errorf("got events %v want %v", rd.events, wantEvents)
	}
	wantWaits := []time.Duration{2 * time.Second, time.Second, 2 * time.Second, time.Second}
	if fmt.Sprint(waits) != fmt.Sprint(wantWaits) {
		t.Errorf("got waits %v want %v", waits, wantWaits)
	}
}

func TestWaitForCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if waitFor(ctx, time.Hour) {
		t.Error("waitFor returned true on a cancelled context")
	}
	if !waitFor(context.Background(), time.Millisecond) {
		t.Error("waitFor returned false after the delay")
	}
}
