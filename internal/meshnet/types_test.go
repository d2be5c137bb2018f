package meshnet

import (
	"testing"
	"time"
)

func TestRealClockNowAdvances(t *testing.T) {
	var c RealClock
	a := c.Now()
	time.Sleep(time.Millisecond)
	b := c.Now()
	if !b.After(a) {
		t.Fatal("RealClock.Now() did not advance")
	}
}
