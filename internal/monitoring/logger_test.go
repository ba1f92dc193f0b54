package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	var got string
	SetLogger(func(format string, v ...any) {
		got = fmt.Sprintf(format, v...)
	})
	Logf("[controller] ticks=%d", 3)
	if got != "[controller] ticks=3" {
		t.Errorf("custom logger received %q", got)
	}

	SetLogger(nil)
	got = ""
	Logf("dropped %d", 1)
	if got != "" {
		t.Errorf("nil logger should discard, previous logger saw %q", got)
	}
}
