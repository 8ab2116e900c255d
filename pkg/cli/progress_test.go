package cli

import (
	"bytes"
	"strings"
	"sync"
	"testing"
)

func TestSimpleProgressBasic(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "checks")

	progress.Start(100)
	progress.Update(50)
	progress.Finish()

	output := buf.String()
	for _, want := range []string{"50.0%", "(100/100)", "checks/s"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected progress output to contain %q, got %q", want, output)
		}
	}
	if !strings.HasSuffix(output, "\n") {
		t.Error("Expected Finish to end the line")
	}
}

func TestSimpleProgressZeroTotal(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "checks")

	progress.Start(0)
	progress.Update(0)
	progress.Finish()

	if buf.String() != "\n" {
		t.Errorf("Expected only a newline, got %q", buf.String())
	}
}

func TestSimpleProgressConcurrent(t *testing.T) {
	buf := &bytes.Buffer{}
	progress := NewProgressReporter(buf, "checks")
	progress.Start(1000)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				progress.Update(int64(start*100 + j))
			}
		}(i)
	}
	wg.Wait()
	progress.Finish()

	if !strings.Contains(buf.String(), "(1000/1000)") {
		t.Error("Expected final progress line")
	}
}
