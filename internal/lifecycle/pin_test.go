package lifecycle

import (
	"strconv"
	"testing"
)

func TestGeneratePINRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		pin := GeneratePIN()
		if len(pin) != 4 {
			t.Fatalf("pin %q is not 4 digits", pin)
		}
		n, err := strconv.Atoi(pin)
		if err != nil {
			t.Fatalf("pin %q is not numeric: %v", pin, err)
		}
		if n < 1000 || n > 9999 {
			t.Fatalf("pin %d out of range", n)
		}
	}
}
