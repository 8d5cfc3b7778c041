package device

import (
	"errors"
	"testing"
	"time"
)

func TestCheckLaunch(t *testing.T) {
	tests := []struct {
		name           string
		iyStart, iyEnd int
		nextNY         int
		wantErr        bool
	}{
		{"full interior", 1, 9, 10, false},
		{"sub range", 3, 5, 10, false},
		{"empty range", 4, 4, 10, false},
		{"ghost row 0", 0, 9, 10, true},
		{"ghost row ny-1", 1, 10, 10, true},
		{"reversed", 6, 5, 10, true},
		{"shape mismatch", 1, 9, 11, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := Launch{Next: 1, Cur: 2, Norm: 3, IYStart: tt.iyStart, IYEnd: tt.iyEnd}
			err := CheckLaunch(l, 8, tt.nextNY, 8, 10)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckLaunch() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidLaunch) {
				t.Errorf("CheckLaunch() = %v, want ErrInvalidLaunch", err)
			}
		})
	}
}

func TestOptionsWaitTimeout(t *testing.T) {
	if got := (Options{}).WaitTimeout(); got != DefaultTimeout {
		t.Errorf("zero Timeout = %v, want %v", got, DefaultTimeout)
	}
	if got := (Options{Timeout: time.Second}).WaitTimeout(); got != time.Second {
		t.Errorf("Timeout = %v, want 1s", got)
	}
}
