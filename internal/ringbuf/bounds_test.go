package ringbuf

import "testing"

func TestReadBounds(t *testing.T) {
	tests := []struct {
		name                       string
		capacity, cursor, readable int
		wantFirst, wantLast        int
		wantOK                     bool
	}{
		{"empty", 10, 4, 0, 0, 0, false},
		{"unwrapped", 10, 8, 8, 0, 7, true},
		{"wrapped", 10, 3, 10, 3, 2, true},
		{"full at zero cursor", 10, 0, 10, 0, 9, true},
		{"partial wrapped", 10, 2, 5, 7, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, last, ok := readBounds(tt.capacity, tt.cursor, tt.readable)
			if ok != tt.wantOK || (ok && (first != tt.wantFirst || last != tt.wantLast)) {
				t.Errorf("Expected (%d, %d, %v), got (%d, %d, %v)",
					tt.wantFirst, tt.wantLast, tt.wantOK, first, last, ok)
			}
		})
	}
}

func TestStopIndex(t *testing.T) {
	tests := []struct {
		capacity, start, length, want int
	}{
		{10, 0, 1, 0},
		{10, 0, 10, 9},
		{10, 5, 5, 9},
		{10, 5, 6, 0},
		{10, 9, 10, 8},
	}
	for _, tt := range tests {
		if got := stopIndex(tt.capacity, tt.start, tt.length); got != tt.want {
			t.Errorf("stopIndex(%d, %d, %d): expected %d, got %d",
				tt.capacity, tt.start, tt.length, tt.want, got)
		}
	}
}

// withinByOffset is the reference rule: a span is readable when its offset
// from the first readable byte plus its length fits in the readable length.
func withinByOffset(capacity, cursor, readable, start, length int) bool {
	if start < 0 || start >= capacity || length <= 0 || readable <= 0 {
		return false
	}
	first := (cursor - readable + capacity) % capacity
	offset := (start - first + capacity) % capacity
	return offset+length <= readable
}

func TestWithinReadBounds_Exhaustive(t *testing.T) {
	for capacity := 1; capacity <= 9; capacity++ {
		for cursor := 0; cursor < capacity; cursor++ {
			for readable := 0; readable <= capacity; readable++ {
				for start := -1; start <= capacity; start++ {
					for length := -1; length <= capacity+1; length++ {
						want := withinByOffset(capacity, cursor, readable, start, length)
						got := withinReadBounds(capacity, cursor, readable, start, length)
						if got != want {
							t.Fatalf("withinReadBounds(cap=%d, cursor=%d, readable=%d, start=%d, length=%d): expected %v, got %v",
								capacity, cursor, readable, start, length, want, got)
						}
					}
				}
			}
		}
	}
}

func TestDistance(t *testing.T) {
	if got := distance(10, 3, 8); got != 5 {
		t.Errorf("Expected 5, got %d", got)
	}
	if got := distance(10, 3, 3); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
	if got := distance(10, 8, 2); got != 6 {
		t.Errorf("Expected 6, got %d", got)
	}
}
