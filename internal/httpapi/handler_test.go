package httpapi

import "testing"

func TestQRSizeClamps(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{name: "empty uses default", in: "", want: defaultQRSize},
		{name: "garbage uses default", in: "huge", want: defaultQRSize},
		{name: "in range", in: "512", want: 512},
		{name: "below floor", in: "8", want: minQRSize},
		{name: "negative", in: "-1", want: minQRSize},
		{name: "above ceiling", in: "100000", want: maxQRSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := qrSize(tt.in); got != tt.want {
				t.Errorf("qrSize(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}
