package logging

import "testing"

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		size int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{2048, "2.0 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
		{int64(1.5 * 1024 * 1024 * 1024), "1.5 GiB"},
	}
	for _, tc := range cases {
		if got := FormatBytes(tc.size); got != tc.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}
