package timeparse

import (
	"errors"
	"testing"
	"time"
)

var bogota = time.FixedZone("COT", -5*3600)

// Wednesday 2025-01-15 09:00 local.
var now = time.Date(2025, 1, 15, 9, 0, 0, 0, bogota)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want time.Time
	}{
		{"rfc3339 with offset", "2025-01-16T15:00:00Z", time.Date(2025, 1, 16, 10, 0, 0, 0, bogota)},
		{"iso local", "2025-01-16T10:00:00", time.Date(2025, 1, 16, 10, 0, 0, 0, bogota)},
		{"iso local no seconds", "2025-01-16T10:30", time.Date(2025, 1, 16, 10, 30, 0, 0, bogota)},
		{"space separated", "2025-01-16 14:00", time.Date(2025, 1, 16, 14, 0, 0, 0, bogota)},
		{"tomorrow at 10", "tomorrow at 10", time.Date(2025, 1, 16, 10, 0, 0, 0, bogota)},
		{"tomorrow 3pm", "Tomorrow 3pm", time.Date(2025, 1, 16, 15, 0, 0, 0, bogota)},
		{"mañana a las 3", "mañana a las 3", time.Date(2025, 1, 16, 15, 0, 0, 0, bogota)},
		{"manana unaccented", "manana 10:30", time.Date(2025, 1, 16, 10, 30, 0, 0, bogota)},
		{"pasado mañana", "pasado mañana a las 11", time.Date(2025, 1, 17, 11, 0, 0, 0, bogota)},
		{"day after tomorrow", "day after tomorrow at 2 pm", time.Date(2025, 1, 17, 14, 0, 0, 0, bogota)},
		{"hoy de la tarde", "hoy a las 4 de la tarde", time.Date(2025, 1, 15, 16, 0, 0, 0, bogota)},
		{"de la mañana is not tomorrow", "viernes 9 de la mañana", time.Date(2025, 1, 17, 9, 0, 0, 0, bogota)},
		{"weekday english", "friday 10am", time.Date(2025, 1, 17, 10, 0, 0, 0, bogota)},
		{"same weekday means next week", "wednesday 10", time.Date(2025, 1, 22, 10, 0, 0, 0, bogota)},
		{"weekday spanish accented", "el sábado a las 11", time.Date(2025, 1, 18, 11, 0, 0, 0, bogota)},
		{"24h suffix", "jueves 15h", time.Date(2025, 1, 16, 15, 0, 0, 0, bogota)},
		{"slash date", "20/01 a las 10", time.Date(2025, 1, 20, 10, 0, 0, 0, bogota)},
		{"slash date with year", "03/02/2025 11:00", time.Date(2025, 2, 3, 11, 0, 0, 0, bogota)},
		{"slash date rolls to next year", "10/01 10:00", time.Date(2026, 1, 10, 10, 0, 0, 0, bogota)},
		{"noon", "tomorrow noon", time.Date(2025, 1, 16, 12, 0, 0, 0, bogota)},
		{"afternoon is not noon", "tomorrow afternoon 3", time.Date(2025, 1, 16, 15, 0, 0, 0, bogota)},
		{"12am is midnight", "tomorrow 12am", time.Date(2025, 1, 16, 0, 0, 0, 0, bogota)},
		{"time only still ahead", "10:30", time.Date(2025, 1, 15, 10, 30, 0, 0, bogota)},
		{"time only already passed", "8am", time.Date(2025, 1, 16, 8, 0, 0, 0, bogota)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in, now, bogota)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		in      string
		wantErr error
	}{
		{"", ErrUnrecognized},
		{"whenever works", ErrUnrecognized},
		{"tomorrow", ErrMissingTime},
		{"viernes", ErrMissingTime},
		{"tomorrow 13pm", ErrMissingTime},
		{"25:00", ErrUnrecognized},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := Parse(tt.in, now, bogota)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse(%q) error = %v, want %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"", time.Date(2025, 1, 16, 0, 0, 0, 0, bogota)},
		{"2025-01-20", time.Date(2025, 1, 20, 0, 0, 0, 0, bogota)},
		{"today", time.Date(2025, 1, 15, 0, 0, 0, 0, bogota)},
		{"mañana", time.Date(2025, 1, 16, 0, 0, 0, 0, bogota)},
		{"lunes", time.Date(2025, 1, 20, 0, 0, 0, 0, bogota)},
		{"2025-01-16T15:00:00Z", time.Date(2025, 1, 16, 0, 0, 0, 0, bogota)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDate(tt.in, now, bogota)
			if err != nil {
				t.Fatalf("ParseDate(%q) error: %v", tt.in, err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseDate(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if _, err := ParseDate("someday", now, bogota); !errors.Is(err, ErrUnrecognized) {
		t.Errorf("ParseDate(someday) error = %v, want ErrUnrecognized", err)
	}
}
