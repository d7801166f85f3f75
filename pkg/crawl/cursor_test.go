package crawl

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCursor_Encode(t *testing.T) {
	c := NewCursor("EPA-HQ-OAR-2021-0317", 25, "lastModifiedDate")

	want := "page[number]=1&page[size]=25&sort=lastModifiedDate&filter[docketId]=EPA-HQ-OAR-2021-0317"
	if got := c.Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}

	c.Advance(3)
	want = "page[number]=3&page[size]=25&sort=lastModifiedDate&filter[docketId]=EPA-HQ-OAR-2021-0317"
	if got := c.Encode(); got != want {
		t.Errorf("Encode() after Advance = %q, want %q", got, want)
	}

	c.Rewind("2024-01-01 05:00:00")
	want = "page[number]=1&page[size]=25&sort=lastModifiedDate&filter[docketId]=EPA-HQ-OAR-2021-0317" +
		"&filter[lastModifiedDate][ge]=2024-01-01%2005%3A00%3A00"
	if got := c.Encode(); got != want {
		t.Errorf("Encode() after Rewind = %q, want %q", got, want)
	}
	if c.Page() != 1 {
		t.Errorf("Page() = %d, want 1", c.Page())
	}
}

// New always fills in a sort key; an empty one only reaches a hand-built cursor.
func TestCursor_NoSort(t *testing.T) {
	c := NewCursor("D", 10, "")

	want := "page[number]=1&page[size]=10&filter[docketId]=D"
	if got := c.Encode(); got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestFormatWatermark(t *testing.T) {
	newYork, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}

	tests := []struct {
		name string
		in   time.Time
		loc  *time.Location
		want string
	}{
		{
			name: "winter offset",
			in:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC),
			loc:  newYork,
			want: "2024-01-01 05:00:00",
		},
		{
			name: "summer offset",
			in:   time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC),
			loc:  newYork,
			want: "2024-07-01 06:00:00",
		},
		{
			name: "day boundary",
			in:   time.Date(2024, 1, 1, 2, 30, 0, 0, time.UTC),
			loc:  newYork,
			want: "2023-12-31 21:30:00",
		},
		{
			name: "utc",
			in:   time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("CET", 3600)),
			loc:  time.UTC,
			want: "2024-01-01 09:00:00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatWatermark(tt.in, tt.loc); got != tt.want {
				t.Errorf("FormatWatermark() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPageNumber_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		raw     string
		want    PageNumber
		wantErr bool
	}{
		{raw: `3`, want: 3},
		{raw: `"4"`, want: 4},
		{raw: `null`, want: 0},
		{raw: `"x"`, wantErr: true},
		{raw: `1.5`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var got PageNumber
			err := json.Unmarshal([]byte(tt.raw), &got)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("Unmarshal(%s) = %d, want %d", tt.raw, got, tt.want)
			}
		})
	}
}
