package seatmap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	ls, err := Load("")
	require.NoError(t, err)

	l, ok := ls.For("연극 햄릿")
	require.True(t, ok)
	assert.Equal(t, 8+10+10+12, l.Capacity())

	seat, ok := l.Lookup("c5")
	require.True(t, ok)
	assert.Equal(t, "C-05", seat.Descriptor)
	assert.Equal(t, "B", seat.SectionID)
	assert.Equal(t, int64(60000), seat.Price)

	_, ok = l.Lookup("A-09")
	assert.False(t, ok, "row A only has 8 seats")

	_, ok = ls.For("Unknown Show")
	assert.False(t, ok)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layouts.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
performances:
  - performance: Opera
    sections:
      - id: S
        name: Stalls
        rows: [C]
        seats_per_row: 6
        price: 50000
`), 0o600))

	ls, err := Load(path)
	require.NoError(t, err)
	l, ok := ls.For(" Opera ")
	require.True(t, ok)

	seats := l.Seats()
	require.Len(t, seats, 6)
	assert.Equal(t, "C-01", seats[0].Descriptor)
	assert.Equal(t, "C-06", seats[5].Descriptor)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParse_Validation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no performance name", `performances: [{sections: [{id: A, rows: [A], seats_per_row: 1}]}]`},
		{"no sections", `performances: [{performance: X}]`},
		{"empty section id", `performances: [{performance: X, sections: [{rows: [A], seats_per_row: 1}]}]`},
		{"zero seats", `performances: [{performance: X, sections: [{id: A, rows: [A], seats_per_row: 0}]}]`},
		{"negative price", `performances: [{performance: X, sections: [{id: A, rows: [A], seats_per_row: 1, price: -1}]}]`},
		{"bad row label", `performances: [{performance: X, sections: [{id: A, rows: ["a1"], seats_per_row: 1}]}]`},
		{"row in two sections", `performances: [{performance: X, sections: [{id: A, rows: [A], seats_per_row: 1}, {id: B, rows: [A], seats_per_row: 1}]}]`},
		{"duplicate section", `performances: [{performance: X, sections: [{id: A, rows: [A], seats_per_row: 1}, {id: A, rows: [B], seats_per_row: 1}]}]`},
		{"duplicate performance", `performances: [{performance: X, sections: [{id: A, rows: [A], seats_per_row: 1}]}, {performance: X, sections: [{id: A, rows: [A], seats_per_row: 1}]}]`},
		{"not yaml", `performances: [`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			assert.Error(t, err)
		})
	}
}

func TestParseSeat(t *testing.T) {
	tests := []struct {
		in      string
		row     string
		number  int
		wantErr bool
	}{
		{"C-05", "C", 5, false},
		{"c5", "C", 5, false},
		{" AA-12 ", "AA", 12, false},
		{"B 7", "B", 7, false},
		{"C-00", "", 0, true},
		{"12", "", 0, true},
		{"1층 A열 5번", "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			row, n, err := ParseSeat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.row, row)
			assert.Equal(t, tt.number, n)
		})
	}
}
