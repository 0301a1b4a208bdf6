package ingest

import (
	"testing"
)

func TestExtractMetadata(t *testing.T) {
	tests := []struct {
		name  string
		cells [][]string
		want  Metadata
	}{
		{
			name: "interpark header",
			cells: [][]string{
				{"예매자 리스트"},
				{"공연명 : 오페라 갈라 (앵콜)", ""},
				{"공연일시", "2024.11.15 14:00"},
				{"조회시간 2024-11-01 09:30"},
			},
			want: Metadata{Name: "오페라 갈라", Date: "2024.11.15", Time: "14:00"},
		},
		{
			name: "full-width colon and dashed date",
			cells: [][]string{
				{"", "상품명：Opera"},
				{"", "", "2024-11-15"},
				{"", "", "", "9:05"},
			},
			want: Metadata{Name: "Opera", Date: "2024.11.15", Time: "09:05"},
		},
		{
			name: "query time is ignored",
			cells: [][]string{
				{"조회시간: 10:30"},
				{"제목: Hamlet"},
			},
			want: Metadata{Name: "Hamlet"},
		},
		{
			name: "label without colon yields no name",
			cells: [][]string{
				{"공연명", "Hamlet"},
			},
			want: Metadata{},
		},
		{
			name:  "nothing found",
			cells: [][]string{{"nan", "foo"}},
			want:  Metadata{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractMetadata(tt.cells); got != tt.want {
				t.Errorf("ExtractMetadata() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractMetadata_ScanWindow(t *testing.T) {
	cells := make([][]string, 30)
	for i := range cells {
		cells[i] = make([]string, 12)
	}
	cells[26][0] = "2024.01.01"
	cells[0][11] = "공연명: Too Far Right"
	cells[24][9] = "12:30"

	got := ExtractMetadata(cells)
	if got.Date != "" || got.Name != "" {
		t.Errorf("values outside the 25x10 window should be ignored: %+v", got)
	}
	if got.Time != "12:30" {
		t.Errorf("Time = %q, want 12:30", got.Time)
	}
	if got.Complete() {
		t.Error("Complete() = true for partial metadata")
	}
}
