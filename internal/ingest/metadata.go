package ingest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	metadataRows = 25
	metadataCols = 10
)

var (
	nameLabels  = []string{"공연명", "상품명", "제목"}
	nameSplit   = regexp.MustCompile(`[:：]`)
	parenthesis = regexp.MustCompile(`\([^)]*\)`)
	datePattern = regexp.MustCompile(`(\d{4})[.-](\d{2})[.-](\d{2})`)
	timePattern = regexp.MustCompile(`(\d{1,2}):(\d{2})`)
)

// queryTimeMarker tags "조회시간" style cells whose clock value is the
// export time, not the performance time.
const queryTimeMarker = "조회"

// Metadata is a best-effort guess at the session an export belongs to.
// Any field may be empty.
type Metadata struct {
	Name     string   `json:"name"`
	Date     string   `json:"date"`
	Time     string   `json:"time"`
	Platform Platform `json:"platform,omitempty"`
}

// Complete reports whether all three key parts were found
func (m Metadata) Complete() bool {
	return m.Name != "" && m.Date != "" && m.Time != ""
}

// ExtractMetadata scans the header region of an export (first 25 rows, 10
// columns) for a performance name, a date and a start time. The first
// match of each wins.
func ExtractMetadata(cells [][]string) Metadata {
	var m Metadata
	for r := 0; r < len(cells) && r < metadataRows; r++ {
		row := cells[r]
		for c := 0; c < len(row) && c < metadataCols; c++ {
			v := cell(row[c])
			if v == "" {
				continue
			}
			if m.Name == "" {
				m.Name = extractName(v)
			}
			if m.Date == "" {
				if g := datePattern.FindStringSubmatch(v); g != nil {
					m.Date = fmt.Sprintf("%s.%s.%s", g[1], g[2], g[3])
				}
			}
			if m.Time == "" && !strings.Contains(v, queryTimeMarker) {
				if g := timePattern.FindStringSubmatch(v); g != nil {
					hour, _ := strconv.Atoi(g[1])
					m.Time = fmt.Sprintf("%02d:%s", hour, g[2])
				}
			}
		}
	}
	return m
}

func extractName(v string) string {
	labelled := false
	for _, l := range nameLabels {
		if strings.Contains(v, l) {
			labelled = true
			break
		}
	}
	if !labelled {
		return ""
	}
	parts := nameSplit.Split(v, 2)
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parenthesis.ReplaceAllString(parts[1], ""))
}
