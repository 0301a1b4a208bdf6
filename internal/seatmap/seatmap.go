// Package seatmap holds the typed seat layouts of each performance.
package seatmap

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_layouts.yaml
var defaultLayouts []byte

// Section is a priced block of rows
type Section struct {
	ID          string   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name"`
	Rows        []string `yaml:"rows" json:"rows"`
	SeatsPerRow int      `yaml:"seats_per_row" json:"seats_per_row"`
	Color       string   `yaml:"color" json:"color,omitempty"`
	Price       int64    `yaml:"price" json:"price"`
}

// Layout is the seating plan of one performance
type Layout struct {
	Performance string    `yaml:"performance" json:"performance"`
	Sections    []Section `yaml:"sections" json:"sections"`

	seats map[string]Seat
}

// Seat is one addressable seat of a layout
type Seat struct {
	Descriptor string `json:"seat"`
	SectionID  string `json:"section_id"`
	Row        string `json:"row"`
	Number     int    `json:"number"`
	Price      int64  `json:"price"`
}

// Layouts indexes layouts by performance name
type Layouts struct {
	byName map[string]*Layout
}

type file struct {
	Performances []*Layout `yaml:"performances"`
}

// Load reads layouts from path, or the built-in layouts when path is empty
func Load(path string) (*Layouts, error) {
	if path == "" {
		return Parse(defaultLayouts)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seat layout file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a layout document
func Parse(data []byte) (*Layouts, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seat layout file: %w", err)
	}

	ls := &Layouts{byName: make(map[string]*Layout, len(f.Performances))}
	for _, l := range f.Performances {
		if err := l.validate(); err != nil {
			return nil, err
		}
		if _, dup := ls.byName[l.Performance]; dup {
			return nil, fmt.Errorf("performance %q: layout defined twice", l.Performance)
		}
		l.index()
		ls.byName[l.Performance] = l
	}
	return ls, nil
}

// Empty returns a set with no layouts
func Empty() *Layouts {
	return &Layouts{byName: map[string]*Layout{}}
}

// For returns the layout of a performance
func (ls *Layouts) For(performance string) (*Layout, bool) {
	if ls == nil {
		return nil, false
	}
	l, ok := ls.byName[strings.TrimSpace(performance)]
	return l, ok
}

// Names lists the performances that have a layout
func (ls *Layouts) Names() []string {
	names := make([]string, 0, len(ls.byName))
	for n := range ls.byName {
		names = append(names, n)
	}
	return names
}

func (l *Layout) validate() error {
	if strings.TrimSpace(l.Performance) == "" {
		return fmt.Errorf("layout without performance name")
	}
	if len(l.Sections) == 0 {
		return fmt.Errorf("performance %q: no sections", l.Performance)
	}
	ids := make(map[string]bool)
	rows := make(map[string]string)
	for _, s := range l.Sections {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("performance %q: section without id", l.Performance)
		}
		if ids[s.ID] {
			return fmt.Errorf("performance %q: section %q defined twice", l.Performance, s.ID)
		}
		ids[s.ID] = true
		if s.SeatsPerRow <= 0 {
			return fmt.Errorf("performance %q: section %q: seats_per_row must be positive", l.Performance, s.ID)
		}
		if s.Price < 0 {
			return fmt.Errorf("performance %q: section %q: price must not be negative", l.Performance, s.ID)
		}
		if len(s.Rows) == 0 {
			return fmt.Errorf("performance %q: section %q: no rows", l.Performance, s.ID)
		}
		for _, r := range s.Rows {
			if !rowLabel.MatchString(r) {
				return fmt.Errorf("performance %q: section %q: invalid row label %q", l.Performance, s.ID, r)
			}
			if other, taken := rows[r]; taken {
				return fmt.Errorf("performance %q: row %q in sections %q and %q", l.Performance, r, other, s.ID)
			}
			rows[r] = s.ID
		}
	}
	return nil
}

func (l *Layout) index() {
	l.seats = make(map[string]Seat)
	for _, s := range l.Sections {
		for _, r := range s.Rows {
			for n := 1; n <= s.SeatsPerRow; n++ {
				d := FormatSeat(r, n)
				l.seats[d] = Seat{Descriptor: d, SectionID: s.ID, Row: r, Number: n, Price: s.Price}
			}
		}
	}
}

// Lookup resolves a descriptor ("C-5", "c05", "C-05") to a seat of the layout
func (l *Layout) Lookup(descriptor string) (Seat, bool) {
	row, n, err := ParseSeat(descriptor)
	if err != nil {
		return Seat{}, false
	}
	s, ok := l.seats[FormatSeat(row, n)]
	return s, ok
}

// Seats lists every seat in section, row and number order
func (l *Layout) Seats() []Seat {
	out := make([]Seat, 0, len(l.seats))
	for _, s := range l.Sections {
		for _, r := range s.Rows {
			for n := 1; n <= s.SeatsPerRow; n++ {
				out = append(out, l.seats[FormatSeat(r, n)])
			}
		}
	}
	return out
}

// Capacity is the number of seats in the layout
func (l *Layout) Capacity() int {
	return len(l.seats)
}

var (
	rowLabel    = regexp.MustCompile(`^[A-Z]{1,3}$`)
	seatPattern = regexp.MustCompile(`^([A-Za-z]{1,3})\s*-?\s*(\d{1,4})$`)
)

// FormatSeat renders the canonical descriptor, e.g. C-05
func FormatSeat(row string, number int) string {
	return fmt.Sprintf("%s-%02d", row, number)
}

// ParseSeat splits a descriptor into row label and seat number
func ParseSeat(descriptor string) (string, int, error) {
	m := seatPattern.FindStringSubmatch(strings.TrimSpace(descriptor))
	if m == nil {
		return "", 0, fmt.Errorf("unrecognized seat descriptor %q", descriptor)
	}
	n, _ := strconv.Atoi(m[2])
	if n == 0 {
		return "", 0, fmt.Errorf("seat number must start at 1: %q", descriptor)
	}
	return strings.ToUpper(m[1]), n, nil
}
