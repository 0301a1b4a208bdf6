package ingest

import (
	"fmt"
	"strings"

	"github.com/Jsun-cre8bara/qr-ticketing-tcats/internal/domain"
)

// Platform identifies a box-office vendor
type Platform string

const (
	PlatformInterpark  Platform = "interpark"
	PlatformTicketlink Platform = "ticketlink"
	PlatformYes24      Platform = "yes24"
)

// Canonical fields a vendor column can feed
type Field string

const (
	FieldExternalNumber Field = "external_number"
	FieldHolderName     Field = "holder_name"
	FieldPhone          Field = "phone"
	FieldSeat           Field = "seat_descriptor"
	FieldQuantity       Field = "quantity"
)

var requiredFields = []Field{FieldExternalNumber, FieldHolderName, FieldPhone, FieldSeat, FieldQuantity}

// Format describes one vendor export layout
type Format struct {
	Platform    Platform
	DisplayName string
	// FilenameHints are matched case-insensitively against upload names
	FilenameHints []string
	// HeaderRow is the zero-based spreadsheet row holding column titles
	HeaderRow int
	Columns   map[Field]string
}

// Column returns the vendor header feeding f
func (s *Format) Column(f Field) string {
	return s.Columns[f]
}

// Headers returns the vendor headers in canonical field order
func (s *Format) Headers() []string {
	out := make([]string, 0, len(requiredFields))
	for _, f := range requiredFields {
		out = append(out, s.Columns[f])
	}
	return out
}

// registry is checked by validateRegistry at package init; detection follows slice order.
var registry = []*Format{
	{
		Platform:      PlatformInterpark,
		DisplayName:   "인터파크",
		FilenameHints: []string{"인터파크", "interpark"},
		HeaderRow:     5,
		Columns: map[Field]string{
			FieldExternalNumber: "예매번호",
			FieldHolderName:     "예매자명",
			FieldPhone:          "휴대폰번호",
			FieldSeat:           "좌석정보",
			FieldQuantity:       "매수",
		},
	},
	{
		Platform:      PlatformTicketlink,
		DisplayName:   "티켓링크",
		FilenameHints: []string{"티켓링크", "ticketlink"},
		HeaderRow:     5,
		Columns: map[Field]string{
			FieldExternalNumber: "예매번호(연동사 예매번호)",
			FieldHolderName:     "성명",
			FieldPhone:          "연락처(SMS)",
			FieldSeat:           "좌석번호",
			FieldQuantity:       "매수",
		},
	},
	{
		Platform:      PlatformYes24,
		DisplayName:   "예스24",
		FilenameHints: []string{"예스24", "yes24"},
		HeaderRow:     19,
		Columns: map[Field]string{
			FieldExternalNumber: "주문번호",
			FieldHolderName:     "예매자명",
			FieldPhone:          "휴대폰번호",
			FieldSeat:           "좌석",
			FieldQuantity:       "매수",
		},
	},
}

var byPlatform = map[Platform]*Format{}

func init() {
	if err := validateRegistry(registry); err != nil {
		panic(err)
	}
	for _, s := range registry {
		byPlatform[s.Platform] = s
	}
}

func validateRegistry(formats []*Format) error {
	seen := make(map[Platform]bool)
	for _, s := range formats {
		if s.Platform == "" || seen[s.Platform] {
			return fmt.Errorf("ingest: platform %q is empty or registered twice", s.Platform)
		}
		seen[s.Platform] = true
		if len(s.FilenameHints) == 0 {
			return fmt.Errorf("ingest: platform %s has no filename hints", s.Platform)
		}
		for _, f := range requiredFields {
			if strings.TrimSpace(s.Columns[f]) == "" {
				return fmt.Errorf("ingest: platform %s does not map field %s", s.Platform, f)
			}
		}
	}
	return nil
}

// Platforms returns every registered vendor format
func Platforms() []*Format {
	out := make([]*Format, len(registry))
	copy(out, registry)
	return out
}

// Lookup returns the format for a platform tag or display name
func Lookup(name string) (*Format, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if s, ok := byPlatform[Platform(key)]; ok {
		return s, nil
	}
	for _, s := range registry {
		if s.DisplayName == strings.TrimSpace(name) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", domain.ErrUnknownPlatform, name)
}

// DetectPlatform picks the vendor from an upload filename
func DetectPlatform(filename string) (*Format, error) {
	lower := strings.ToLower(filename)
	for _, s := range registry {
		for _, hint := range s.FilenameHints {
			if strings.Contains(lower, strings.ToLower(hint)) {
				return s, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: cannot tell vendor from filename %q", domain.ErrUnknownPlatform, filename)
}

// Resolve prefers an explicit platform tag and falls back to the filename
func Resolve(platform, filename string) (*Format, error) {
	if strings.TrimSpace(platform) != "" {
		return Lookup(platform)
	}
	return DetectPlatform(filename)
}
