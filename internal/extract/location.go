package extract

import (
	"regexp"
	"strconv"

	"github.com/ashureev/souq-assistant/internal/domain"
)

// Meta is client-supplied context sent along with a message.
type Meta struct {
	// GPS is the device position, when the user shared it.
	GPS *domain.Location `json:"gps,omitempty"`
	// Images are URLs of pictures the client already uploaded.
	Images []string `json:"images,omitempty" validate:"omitempty,max=10,dive,url"`
}

var locationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`@(-?\d{1,3}(?:\.\d+)?),(-?\d{1,3}(?:\.\d+)?)`),
	regexp.MustCompile(`(?i)[?&](?:q|ll|query|destination|daddr)=(-?\d{1,3}(?:\.\d+)?)(?:,|%2c)\s*(-?\d{1,3}(?:\.\d+)?)`),
	regexp.MustCompile(`(?:^|[^\d.])(-?\d{1,2}\.\d+)\s*,\s*(-?\d{1,3}\.\d+)`),
}

// ParseLocationFromTextOrMeta returns the coordinates carried by meta, or
// else the last map link or "lat,lng" pair in text. Out of range values are
// ignored.
func ParseLocationFromTextOrMeta(text string, meta *Meta) *domain.Location {
	if meta != nil && meta.GPS != nil && meta.GPS.Valid() {
		loc := *meta.GPS
		return &loc
	}

	s := NormalizeDigits(text)
	var (
		found *domain.Location
		pos   = -1
	)
	for _, re := range locationPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(s, -1) {
			lat, err1 := strconv.ParseFloat(s[m[2]:m[3]], 64)
			lng, err2 := strconv.ParseFloat(s[m[4]:m[5]], 64)
			if err1 != nil || err2 != nil {
				continue
			}
			loc := domain.Location{Lat: lat, Lng: lng}
			if !loc.Valid() {
				continue
			}
			if m[2] > pos {
				pos = m[2]
				found = &loc
			}
		}
	}
	return found
}
