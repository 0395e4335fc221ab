package model

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxNameLength caps every translated option name, in characters.
const MaxNameLength = 255

// DefaultLocale is preferred when deriving an option's canonical name.
const DefaultLocale = "en"

var latLngRegexp = regexp.MustCompile(`^(-?\d+(\.\d+)?)\s*[,;:\s]\s*(-?\d+(\.\d+)?)`)

// Option is a single selectable value in an option set.
type Option struct {
	ID               uuid.UUID         `json:"id"`
	NameTranslations map[string]string `json:"name_translations"`
	CanonicalName    string            `json:"canonical_name"`
	Value            *int              `json:"value,omitempty"`
	Latitude         *float64          `json:"latitude,omitempty"`
	Longitude        *float64          `json:"longitude,omitempty"`
	MissionID        uuid.NullUUID     `json:"mission_id"`
	StandardID       uuid.NullUUID     `json:"standard_id"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// ValidationError describes a malformed option attribute.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Name returns the name in the preferred locale.
func (o *Option) Name() string {
	return preferredName(o.NameTranslations)
}

// NameIn returns the name for locale, falling back to the preferred name.
func (o *Option) NameIn(locale string) string {
	if n := strings.TrimSpace(o.NameTranslations[locale]); n != "" {
		return n
	}
	return o.Name()
}

// HasCoordinates reports whether either coordinate is set.
func (o *Option) HasCoordinates() bool {
	return o.Latitude != nil || o.Longitude != nil
}

// Coordinates renders the coordinates as "lat, lng", or "" when unset.
func (o *Option) Coordinates() string {
	if o.Latitude == nil || o.Longitude == nil {
		return ""
	}
	return strconv.FormatFloat(*o.Latitude, 'f', -1, 64) + ", " + strconv.FormatFloat(*o.Longitude, 'f', -1, 64)
}

// Normalize refreshes derived attributes. It is called before every save.
func (o *Option) Normalize() {
	o.CanonicalName = preferredName(o.NameTranslations)
	if o.Latitude != nil {
		v := truncate6(*o.Latitude)
		o.Latitude = &v
	}
	if o.Longitude != nil {
		v := truncate6(*o.Longitude)
		o.Longitude = &v
	}
}

// Validate checks names and coordinates.
func (o *Option) Validate() error {
	if preferredName(o.NameTranslations) == "" {
		return &ValidationError{Field: "name_translations", Reason: "must have at least one non-blank name"}
	}
	for locale, name := range o.NameTranslations {
		if utf8.RuneCountInString(name) > MaxNameLength {
			return &ValidationError{
				Field:  "name_translations." + locale,
				Reason: fmt.Sprintf("is longer than %d characters", MaxNameLength),
			}
		}
	}
	if o.HasCoordinates() {
		if o.Latitude == nil || o.Longitude == nil {
			return &ValidationError{Field: "coordinates", Reason: "must have both latitude and longitude"}
		}
		if *o.Latitude < -90 || *o.Latitude > 90 {
			return &ValidationError{Field: "latitude", Reason: "must be between -90 and 90"}
		}
		if *o.Longitude < -180 || *o.Longitude > 180 {
			return &ValidationError{Field: "longitude", Reason: "must be between -180 and 180"}
		}
	}
	return nil
}

// Apply copies the attributes present in a onto the option.
func (o *Option) Apply(a *OptionAttribs) error {
	if a == nil {
		return nil
	}
	if a.NameTranslations != nil {
		names := make(map[string]string, len(a.NameTranslations))
		for k, v := range a.NameTranslations {
			names[k] = v
		}
		o.NameTranslations = names
	}
	if a.Value != nil {
		v := *a.Value
		o.Value = &v
	}
	if a.Coordinates != nil {
		lat, lng, err := ParseCoordinates(*a.Coordinates)
		if err != nil {
			return err
		}
		o.Latitude, o.Longitude = lat, lng
	}
	if a.Latitude != nil {
		v := *a.Latitude
		o.Latitude = &v
	}
	if a.Longitude != nil {
		v := *a.Longitude
		o.Longitude = &v
	}
	return nil
}

// ParseCoordinates parses "lat, lng". Commas, semicolons, colons or spaces may
// separate the two numbers. A blank string clears both coordinates.
func ParseCoordinates(s string) (lat, lng *float64, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil, nil
	}
	m := latLngRegexp.FindStringSubmatch(s)
	if m == nil {
		return nil, nil, &ValidationError{Field: "coordinates", Reason: fmt.Sprintf("%q is not a valid coordinate pair", s)}
	}
	la, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return nil, nil, &ValidationError{Field: "latitude", Reason: err.Error()}
	}
	ln, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return nil, nil, &ValidationError{Field: "longitude", Reason: err.Error()}
	}
	la, ln = truncate6(la), truncate6(ln)
	return &la, &ln, nil
}

// truncate6 drops digits past the sixth decimal. Rounding at the ninth first
// keeps an already truncated value stable.
func truncate6(v float64) float64 {
	return math.Trunc(math.Round(v*1e9)/1e3) / 1e6
}

func preferredName(names map[string]string) string {
	if n := strings.TrimSpace(names[DefaultLocale]); n != "" {
		return n
	}
	locales := make([]string, 0, len(names))
	for k := range names {
		locales = append(locales, k)
	}
	sort.Strings(locales)
	for _, l := range locales {
		if n := strings.TrimSpace(names[l]); n != "" {
			return n
		}
	}
	return ""
}
