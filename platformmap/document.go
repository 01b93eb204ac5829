// Package platformmap holds the platform map document: the ordered list of
// stall, station and cup locations the robot drives to, plus the metadata
// identifying the platform. It edits, validates, persists and transfers it.
package platformmap

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// StorageKey is the fixed key the document is persisted under.
const StorageKey = "platform-map-editor"

// ZeroSentinel replaces an X coordinate of exactly 0 so the firmware can
// tell "at origin" from "not set".
const ZeroSentinel = 0.001

// TimeLayout is the MapTime format: UTC with milliseconds.
const TimeLayout = "2006-01-02T15:04:05.000Z"

var (
	ErrInvalidDocument = errors.New("invalid platform map")
	ErrOutOfRange      = errors.New("location index out of range")
)

// LocationType is the kind of place a location marks.
type LocationType int

const (
	LocationUnknown LocationType = iota
	LocationMilkStall
	LocationParking
	LocationBrusherStation
	LocationDipperStation
	LocationWashStation
	LocationLeftCup
	LocationRightCup
	LocationCount
)

func (t LocationType) String() string {
	switch t {
	case LocationMilkStall:
		return "Milk Stall"
	case LocationParking:
		return "Parking"
	case LocationBrusherStation:
		return "Brusher Station"
	case LocationDipperStation:
		return "Dipper Station"
	case LocationWashStation:
		return "Wash Station"
	case LocationLeftCup:
		return "Left Cup"
	case LocationRightCup:
		return "Right Cup"
	case LocationCount:
		return "Count"
	}
	return "Unknown"
}

// Location identifies a place on the platform.
type Location struct {
	Type LocationType `json:"Type"`
	ID   int          `json:"ID"`
}

// Entry is one location in the map, at 1-based position Index.
type Entry struct {
	Index    int      `json:"Index"`
	Location Location `json:"Location"`
	X        float64  `json:"XLocationInMeters"`
	Y        float64  `json:"YLocationInMeters"`
	Z        float64  `json:"ZLocationInMeters"`
}

// String renders the entry the way the locations payload carries it.
func (e Entry) String() string {
	return fmt.Sprintf("%d,%d,%s,%s,%s", int(e.Location.Type), e.Location.ID,
		fixed3(Sentinel(e.X)), fixed3(e.Y), fixed3(e.Z))
}

// Body is the platform description and its locations.
type Body struct {
	PlatformID *string `json:"PlatformID"`
	IsNegative bool    `json:"IsNegative"`
	FarmID     int     `json:"FarmId"`
	SiteName   string  `json:"SiteName"`
	Locations  []Entry `json:"Locations"`
}

// Document is the persisted platform map.
type Document struct {
	PlatformNumber int    `json:"PlatformNumber"`
	MapTime        string `json:"MapTime"`
	MapName        string `json:"MapName"`
	IsActive       bool   `json:"IsActive"`
	Map            Body   `json:"Map"`
}

// Timestamp formats t as a MapTime.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// New returns an empty map with editor defaults.
func New(now time.Time) *Document {
	return &Document{
		PlatformNumber: 1,
		MapTime:        Timestamp(now),
		MapName:        "New Map",
		Map:            Body{Locations: []Entry{}},
	}
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	c := *d
	if d.Map.PlatformID != nil {
		id := *d.Map.PlatformID
		c.Map.PlatformID = &id
	}
	c.Map.Locations = append([]Entry{}, d.Map.Locations...)
	return &c
}

// Reindex renumbers every location to its 1-based position.
func (d *Document) Reindex() {
	for i := range d.Map.Locations {
		d.Map.Locations[i].Index = i + 1
	}
}

// AddLocation appends a default location and returns it.
func (d *Document) AddLocation() Entry {
	d.Map.Locations = append(d.Map.Locations, Entry{X: ZeroSentinel})
	d.Reindex()
	return d.Map.Locations[len(d.Map.Locations)-1]
}

// RemoveLocation deletes the location at array position i.
func (d *Document) RemoveLocation(i int) error {
	if i < 0 || i >= len(d.Map.Locations) {
		return fmt.Errorf("%w: %d", ErrOutOfRange, i+1)
	}
	d.Map.Locations = append(d.Map.Locations[:i:i], d.Map.Locations[i+1:]...)
	d.Reindex()
	return nil
}

// UpdateLocation replaces the location at array position i. The index is
// assigned, not taken from e.
func (d *Document) UpdateLocation(i int, e Entry) error {
	if i < 0 || i >= len(d.Map.Locations) {
		return fmt.Errorf("%w: %d", ErrOutOfRange, i+1)
	}
	d.Map.Locations[i] = e
	d.Reindex()
	return nil
}

// MoveUp swaps the location at i with its predecessor. It reports whether
// anything moved; the first entry stays put.
func (d *Document) MoveUp(i int) bool {
	if i <= 0 || i >= len(d.Map.Locations) {
		return false
	}
	locs := d.Map.Locations
	locs[i-1], locs[i] = locs[i], locs[i-1]
	d.Reindex()
	return true
}

// MoveDown swaps the location at i with its successor.
func (d *Document) MoveDown(i int) bool {
	if i < 0 || i >= len(d.Map.Locations)-1 {
		return false
	}
	locs := d.Map.Locations
	locs[i], locs[i+1] = locs[i+1], locs[i]
	d.Reindex()
	return true
}

// Sentinel returns ZeroSentinel for an X of exactly zero and x otherwise.
func Sentinel(x float64) float64 {
	if x == 0 {
		return ZeroSentinel
	}
	return x
}

// ApplySentinel rewrites every zero X coordinate and returns how many it
// changed. Applying it again changes nothing.
func (d *Document) ApplySentinel() int {
	n := 0
	for i := range d.Map.Locations {
		if d.Map.Locations[i].X == 0 {
			d.Map.Locations[i].X = ZeroSentinel
			n++
		}
	}
	return n
}

// ValidateForSend checks what the robot needs before a transfer.
func (d *Document) ValidateForSend() error {
	switch {
	case strings.TrimSpace(d.MapName) == "":
		return fmt.Errorf("%w: map name is required", ErrInvalidDocument)
	case strings.TrimSpace(d.Map.SiteName) == "":
		return fmt.Errorf("%w: site name is required", ErrInvalidDocument)
	case len(d.Map.Locations) == 0:
		return fmt.Errorf("%w: at least one location is required", ErrInvalidDocument)
	}
	return nil
}

// ExportName is the download file name for d.
func (d *Document) ExportName() string {
	return fmt.Sprintf("%s-%d.json", d.MapName, d.PlatformNumber)
}

// Fingerprint is the BLAKE3 hash of the document content, excluding
// MapTime, so two saves of the same map compare equal.
func (d *Document) Fingerprint() string {
	c := d.Clone()
	c.MapTime = ""
	b, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := blake3.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// EncodeLocations renders locs as "Type,ID,X,Y,Z|..." with three decimals,
// substituting zero X coordinates.
func EncodeLocations(locs []Entry) string {
	parts := make([]string, len(locs))
	for i, e := range locs {
		parts[i] = e.String()
	}
	return strings.Join(parts, "|")
}

// fixed3 formats v with three decimals, rounding the exact binary value
// half away from zero. strconv rounds ties to even, which puts 0.0625 at
// 0.062 where the firmware's own encoder writes 0.063. Negative zero prints
// unsigned; a negative value that rounds to zero keeps its sign.
func fixed3(v float64) string {
	switch {
	case math.IsNaN(v):
		return "NaN"
	case math.IsInf(v, 1):
		return "Infinity"
	case math.IsInf(v, -1):
		return "-Infinity"
	}
	r := new(big.Rat).SetFloat64(v)
	neg := r.Sign() < 0
	r.Abs(r)
	r.Mul(r, big.NewRat(1000, 1))
	r.Add(r, big.NewRat(1, 2))
	digits := new(big.Int).Quo(r.Num(), r.Denom()).String()
	if len(digits) < 4 {
		digits = strings.Repeat("0", 4-len(digits)) + digits
	}
	out := digits[:len(digits)-3] + "." + digits[len(digits)-3:]
	if neg {
		out = "-" + out
	}
	return out
}
