package platformmap

import (
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"
)

var epoch = time.Date(2025, 6, 1, 8, 30, 0, 123e6, time.UTC)

func checkIndexes(t *testing.T, d *Document, step string) {
	t.Helper()
	for i, e := range d.Map.Locations {
		if e.Index != i+1 {
			t.Fatalf("%s: Locations[%d].Index = %d", step, i, e.Index)
		}
	}
}

func TestNewDefaults(t *testing.T) {
	d := New(epoch)
	if d.PlatformNumber != 1 || d.MapName != "New Map" || d.IsActive {
		t.Errorf("defaults = %+v", d)
	}
	if d.MapTime != "2025-06-01T08:30:00.123Z" {
		t.Errorf("MapTime = %q", d.MapTime)
	}
	if d.Map.PlatformID != nil || d.Map.Locations == nil || len(d.Map.Locations) != 0 {
		t.Errorf("body = %+v", d.Map)
	}
	e := d.AddLocation()
	if e.Index != 1 || e.X != ZeroSentinel || e.Location.Type != LocationUnknown {
		t.Errorf("new location = %+v", e)
	}
}

func TestRemoveKeepsOrderAndReindexes(t *testing.T) {
	d := New(epoch)
	for id := 1; id <= 3; id++ {
		d.AddLocation()
		d.Map.Locations[id-1].Location.ID = id * 10
	}
	if err := d.RemoveLocation(1); err != nil {
		t.Fatal(err)
	}
	if len(d.Map.Locations) != 2 {
		t.Fatalf("len = %d", len(d.Map.Locations))
	}
	if d.Map.Locations[0].Location.ID != 10 || d.Map.Locations[1].Location.ID != 30 {
		t.Errorf("order = %+v", d.Map.Locations)
	}
	checkIndexes(t, d, "remove")
	if err := d.RemoveLocation(5); err == nil {
		t.Error("out-of-range remove succeeded")
	}
}

func TestIndexesHoldUnderRandomEdits(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	d := New(epoch)
	for step := 0; step < 2000; step++ {
		n := len(d.Map.Locations)
		switch op := rng.Intn(4); {
		case op == 0 || n == 0:
			d.AddLocation()
		case op == 1:
			d.RemoveLocation(rng.Intn(n))
		case op == 2:
			d.MoveUp(rng.Intn(n))
		default:
			d.MoveDown(rng.Intn(n))
		}
		checkIndexes(t, d, "random edit")
	}
}

func TestMoveAtEdgesIsNoop(t *testing.T) {
	d := New(epoch)
	d.AddLocation()
	d.AddLocation()
	d.Map.Locations[0].Location.ID = 1
	d.Map.Locations[1].Location.ID = 2

	if d.MoveUp(0) || d.MoveDown(1) {
		t.Error("edge move reported a change")
	}
	if !d.MoveDown(0) {
		t.Fatal("MoveDown(0) did nothing")
	}
	if d.Map.Locations[0].Location.ID != 2 {
		t.Errorf("after MoveDown: %+v", d.Map.Locations)
	}
	checkIndexes(t, d, "move")
}

func TestSentinelIsIdempotent(t *testing.T) {
	d := New(epoch)
	d.Map.Locations = []Entry{{X: 0}, {X: 1.5}, {X: ZeroSentinel}}
	if n := d.ApplySentinel(); n != 1 {
		t.Errorf("first pass changed %d", n)
	}
	first := append([]Entry(nil), d.Map.Locations...)
	if n := d.ApplySentinel(); n != 0 {
		t.Errorf("second pass changed %d", n)
	}
	for i := range first {
		if first[i] != d.Map.Locations[i] {
			t.Errorf("entry %d changed on second pass", i)
		}
	}
	if Sentinel(Sentinel(0)) != ZeroSentinel {
		t.Error("Sentinel not idempotent")
	}
}

func TestEncodeLocations(t *testing.T) {
	locs := []Entry{
		{Index: 1, Location: Location{Type: LocationMilkStall, ID: 4}, X: 0, Y: 1.23456, Z: -0.5},
		{Index: 2, Location: Location{Type: LocationWashStation, ID: 1}, X: 2, Y: 0, Z: 0},
	}
	got := EncodeLocations(locs)
	want := "1,4,0.001,1.235,-0.500|5,1,2.000,0.000,0.000"
	if got != want {
		t.Errorf("EncodeLocations = %q, want %q", got, want)
	}
	if locs[0].X != 0 {
		t.Error("EncodeLocations modified its input")
	}
	if EncodeLocations(nil) != "" {
		t.Error("empty list should encode to empty string")
	}
}

func TestEncodeLocationsRoundsTiesAwayFromZero(t *testing.T) {
	tests := []struct {
		v    float64
		want string
	}{
		{0.0625, "0.063"},
		{0.3125, "0.313"},
		{-0.0625, "-0.063"},
		{2.5e-4, "0.001"}, // stored just above the tie
		{1.0005, "1.000"}, // stored just below it
		{999.9995, "1000.000"},
		{-0.0001, "-0.000"},
		{math.Copysign(0, -1), "0.000"},
		{12345.6789, "12345.679"},
	}
	for _, tt := range tests {
		if got := fixed3(tt.v); got != tt.want {
			t.Errorf("fixed3(%v) = %q, want %q", tt.v, got, tt.want)
		}
	}

	e := Entry{Location: Location{Type: LocationParking, ID: 1}, X: 0.0625, Y: 0.3125, Z: -0.0625}
	if got, want := EncodeLocations([]Entry{e}), "2,1,0.063,0.313,-0.063"; got != want {
		t.Errorf("EncodeLocations = %q, want %q", got, want)
	}
}

func TestValidateForSend(t *testing.T) {
	d := New(epoch)
	d.Map.SiteName = "Barn 2"
	if err := d.ValidateForSend(); err == nil || !strings.Contains(err.Error(), "location") {
		t.Errorf("no locations: %v", err)
	}
	d.AddLocation()
	if err := d.ValidateForSend(); err != nil {
		t.Errorf("valid map rejected: %v", err)
	}
	d.MapName = "   "
	if err := d.ValidateForSend(); err == nil {
		t.Error("blank map name accepted")
	}
	d.MapName = "North"
	d.Map.SiteName = ""
	if err := d.ValidateForSend(); err == nil {
		t.Error("empty site name accepted")
	}
}

func TestExportNameAndFingerprint(t *testing.T) {
	d := New(epoch)
	d.MapName = "North"
	d.PlatformNumber = 3
	if got := d.ExportName(); got != "North-3.json" {
		t.Errorf("ExportName = %q", got)
	}

	a := d.Fingerprint()
	later := d.Clone()
	later.MapTime = Timestamp(epoch.Add(time.Hour))
	if later.Fingerprint() != a {
		t.Error("fingerprint depends on MapTime")
	}
	later.AddLocation()
	if later.Fingerprint() == a {
		t.Error("fingerprint ignores locations")
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d", len(a))
	}
}

func TestCloneIsDeep(t *testing.T) {
	id := "P-1"
	d := New(epoch)
	d.Map.PlatformID = &id
	d.AddLocation()
	c := d.Clone()
	c.Map.Locations[0].X = 9
	*c.Map.PlatformID = "P-2"
	if d.Map.Locations[0].X == 9 || *d.Map.PlatformID != "P-1" {
		t.Error("clone shares state with original")
	}
}
