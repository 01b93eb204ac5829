package sim_test

import (
	"context"
	"testing"
	"time"

	"robolink/command"
	"robolink/gatt"
	"robolink/link"
	"robolink/platformmap"
	"robolink/sim"
	"robolink/telemetry"
)

func connect(t *testing.T, r *sim.Robot, tcfg telemetry.Config) (*link.Manager, *command.Dispatcher) {
	t.Helper()
	m := link.NewManager(r.Transport(), gatt.NewQueue(time.Second), telemetry.NewFeed(), link.Config{
		StatusService:        command.GetStatus.Service,
		StatusCharacteristic: command.GetStatus.Characteristic,
		ConnectTimeout:       time.Second,
		Telemetry:            tcfg,
	}, nil, nil)
	t.Cleanup(m.Close)
	if !m.Open(context.Background(), r.Name()) {
		t.Fatal("Open failed")
	}
	return m, command.NewDispatcher(m, nil)
}

func TestCommandsChangeTelemetry(t *testing.T) {
	r := sim.New("Robot-Sim")
	m, d := connect(t, r, telemetry.Config{Interval: 2 * time.Millisecond})
	ctx := context.Background()
	cur := m.Feed().Subscribe()

	for _, c := range []command.Command{
		command.Homing{},
		command.PrepareForTest{RobotNumber: 3},
		command.Gripper{Open: true},
	} {
		if err := d.Send(ctx, c); err != nil {
			t.Fatalf("%T: %v", c, err)
		}
	}

	deadline, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	for {
		snap, _, err := cur.Next(deadline)
		if err != nil {
			t.Fatal("telemetry never reflected the commands")
		}
		if snap != nil && snap.Complete() && snap.InTestMode() && snap.Homing.All == 100 && snap.Grippers.Upper == 0 {
			break
		}
	}

	role, err := d.Read(ctx, command.GetRole)
	if err != nil || len(role) != 1 || role[0] != 3 {
		t.Errorf("role readback = %v, %v", role, err)
	}
}

func TestMapTransferReachesRobot(t *testing.T) {
	r := sim.New("Robot-Sim")
	_, d := connect(t, r, telemetry.Config{Interval: time.Hour})

	doc := platformmap.New(time.Now())
	doc.MapName = "North"
	doc.Map.SiteName = "Barn"
	doc.AddLocation()
	doc.AddLocation()
	doc.Map.Locations[1].Location = platformmap.Location{Type: platformmap.LocationParking, ID: 2}
	doc.Map.Locations[1].X = 3.2

	if err := platformmap.Transfer(context.Background(), d, doc); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if got := r.Metadata(); got.MapName != "North" || got.SiteName != "Barn" {
		t.Errorf("metadata = %+v", got)
	}
	locs := r.Locations()
	if len(locs) != 2 || locs[1] != "2,2,3.200,0.000,0.000" {
		t.Errorf("locations = %v", locs)
	}
}

func TestFrozenRobotGoesStale(t *testing.T) {
	r := sim.New("Robot-Sim")
	r.Freeze(true)
	m, _ := connect(t, r, telemetry.Config{Interval: time.Millisecond, StaleLimit: 10})

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != link.Disconnected {
		if time.Now().After(deadline) {
			t.Fatal("frozen robot never dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
