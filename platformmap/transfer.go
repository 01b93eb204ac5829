package platformmap

import (
	"context"
	"fmt"

	"robolink/command"
)

// Sender writes one command to the robot.
type Sender interface {
	Send(ctx context.Context, c command.Command) error
}

// Metadata is the first transfer phase for d.
func Metadata(d *Document) command.MapMetadata {
	return command.MapMetadata{
		IsNegative:     d.Map.IsNegative,
		MapName:        d.MapName,
		FarmID:         d.Map.FarmID,
		SiteName:       d.Map.SiteName,
		PlatformNumber: d.PlatformNumber,
	}
}

// Transfer sends d to the robot in two writes: metadata, then locations.
// The second write only happens if the first succeeded. The two are not
// atomic; a failed locations write leaves the robot with new metadata and
// old locations, and nothing is retried.
func Transfer(ctx context.Context, s Sender, d *Document) error {
	if err := d.ValidateForSend(); err != nil {
		return err
	}
	if err := s.Send(ctx, Metadata(d)); err != nil {
		return fmt.Errorf("send map metadata: %w", err)
	}
	if err := s.Send(ctx, command.MapLocations{P: EncodeLocations(d.Map.Locations)}); err != nil {
		return fmt.Errorf("send map locations: %w", err)
	}
	return nil
}
