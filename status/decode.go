package status

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strconv"

	"robolink/fault"
)

// group sizes in frame order
const (
	sizeSequence = 2
	sizeActions  = 1
	sizeTool     = 1
	sizeMotors   = 3
	sizeHoming   = 4
	sizePhasing  = 4
	sizeGrippers = 2
	sizeTicks    = 12
	sizePoint    = 12
	sizeHasMap   = 1
)

type cursor struct {
	buf []byte
	off int
}

func (c *cursor) take(n int) ([]byte, bool) {
	if len(c.buf)-c.off < n {
		return nil, false
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, true
}

// Decode turns a telemetry frame into a Snapshot. It never fails: groups the
// buffer does not fully cover are left nil.
func Decode(buf []byte) *Snapshot {
	s, _ := DecodeChecked(buf)
	return s
}

// DecodeChecked is Decode that also reports a DecodeTruncated error when the
// frame stopped short of FrameSize or a group could not be read. The
// returned snapshot is valid either way.
func DecodeChecked(buf []byte) (*Snapshot, error) {
	s := &Snapshot{}
	c := &cursor{buf: buf}
	steps := []func(*cursor, *Snapshot) bool{
		decodeSequence,
		decodeActions,
		decodeTool,
		decodeMotors,
		decodeHoming,
		decodePhasing,
		decodeGrippers,
		decodeTicks,
		decodePosition,
		decodePlatformPosition,
		decodeHasMap,
	}
	for i, step := range steps {
		if !step(c, s) {
			return s, fault.Errorf(fault.DecodeTruncated, "decode status",
				"frame of %d bytes stopped at group %d (offset %d)", len(buf), i+1, c.off)
		}
	}
	return s, nil
}

func decodeSequence(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizeSequence)
	if !ok {
		return false
	}
	v := binary.LittleEndian.Uint16(b)
	s.Sequence = &v
	return true
}

func decodeActions(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizeActions)
	if !ok {
		return false
	}
	v := ActionRequests(b[0])
	s.ActionRequests = &v
	return true
}

func decodeTool(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizeTool)
	if !ok {
		return false
	}
	v := ToolType(b[0])
	s.ToolType = &v
	return true
}

func decodeMotors(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizeMotors)
	if !ok {
		return false
	}
	s.MotorPower = &MotorPower{A: b[0] != 0, B: b[1] != 0, C: b[2] != 0}
	return true
}

func decodeHoming(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizeHoming)
	if !ok {
		return false
	}
	s.Homing = &Homing{
		A:   HomingStatus(int8(b[0])),
		B:   HomingStatus(int8(b[1])),
		C:   HomingStatus(int8(b[2])),
		All: HomingStatus(int8(b[3])),
	}
	return true
}

func decodePhasing(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizePhasing)
	if !ok {
		return false
	}
	s.Phasing = &Phasing{
		A:   PhasingStatus(b[0]),
		B:   PhasingStatus(b[1]),
		C:   PhasingStatus(b[2]),
		All: PhasingStatus(b[3]),
	}
	return true
}

func decodeGrippers(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizeGrippers)
	if !ok {
		return false
	}
	s.Grippers = &Grippers{Upper: GripperStatus(b[0]), Lower: GripperStatus(b[1])}
	return true
}

func decodeTicks(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizeTicks)
	if !ok {
		return false
	}
	var t Ticks
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &t); err != nil {
		return false
	}
	s.Ticks = &t
	return true
}

func readPoint(c *cursor) (*Point, bool) {
	b, ok := c.take(sizePoint)
	if !ok {
		return nil, false
	}
	var p Point
	if err := binary.Read(bytes.NewReader(b), binary.LittleEndian, &p); err != nil {
		return nil, false
	}
	return &p, true
}

func decodePosition(c *cursor, s *Snapshot) bool {
	p, ok := readPoint(c)
	s.Position = p
	return ok
}

func decodePlatformPosition(c *cursor, s *Snapshot) bool {
	p, ok := readPoint(c)
	s.PlatformPosition = p
	return ok
}

func decodeHasMap(c *cursor, s *Snapshot) bool {
	b, ok := c.take(sizeHasMap)
	if !ok {
		return false
	}
	v := b[0] != 0
	s.HasMap = &v
	return true
}

// Encode renders the present field groups of s in frame order, stopping at
// the first absent group. Decode(Encode(s)) reproduces s.
func Encode(s *Snapshot) []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian
	if s.Sequence == nil {
		return buf.Bytes()
	}
	binary.Write(&buf, le, *s.Sequence)
	if s.ActionRequests == nil {
		return buf.Bytes()
	}
	buf.WriteByte(byte(*s.ActionRequests))
	if s.ToolType == nil {
		return buf.Bytes()
	}
	buf.WriteByte(byte(*s.ToolType))
	if s.MotorPower == nil {
		return buf.Bytes()
	}
	buf.Write([]byte{boolByte(s.MotorPower.A), boolByte(s.MotorPower.B), boolByte(s.MotorPower.C)})
	if s.Homing == nil {
		return buf.Bytes()
	}
	binary.Write(&buf, le, s.Homing)
	if s.Phasing == nil {
		return buf.Bytes()
	}
	binary.Write(&buf, le, s.Phasing)
	if s.Grippers == nil {
		return buf.Bytes()
	}
	binary.Write(&buf, le, s.Grippers)
	if s.Ticks == nil {
		return buf.Bytes()
	}
	binary.Write(&buf, le, s.Ticks)
	if s.Position == nil {
		return buf.Bytes()
	}
	binary.Write(&buf, le, s.Position)
	if s.PlatformPosition == nil {
		return buf.Bytes()
	}
	binary.Write(&buf, le, s.PlatformPosition)
	if s.HasMap == nil {
		return buf.Bytes()
	}
	buf.WriteByte(boolByte(*s.HasMap))
	return buf.Bytes()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func formatUint(v uint16) string {
	return strconv.FormatUint(uint64(v), 10)
}

// String summarizes the snapshot for log lines.
func (s *Snapshot) String() string {
	if s == nil {
		return "<no snapshot>"
	}
	seq := "?"
	if s.Sequence != nil {
		seq = formatUint(*s.Sequence)
	}
	return fmt.Sprintf("seq=%s tool=%s pos=%s complete=%t",
		seq, Describe(s).Tool, FormatPosition(s.Position), s.Complete())
}
