package canlin

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
)

// MaxDataLen is the maximum payload size of a classical CAN frame.
const MaxDataLen = 8

// Identifier ranges for the two CAN addressing modes.
const (
	MaxStandardID = 0x7FF      // 11-bit
	MaxExtendedID = 0x1FFFFFFF // 29-bit
)

// SocketCAN can_id flag bits and masks.
const (
	canEFFFlag = 0x80000000 // extended frame format
	canRTRFlag = 0x40000000 // remote transmission request
	canERRFlag = 0x20000000 // error message frame
	canEFFMask = 0x1FFFFFFF
	canSFFMask = 0x7FF
)

// wireSize is the size of the Linux can_frame structure on the wire.
const wireSize = 16

// Frame is one CAN message. It is a plain value: copying it is cheap and
// frames handed to callbacks are private copies.
type Frame struct {
	ID        uint32
	Extended  bool // true for a 29-bit identifier, false for 11-bit
	Length    uint8
	Data      [MaxDataLen]byte
	Timestamp time.Duration // relative to when the bus connected
}

// NewFrame builds a standard (11-bit) frame. Data beyond MaxDataLen bytes
// is dropped.
func NewFrame(id uint32, data []byte) Frame {
	var f Frame
	f.ID = id
	if len(data) > MaxDataLen {
		data = data[:MaxDataLen]
	}
	f.Length = uint8(len(data))
	copy(f.Data[:], data)
	return f
}

// NewExtendedFrame builds an extended (29-bit) frame.
func NewExtendedFrame(id uint32, data []byte) Frame {
	f := NewFrame(id, data)
	f.Extended = true
	return f
}

// MarshalBinary encodes the frame into the 16-byte little-endian Linux
// can_frame layout, folding the extended flag into the identifier field and
// clamping the payload length to MaxDataLen:
//
//	0..3  can_id (EFF flag in the top bit)
//	4     can_dlc
//	5..7  padding
//	8..15 data
func (f Frame) MarshalBinary() ([]byte, error) {
	id := f.ID
	if f.Extended {
		id = id&canEFFMask | canEFFFlag
	} else {
		id &= canSFFMask
	}
	length := f.Length
	if length > MaxDataLen {
		length = MaxDataLen
	}
	buf := make([]byte, wireSize)
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = length
	copy(buf[8:wireSize], f.Data[:])
	return buf, nil
}

// UnmarshalBinary decodes a frame from the can_frame layout, recovering the
// extended flag from the identifier field. The Timestamp is left untouched.
func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < wireSize {
		return fmt.Errorf("canlin: need %d bytes, got %d", wireSize, len(data))
	}
	id := binary.LittleEndian.Uint32(data[0:4])
	f.Extended = id&canEFFFlag != 0
	if f.Extended {
		f.ID = id & canEFFMask
	} else {
		f.ID = id & canSFFMask
	}
	f.Length = data[4]
	if f.Length > MaxDataLen {
		f.Length = MaxDataLen
	}
	copy(f.Data[:], data[8:wireSize])
	return nil
}

// String renders the frame in candump style: timestamp in seconds with
// microsecond precision, identifier in hex with an 'x' marker for extended
// addressing, payload length and the data bytes in hex.
func (f Frame) String() string {
	var out strings.Builder
	fmt.Fprintf(&out, "(%.6f)", f.Timestamp.Seconds())
	ext := " "
	if f.Extended {
		ext = "x"
	}
	fmt.Fprintf(&out, " %x%s [%d]", f.ID, ext, f.Length)
	n := int(f.Length)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	for i := 0; i < n; i++ {
		fmt.Fprintf(&out, " %02x", f.Data[i])
	}
	return out.String()
}

var (
	tsColor   = color.New(color.FgHiBlack).SprintfFunc()
	idColor   = color.New(color.FgGreen).SprintfFunc()
	dataColor = color.New(color.FgYellow).SprintfFunc()
)

// ColorString renders the frame like String with ANSI colors. Colors are
// disabled automatically when stdout is not a terminal.
func (f Frame) ColorString() string {
	var out strings.Builder
	out.WriteString(tsColor("(%.6f)", f.Timestamp.Seconds()))
	ext := " "
	if f.Extended {
		ext = "x"
	}
	out.WriteString(idColor(" %x%s", f.ID, ext))
	fmt.Fprintf(&out, " [%d]", f.Length)
	n := int(f.Length)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	for i := 0; i < n; i++ {
		out.WriteString(dataColor(" %02x", f.Data[i]))
	}
	return out.String()
}

// Fprint writes the frame as one String line to w.
func Fprint(w io.Writer, f Frame) {
	fmt.Fprintln(w, f.String())
}
