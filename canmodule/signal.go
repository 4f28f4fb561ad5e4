// Package canmodule drives swerve modules and a yaw sensor over SocketCAN.
package canmodule

import (
	"math"

	"github.com/pkg/errors"
)

const bitsPerByte = 8

// Signal describes where a scaled value lives in a CAN payload. Physical values are
// raw*Scalar + Offset. Signals are at most 32 bits long.
type Signal struct {
	Scalar       float64
	Offset       float64
	Start        uint8 // least significant bit
	Length       uint8 // in bits
	LittleEndian bool
	Signed       bool
}

func (s Signal) check(data []byte) error {
	if s.Length == 0 || s.Length > 32 {
		return errors.Errorf("signal length must be between 1 and 32 bits, got %d", s.Length)
	}
	if need := (int(s.Start) + int(s.Length) + bitsPerByte - 1) / bitsPerByte; len(data) < need {
		return errors.Errorf("payload of %d bytes is too short for signal ending at bit %d", len(data), int(s.Start)+int(s.Length)-1)
	}
	return nil
}

// byteMask returns the bits of byte i covered by a signal spanning bits lsb to msb.
func byteMask(i, lsb, msb int) byte {
	lo, hi := i*bitsPerByte, (i+1)*bitsPerByte-1
	maskLsb, maskMsb := 0, bitsPerByte-1
	if lsb > lo {
		maskLsb = lsb - lo
	}
	if msb < hi {
		maskMsb = msb - lo
	}
	return byte((0xff << maskLsb) & (0xff >> (bitsPerByte - 1 - maskMsb)))
}

func (s Signal) span() (lsb, msb, first, last int) {
	lsb = int(s.Start)
	msb = lsb + int(s.Length) - 1
	return lsb, msb, lsb / bitsPerByte, msb / bitsPerByte
}

func (s Signal) byteShift(i, first, last int) int {
	if s.LittleEndian {
		return (i - first) * bitsPerByte
	}
	return (last - i) * bitsPerByte
}

// Extract decodes the signal's physical value from data.
func (s Signal) Extract(data []byte) (float64, error) {
	if err := s.check(data); err != nil {
		return 0, err
	}
	lsb, msb, first, last := s.span()

	var raw uint64
	for i := first; i <= last; i++ {
		raw |= uint64(data[i]&byteMask(i, lsb, msb)) << s.byteShift(i, first, last)
	}
	raw >>= lsb - first*bitsPerByte

	value := float64(raw)
	if s.Signed && raw&(1<<(s.Length-1)) != 0 {
		value = float64(int64(raw | ^uint64(0)<<s.Length))
	}
	return value*s.Scalar + s.Offset, nil
}

// Insert encodes value into data, leaving bits outside the signal untouched. Values
// that do not fit saturate at the signal's range.
func (s Signal) Insert(data []byte, value float64) error {
	if err := s.check(data); err != nil {
		return err
	}
	if s.Scalar == 0 {
		return errors.New("signal scalar must be non-zero")
	}
	lsb, msb, first, last := s.span()

	lo, hi := 0.0, math.Exp2(float64(s.Length))-1
	if s.Signed {
		lo, hi = -math.Exp2(float64(s.Length-1)), math.Exp2(float64(s.Length-1))-1
	}
	scaled := math.Round((value - s.Offset) / s.Scalar)
	if math.IsNaN(scaled) {
		scaled = 0
	}
	scaled = math.Max(lo, math.Min(hi, scaled))

	raw := uint64(int64(scaled)) & (1<<s.Length - 1)
	raw <<= lsb - first*bitsPerByte
	for i := first; i <= last; i++ {
		mask := byteMask(i, lsb, msb)
		data[i] = data[i]&^mask | byte(raw>>s.byteShift(i, first, last))&mask
	}
	return nil
}
