package ntrip

import "time"

const (
	rtcmPreamble  = 0xD3
	rtcmHeaderLen = 3
	rtcmCRCLen    = 3
)

// Block is one RTCM3 frame as received from the caster, including header
// and CRC, ready to be written to a receiver unchanged.
type Block struct {
	Data     []byte
	Received time.Time
}

// crc24q implements the Qualcomm CRC-24 used by RTCM3 framing
// (polynomial 0x1864CFB, zero init).
func crc24q(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ crc24qTable[byte(crc>>16)^b]
	}
	return crc & 0xFFFFFF
}

var crc24qTable = func() [256]uint32 {
	var table [256]uint32
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 16
		for bit := 0; bit < 8; bit++ {
			crc <<= 1
			if crc&0x1000000 != 0 {
				crc ^= 0x1864CFB
			}
		}
		table[i] = crc & 0xFFFFFF
	}
	return table
}()

// framer accumulates stream bytes and cuts them into CRC-checked frames.
// Bytes outside a valid frame are skipped.
type framer struct {
	buf []byte
}

func (f *framer) feed(p []byte, now time.Time) []Block {
	f.buf = append(f.buf, p...)

	var out []Block
	for {
		// resync on the next preamble
		start := -1
		for i, b := range f.buf {
			if b == rtcmPreamble {
				start = i
				break
			}
		}
		if start < 0 {
			f.buf = f.buf[:0]
			return out
		}
		f.buf = f.buf[start:]

		if len(f.buf) < rtcmHeaderLen {
			return out
		}
		// 6 reserved bits must be zero; 10-bit length follows
		if f.buf[1]&0xFC != 0 {
			f.buf = f.buf[1:]
			continue
		}
		n := int(f.buf[1]&0x03)<<8 | int(f.buf[2])
		total := rtcmHeaderLen + n + rtcmCRCLen
		if len(f.buf) < total {
			return out
		}

		body := f.buf[:rtcmHeaderLen+n]
		want := uint32(f.buf[total-3])<<16 | uint32(f.buf[total-2])<<8 | uint32(f.buf[total-1])
		if crc24q(body) != want {
			f.buf = f.buf[1:]
			continue
		}

		frame := append([]byte(nil), f.buf[:total]...)
		out = append(out, Block{Data: frame, Received: now})
		f.buf = f.buf[total:]
	}
}
