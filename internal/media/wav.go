package media

import (
	"bufio"
	"encoding/binary"
	"os"
)

// WriteWAV writes mono 16-bit PCM samples as a canonical RIFF/WAVE file.
func WriteWAV(path string, samples []int16, rate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	dataLen := uint32(len(samples) * 2)
	hdr := []any{
		[4]byte{'R', 'I', 'F', 'F'}, 36 + dataLen, [4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '}, uint32(16), uint16(1), uint16(1),
		uint32(rate), uint32(rate * 2), uint16(2), uint16(16),
		[4]byte{'d', 'a', 't', 'a'}, dataLen,
	}
	for _, v := range hdr {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			f.Close()
			return err
		}
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		f.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// FitSamples trims or zero-pads samples to exactly n.
func FitSamples(samples []int16, n int) []int16 {
	if n <= 0 {
		return nil
	}
	if len(samples) >= n {
		return samples[:n]
	}
	out := make([]int16, n)
	copy(out, samples)
	return out
}
