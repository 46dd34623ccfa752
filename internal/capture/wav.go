package capture

import (
	"encoding/binary"
	"io"
)

const wavHeaderSize = 44

// writeWAVHeader writes a canonical 44-byte PCM WAV header for dataLen bytes
// of interleaved little-endian samples at the package audio format.
func writeWAVHeader(w io.Writer, dataLen uint32) error {
	var (
		byteRate   = uint32(SampleRate * Channels * BitDepth / 8)
		blockAlign = uint16(Channels * BitDepth / 8)
	)

	buf := make([]byte, 0, wavHeaderSize)
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, 36+dataLen)
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, 16) // PCM chunk size
	buf = binary.LittleEndian.AppendUint16(buf, 1)  // PCM format
	buf = binary.LittleEndian.AppendUint16(buf, Channels)
	buf = binary.LittleEndian.AppendUint32(buf, SampleRate)
	buf = binary.LittleEndian.AppendUint32(buf, byteRate)
	buf = binary.LittleEndian.AppendUint16(buf, blockAlign)
	buf = binary.LittleEndian.AppendUint16(buf, BitDepth)
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, dataLen)

	_, err := w.Write(buf)
	return err
}

// wavDuration computes the clip length in seconds for dataLen PCM bytes.
func wavDuration(dataLen int64) float64 {
	bytesPerSecond := float64(SampleRate * Channels * BitDepth / 8)
	return float64(dataLen) / bytesPerSecond
}
