package audio

import "encoding/binary"

// PutSamples encodes samples into dst as little-endian int16 PCM and returns
// the number of bytes written. dst must hold at least 2*len(samples) bytes;
// excess samples are ignored.
func PutSamples(dst []byte, samples []int16) int {
	n := min(len(samples), len(dst)/2)
	for i := range n {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(samples[i]))
	}
	return n * 2
}

// EncodeSamples returns a newly allocated little-endian PCM encoding of samples.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	PutSamples(out, samples)
	return out
}

// ReadSamples decodes little-endian int16 PCM from src into dst and returns the
// number of samples written. A trailing odd byte in src is ignored.
func ReadSamples(dst []int16, src []byte) int {
	n := min(len(dst), len(src)/2)
	for i := range n {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return n
}

// DecodeSamples returns the int16 samples encoded in pcm.
func DecodeSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	ReadSamples(out, pcm)
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
// Input must be little-endian int16 PCM (2 bytes per sample).
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}
