package audio

import "encoding/binary"

// SamplesToPCM packs integer samples into little-endian 16-bit PCM bytes,
// clamping to the int16 range. Decoded WAV buffers carry one int per sample;
// this is the bridge onto the wire format the pipeline speaks.
func SamplesToPCM(samples []int) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(clamp16(s)))
	}
	return out
}

// PCMToSamples unpacks little-endian 16-bit PCM bytes into integer samples,
// the inverse of [SamplesToPCM]. A trailing odd byte is ignored.
func PCMToSamples(pcm []byte) []int {
	out := make([]int, len(pcm)/BytesPerSample)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*BytesPerSample:])))
	}
	return out
}

// clamp16 saturates v to the int16 range.
func clamp16(v int) int16 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
