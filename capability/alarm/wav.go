// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package alarm

import (
	"encoding/binary"
	"math"
)

// Tone parameters: two seconds of 16-bit mono PCM alternating between
// two pitches every quarter second.
const (
	SampleRate    = 44100
	toneSeconds   = 2
	highFrequency = 880.0
	lowFrequency  = 660.0
	peakAmplitude = 32000.0

	wavHeaderSize = 44
)

// WAV renders the alarm tone as a RIFF/WAVE file, scaled by volume
// (0 to 1).
func WAV(volume float64) []byte {
	volume = max(0, min(volume, 1))
	sampleCount := SampleRate * toneSeconds
	dataSize := uint32(sampleCount * 2)

	data := make([]byte, 0, wavHeaderSize+int(dataSize))
	data = append(data, "RIFF"...)
	data = binary.LittleEndian.AppendUint32(data, dataSize+36)
	data = append(data, "WAVE"...)
	data = append(data, "fmt "...)
	data = binary.LittleEndian.AppendUint32(data, 16)           // fmt chunk size
	data = binary.LittleEndian.AppendUint16(data, 1)            // PCM
	data = binary.LittleEndian.AppendUint16(data, 1)            // mono
	data = binary.LittleEndian.AppendUint32(data, SampleRate)   // sample rate
	data = binary.LittleEndian.AppendUint32(data, SampleRate*2) // byte rate
	data = binary.LittleEndian.AppendUint16(data, 2)            // block align
	data = binary.LittleEndian.AppendUint16(data, 16)           // bits per sample
	data = append(data, "data"...)
	data = binary.LittleEndian.AppendUint32(data, dataSize)

	for i := range sampleCount {
		t := float64(i) / SampleRate
		frequency := highFrequency
		if int(t*4)%2 == 1 {
			frequency = lowFrequency
		}
		sample := math.Sin(2*math.Pi*frequency*t) * peakAmplitude * volume
		data = binary.LittleEndian.AppendUint16(data, uint16(int16(math.Round(sample))))
	}
	return data
}
