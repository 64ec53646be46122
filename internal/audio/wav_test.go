package audio

import (
	"encoding/binary"
	"testing"
)

func TestEncodeWAV(t *testing.T) {
	samples := make([]float32, 480)
	samples[0] = 0.5

	wav := EncodeWAV(samples, 16000)

	if len(wav) != 44+960 {
		t.Fatalf("Expected %d bytes, got %d", 44+960, len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("Missing RIFF/WAVE header")
	}
	if string(wav[36:40]) != "data" {
		t.Error("Missing data chunk")
	}
	if rate := binary.LittleEndian.Uint32(wav[24:28]); rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if size := binary.LittleEndian.Uint32(wav[40:44]); size != 960 {
		t.Errorf("Expected data size 960, got %d", size)
	}
	if first := int16(binary.LittleEndian.Uint16(wav[44:46])); first != 16384 {
		t.Errorf("Expected first sample 16384, got %d", first)
	}
}
