package codec

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		name    string
		want    Algorithm
		wantErr bool
	}{
		{"", AlgorithmNone, false},
		{"none", AlgorithmNone, false},
		{"fast", AlgorithmFast, false},
		{"lz4", AlgorithmFast, false},
		{"strong", AlgorithmStrong, false},
		{"zstd", AlgorithmStrong, false},
		{"gzip", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAlgorithm(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAlgorithm(%q) expected error", tt.name)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAlgorithm(%q) error = %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("ParseAlgorithm(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestCompressDecompress(t *testing.T) {
	random := make([]byte, 4096)
	rand.Read(random)

	inputs := map[string][]byte{
		"empty":        {},
		"tiny":         []byte("a"),
		"json":         []byte(`{"count":0,"message":"hi"}`),
		"repetitive":   []byte(strings.Repeat(`{"id":1,"done":false},`, 500)),
		"incompressible": random,
	}

	for _, algorithm := range []Algorithm{AlgorithmFast, AlgorithmStrong} {
		for name, data := range inputs {
			t.Run(string(algorithm)+"/"+name, func(t *testing.T) {
				compressed, err := Compress(data, algorithm)
				if err != nil {
					t.Fatalf("Compress() error = %v", err)
				}

				decompressed, err := Decompress(compressed)
				if err != nil {
					t.Fatalf("Decompress() error = %v", err)
				}
				if !bytes.Equal(decompressed, data) {
					t.Errorf("round trip mismatch for %s", name)
				}
			})
		}
	}
}

func TestCompress_ShrinksRepetitiveData(t *testing.T) {
	data := []byte(strings.Repeat(`{"id":1,"title":"buy milk","done":false},`, 200))

	fast, _ := Compress(data, AlgorithmFast)
	strong, _ := Compress(data, AlgorithmStrong)

	if len(fast) >= len(data) {
		t.Errorf("fast compression did not shrink data: %d >= %d", len(fast), len(data))
	}
	if len(strong) > len(fast) {
		t.Errorf("strong compression (%d) larger than fast (%d)", len(strong), len(fast))
	}
}

func TestDecompress_PassesThroughUncompressedData(t *testing.T) {
	inputs := [][]byte{
		[]byte(`{"count":0}`),
		[]byte(`[1,2,3]`),
		[]byte(`"text"`),
		{},
	}

	for _, data := range inputs {
		got, err := Decompress(data)
		if err != nil {
			t.Errorf("Decompress(%q) error = %v", data, err)
			continue
		}
		if !bytes.Equal(got, data) {
			t.Errorf("Decompress(%q) = %q, want unchanged", data, got)
		}
	}
}

func TestCompress_None(t *testing.T) {
	data := []byte("unchanged")
	got, err := Compress(data, AlgorithmNone)
	if err != nil {
		t.Fatalf("Compress(none) error = %v", err)
	}
	if &got[0] != &data[0] {
		t.Error("AlgorithmNone should return the same slice")
	}
}

func TestDecompress_RejectsOversizedDeclaration(t *testing.T) {
	data := header(tagLZ4, maxDecompressedSize+1)
	if _, err := Decompress(data); err == nil {
		t.Error("expected error for oversized declared length")
	}
}
