package secrets

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleCodec_RoundTrip(t *testing.T) {
	v, _ := testVault(t)
	c := NewSampleCodec(v)

	sample := map[string]any{"id": float64(7), "tags": []any{"a", "b"}}
	encoded, err := c.Encode(sample)
	require.NoError(t, err)

	decoded, err := c.Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, sample, decoded)
}

func TestSampleCodec_EnvelopeIsHexSealedObject(t *testing.T) {
	v, _ := testVault(t)
	encoded, err := NewSampleCodec(v).Encode("hello")
	require.NoError(t, err)

	compressed, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	raw, err := io.ReadAll(zr)
	require.NoError(t, err)

	var envelope SealedObject
	require.NoError(t, json.Unmarshal(raw, &envelope))
	assert.Len(t, envelope.IV, 24)
	assert.NotEmpty(t, envelope.Data)
	assert.NotContains(t, string(raw), "hello")
}

func TestSampleCodec_DecodeErrors(t *testing.T) {
	v, _ := testVault(t)
	c := NewSampleCodec(v)

	tests := []struct {
		name    string
		encoded string
	}{
		{"not base64", "%%%"},
		{"not gzip", base64.StdEncoding.EncodeToString([]byte("plain"))},
		{"not an envelope", gzipBase64(t, "[1,2]")},
		{"bad hex", gzipBase64(t, `{"iv":"zz","data":"00"}`)},
		{"wrong key", gzipBase64(t, `{"iv":"000000000000000000000000","data":"00112233445566778899aabbccddeeff"}`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Decode(tt.encoded)
			assert.Error(t, err)
		})
	}
}

func gzipBase64(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}
