package secrets

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/rendis/flowengine/pkg/schema"
)

// SealedObject is the JSON envelope of an encrypted value.
type SealedObject struct {
	IV   string `json:"iv"`
	Data string `json:"data"`
}

// SampleCodec packs step test outputs: JSON, sealed into a SealedObject,
// gzip-compressed and base64-encoded.
type SampleCodec struct {
	vault *AESVault
}

func NewSampleCodec(vault *AESVault) *SampleCodec {
	return &SampleCodec{vault: vault}
}

// Encode packs v.
func (c *SampleCodec) Encode(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeVault, "marshal sample: %s", err.Error())
	}
	sealed, err := c.vault.Seal(plain)
	if err != nil {
		return "", err
	}
	nonceSize := c.vault.aead.NonceSize()
	envelope, err := json.Marshal(SealedObject{
		IV:   hex.EncodeToString(sealed[:nonceSize]),
		Data: hex.EncodeToString(sealed[nonceSize:]),
	})
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(envelope); err != nil {
		return "", fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode reverses Encode.
func (c *SampleCodec) Decode(encoded string) (any, error) {
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "invalid base64 sample: %s", err.Error())
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "invalid gzip sample: %s", err.Error())
	}
	defer zr.Close()
	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "invalid gzip sample: %s", err.Error())
	}

	var envelope SealedObject
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "invalid sealed sample: %s", err.Error())
	}
	iv, err := hex.DecodeString(envelope.IV)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "invalid iv: %s", err.Error())
	}
	data, err := hex.DecodeString(envelope.Data)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "invalid data: %s", err.Error())
	}
	plain, err := c.vault.Open(append(iv, data...))
	if err != nil {
		return nil, err
	}

	var v any
	if err := json.Unmarshal(plain, &v); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeVault, "invalid sample json: %s", err.Error())
	}
	return v, nil
}
