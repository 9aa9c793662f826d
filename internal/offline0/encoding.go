package offline0

import (
	"bytes"
	"encoding/gob"
	"net/http"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
)

// Both are safe for concurrent EncodeAll/DecodeAll.
var (
	zenc *zstd.Encoder
	zdec *zstd.Decoder
)

func init() {
	gob.Register(http.Header{})

	var err error
	zenc, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1),
		zstd.WithEncoderCRC(false),
	)
	if err != nil {
		panic(err)
	}
	zdec, err = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(0),
		zstd.WithDecoderMaxMemory(256<<20),
	)
	if err != nil {
		panic(err)
	}
}

func encodeEntry(ent Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(ent); err != nil {
		return nil, errors.Wrap(err, "gob encode")
	}
	return zenc.EncodeAll(buf.Bytes(), nil), nil
}

func decodeEntry(b []byte) (Entry, error) {
	raw, err := zdec.DecodeAll(b, nil)
	if err != nil {
		return Entry{}, errors.Wrap(err, "zstd decode")
	}
	var ent Entry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&ent); err != nil {
		return Entry{}, errors.Wrap(err, "gob decode")
	}
	return ent, nil
}
