// Package codec encodes and decodes record bodies and the model-id/version
// frame that precedes them on disk. Value serialization itself is treated
// as an external concern (spec.md §1): Codec is a small interface so the
// default JSON implementation can be swapped for another wire format
// without touching the table/transaction layer.
package codec

import (
	"encoding/binary"
	"encoding/json"

	"github.com/kasuganosora/typedkv/dberr"
)

// Codec turns a Go value into an opaque byte blob and back. Implementations
// must not embed any framing of their own; typedkv adds the model
// id/version frame uniformly via FrameEncode/FrameDecode.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, out any) error
}

// JSONCodec is the default Codec, grounded in the teacher's RowCodec
// (encoding/json.Marshal/Unmarshal).
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Decode(data []byte, out any) error { return json.Unmarshal(data, out) }

// frameLen is the size in bytes of the header FrameEncode prepends:
// two little-endian uint32s (model id, model version).
const frameLen = 8

// FrameEncode prepends the two-u32-LE (model_id, model_version) framing
// header ahead of an already-encoded record body (spec.md §6).
func FrameEncode(modelID, modelVersion uint32, body []byte) []byte {
	out := make([]byte, frameLen+len(body))
	binary.LittleEndian.PutUint32(out[0:4], modelID)
	binary.LittleEndian.PutUint32(out[4:8], modelVersion)
	copy(out[frameLen:], body)
	return out
}

// FrameDecode splits a framed record into its (model_id, model_version,
// body) components without validating the tag against any expectation;
// callers compare against the model they expected and raise ModelMismatch
// themselves, since only they know the expected values.
func FrameDecode(data []byte) (modelID, modelVersion uint32, body []byte, err error) {
	if len(data) < frameLen {
		return 0, 0, nil, &dberr.DecodeBodyError{Cause: errShortFrame}
	}
	modelID = binary.LittleEndian.Uint32(data[0:4])
	modelVersion = binary.LittleEndian.Uint32(data[4:8])
	return modelID, modelVersion, data[frameLen:], nil
}

var errShortFrame = shortFrameError{}

type shortFrameError struct{}

func (shortFrameError) Error() string { return "record shorter than the model id/version frame" }

// EncodeRecord encodes v with codec, then frames it with (modelID,
// modelVersion). Wraps codec failures as dberr.EncodeError.
func EncodeRecord(c Codec, modelID, modelVersion uint32, v any) ([]byte, error) {
	body, err := c.Encode(v)
	if err != nil {
		return nil, &dberr.EncodeError{Cause: err}
	}
	return FrameEncode(modelID, modelVersion, body), nil
}

// DecodeRecord frames-decodes data, verifies the tag matches
// (expectedModelID, expectedModelVersion), then decodes the body into out.
func DecodeRecord(c Codec, expectedModelID, expectedModelVersion uint32, data []byte, out any) error {
	gotID, gotVersion, body, err := FrameDecode(data)
	if err != nil {
		return err
	}
	if gotID != expectedModelID || gotVersion != expectedModelVersion {
		return &dberr.ModelMismatch{
			ExpectedID: expectedModelID, ExpectedVersion: expectedModelVersion,
			GotID: gotID, GotVersion: gotVersion,
		}
	}
	if err := c.Decode(body, out); err != nil {
		return &dberr.DecodeBodyError{Cause: err}
	}
	return nil
}
