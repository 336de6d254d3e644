package publish

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cuemby/cargohold/pkg/regerr"
	"github.com/cuemby/cargohold/pkg/types"
)

// maxMetadataLength caps the JSON metadata block cargo can submit,
// independent of the configured max crate tarball size, so a malformed
// length prefix cannot force an unbounded read.
const maxMetadataLength = 1 << 20

// ParseFrame reads cargo's publish wire format from r:
//
//	u32 LE metadata_length, metadata_length bytes of JSON, u32 LE
//	crate_length, crate_length bytes of tarball.
//
// ParseFrame itself enforces maxCrateSize against crateLength before
// reading the tarball bytes.
func ParseFrame(r io.Reader, maxCrateSize int64) (types.PublishMetadata, []byte, error) {
	var meta types.PublishMetadata

	metaLen, err := readU32(r)
	if err != nil {
		return meta, nil, regerr.Wrap(regerr.Invalid, "reading metadata length", err)
	}
	if metaLen > maxMetadataLength {
		return meta, nil, regerr.Newf(regerr.Invalid, "metadata block of %d bytes exceeds limit", metaLen)
	}

	metaBytes := make([]byte, metaLen)
	if _, err := io.ReadFull(r, metaBytes); err != nil {
		return meta, nil, regerr.Wrap(regerr.Invalid, "reading metadata body", err)
	}
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return meta, nil, regerr.Wrap(regerr.Invalid, "decoding metadata JSON", err)
	}

	crateLen, err := readU32(r)
	if err != nil {
		return meta, nil, regerr.Wrap(regerr.Invalid, "reading crate length", err)
	}
	if maxCrateSize > 0 && int64(crateLen) > maxCrateSize {
		return meta, nil, regerr.Newf(regerr.Invalid, "crate tarball of %d bytes exceeds %d byte limit", crateLen, maxCrateSize)
	}

	crateBytes := make([]byte, crateLen)
	if _, err := io.ReadFull(r, crateBytes); err != nil {
		return meta, nil, regerr.Wrap(regerr.Invalid, "reading crate tarball", err)
	}

	return meta, crateBytes, nil
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, fmt.Errorf("short read: %w", err)
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}
