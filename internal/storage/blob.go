package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/keepkey/keepkey-firmware-sub001/wire"
)

// EncodeBlob serializes (meta, pub, ciphertext) into the flat byte string
// internal/flash.Device.Commit writes to a sector (§6): the fixed
// Metadata block, a length-prefixed wire encoding of PublicConfig (its
// variable-width Label/Language/Policies fields make a fixed offset table
// impractical, unlike the C original's packed struct), then the fixed
// EncryptedSec ciphertext.
func EncodeBlob(meta Metadata, pub PublicConfig, ciphertext [EncryptedSecLen]byte) ([]byte, error) {
	pubBytes, err := wire.Marshal(&pub)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, MetadataLen+4+len(pubBytes)+EncryptedSecLen)
	out = append(out, meta.Magic[:]...)
	out = append(out, meta.UUID[:]...)
	out = append(out, meta.UUIDHex[:]...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(pubBytes)))
	out = append(out, lenBuf[:]...)
	out = append(out, pubBytes...)
	out = append(out, ciphertext[:]...)
	return out, nil
}

// DecodeBlob is the inverse of EncodeBlob.
func DecodeBlob(blob []byte) (Metadata, PublicConfig, [EncryptedSecLen]byte, error) {
	var meta Metadata
	var pub PublicConfig
	var ct [EncryptedSecLen]byte

	if len(blob) < MetadataLen+4 {
		return meta, pub, ct, fmt.Errorf("storage: blob too short (%d bytes)", len(blob))
	}
	off := 0
	copy(meta.Magic[:], blob[off:off+4])
	off += 4
	copy(meta.UUID[:], blob[off:off+UUIDLen])
	off += UUIDLen
	copy(meta.UUIDHex[:], blob[off:off+UUIDStringLen])
	off += UUIDStringLen

	pubLen := int(binary.BigEndian.Uint32(blob[off : off+4]))
	off += 4
	if off+pubLen > len(blob) {
		return meta, pub, ct, fmt.Errorf("storage: truncated PublicConfig (want %d bytes)", pubLen)
	}
	if err := wire.Unmarshal(blob[off:off+pubLen], &pub); err != nil {
		return meta, pub, ct, err
	}
	off += pubLen

	if off+EncryptedSecLen > len(blob) {
		return meta, pub, ct, fmt.Errorf("storage: truncated EncryptedSec")
	}
	copy(ct[:], blob[off:off+EncryptedSecLen])
	return meta, pub, ct, nil
}
