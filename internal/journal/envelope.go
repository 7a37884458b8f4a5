package journal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"

	"tradepulse/internal/model/enum"
)

const (
	envelopeVersion  uint16 = 1
	envelopeSize            = 56
	checksumSize            = 4
	// SchemaVersion tags the JSON payload layout inside each record.
	SchemaVersion uint16 = 1
)

var (
	envelopeMagic = [4]byte{'T', 'P', 'J', '1'}
	crcTable      = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic        = errors.New("journal invalid magic")
	ErrUnsupportedVersion  = errors.New("journal unsupported record version")
	ErrInvalidEnvelopeSize = errors.New("journal invalid envelope size")
)

// Envelope frames one journal record. The JSON payload follows it on
// disk, then a CRC32-Castagnoli checksum over envelope plus payload.
type Envelope struct {
	Kind    enum.EventKind
	Version uint16
	Source  uint16
	Flags   uint16
	Seq     uint64
	TsEvent int64
	TsRecv  int64
	TraceID uint64
}

func encodeEnvelope(dst []byte, env Envelope, payloadLen int) {
	_ = dst[envelopeSize-1]
	copy(dst[0:4], envelopeMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], envelopeVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(envelopeSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(env.Kind))
	binary.LittleEndian.PutUint16(dst[10:12], env.Version)
	binary.LittleEndian.PutUint16(dst[12:14], env.Source)
	binary.LittleEndian.PutUint16(dst[14:16], env.Flags)
	binary.LittleEndian.PutUint32(dst[16:20], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[20:28], env.Seq)
	binary.LittleEndian.PutUint64(dst[28:36], uint64(env.TsEvent))
	binary.LittleEndian.PutUint64(dst[36:44], uint64(env.TsRecv))
	binary.LittleEndian.PutUint64(dst[44:52], env.TraceID)
	binary.LittleEndian.PutUint32(dst[52:56], 0)
}

func checksum(envelope []byte, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, envelope)
	return crc32.Update(crc, crcTable, payload)
}

func decodeEnvelope(src []byte) (Envelope, uint32, error) {
	if len(src) < envelopeSize {
		return Envelope{}, 0, ErrInvalidEnvelopeSize
	}
	if !bytes.Equal(src[0:4], envelopeMagic[:]) {
		return Envelope{}, 0, ErrInvalidMagic
	}
	if ver := binary.LittleEndian.Uint16(src[4:6]); ver != envelopeVersion {
		return Envelope{}, 0, ErrUnsupportedVersion
	}
	if size := binary.LittleEndian.Uint16(src[6:8]); size != envelopeSize {
		return Envelope{}, 0, ErrInvalidEnvelopeSize
	}
	payloadLen := binary.LittleEndian.Uint32(src[16:20])
	env := Envelope{
		Kind:    enum.EventKind(binary.LittleEndian.Uint16(src[8:10])),
		Version: binary.LittleEndian.Uint16(src[10:12]),
		Source:  binary.LittleEndian.Uint16(src[12:14]),
		Flags:   binary.LittleEndian.Uint16(src[14:16]),
		Seq:     binary.LittleEndian.Uint64(src[20:28]),
		TsEvent: int64(binary.LittleEndian.Uint64(src[28:36])),
		TsRecv:  int64(binary.LittleEndian.Uint64(src[36:44])),
		TraceID: binary.LittleEndian.Uint64(src[44:52]),
	}
	return env, payloadLen, nil
}
