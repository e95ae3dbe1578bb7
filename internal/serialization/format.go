package serialization

import "encoding/binary"

// Format constants. The magic number and protocol version are format
// contracts shared with every archive ever written; they never change
// within a protocol generation.
var magicNumber = [10]byte{0x19, 0x50, 0xa8, 0x6a, 0x20, 0xf9, 0x46, 0x9c, 0xfc, 0x6c}

const protocolVersion = 1002

// Member names inside the current zip container.
const (
	metadataMember = "metadata"
	graphMember    = "graph"
	bufferPrefix   = "buffers/"
)

// Member names inside the legacy sequential archive.
const (
	legacyStoragesMember = "storages"
	legacyTensorsMember  = "tensors"
	legacyGraphMember    = "pickle"
)

// Leading-byte signatures used by the format dispatcher.
var (
	// Zip local-file, end-of-central-directory and data-descriptor
	// signatures; any of them at offset 0 marks a current archive.
	archiveSignatures = [][4]byte{
		{'P', 'K', 0x03, 0x04},
		{'P', 'K', 0x05, 0x06},
		{'P', 'K', 0x07, 0x08},
	}

	// Two-byte marker of the legacy flat stream.
	flatStreamMarker = [2]byte{0x80, 0x02}
)

// ustar magic sits at this offset inside the first tar header block.
const tarMagicOffset = 257

// Recorded fixed-width integer sizes, bytes.
const (
	shortSize = 2
	intSize   = 4
	longSize  = 8
)

// TypeSizes records the integer widths of the writing platform.
type TypeSizes struct {
	Short int `cbor:"short"`
	Int   int `cbor:"int"`
	Long  int `cbor:"long"`
}

// SysInfo records platform facts about the writer.
type SysInfo struct {
	LittleEndian bool      `cbor:"little_endian"`
	TypeSizes    TypeSizes `cbor:"type_sizes"`
}

// Metadata is the archive metadata record. Magic and protocol version are
// validated exactly on load; SysInfo is informational.
type Metadata struct {
	MagicNumber     []byte  `cbor:"magic_number"`
	ProtocolVersion int     `cbor:"protocol_version"`
	SysInfo         SysInfo `cbor:"sys_info"`
}

func newMetadata() Metadata {
	return Metadata{
		MagicNumber:     magicNumber[:],
		ProtocolVersion: protocolVersion,
		SysInfo: SysInfo{
			LittleEndian: hostLittleEndian(),
			TypeSizes: TypeSizes{
				Short: shortSize,
				Int:   intSize,
				Long:  longSize,
			},
		},
	}
}

func hostLittleEndian() bool {
	return binary.NativeEndian.Uint16([]byte{0x01, 0x00}) == 1
}
