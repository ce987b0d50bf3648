package ncm

// Profile holds the fixed constants of the container format. Obtain one with
// DefaultProfile; a Decoder keeps its own copy and never modifies it.
type Profile struct {
	Magic [8]byte

	CoreKey  [16]byte // AES-128 key of the key blob
	MetaKey  [16]byte // AES-128 key of the metadata blob
	CoreMask byte     // XOR applied to the key blob before decryption
	MetaMask byte     // XOR applied to the metadata blob before decoding

	KeyPrefixLen      int // bytes dropped from the decrypted key blob
	MetaTextPrefixLen int // characters dropped before base64 decoding
	MetaJSONPrefixLen int // characters dropped before JSON parsing

	ChecksumLen int // bytes skipped right after the magic
	CoverGap    int // flag + CRC bytes skipped before the cover block
}

// DefaultProfile returns the constants used by every known encoder build.
func DefaultProfile() Profile {
	return Profile{
		Magic: [8]byte{'C', 'T', 'E', 'N', 'F', 'D', 'A', 'M'},
		CoreKey: [16]byte{
			0x68, 0x7a, 0x48, 0x52, 0x41, 0x6d, 0x73, 0x6f,
			0x35, 0x6b, 0x49, 0x6e, 0x62, 0x61, 0x78, 0x57,
		},
		MetaKey: [16]byte{
			0x23, 0x31, 0x34, 0x6c, 0x6a, 0x6b, 0x5f, 0x21,
			0x5c, 0x5d, 0x26, 0x30, 0x55, 0x3c, 0x27, 0x28,
		},
		CoreMask: 0x64,
		MetaMask: 0x63,

		KeyPrefixLen:      17, // "neteasecloudmusic"
		MetaTextPrefixLen: 22, // "163 key(Don't modify):"
		MetaJSONPrefixLen: 6,  // "music:"

		ChecksumLen: 2,
		CoverGap:    8,
	}
}
