package io

// GetVarSize returns the number of bytes needed to encode the given length
// as a variable-length integer.
func GetVarSize(value int) int {
	switch {
	case value < 0xFD:
		return 1 // uint8
	case value < 0xFFFF:
		return 3 // byte + uint16
	case value < 0xFFFFFFFF:
		return 5 // byte + uint32
	default:
		return 9 // byte + uint64
	}
}
