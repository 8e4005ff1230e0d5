package util

import (
	"encoding/binary"
)

//IsFilled confirms the provided byte slice contains only val by returning true,
// an empty slice is considered filled
func IsFilled(block []byte, val byte) bool {
	pattern := uint64(val) * 0x0101010101010101
	alignedEnd := len(block) &^ 7

	for i := 0; i < alignedEnd; i += 8 {
		if binary.LittleEndian.Uint64(block[i:]) != pattern {
			return false
		}
	}

	for _, char := range block[alignedEnd:] {
		if char != val {
			return false
		}
	}

	return true
}

//Fill ensures the provided byte slice contains only val
func Fill(block []byte, val byte) {
	if len(block) < 1 {
		return
	}

	block[0] = val
	for i := 1; i < len(block); i <<= 1 {
		copy(block[i:], block[:i])
	}
}

//Filled allocates a new slice of size bytes that are all val
func Filled(size int, val byte) []byte {
	block := make([]byte, size)
	Fill(block, val)
	return block
}
