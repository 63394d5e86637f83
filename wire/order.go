package wire

import (
	"encoding/binary"

	"golang.org/x/sys/cpu"
)

// A ByteOrder is a byte order usable in DBus messages. It extends the
// standard library byte orders with the single-byte flag DBus uses to
// announce a message's endianness.
type ByteOrder interface {
	byteOrder
	// Flag returns the DBus byte order flag, 'l' for little endian
	// and 'B' for big endian.
	Flag() byte
}

type byteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

type stdOrder struct {
	byteOrder
}

func (o stdOrder) Flag() byte {
	switch o.byteOrder {
	case binary.BigEndian:
		return 'B'
	case binary.LittleEndian:
		return 'l'
	case binary.NativeEndian:
		if cpu.IsBigEndian {
			return 'B'
		}
		return 'l'
	default:
		panic("unknown byte order")
	}
}

var (
	BigEndian    ByteOrder = stdOrder{binary.BigEndian}
	LittleEndian ByteOrder = stdOrder{binary.LittleEndian}
	NativeEndian ByteOrder = stdOrder{binary.NativeEndian}
)

// OrderForFlag returns the ByteOrder matching a DBus byte order flag.
func OrderForFlag(flag byte) (ByteOrder, bool) {
	switch flag {
	case 'B':
		return BigEndian, true
	case 'l':
		return LittleEndian, true
	}
	return nil, false
}
