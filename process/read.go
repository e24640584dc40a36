package process

import (
	"encoding/binary"
	"fmt"
)

// ReadUINT8 reads an unsigned 8-bit integer from the specified address
func ReadUINT8(mem Memory, addr ProcessMemoryAddress) (uint8, error) {
	data, err := mem.ReadMemory(addr, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// ReadUINT16 reads an unsigned 16-bit integer from the specified address
func ReadUINT16(mem Memory, addr ProcessMemoryAddress) (uint16, error) {
	data, err := mem.ReadMemory(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

// ReadUINT32 reads an unsigned 32-bit integer from the specified address
func ReadUINT32(mem Memory, addr ProcessMemoryAddress) (uint32, error) {
	data, err := mem.ReadMemory(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// ReadINT8 reads a signed 8-bit integer from the specified address
func ReadINT8(mem Memory, addr ProcessMemoryAddress) (int8, error) {
	v, err := ReadUINT8(mem, addr)
	return int8(v), err
}

// ReadINT32 reads a signed 32-bit integer from the specified address
func ReadINT32(mem Memory, addr ProcessMemoryAddress) (int32, error) {
	v, err := ReadUINT32(mem, addr)
	return int32(v), err
}

// ReadUINT64 reads an unsigned 64-bit integer from the specified address
func ReadUINT64(mem Memory, addr ProcessMemoryAddress) (uint64, error) {
	data, err := mem.ReadMemory(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}

// ReadPOINTER reads a 64-bit pointer value from the specified address
func ReadPOINTER(mem Memory, addr ProcessMemoryAddress) (ProcessMemoryAddress, error) {
	if addr == 0 {
		return 0, fmt.Errorf("%w: read at 0x0", ErrInvalidPointer)
	}
	v, err := ReadUINT64(mem, addr)
	if err != nil {
		return 0, err
	}
	return ProcessMemoryAddress(v), nil
}
