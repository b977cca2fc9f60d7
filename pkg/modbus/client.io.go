// Copyright (C) 2025 Josh Simonot
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"encoding/binary"
	"fmt"
	"math"
)

// RegisterCount is the number of 16 bit registers a data type spans.
func RegisterCount(dataType string) (uint16, error) {
	switch dataType {
	case "uint16", "int16":
		return 1, nil
	case "float32":
		return 2, nil
	default:
		return 0, fmt.Errorf("unsupported data type %q", dataType)
	}
}

// Decode converts raw big-endian register bytes into the register's value.
func Decode(def RegisterDef, raw []byte) (float64, error) {
	n, err := RegisterCount(def.DataType)
	if err != nil {
		return 0, err
	}
	if len(raw) < int(n)*2 {
		return 0, fmt.Errorf("got %d bytes, want %d", len(raw), n*2)
	}

	var v float64
	switch def.DataType {
	case "float32":
		v = float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))
	case "int16":
		v = float64(int16(binary.BigEndian.Uint16(raw)))
	case "uint16":
		v = float64(binary.BigEndian.Uint16(raw))
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("non-finite value")
	}
	if def.Scale != 0 {
		v = v*def.Scale + def.Offset
	}
	return v, nil
}
