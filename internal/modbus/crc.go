// Package modbus implements the subset of Modbus-RTU the relay/PLC
// board speaks: function 0x03 (read holding registers) and function
// 0x10 (write multiple registers), framed over a raw serial.Port the
// same way the teacher's port owns a tty.
package modbus

// crc16 computes the Modbus CRC16-IBM checksum: polynomial 0xA001,
// initial value 0xFFFF, result emitted little-endian (low byte
// first) by the caller via crc16LoHi.
func crc16(data []byte) uint16 {
	var crc uint16 = 0xFFFF
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// crc16LoHi returns the two CRC bytes in the order Modbus-RTU puts on
// the wire: low byte, then high byte.
func crc16LoHi(data []byte) [2]byte {
	c := crc16(data)
	return [2]byte{byte(c & 0xFF), byte(c >> 8)}
}

func appendCRC(frame []byte) []byte {
	lohi := crc16LoHi(frame)
	return append(frame, lohi[0], lohi[1])
}

func checkCRC(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	body := frame[:len(frame)-2]
	want := crc16LoHi(body)
	return frame[len(frame)-2] == want[0] && frame[len(frame)-1] == want[1]
}
