package dht

// Reading is a humidity (%RH) and temperature (°C) pair.
type Reading struct {
	Humidity    float64
	Temperature float64
}

// Decode converts a captured frame. DHT11 frames carry whole units in bytes
// 0 and 2; every other variant carries tenths as 16-bit big-endian values,
// the temperature in sign-magnitude form. The checksum sums all four payload
// bytes on both paths, some DHT11 firmware fills bytes 1 and 3 and counts
// them. On ErrorChecksum the returned Reading is zero and must not be used.
func Decode(raw RawSample, v Variant) (Reading, ErrorCode) {
	if !raw.ChecksumOK() {
		return Reading{}, ErrorChecksum
	}

	if v == DHT11 {
		return Reading{
			Humidity:    float64(raw[0]),
			Temperature: float64(raw[2]),
		}, OK
	}

	humidity := uint16(raw[0])<<8 | uint16(raw[1])
	temperature := uint16(raw[2]&0x7F)<<8 | uint16(raw[3])
	r := Reading{
		Humidity:    float64(humidity) / 10,
		Temperature: float64(temperature) / 10,
	}
	if raw[2]&0x80 != 0 {
		r.Temperature = -r.Temperature
	}
	return r, OK
}
