package partition

const (
	murmur2Seed uint32 = 0x9747b28c
	murmur2M    uint32 = 0x5bd1e995
	murmur2R           = 24
)

// Murmur2 computes the 32-bit MurmurHash2 used by the Kafka Java client's
// default partitioner, so placements agree with JVM producers.
func Murmur2(data []byte) int32 {
	length := len(data)
	h := murmur2Seed ^ uint32(length)

	n := length / 4
	for i := 0; i < n; i++ {
		off := i * 4
		k := uint32(data[off]) |
			uint32(data[off+1])<<8 |
			uint32(data[off+2])<<16 |
			uint32(data[off+3])<<24
		k *= murmur2M
		k ^= k >> murmur2R
		k *= murmur2M
		h *= murmur2M
		h ^= k
	}

	tail := length &^ 3
	switch length % 4 {
	case 3:
		h ^= uint32(data[tail+2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[tail+1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[tail])
		h *= murmur2M
	}

	h ^= h >> 13
	h *= murmur2M
	h ^= h >> 15
	return int32(h)
}

// ToPositive clears the sign bit.
func ToPositive(h int32) int32 {
	return h & 0x7fffffff
}
