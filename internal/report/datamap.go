package report

import (
	"encoding/binary"
	"math"
)

// DatamapShards lists the four coverage map quadrants.
var DatamapShards = []string{"ne", "nw", "se", "sw"}

// ScaleCoord quantises one coordinate to the datamap grid resolution of
// one thousandth of a degree.
func ScaleCoord(v float64) int32 {
	return int32(math.Round(v * 1000))
}

// ScaleGrid maps a position to its coarse datamap grid cell.
func ScaleGrid(lat, lon float64) (int32, int32) {
	return ScaleCoord(lat), ScaleCoord(lon)
}

// GridShardID routes a grid cell to its quadrant shard by the signs of
// the scaled coordinates.
func GridShardID(scaledLat, scaledLon int32) string {
	if scaledLat >= 0 {
		if scaledLon >= 0 {
			return "ne"
		}
		return "nw"
	}
	if scaledLon >= 0 {
		return "se"
	}
	return "sw"
}

// EncodeGrid packs a grid cell as two big-endian int32 values. Datamap
// queues carry this fixed binary form, not JSON.
func EncodeGrid(scaledLat, scaledLon int32) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], uint32(scaledLat))
	binary.BigEndian.PutUint32(buf[4:8], uint32(scaledLon))
	return buf
}

// DecodeGrid reverses EncodeGrid.
func DecodeGrid(data []byte) (int32, int32, bool) {
	if len(data) != 8 {
		return 0, 0, false
	}
	lat := int32(binary.BigEndian.Uint32(data[0:4]))
	lon := int32(binary.BigEndian.Uint32(data[4:8]))
	return lat, lon, true
}
