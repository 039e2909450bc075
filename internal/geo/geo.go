package geo

import "math"

// EarthRadiusM is the mean Earth radius used for great-circle math.
const EarthRadiusM = 6371000.0

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bearing returns the initial compass bearing in degrees [0, 360) when
// travelling from one point towards another.
func Bearing(from, to Point) float64 {
	lat1 := toRadians(from.Lat)
	lat2 := toRadians(to.Lat)
	dLng := toRadians(to.Lng - from.Lng)

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)

	deg := toDegrees(math.Atan2(y, x))
	return math.Mod(deg+360, 360)
}

// HaversineDistance returns the great-circle distance between two points in
// meters.
func HaversineDistance(a, b Point) float64 {
	dLat := toRadians(b.Lat - a.Lat)
	dLng := toRadians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(toRadians(a.Lat))*math.Cos(toRadians(b.Lat))*sinLng*sinLng
	return 2 * EarthRadiusM * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ProjectOntoSegment returns the perpendicular projection of p onto the
// segment [segStart, segEnd], clamped to the segment. A zero-length segment
// projects to segStart.
func ProjectOntoSegment(p, segStart, segEnd Point) Point {
	dx := segEnd.Lat - segStart.Lat
	dy := segEnd.Lng - segStart.Lng

	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return segStart
	}

	t := ((p.Lat-segStart.Lat)*dx + (p.Lng-segStart.Lng)*dy) / lenSq
	t = math.Max(0, math.Min(1, t))

	return Point{
		Lat: segStart.Lat + t*dx,
		Lng: segStart.Lng + t*dy,
	}
}

// ClosestPointOnRoute scans every segment of route and returns the index of
// the segment holding the minimum-distance projection of p, and that
// projection. An empty route returns (0, p); a single-point route returns
// that point.
func ClosestPointOnRoute(p Point, route []Point) (int, Point) {
	if len(route) == 0 {
		return 0, p
	}
	if len(route) == 1 {
		return 0, route[0]
	}

	bestIdx := 0
	bestPoint := route[0]
	bestDist := math.Inf(1)

	for i := 0; i < len(route)-1; i++ {
		proj := ProjectOntoSegment(p, route[i], route[i+1])
		d := HaversineDistance(p, proj)
		if d < bestDist {
			bestDist = d
			bestIdx = i
			bestPoint = proj
		}
	}

	return bestIdx, bestPoint
}

// InterpolateAlongRoute returns the point at the given fraction of the
// route's total length. Progress is clamped to [0, 1].
func InterpolateAlongRoute(route []Point, progress float64) Point {
	if len(route) == 0 {
		return Point{}
	}
	if progress <= 0 || len(route) == 1 {
		return route[0]
	}
	if progress >= 1 {
		return route[len(route)-1]
	}

	total := RouteDistance(route)
	if total == 0 {
		return route[0]
	}

	target := progress * total
	var walked float64

	for i := 0; i < len(route)-1; i++ {
		segLen := HaversineDistance(route[i], route[i+1])
		if walked+segLen >= target {
			if segLen == 0 {
				return route[i]
			}
			t := (target - walked) / segLen
			return Point{
				Lat: route[i].Lat + t*(route[i+1].Lat-route[i].Lat),
				Lng: route[i].Lng + t*(route[i+1].Lng-route[i].Lng),
			}
		}
		walked += segLen
	}

	return route[len(route)-1]
}

// RouteDistance returns the sum of consecutive great-circle distances along
// route, in meters.
func RouteDistance(route []Point) float64 {
	var total float64
	for i := 0; i < len(route)-1; i++ {
		total += HaversineDistance(route[i], route[i+1])
	}
	return total
}

// DecodePolyline decodes a string in the standard encoded-polyline format
// (5 bits per char, zigzag-signed deltas, scale 1e5). Truncated input yields
// the points decoded so far rather than an error.
func DecodePolyline(encoded string) []Point {
	points := make([]Point, 0, len(encoded)/4)
	var lat, lng int64
	idx := 0

	for idx < len(encoded) {
		dLat, next, ok := decodeVarint(encoded, idx)
		if !ok {
			break
		}
		idx = next

		dLng, next, ok := decodeVarint(encoded, idx)
		if !ok {
			break
		}
		idx = next

		lat += dLat
		lng += dLng
		points = append(points, Point{
			Lat: float64(lat) / 1e5,
			Lng: float64(lng) / 1e5,
		})
	}

	return points
}

// decodeVarint reads one zigzag-encoded value starting at idx. ok is false
// when the chunk sequence runs past the end of the string.
func decodeVarint(encoded string, idx int) (value int64, next int, ok bool) {
	var result int64
	var shift uint

	for {
		if idx >= len(encoded) {
			return 0, idx, false
		}
		b := int64(encoded[idx]) - 63
		idx++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			break
		}
	}

	if result&1 != 0 {
		return ^(result >> 1), idx, true
	}
	return result >> 1, idx, true
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

func toDegrees(rad float64) float64 { return rad * 180 / math.Pi }
