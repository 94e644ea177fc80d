// Package transform provides coordinate conversions for satellite positions:
// WGS-84 geodetic <-> ECEF, and TEME -> ECEF for SGP4 output.
//
// All distances are kilometers and all angles are degrees unless a name says otherwise.
package transform

import "math"

// WGS-84 ellipsoid parameters.
const (
	WGS84A  = 6378.137              // semi-major axis (km)
	WGS84F  = 1.0 / 298.257223563   // flattening
	wgs84E2 = WGS84F * (2 - WGS84F) // first eccentricity squared
)

// latitudeIterations bounds the fixed-point solve in ECEFToGeodetic.
// Five passes reach sub-meter altitude error for anything below GEO.
const latitudeIterations = 5

const (
	deg2rad = math.Pi / 180.0
	rad2deg = 180.0 / math.Pi
)

// GeodeticToECEF converts geodetic latitude/longitude (degrees) and altitude
// above the ellipsoid (km) to ECEF coordinates (km).
func GeodeticToECEF(latDeg, lonDeg, altKm float64) (x, y, z float64) {
	lat := latDeg * deg2rad
	lon := lonDeg * deg2rad

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)

	// Radius of curvature in the prime vertical.
	n := WGS84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	x = (n + altKm) * cosLat * math.Cos(lon)
	y = (n + altKm) * cosLat * math.Sin(lon)
	z = (n*(1-wgs84E2) + altKm) * sinLat
	return x, y, z
}

// ECEFToGeodetic converts ECEF coordinates (km) to geodetic latitude/longitude
// (degrees) and altitude (km), iterating on latitude a fixed number of times.
// Longitude is normalized to (-180, 180] and latitude clamped to [-90, 90].
func ECEFToGeodetic(x, y, z float64) (latDeg, lonDeg, altKm float64) {
	lon := math.Atan2(y, x)
	p := math.Sqrt(x*x + y*y)

	lat := math.Atan2(z, p*(1-wgs84E2))
	for i := 0; i < latitudeIterations; i++ {
		sinLat := math.Sin(lat)
		n := WGS84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)
		lat = math.Atan2(z+wgs84E2*n*sinLat, p)
	}

	sinLat := math.Sin(lat)
	cosLat := math.Cos(lat)
	n := WGS84A / math.Sqrt(1-wgs84E2*sinLat*sinLat)

	switch {
	case math.Abs(cosLat) > 1e-10:
		altKm = p/cosLat - n
	case sinLat != 0:
		altKm = math.Abs(z)/math.Abs(sinLat) - n*(1-wgs84E2)
	default:
		altKm = -n
	}

	return ClampLatitude(lat * rad2deg), NormalizeLongitude(lon * rad2deg), altKm
}

// NormalizeLongitude maps any longitude in degrees into (-180, 180].
func NormalizeLongitude(lon float64) float64 {
	if math.IsNaN(lon) || math.IsInf(lon, 0) {
		return lon
	}
	lon = math.Mod(lon+180, 360)
	if lon <= 0 {
		lon += 360
	}
	return lon - 180
}

// ClampLatitude limits a latitude in degrees to [-90, 90].
func ClampLatitude(lat float64) float64 {
	return math.Max(-90, math.Min(90, lat))
}
