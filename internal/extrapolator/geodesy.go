package extrapolator

import "math"

// WGS84 ellipsoid.
const (
	wgs84A  = 6378137.0
	wgs84F  = 1 / 298.257223563
	wgs84B  = wgs84A * (1 - wgs84F)
	wgs84E2 = wgs84F * (2 - wgs84F)
	// second eccentricity squared
	wgs84EP2 = wgs84E2 / (1 - wgs84E2)
)

const deg2rad = math.Pi / 180

// Vec3 is a Cartesian vector in metres.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// GeodeticToECEF converts latitude/longitude in degrees and ellipsoidal
// height in metres to ECEF.
func GeodeticToECEF(lat, lon, h float64) Vec3 {
	phi := lat * deg2rad
	lam := lon * deg2rad
	sinPhi, cosPhi := math.Sincos(phi)
	sinLam, cosLam := math.Sincos(lam)
	n := wgs84A / math.Sqrt(1-wgs84E2*sinPhi*sinPhi)
	return Vec3{
		X: (n + h) * cosPhi * cosLam,
		Y: (n + h) * cosPhi * sinLam,
		Z: (n*(1-wgs84E2) + h) * sinPhi,
	}
}

// ECEFToGeodetic inverts GeodeticToECEF. Bowring's estimate is refined with
// a few fixed-point steps, which brings terrestrial points to well below a
// micrometre.
func ECEFToGeodetic(v Vec3) (lat, lon, h float64) {
	p := math.Hypot(v.X, v.Y)
	lam := math.Atan2(v.Y, v.X)

	theta := math.Atan2(v.Z*wgs84A, p*wgs84B)
	sinT, cosT := math.Sincos(theta)
	phi := math.Atan2(v.Z+wgs84EP2*wgs84B*sinT*sinT*sinT, p-wgs84E2*wgs84A*cosT*cosT*cosT)

	for i := 0; i < 3; i++ {
		s := math.Sin(phi)
		n := wgs84A / math.Sqrt(1-wgs84E2*s*s)
		phi = math.Atan2(v.Z+wgs84E2*n*s, p)
	}

	// projection form of the height; stable near the poles
	sinPhi, cosPhi := math.Sincos(phi)
	h = p*cosPhi + v.Z*sinPhi - wgs84A*math.Sqrt(1-wgs84E2*sinPhi*sinPhi)
	return phi / deg2rad, lam / deg2rad, h
}

// rotation is the ECEF→ENU matrix for a reference latitude φ and longitude λ.
// Rows are the east, north and up unit vectors.
type rotation [3][3]float64

func newRotation(lat, lon float64) rotation {
	sinPhi, cosPhi := math.Sincos(lat * deg2rad)
	sinLam, cosLam := math.Sincos(lon * deg2rad)
	return rotation{
		{-sinLam, cosLam, 0},
		{-sinPhi * cosLam, -sinPhi * sinLam, cosPhi},
		{cosPhi * cosLam, cosPhi * sinLam, sinPhi},
	}
}

// toENU rotates an ECEF offset into the local frame.
func (r rotation) toENU(d Vec3) (e, n, u float64) {
	e = r[0][0]*d.X + r[0][1]*d.Y + r[0][2]*d.Z
	n = r[1][0]*d.X + r[1][1]*d.Y + r[1][2]*d.Z
	u = r[2][0]*d.X + r[2][1]*d.Y + r[2][2]*d.Z
	return
}

// fromENU applies the inverse (transpose) rotation.
func (r rotation) fromENU(e, n, u float64) Vec3 {
	return Vec3{
		X: r[0][0]*e + r[1][0]*n + r[2][0]*u,
		Y: r[0][1]*e + r[1][1]*n + r[2][1]*u,
		Z: r[0][2]*e + r[1][2]*n + r[2][2]*u,
	}
}

// LocalOffset returns the East-North-Up offset in metres of a point from a
// reference point, both given as latitude, longitude and height.
func LocalOffset(refLat, refLon, refH, lat, lon, h float64) (e, n, u float64) {
	d := GeodeticToECEF(lat, lon, h).Sub(GeodeticToECEF(refLat, refLon, refH))
	return newRotation(refLat, refLon).toENU(d)
}
