package checkin

import "math"

// Evidence is what a scanning client submits alongside the token: an optional
// geolocation and an optional device fingerprint.
type Evidence struct {
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
	AccuracyM float64  `json:"accuracy_m,omitempty"`
	DeviceID  string   `json:"device_id,omitempty"`
}

// HasLocation reports whether a coordinate pair was supplied.
func (e Evidence) HasLocation() bool {
	return e.Lat != nil && e.Lng != nil
}

const earthRadiusM = 6371000

// distanceMeters is the haversine great-circle distance.
func distanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }

	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// withinRadius allows the reported GPS accuracy to count toward the fence.
func (e Evidence) withinRadius(lat, lng, radiusM float64) bool {
	if !e.HasLocation() {
		return false
	}
	return distanceMeters(*e.Lat, *e.Lng, lat, lng) <= radiusM+e.AccuracyM
}
