// Package geo provides geocoding and great-circle distance calculations for
// proximity dispatch.
package geo

import (
	"context"
	"math"

	"github.com/ecocycle/wastebot/internal/models"
)

// EarthRadiusKm is the mean radius of the Earth in kilometers.
const EarthRadiusKm = 6371.0

// Geocoder resolves free-text locations into coordinates.
// Implementations are treated as fallible and possibly slow; a nil result
// with a nil error means the location could not be matched.
type Geocoder interface {
	Geocode(ctx context.Context, freeText string) (*models.Coordinates, error)
}

// Distance computes the great-circle (haversine) distance between two
// coordinate pairs in kilometers.
func Distance(a, b models.Coordinates) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
