// Package geo содержит геодезические вычисления для подбора доноров.
package geo

import (
	"math"

	"github.com/mmeshcher/pulsebank/internal/model"
)

// EarthRadiusKm задаёт средний радиус Земли в километрах.
const EarthRadiusKm = 6371.0

// Distance возвращает расстояние по дуге большого круга между a и b в километрах,
// округлённое до одного знака после запятой (формула гаверсинуса).
func Distance(a, b model.Coordinate) float64 {
	lat1 := toRad(a.Lat())
	lat2 := toRad(b.Lat())
	deltaLat := toRad(b.Lat() - a.Lat())
	deltaLon := toRad(b.Lon() - a.Lon())

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	// округление может вывести h за пределы [0, 1] для почти антиподальных точек
	h = min(max(h, 0), 1)

	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return math.Round(EarthRadiusKm*c*10) / 10
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}
