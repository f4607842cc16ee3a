// Package dupindex answers whether a new fix falls within the duplicate
// window of an already-reported hazard.
package dupindex

import (
	"sync"

	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"

	"civiclens-service/internal/domain/report"
)

const earthRadiusM = 6371010.0

// Index holds the locations of known reports. The backing set is read-only
// from the intake side; mutations arrive only through Rebuild and Add after
// storage-side writes.
type Index struct {
	radiusM float64

	mu     sync.RWMutex
	points []s2.Point
	locs   []report.Location
}

func New(radiusM float64) *Index {
	if radiusM <= 0 {
		radiusM = 500
	}
	return &Index{radiusM: radiusM}
}

// Rebuild replaces the index contents with the given report locations.
func (i *Index) Rebuild(locs []report.Location) {
	points := make([]s2.Point, 0, len(locs))
	kept := make([]report.Location, 0, len(locs))
	for _, l := range locs {
		points = append(points, s2.PointFromLatLng(s2.LatLngFromDegrees(l.Lat, l.Lng)))
		kept = append(kept, l)
	}

	i.mu.Lock()
	i.points = points
	i.locs = kept
	i.mu.Unlock()
}

// Add registers one newly persisted report location.
func (i *Index) Add(loc report.Location) {
	p := s2.PointFromLatLng(s2.LatLngFromDegrees(loc.Lat, loc.Lng))
	i.mu.Lock()
	i.points = append(i.points, p)
	i.locs = append(i.locs, loc)
	i.mu.Unlock()
}

// Nearby reports whether any known report lies within the duplicate radius of
// the fix, and returns the closest such location.
func (i *Index) Nearby(fix report.GPSFix) (report.Location, bool) {
	target := s2.PointFromLatLng(s2.LatLngFromDegrees(fix.Lat, fix.Lng))
	maxAngle := s1.Angle(i.radiusM / earthRadiusM)

	i.mu.RLock()
	defer i.mu.RUnlock()

	best := -1
	bestAngle := maxAngle
	for idx, p := range i.points {
		a := target.Distance(p)
		if a <= bestAngle {
			best = idx
			bestAngle = a
		}
	}
	if best < 0 {
		return report.Location{}, false
	}
	return i.locs[best], true
}

// RadiusMeters returns the configured duplicate window.
func (i *Index) RadiusMeters() float64 {
	return i.radiusM
}
