// Package memhost is an in-memory GIS host: R-tree indexed feature tables,
// map selection state, edit operations and an orb-backed projection engine.
package memhost

import "github.com/mohammed-shakir/panoview-bridge/internal/geom"

const radiansPerDegree = 0.0174532925199433

var (
	WGS84 = geom.SpatialReference{WKID: 4326, Name: "WGS 84", Geographic: true, UnitFactor: radiansPerDegree}

	WebMercator = geom.SpatialReference{WKID: 3857, Name: "WGS 84 / Pseudo-Mercator", UnitFactor: 1}

	RDNew = geom.SpatialReference{WKID: 28992, Name: "Amersfoort / RD New", UnitFactor: 1}

	NewYorkLongIsland = geom.SpatialReference{WKID: 2263, Name: "NAD83 / New York Long Island (ftUS)", UnitFactor: 0.3048006096012192}
)

var catalog = map[int]geom.SpatialReference{
	WGS84.WKID:             WGS84,
	WebMercator.WKID:       WebMercator,
	RDNew.WKID:             RDNew,
	NewYorkLongIsland.WKID: NewYorkLongIsland,
}

// Reference looks up a well-known spatial reference.
func Reference(wkid int) (geom.SpatialReference, bool) {
	sr, ok := catalog[wkid]
	return sr, ok
}
