package export

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/license-watch/internal/model"
)

// GeoJSON writes a FeatureCollection with one Point per geocoded license.
// Licenses without a location are skipped. It returns the feature count.
func GeoJSON(w io.Writer, licenses []model.License) (int, error) {
	fc := geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, len(licenses))}
	for _, l := range licenses {
		if f := Feature(l); f != nil {
			fc.Features = append(fc.Features, f)
		}
	}
	data, err := json.Marshal(&fc)
	if err != nil {
		return 0, eris.Wrap(err, "export: encode geojson")
	}
	if _, err := w.Write(data); err != nil {
		return 0, eris.Wrap(err, "export: write geojson")
	}
	return len(fc.Features), nil
}

// Feature converts a geocoded license to a Point feature, or nil.
func Feature(l model.License) *geojson.Feature {
	if l.Location == nil {
		return nil
	}
	props := make(map[string]any, len(columns))
	for _, c := range columns {
		if v := c.value(l); v != "" {
			props[c.header] = v
		}
	}
	return &geojson.Feature{
		ID:         l.LicenseNumber,
		Geometry:   geom.NewPointFlat(geom.XY, []float64{l.Location.Longitude, l.Location.Latitude}).SetSRID(4326),
		Properties: props,
	}
}
