package export

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/license-watch/internal/model"
	"github.com/sells-group/license-watch/internal/store"
)

func sampleLicenses() []model.License {
	return []model.License{
		{
			LicenseNumber:    "433512",
			NotificationDate: "2026-10-14",
			LicenseType:      "BEER/WINE SPECIALTY SHOP",
			BusinessName:     "BLUE HERON CELLARS",
			BusinessLocation: "100 MAIN ST SEATTLE WA 98101",
			Location: &model.Location{
				Latitude:  47.6062,
				Longitude: -122.3321,
				Geohash:   "c23nb62w20sth",
				Zipcode:   "98101",
			},
		},
		{
			LicenseNumber:   "078900",
			LicenseType:     "TAVERN",
			NewBusinessName: "CEDAR TAVERN",
		},
	}
}

type fakeLister struct {
	got      store.LicenseFilter
	licenses []model.License
	err      error
}

func (f *fakeLister) ListLicenses(_ context.Context, filter store.LicenseFilter) ([]model.License, error) {
	f.got = filter
	return f.licenses, f.err
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" GeoJSON ")
	require.NoError(t, err)
	assert.Equal(t, FormatGeoJSON, f)
	assert.Equal(t, ".geojson", f.Extension())

	f, err = ParseFormat("xlsx")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)
}

func TestGeoJSON(t *testing.T) {
	var buf bytes.Buffer
	n, err := GeoJSON(&buf, sampleLicenses())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			ID       string `json:"id"`
			Geometry struct {
				Type        string    `json:"type"`
				Coordinates []float64 `json:"coordinates"`
			} `json:"geometry"`
			Properties map[string]string `json:"properties"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "FeatureCollection", doc.Type)
	require.Len(t, doc.Features, 1)
	f := doc.Features[0]
	assert.Equal(t, "433512", f.ID)
	assert.Equal(t, "Point", f.Geometry.Type)
	assert.Equal(t, []float64{-122.3321, 47.6062}, f.Geometry.Coordinates)
	assert.Equal(t, "BLUE HERON CELLARS", f.Properties["business_name"])
	assert.Equal(t, "98101", f.Properties["zipcode"])
	assert.NotContains(t, f.Properties, "contact_phone")
}

func TestGeoJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := GeoJSON(&buf, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Contains(t, buf.String(), `"FeatureCollection"`)
}

func TestFeature_NoLocation(t *testing.T) {
	assert.Nil(t, Feature(sampleLicenses()[1]))
}

func TestXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, XLSX(&buf, sampleLicenses()))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := f.Sheet[SheetName]
	require.True(t, ok)
	require.Len(t, sheet.Rows, 3)

	header := sheet.Rows[0].Cells
	assert.Equal(t, "license_number", header[0].String())
	assert.Equal(t, "longitude", header[len(header)-1].String())

	first := sheet.Rows[1].Cells
	assert.Equal(t, "433512", first[0].String())
	assert.Equal(t, "BLUE HERON CELLARS", first[4].String())
	lat, err := first[len(first)-2].Float()
	require.NoError(t, err)
	assert.InDelta(t, 47.6062, lat, 1e-9)

	second := sheet.Rows[2].Cells
	assert.Equal(t, "CEDAR TAVERN", second[4].String())
}

func TestWrite(t *testing.T) {
	lister := &fakeLister{licenses: sampleLicenses()}
	filter := store.LicenseFilter{GeocodedOnly: true, Limit: 10}

	var buf bytes.Buffer
	n, err := Write(context.Background(), lister, filter, FormatGeoJSON, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, filter, lister.got)

	buf.Reset()
	n, err = Write(context.Background(), lister, filter, FormatXLSX, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NotZero(t, buf.Len())
}

func TestWrite_ListError(t *testing.T) {
	_, err := Write(context.Background(), &fakeLister{err: assert.AnError}, store.LicenseFilter{}, FormatXLSX, &bytes.Buffer{})
	assert.Error(t, err)
}
