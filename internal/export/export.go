// Package export writes stored licenses as GeoJSON or XLSX.
package export

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/license-watch/internal/model"
	"github.com/sells-group/license-watch/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatGeoJSON Format = "geojson"
	FormatXLSX    Format = "xlsx"
)

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatGeoJSON, FormatXLSX:
		return f, nil
	default:
		return "", eris.Errorf("export: unknown format %q", s)
	}
}

// Extension returns the file extension for f, with the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Write lists licenses matching filter and encodes them to w. It returns the
// number of licenses written.
func Write(ctx context.Context, lister store.LicenseLister, filter store.LicenseFilter, format Format, w io.Writer) (int, error) {
	licenses, err := lister.ListLicenses(ctx, filter)
	if err != nil {
		return 0, eris.Wrap(err, "export: list licenses")
	}
	switch format {
	case FormatGeoJSON:
		return GeoJSON(w, licenses)
	case FormatXLSX:
		return len(licenses), XLSX(w, licenses)
	default:
		return 0, eris.Errorf("export: unknown format %q", format)
	}
}

// columns are the tabular export fields, in order.
var columns = []struct {
	header string
	value  func(model.License) string
}{
	{"license_number", func(l model.License) string { return l.LicenseNumber }},
	{"notification_date", func(l model.License) string { return l.NotificationDate }},
	{"license_type", func(l model.License) string { return l.LicenseType }},
	{"application_type", func(l model.License) string { return l.ApplicationType }},
	{"business_name", func(l model.License) string { return l.DisplayName() }},
	{"current_business_name", func(l model.License) string { return l.CurrentBusinessName }},
	{"new_business_name", func(l model.License) string { return l.NewBusinessName }},
	{"business_location", func(l model.License) string { return l.BusinessLocation }},
	{"applicants", func(l model.License) string { return l.Applicants }},
	{"current_applicants", func(l model.License) string { return l.CurrentApplicants }},
	{"new_applicants", func(l model.License) string { return l.NewApplicants }},
	{"contact_phone", func(l model.License) string { return l.ContactPhone }},
	{"zipcode", func(l model.License) string { return locField(l, func(loc *model.Location) string { return loc.Zipcode }) }},
	{"formatted_address", func(l model.License) string {
		return locField(l, func(loc *model.Location) string { return loc.FormattedAddress })
	}},
	{"geohash", func(l model.License) string { return locField(l, func(loc *model.Location) string { return loc.Geohash }) }},
}

func locField(l model.License, get func(*model.Location) string) string {
	if l.Location == nil {
		return ""
	}
	return get(l.Location)
}
