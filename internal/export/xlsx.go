package export

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/license-watch/internal/model"
)

// SheetName is the worksheet written by XLSX.
const SheetName = "licenses"

// XLSX writes one row per license with a header row. Coordinates are numeric
// cells and blank when the license is not geocoded.
func XLSX(w io.Writer, licenses []model.License) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range columns {
		header.AddCell().SetString(c.header)
	}
	header.AddCell().SetString("latitude")
	header.AddCell().SetString("longitude")

	for _, l := range licenses {
		row := sheet.AddRow()
		for _, c := range columns {
			row.AddCell().SetString(c.value(l))
		}
		lat, lng := row.AddCell(), row.AddCell()
		if l.Location != nil {
			lat.SetFloat(l.Location.Latitude)
			lng.SetFloat(l.Location.Longitude)
		}
	}

	if err := f.Write(w); err != nil {
		return eris.Wrap(err, "export: write xlsx")
	}
	return nil
}
