package main

import (
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/export"
	"github.com/sells-group/license-watch/internal/model"
	"github.com/sells-group/license-watch/internal/store"
)

var (
	exportFormat   string
	exportOutput   string
	exportSince    string
	exportLimit    int
	exportGeocoded bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export stored licenses as GeoJSON or XLSX",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		format, err := export.ParseFormat(exportFormat)
		if err != nil {
			return err
		}
		filter, err := exportFilter(exportSince, exportLimit, exportGeocoded || format == export.FormatGeoJSON)
		if err != nil {
			return err
		}

		creds, err := loadCredentials()
		if err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store, creds, nil)
		if err != nil {
			return eris.Wrap(err, "open stores")
		}
		defer st.Close() //nolint:errcheck

		var w io.Writer = os.Stdout
		if exportOutput != "" && exportOutput != "-" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return eris.Wrapf(err, "create %s", exportOutput)
			}
			defer f.Close() //nolint:errcheck
			w = f
		}

		n, err := export.Write(ctx, st, filter, format, w)
		if err != nil {
			return err
		}
		zap.L().Info("export complete", zap.String("format", string(format)), zap.Int("licenses", n))
		return nil
	},
}

func exportFilter(since string, limit int, geocodedOnly bool) (store.LicenseFilter, error) {
	filter := store.LicenseFilter{Limit: limit, GeocodedOnly: geocodedOnly}
	if since == "" {
		return filter, nil
	}
	t, err := time.Parse(model.DateLayout, since)
	if err != nil {
		return filter, eris.Wrapf(err, "invalid --since %q, want YYYY-MM-DD", since)
	}
	filter.Since = t
	return filter, nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "geojson", "output format: geojson or xlsx")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file (default stdout)")
	exportCmd.Flags().StringVar(&exportSince, "since", "", "only notices dated on or after YYYY-MM-DD")
	exportCmd.Flags().IntVar(&exportLimit, "limit", 0, "max licenses to export (0 = all)")
	exportCmd.Flags().BoolVar(&exportGeocoded, "geocoded-only", false, "skip licenses without coordinates")
	rootCmd.AddCommand(exportCmd)
}
