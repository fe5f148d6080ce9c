// Package lcb parses the Washington State Liquor and Cannabis Board licensing
// notification page.
package lcb

import (
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// DefaultURL is the statewide notification page.
const DefaultURL = "https://licensinginfo.lcb.wa.gov/EntireStateWeb.asp"

// Field labels as they appear on the page, without the trailing colon.
const (
	LabelNotificationDate    = "Notification Date"
	LabelApprovedDate        = "Approved Date"
	LabelDiscontinuedDate    = "Discontinued Date"
	LabelCurrentBusinessName = "Current Business Name"
	LabelNewBusinessName     = "New Business Name"
	LabelBusinessName        = "Business Name"
	LabelBusinessLocation    = "Business Location"
	LabelNewBusinessLocation = "New Business Location"
	LabelCurrentApplicants   = "Current Applicant(s)"
	LabelNewApplicants       = "New Applicant(s)"
	LabelApplicants          = "Applicant(s)"
	LabelLicenseType         = "License Type"
	LabelApplicationType     = "Application Type"
	LabelLicenseNumber       = "License Number"
	LabelContactPhone        = "Contact Phone"
)

const (
	noticeSelector = "tbody[width='100%']"
	labelSelector  = "td[style]"
	valueSelector  = "td:not([style])"
)

// Notice is one notification block: field label to cell text.
type Notice map[string]string

// Get returns the first non-empty value among labels.
func (n Notice) Get(labels ...string) string {
	for _, l := range labels {
		if v := n[l]; v != "" {
			return v
		}
	}
	return ""
}

// Parse reads the notification page and returns one Notice per block. Labels
// and values are paired by position; blocks missing either are skipped.
func Parse(r io.Reader) ([]Notice, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "lcb: parse html")
	}

	var notices []Notice
	doc.Find(noticeSelector).Each(func(_ int, block *goquery.Selection) {
		var labels, values []string
		block.Find(labelSelector).Each(func(_ int, td *goquery.Selection) {
			labels = append(labels, strings.TrimRight(clean(td.Text()), ":"))
		})
		block.Find(valueSelector).Each(func(_ int, td *goquery.Selection) {
			values = append(values, clean(td.Text()))
		})
		if len(labels) == 0 || len(values) == 0 {
			return
		}

		n := make(Notice, min(len(labels), len(values)))
		for i := range min(len(labels), len(values)) {
			n[labels[i]] = values[i]
		}
		notices = append(notices, n)
	})

	return notices, nil
}

// clean trims surrounding whitespace only. Inner spacing is part of the
// geocode cache key.
func clean(s string) string {
	return strings.TrimSpace(s)
}
