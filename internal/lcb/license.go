package lcb

import (
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/license-watch/internal/model"
)

// pageDateLayout is the date format used on the notification page. Month and
// day may or may not be zero padded.
const pageDateLayout = "1/2/2006"

// NotificationDate returns the notice date as YYYY-MM-DD. It takes the first of
// the notification, approved, and discontinued dates that is present. ok is
// false when none is present or the value does not parse.
func (n Notice) NotificationDate() (date string, ok bool) {
	raw := n.Get(LabelNotificationDate, LabelApprovedDate, LabelDiscontinuedDate)
	if raw == "" {
		return "", false
	}
	t, err := time.Parse(pageDateLayout, raw)
	if err != nil {
		zap.L().Error("lcb: unparseable notification date",
			zap.String("value", raw),
			zap.String("license_number", n[LabelLicenseNumber]),
			zap.Error(err),
		)
		return "", false
	}
	return t.Format(model.DateLayout), true
}

// Address returns the business location used for geocoding.
func (n Notice) Address() string {
	return n.Get(LabelBusinessLocation, LabelNewBusinessLocation)
}

// License maps the notice onto the stored license shape. Location is left nil.
func (n Notice) License() model.License {
	date, _ := n.NotificationDate()
	return model.License{
		NotificationDate:    date,
		CurrentBusinessName: n[LabelCurrentBusinessName],
		NewBusinessName:     n[LabelNewBusinessName],
		BusinessLocation:    n.Address(),
		CurrentApplicants:   n[LabelCurrentApplicants],
		NewApplicants:       n[LabelNewApplicants],
		LicenseType:         n[LabelLicenseType],
		ApplicationType:     n[LabelApplicationType],
		LicenseNumber:       n[LabelLicenseNumber],
		ContactPhone:        n[LabelContactPhone],
		BusinessName:        n[LabelBusinessName],
		Applicants:          n[LabelApplicants],
	}
}
