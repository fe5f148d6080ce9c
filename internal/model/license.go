package model

// DateLayout is the storage format of notification dates.
const DateLayout = "2006-01-02"

// Location is a geocoded business address.
type Location struct {
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Geohash          string  `json:"geohash"`
	Zipcode          string  `json:"zipcode,omitempty"`
	FormattedAddress string  `json:"formatted_address,omitempty"`
}

// License is one licensing notice as persisted by the stores.
type License struct {
	NotificationDate    string    `json:"notification_date,omitempty"` // YYYY-MM-DD, empty when unknown
	CurrentBusinessName string    `json:"current_business_name,omitempty"`
	NewBusinessName     string    `json:"new_business_name,omitempty"`
	BusinessLocation    string    `json:"business_location,omitempty"`
	CurrentApplicants   string    `json:"current_applicants,omitempty"`
	NewApplicants       string    `json:"new_applicants,omitempty"`
	LicenseType         string    `json:"license_type,omitempty"`
	ApplicationType     string    `json:"application_type,omitempty"`
	LicenseNumber       string    `json:"license_number,omitempty"`
	ContactPhone        string    `json:"contact_phone,omitempty"`
	BusinessName        string    `json:"business_name,omitempty"`
	Applicants          string    `json:"applicants,omitempty"`
	Location            *Location `json:"location,omitempty"`
}

// LicenseKey identifies a license notice across scrapes.
type LicenseKey struct {
	LicenseNumber    string
	NotificationDate string
	LicenseType      string
}

// Key returns the upsert key of l.
func (l License) Key() LicenseKey {
	return LicenseKey{
		LicenseNumber:    l.LicenseNumber,
		NotificationDate: l.NotificationDate,
		LicenseType:      l.LicenseType,
	}
}

// DisplayName returns the most specific business name on the notice.
func (l License) DisplayName() string {
	for _, n := range []string{l.BusinessName, l.NewBusinessName, l.CurrentBusinessName} {
		if n != "" {
			return n
		}
	}
	return ""
}

// DedupeLicenses collapses licenses sharing a key. The last occurrence wins and
// keeps the position of the first.
func DedupeLicenses(in []License) []License {
	idx := make(map[LicenseKey]int, len(in))
	out := make([]License, 0, len(in))
	for _, l := range in {
		if i, ok := idx[l.Key()]; ok {
			out[i] = l
			continue
		}
		idx[l.Key()] = len(out)
		out = append(out, l)
	}
	return out
}
