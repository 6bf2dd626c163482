package domain

// Business is the normalized shape of one entry from HMRC business
// discovery. The adapter maps every known response variant onto this type
// before it reaches callers.
type Business struct {
	BusinessID                string         `json:"businessId"`
	TypeOfBusiness            string         `json:"typeOfBusiness"`
	TradingName               string         `json:"tradingName,omitempty"`
	NINO                      string         `json:"nino,omitempty"`
	UTR                       string         `json:"utr,omitempty"`
	VATRegistrationNumber     string         `json:"vatRegistrationNumber,omitempty"`
	CompanyRegistrationNumber string         `json:"companyRegistrationNumber,omitempty"`
	Raw                       map[string]any `json:"-"`
}

// Name returns the display name for the business, falling back to the
// business ID when HMRC returns no trading name.
func (b Business) Name() string {
	if b.TradingName != "" {
		return b.TradingName
	}
	return b.BusinessID
}
