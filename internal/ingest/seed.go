package ingest

// SeedRecords returns the fixed demonstration records. They are only used
// when seeding is enabled, and always ahead of live records.
func SeedRecords() []RawRecord {
	const (
		source = "meity"
		name   = "MeitY Press Release"
		sector = "Technology, Data Protection"
	)
	base := []struct {
		id, title, date, link, snippet string
	}{
		{
			"seed-001",
			"MeitY launches Digital India initiative for rural connectivity",
			"15-02-2026",
			"https://www.meity.gov.in/press/digital-india-rural",
			"Ministry announces new digital infrastructure program to connect rural areas with high-speed internet.",
		},
		{
			"seed-002",
			"New Data Protection and Privacy Board constituted under DPDP Act",
			"10-02-2026",
			"https://www.meity.gov.in/press/dpdp-board-constituted",
			"The government has constituted the Data Protection Board to oversee compliance with personal data protection regulations and handle breach reporting.",
		},
		{
			"seed-003",
			"Guidelines issued for consent management in digital platforms",
			"05-02-2026",
			"https://www.meity.gov.in/press/consent-guidelines",
			"MeitY releases comprehensive guidelines for obtaining user consent for personal data processing by data fiduciaries.",
		},
		{
			"seed-004",
			"India hosts international cybersecurity summit",
			"01-02-2026",
			"https://www.meity.gov.in/press/cyber-summit",
			"Global leaders discuss cybersecurity challenges and digital cooperation.",
		},
		{
			"seed-005",
			"Penalty framework announced for data protection violations",
			"28-01-2026",
			"https://www.meity.gov.in/press/penalty-framework",
			"Data Protection Board announces penalty structure for breaches of personal data protection and privacy regulations, with fines up to Rs 250 crore.",
		},
		{
			"seed-006",
			"MeitY celebrates National Technology Day",
			"20-01-2026",
			"https://www.meity.gov.in/press/tech-day",
			"Ministry organizes events across the country to celebrate technological achievements.",
		},
		{
			"seed-007",
			"New security standards for digital payment systems",
			"15-01-2026",
			"https://www.meity.gov.in/press/payment-security",
			"Enhanced security protocols mandated for all digital payment platforms to protect user data and prevent fraud.",
		},
		{
			"seed-008",
			"Data localization norms updated for cloud service providers",
			"10-01-2026",
			"https://www.meity.gov.in/press/data-localization",
			"New guidelines require certain categories of personal and sensitive data to be stored within India's borders.",
		},
	}

	records := make([]RawRecord, len(base))
	for i, b := range base {
		records[i] = RawRecord{
			ID:          b.id,
			Title:       b.title,
			Excerpt:     b.snippet,
			Link:        b.link,
			PublishedAt: b.date,
			SourceID:    source,
			SourceName:  name,
			Sector:      sector,
		}
	}
	return records
}
