package enrich

import "strings"

// Country is one ISO-3166 record.
type Country struct {
	Name   string
	Alpha2 string
	Alpha3 string
}

// countries is the embedded ISO-3166 table, short English names.
var countries = []Country{
	{"Afghanistan", "AF", "AFG"},
	{"Albania", "AL", "ALB"},
	{"Algeria", "DZ", "DZA"},
	{"Andorra", "AD", "AND"},
	{"Angola", "AO", "AGO"},
	{"Argentina", "AR", "ARG"},
	{"Armenia", "AM", "ARM"},
	{"Australia", "AU", "AUS"},
	{"Austria", "AT", "AUT"},
	{"Azerbaijan", "AZ", "AZE"},
	{"Bahamas", "BS", "BHS"},
	{"Bahrain", "BH", "BHR"},
	{"Bangladesh", "BD", "BGD"},
	{"Barbados", "BB", "BRB"},
	{"Belarus", "BY", "BLR"},
	{"Belgium", "BE", "BEL"},
	{"Belize", "BZ", "BLZ"},
	{"Benin", "BJ", "BEN"},
	{"Bhutan", "BT", "BTN"},
	{"Bolivia", "BO", "BOL"},
	{"Bosnia and Herzegovina", "BA", "BIH"},
	{"Botswana", "BW", "BWA"},
	{"Brazil", "BR", "BRA"},
	{"Brunei", "BN", "BRN"},
	{"Bulgaria", "BG", "BGR"},
	{"Burkina Faso", "BF", "BFA"},
	{"Burundi", "BI", "BDI"},
	{"Cambodia", "KH", "KHM"},
	{"Cameroon", "CM", "CMR"},
	{"Canada", "CA", "CAN"},
	{"Cape Verde", "CV", "CPV"},
	{"Central African Republic", "CF", "CAF"},
	{"Chad", "TD", "TCD"},
	{"Chile", "CL", "CHL"},
	{"China", "CN", "CHN"},
	{"Colombia", "CO", "COL"},
	{"Comoros", "KM", "COM"},
	{"Congo", "CG", "COG"},
	{"DR Congo", "CD", "COD"},
	{"Costa Rica", "CR", "CRI"},
	{"Croatia", "HR", "HRV"},
	{"Cuba", "CU", "CUB"},
	{"Cyprus", "CY", "CYP"},
	{"Czechia", "CZ", "CZE"},
	{"Denmark", "DK", "DNK"},
	{"Djibouti", "DJ", "DJI"},
	{"Dominica", "DM", "DMA"},
	{"Dominican Republic", "DO", "DOM"},
	{"Ecuador", "EC", "ECU"},
	{"Egypt", "EG", "EGY"},
	{"El Salvador", "SV", "SLV"},
	{"Equatorial Guinea", "GQ", "GNQ"},
	{"Eritrea", "ER", "ERI"},
	{"Estonia", "EE", "EST"},
	{"Eswatini", "SZ", "SWZ"},
	{"Ethiopia", "ET", "ETH"},
	{"Fiji", "FJ", "FJI"},
	{"Finland", "FI", "FIN"},
	{"France", "FR", "FRA"},
	{"Gabon", "GA", "GAB"},
	{"Gambia", "GM", "GMB"},
	{"Georgia", "GE", "GEO"},
	{"Germany", "DE", "DEU"},
	{"Ghana", "GH", "GHA"},
	{"Greece", "GR", "GRC"},
	{"Grenada", "GD", "GRD"},
	{"Guatemala", "GT", "GTM"},
	{"Guinea", "GN", "GIN"},
	{"Guinea-Bissau", "GW", "GNB"},
	{"Guyana", "GY", "GUY"},
	{"Haiti", "HT", "HTI"},
	{"Honduras", "HN", "HND"},
	{"Hungary", "HU", "HUN"},
	{"Iceland", "IS", "ISL"},
	{"India", "IN", "IND"},
	{"Indonesia", "ID", "IDN"},
	{"Iran", "IR", "IRN"},
	{"Iraq", "IQ", "IRQ"},
	{"Ireland", "IE", "IRL"},
	{"Israel", "IL", "ISR"},
	{"Italy", "IT", "ITA"},
	{"Jamaica", "JM", "JAM"},
	{"Japan", "JP", "JPN"},
	{"Jordan", "JO", "JOR"},
	{"Kazakhstan", "KZ", "KAZ"},
	{"Kenya", "KE", "KEN"},
	{"Kiribati", "KI", "KIR"},
	{"Kosovo", "XK", "XKX"},
	{"Kuwait", "KW", "KWT"},
	{"Kyrgyzstan", "KG", "KGZ"},
	{"Laos", "LA", "LAO"},
	{"Latvia", "LV", "LVA"},
	{"Lebanon", "LB", "LBN"},
	{"Lesotho", "LS", "LSO"},
	{"Liberia", "LR", "LBR"},
	{"Libya", "LY", "LBY"},
	{"Liechtenstein", "LI", "LIE"},
	{"Lithuania", "LT", "LTU"},
	{"Luxembourg", "LU", "LUX"},
	{"Madagascar", "MG", "MDG"},
	{"Malawi", "MW", "MWI"},
	{"Malaysia", "MY", "MYS"},
	{"Maldives", "MV", "MDV"},
	{"Mali", "ML", "MLI"},
	{"Malta", "MT", "MLT"},
	{"Marshall Islands", "MH", "MHL"},
	{"Mauritania", "MR", "MRT"},
	{"Mauritius", "MU", "MUS"},
	{"Mexico", "MX", "MEX"},
	{"Micronesia", "FM", "FSM"},
	{"Moldova", "MD", "MDA"},
	{"Monaco", "MC", "MCO"},
	{"Mongolia", "MN", "MNG"},
	{"Montenegro", "ME", "MNE"},
	{"Morocco", "MA", "MAR"},
	{"Mozambique", "MZ", "MOZ"},
	{"Myanmar", "MM", "MMR"},
	{"Namibia", "NA", "NAM"},
	{"Nauru", "NR", "NRU"},
	{"Nepal", "NP", "NPL"},
	{"Netherlands", "NL", "NLD"},
	{"New Zealand", "NZ", "NZL"},
	{"Nicaragua", "NI", "NIC"},
	{"Niger", "NE", "NER"},
	{"Nigeria", "NG", "NGA"},
	{"North Korea", "KP", "PRK"},
	{"North Macedonia", "MK", "MKD"},
	{"Norway", "NO", "NOR"},
	{"Oman", "OM", "OMN"},
	{"Pakistan", "PK", "PAK"},
	{"Palau", "PW", "PLW"},
	{"Palestine", "PS", "PSE"},
	{"Panama", "PA", "PAN"},
	{"Papua New Guinea", "PG", "PNG"},
	{"Paraguay", "PY", "PRY"},
	{"Peru", "PE", "PER"},
	{"Philippines", "PH", "PHL"},
	{"Poland", "PL", "POL"},
	{"Portugal", "PT", "PRT"},
	{"Qatar", "QA", "QAT"},
	{"Romania", "RO", "ROU"},
	{"Russia", "RU", "RUS"},
	{"Rwanda", "RW", "RWA"},
	{"Samoa", "WS", "WSM"},
	{"San Marino", "SM", "SMR"},
	{"Saudi Arabia", "SA", "SAU"},
	{"Senegal", "SN", "SEN"},
	{"Serbia", "RS", "SRB"},
	{"Seychelles", "SC", "SYC"},
	{"Sierra Leone", "SL", "SLE"},
	{"Singapore", "SG", "SGP"},
	{"Slovakia", "SK", "SVK"},
	{"Slovenia", "SI", "SVN"},
	{"Solomon Islands", "SB", "SLB"},
	{"Somalia", "SO", "SOM"},
	{"South Africa", "ZA", "ZAF"},
	{"South Korea", "KR", "KOR"},
	{"South Sudan", "SS", "SSD"},
	{"Spain", "ES", "ESP"},
	{"Sri Lanka", "LK", "LKA"},
	{"Sudan", "SD", "SDN"},
	{"Suriname", "SR", "SUR"},
	{"Sweden", "SE", "SWE"},
	{"Switzerland", "CH", "CHE"},
	{"Syria", "SY", "SYR"},
	{"Taiwan", "TW", "TWN"},
	{"Tajikistan", "TJ", "TJK"},
	{"Tanzania", "TZ", "TZA"},
	{"Thailand", "TH", "THA"},
	{"Timor-Leste", "TL", "TLS"},
	{"Togo", "TG", "TGO"},
	{"Tonga", "TO", "TON"},
	{"Trinidad and Tobago", "TT", "TTO"},
	{"Tunisia", "TN", "TUN"},
	{"Turkey", "TR", "TUR"},
	{"Turkmenistan", "TM", "TKM"},
	{"Tuvalu", "TV", "TUV"},
	{"Uganda", "UG", "UGA"},
	{"Ukraine", "UA", "UKR"},
	{"United Arab Emirates", "AE", "ARE"},
	{"United Kingdom", "GB", "GBR"},
	{"United States", "US", "USA"},
	{"Uruguay", "UY", "URY"},
	{"Uzbekistan", "UZ", "UZB"},
	{"Vanuatu", "VU", "VUT"},
	{"Vatican City", "VA", "VAT"},
	{"Venezuela", "VE", "VEN"},
	{"Vietnam", "VN", "VNM"},
	{"Yemen", "YE", "YEM"},
	{"Zambia", "ZM", "ZMB"},
	{"Zimbabwe", "ZW", "ZWE"},
}

// countryAliases maps common variants the strict name table misses.
var countryAliases = map[string]string{
	"usa":                      "USA",
	"u.s.":                     "USA",
	"u. s.":                    "USA",
	"u.s.a.":                   "USA",
	"united states of america": "USA",
	"america":                  "USA",
	"uk":                       "GBR",
	"u.k.":                     "GBR",
	"britain":                  "GBR",
	"great britain":            "GBR",
	"england":                  "GBR",
	"russian federation":       "RUS",
	"republic of korea":        "KOR",
	"dprk":                     "PRK",
	"persia":                   "IRN",
	"czech republic":           "CZE",
	"ivory coast":              "CIV",
	"cote d'ivoire":            "CIV",
	"dr congo":                 "COD",
	"drc":                      "COD",
	"democratic republic of the congo": "COD",
	"uae":         "ARE",
	"emirates":    "ARE",
	"burma":       "MMR",
	"holland":     "NLD",
	"east timor":  "TLS",
	"swaziland":   "SWZ",
	"macedonia":   "MKD",
	"turkiye":     "TUR",
	"vatican":     "VAT",
	"gaza":        "PSE",
	"west bank":   "PSE",
}

var (
	countryByAlpha3 map[string]Country
	countryByName   map[string]Country
	countryByCode   map[string]Country
)

func init() {
	countryByAlpha3 = make(map[string]Country, len(countries)+1)
	countryByName = make(map[string]Country, len(countries)*2)
	countryByCode = make(map[string]Country, len(countries)*2)
	for _, c := range countries {
		countryByAlpha3[c.Alpha3] = c
		countryByName[strings.ToLower(c.Name)] = c
		countryByCode[strings.ToLower(c.Alpha2)] = c
		countryByCode[strings.ToLower(c.Alpha3)] = c
	}
	// Ivory Coast is aliased but absent from the short-name table.
	civ := Country{Name: "Côte d'Ivoire", Alpha2: "CI", Alpha3: "CIV"}
	countryByAlpha3[civ.Alpha3] = civ
	for alias, alpha3 := range countryAliases {
		if c, ok := countryByAlpha3[alpha3]; ok {
			countryByName[alias] = c
		}
	}
}

// LookupCountry resolves a location surface form to a country record.
// Names and aliases match case-insensitively; bare ISO codes match only
// when written in uppercase, so ordinary words like "in" or "it" do not
// resolve.
func LookupCountry(name string) (Country, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Country{}, false
	}
	key := strings.ToLower(trimmed)
	if c, ok := countryByName[key]; ok {
		return c, true
	}
	if len(trimmed) <= 3 && trimmed == strings.ToUpper(trimmed) {
		if c, ok := countryByCode[key]; ok {
			return c, true
		}
	}
	return Country{}, false
}
