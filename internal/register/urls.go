package register

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// BaseURL is the archive root all register PDFs live under.
const BaseURL = "https://www.stortinget.no/globalassets/pdf/verv-og-okonomiske-interesser-register"

// LandingPageURL is the public page that links the latest register PDF.
const LandingPageURL = "https://www.stortinget.no/no/stortinget-og-demokratiet/representantene/okonomiske-interesser/"

var norwegianMonths = [...]string{
	time.January:   "januar",
	time.February:  "februar",
	time.March:     "mars",
	time.April:     "april",
	time.May:       "mai",
	time.June:      "juni",
	time.July:      "juli",
	time.August:    "august",
	time.September: "september",
	time.October:   "oktober",
	time.November:  "november",
	time.December:  "desember",
}

// monthAbbreviations lists documented filename irregularities: the
// 2023-09-27 register used "sept" instead of "september".
var monthAbbreviations = map[time.Month][]string{
	time.September: {"sept"},
}

var monthLookup = func() map[string]time.Month {
	m := make(map[string]time.Month, len(norwegianMonths)+1)
	for i := time.January; i <= time.December; i++ {
		m[norwegianMonths[i]] = i
	}
	for month, abbrevs := range monthAbbreviations {
		for _, a := range abbrevs {
			m[a] = month
		}
	}
	return m
}()

// documentLinkRe matches register PDF hrefs, absolute or site-relative.
var documentLinkRe = regexp.MustCompile(
	`(?i)/globalassets/pdf/verv-og-okonomiske-interesser-register/` +
		`(arkiv_[^/]+)/pr-(\d{1,2})-([a-zæøå]+)-(\d{4})\.pdf`,
)

// PeriodFolders returns the archive folder name variants the given date's
// document may live under. Folder naming on the server is inconsistent:
// both hyphenated (arkiv_2024-2025) and hyphenless (arkiv_20232024) forms
// occur, with either adjacent year pairing.
func PeriodFolders(d time.Time) []string {
	y := d.Year()
	return []string{
		fmt.Sprintf("arkiv_%d-%d", y-1, y),
		fmt.Sprintf("arkiv_%d-%d", y, y+1),
		fmt.Sprintf("arkiv_%d%d", y-1, y),
		fmt.Sprintf("arkiv_%d%d", y, y+1),
	}
}

// MonthVariants returns every filename spelling of the month: the canonical
// Norwegian name first, then any documented abbreviations.
func MonthVariants(m time.Month) []string {
	variants := []string{norwegianMonths[m]}
	return append(variants, monthAbbreviations[m]...)
}

// CandidateURLs returns every plausible URL for a register PDF published on
// the given date, in a stable order. Pure and deterministic; the order only
// matters for log readability.
func CandidateURLs(d time.Time) []string {
	folders := PeriodFolders(d)
	months := MonthVariants(d.Month())
	urls := make([]string, 0, len(folders)*len(months))
	for _, folder := range folders {
		for _, month := range months {
			urls = append(urls, fmt.Sprintf("%s/%s/pr-%d-%s-%d.pdf", BaseURL, folder, d.Day(), month, d.Year()))
		}
	}
	return urls
}

// ParseDocumentURL extracts a Discovery from a register PDF URL or href.
// The returned URL is normalized to the absolute archive form. Returns
// false for hrefs that do not match the known URL shape or carry an
// unknown month name.
func ParseDocumentURL(href string) (Discovery, bool) {
	m := documentLinkRe.FindStringSubmatch(href)
	if m == nil {
		return Discovery{}, false
	}
	folder := m[1]
	day, err := strconv.Atoi(m[2])
	if err != nil {
		return Discovery{}, false
	}
	monthName := strings.ToLower(m[3])
	month, ok := monthLookup[monthName]
	if !ok {
		return Discovery{}, false
	}
	year, err := strconv.Atoi(m[4])
	if err != nil {
		return Discovery{}, false
	}
	d := Day(year, month, day)
	if d.Day() != day || d.Month() != month {
		// Normalization moved the date, e.g. pr-31-april-2024.
		return Discovery{}, false
	}
	return Discovery{
		Date:         d,
		URL:          fmt.Sprintf("%s/%s/pr-%d-%s-%d.pdf", BaseURL, folder, day, monthName, year),
		PeriodFolder: folder,
	}, true
}

// PeriodFolderFromURL returns the archive folder segment of a document URL,
// or the empty string if the URL does not match the known shape.
func PeriodFolderFromURL(url string) string {
	if d, ok := ParseDocumentURL(url); ok {
		return d.PeriodFolder
	}
	return ""
}
