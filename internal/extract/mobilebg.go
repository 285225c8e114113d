package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aristath/sentinel/internal/domain"
)

// MobileBG is a sample HTML extractor for the mobile.bg marketplace. It
// parses the handful of fields that marketplace exposes in predictable DOM
// positions; anything it can't find is simply left zero-valued, leaving
// Validate to reject listings that end up without the minimum viable set.
type MobileBG struct{}

var (
	mobileBGTitleRe = regexp.MustCompile(`(?s)<h1[^>]*class="[^"]*title[^"]*"[^>]*>(.*?)</h1>`)
	mobileBGPriceRe = regexp.MustCompile(`(?s)<span[^>]*class="[^"]*price[^"]*"[^>]*>\s*([\d\s,.]+)\s*(лв|EUR|USD)?`)
	mobileBGYearRe  = regexp.MustCompile(`(?s)Година[^\d]*(\d{4})`)
	mobileBGKmRe    = regexp.MustCompile(`(?s)Пробег[^\d]*([\d\s]+)\s*км`)
	mobileBGImgRe   = regexp.MustCompile(`<img[^>]+src="([^"]+\.(?:jpg|jpeg|png|webp))"`)
	mobileBGPhoneRe = regexp.MustCompile(`(?:\+359|0)\d{8,9}`)
)

func (MobileBG) Extract(rawHTML, url string) (domain.FieldMap, error) {
	var f domain.FieldMap

	if m := mobileBGTitleRe.FindStringSubmatch(rawHTML); m != nil {
		f.Title = strings.TrimSpace(stripTags(m[1]))
		brand, model := splitBrandModel(f.Title)
		f.Brand, f.Model = brand, model
	}

	if m := mobileBGPriceRe.FindStringSubmatch(rawHTML); m != nil {
		digits := strings.NewReplacer(" ", "", ",", "").Replace(m[1])
		if price, err := strconv.ParseFloat(digits, 64); err == nil {
			f.Price = &price
		}
		switch strings.TrimSpace(m[2]) {
		case "EUR":
			f.Currency = "EUR"
		case "USD":
			f.Currency = "USD"
		default:
			f.Currency = "local"
		}
	}

	if m := mobileBGYearRe.FindStringSubmatch(rawHTML); m != nil {
		if year, err := strconv.Atoi(m[1]); err == nil {
			f.Year = &year
		}
	}

	if m := mobileBGKmRe.FindStringSubmatch(rawHTML); m != nil {
		digits := strings.ReplaceAll(m[1], " ", "")
		if km, err := strconv.Atoi(digits); err == nil {
			f.MileageKM = &km
		}
	}

	for _, m := range mobileBGImgRe.FindAllStringSubmatch(rawHTML, -1) {
		f.ImageURLs = append(f.ImageURLs, m[1])
	}

	if m := mobileBGPhoneRe.FindString(rawHTML); m != "" {
		f.Phone = m
	}

	f.Region = "bg"
	return f, nil
}

func stripTags(s string) string {
	return regexp.MustCompile(`<[^>]+>`).ReplaceAllString(s, "")
}

// splitBrandModel takes the common "Brand Model Trim" title shape and
// returns the first token as brand, the rest of the first two words as
// model -- deliberately naive; the Normalizer's canonical lookup absorbs
// the remaining ambiguity.
func splitBrandModel(title string) (brand, model string) {
	parts := strings.Fields(title)
	if len(parts) == 0 {
		return "", ""
	}
	brand = parts[0]
	if len(parts) > 1 {
		model = parts[1]
	}
	return brand, model
}
