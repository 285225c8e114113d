// Package extract implements the pluggable per-source field extraction
// contract (spec §4.3): turning a RawListing's raw_html and/or parsed_map
// into a fixed-schema FieldMap.
package extract

import (
	"fmt"

	"github.com/aristath/sentinel/internal/domain"
	"github.com/aristath/sentinel/internal/pipeline"
)

// Extractor is the per-source contract: extract(raw_html, url) -> FieldMap.
// Concrete marketplace parsers implement this; the HTML-vs-parsed_map merge
// policy lives in Merge, not in individual extractors.
type Extractor interface {
	Extract(rawHTML, url string) (domain.FieldMap, error)
}

// Registry looks up the Extractor registered for a source name.
type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register wires a source name to its Extractor. Call during startup,
// before any pipeline workers begin processing.
func (r *Registry) Register(sourceName string, e Extractor) {
	r.extractors[sourceName] = e
}

// For returns the registered Extractor for a source, or an ExtractError if
// none is registered -- a configuration bug, not a data error, but it must
// not crash the stage worker.
func (r *Registry) For(sourceName string) (Extractor, error) {
	e, ok := r.extractors[sourceName]
	if !ok {
		return nil, &pipeline.ExtractError{Cause: fmt.Errorf("no extractor registered for source %q", sourceName)}
	}
	return e, nil
}

// Run extracts a FieldMap from a RawListing, merging HTML-derived and
// pre-parsed output per spec §4.3: the richer (more non-null fields) wins,
// with HTML as tie-breaker when field counts are equal. Validates the
// minimum-viable-fields invariant before returning.
func (r *Registry) Run(sourceName string, rl *domain.RawListing) (domain.FieldMap, error) {
	e, err := r.For(sourceName)
	if err != nil {
		return domain.FieldMap{}, err
	}

	var htmlFields domain.FieldMap
	var htmlErr error
	if rl.RawHTML != "" {
		htmlFields, htmlErr = e.Extract(rl.RawHTML, rl.URL)
	}

	parsedFields, hasParsed := fieldMapFromParsed(rl.ParsedMap)

	merged, err := Merge(htmlFields, htmlErr, parsedFields, hasParsed)
	if err != nil {
		return domain.FieldMap{}, err
	}

	if err := Validate(merged); err != nil {
		return domain.FieldMap{}, err
	}
	return merged, nil
}

// Merge picks between HTML-derived and pre-parsed FieldMaps per spec §4.3:
// the one with more non-null fields wins; HTML breaks ties. If HTML
// extraction failed but a parsed_map is present, the parsed_map is used
// without complaint -- only fail when neither source is usable.
func Merge(html domain.FieldMap, htmlErr error, parsed domain.FieldMap, hasParsed bool) (domain.FieldMap, error) {
	htmlOK := htmlErr == nil
	switch {
	case htmlOK && hasParsed:
		if parsed.NonNullCount() > html.NonNullCount() {
			return parsed, nil
		}
		return html, nil
	case htmlOK:
		return html, nil
	case hasParsed:
		return parsed, nil
	default:
		if htmlErr != nil {
			return domain.FieldMap{}, htmlErr
		}
		return domain.FieldMap{}, &pipeline.ExtractError{Cause: fmt.Errorf("no raw_html and no parsed_map available")}
	}
}

// Validate enforces spec §4.3's minimum-viable-fields invariant: at least
// one of {brand, model} and a positive price must be present.
func Validate(f domain.FieldMap) error {
	if f.Brand == "" && f.Model == "" {
		return &pipeline.ExtractError{Cause: fmt.Errorf("neither brand nor model present")}
	}
	if f.Price == nil || *f.Price <= 0 {
		return &pipeline.ExtractError{Cause: fmt.Errorf("no positive price present")}
	}
	return nil
}

// fieldMapFromParsed adapts a RawListing's loosely-typed parsed_map (as
// delivered by the scraping front-end) into the fixed FieldMap schema.
// Unknown or mistyped keys are ignored rather than erroring -- partial
// pre-parsed data is still useful input to Merge.
func fieldMapFromParsed(m map[string]any) (domain.FieldMap, bool) {
	if len(m) == 0 {
		return domain.FieldMap{}, false
	}
	var f domain.FieldMap
	f.Title = str(m, "title")
	f.Brand = str(m, "brand")
	f.Model = str(m, "model")
	f.Year = intPtr(m, "year")
	f.MileageKM = intPtr(m, "mileage_km")
	f.Fuel = str(m, "fuel")
	f.Gearbox = str(m, "gearbox")
	f.Body = str(m, "body")
	f.Price = floatPtr(m, "price")
	f.Currency = str(m, "currency")
	f.Region = str(m, "region")
	f.Description = str(m, "description")
	f.Phone = str(m, "phone")
	f.EnginePowerHP = intPtr(m, "engine_power_hp")
	f.EngineVolumeCC = intPtr(m, "engine_volume_cc")
	if raw, ok := m["image_urls"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				f.ImageURLs = append(f.ImageURLs, s)
			}
		}
	}
	return f, true
}

func str(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intPtr(m map[string]any, key string) *int {
	switch v := m[key].(type) {
	case float64:
		n := int(v)
		return &n
	case int:
		return &v
	}
	return nil
}

func floatPtr(m map[string]any, key string) *float64 {
	switch v := m[key].(type) {
	case float64:
		return &v
	case int:
		f := float64(v)
		return &f
	}
	return nil
}
