package storage

// LLMEvalResponse mirrors llmeval.Response's shape without importing the
// llmeval package, so callers can adapt LLMEvalCacheRepository to
// llmeval.DurableStore without a storage<->llmeval import cycle.
type LLMEvalResponse struct {
	RiskLevel  string
	Summary    string
	Reasons    []string
	BuyerNotes string
	Confidence float64
}

// GetResponse returns the cached entry for hash, with found=false when
// absent. It does not itself satisfy llmeval.DurableStore's Get, which
// returns llmeval.Response; the field layout here is identical to
// llmeval.Response so an adapter's conversion is a single struct literal.
func (r *LLMEvalCacheRepository) GetResponse(hash string) (LLMEvalResponse, bool, error) {
	e, err := r.Get(hash)
	if err != nil {
		return LLMEvalResponse{}, false, err
	}
	if e == nil {
		return LLMEvalResponse{}, false, nil
	}
	return LLMEvalResponse{
		RiskLevel:  e.RiskLevel,
		Summary:    e.Summary,
		Reasons:    e.Reasons,
		BuyerNotes: e.BuyerNotes,
		Confidence: e.Confidence,
	}, true, nil
}

// PutResponse writes resp under hash.
func (r *LLMEvalCacheRepository) PutResponse(hash string, resp LLMEvalResponse) error {
	return r.Put(LLMEvalCacheEntry{
		DescriptionHash: hash,
		RiskLevel:       resp.RiskLevel,
		Summary:         resp.Summary,
		Reasons:         resp.Reasons,
		BuyerNotes:      resp.BuyerNotes,
		Confidence:      resp.Confidence,
	})
}
