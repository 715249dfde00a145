package inference

import (
	"context"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/otherjamesbrown/intake/pkg/intake"
)

// MockProvider is a deterministic keyword-based Capability for tests and
// local runs. Transcripts are looked up by storage key.
type MockProvider struct {
	mu          sync.RWMutex
	transcripts map[string]string
}

// NewMockProvider creates a MockProvider with no known transcripts.
func NewMockProvider() *MockProvider {
	return &MockProvider{transcripts: map[string]string{}}
}

var _ Capability = (*MockProvider)(nil)

// SetTranscript registers the text returned for a storage key.
func (p *MockProvider) SetTranscript(storageKey, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transcripts[storageKey] = text
}

func (p *MockProvider) Name() string { return "mock" }

// Match scores candidates by reference hit or address token overlap. Ties
// between the two best candidates halve the confidence.
func (p *MockProvider) Match(_ context.Context, req MatchRequest) (Result[string], error) {
	if len(req.Candidates) == 0 || strings.TrimSpace(req.Text) == "" {
		return Result[string]{}, nil
	}

	folded := Fold(req.Text)
	textTokens := map[string]bool{}
	for _, t := range tokens(req.Text) {
		textTokens[t] = true
	}

	best, second := -1.0, -1.0
	bestID := ""
	for _, c := range req.Candidates {
		score := candidateScore(c, folded, textTokens)
		switch {
		case score > best:
			second = best
			best, bestID = score, c.ID
		case score > second:
			second = score
		}
	}

	if best <= 0 {
		return Result[string]{}, nil
	}
	confidence := best
	if second == best {
		confidence = best / 2
	}
	return Result[string]{Value: bestID, Confidence: clamp(confidence)}, nil
}

func candidateScore(c Candidate, folded string, textTokens map[string]bool) float64 {
	if ref := Fold(strings.TrimSpace(c.Reference)); ref != "" && strings.Contains(folded, ref) {
		return 0.95
	}

	want := map[string]bool{}
	for _, t := range tokens(strings.Join([]string{c.Title, c.Address, c.City, c.PostalCode}, " ")) {
		want[t] = true
	}
	if len(want) == 0 {
		return 0
	}
	hits := 0
	for t := range want {
		if textTokens[t] {
			hits++
		}
	}
	return 0.9 * float64(hits) / float64(len(want))
}

type documentRule struct {
	docType    intake.DocumentType
	keywords   []string
	confidence float64
}

var documentRules = []documentRule{
	{intake.DocumentRentalMandate, []string{"mandat de location", "mandat_location", "rental mandate", "mandat-location"}, 0.9},
	{intake.DocumentSalesMandate, []string{"mandat", "mandate"}, 0.88},
	{intake.DocumentEnergyDiagnostic, []string{"dpe", "diagnostic", "energy", "energie"}, 0.9},
	{intake.DocumentTitleDeed, []string{"acte", "deed", "titre de propriete"}, 0.85},
	{intake.DocumentFloorPlan, []string{"plan", "floorplan", "floor_plan"}, 0.82},
	{intake.DocumentIdentity, []string{"cni", "passport", "passeport", "identite", "identity", "id_card"}, 0.86},
	{intake.DocumentPurchaseOffer, []string{"offre", "offer"}, 0.84},
	{intake.DocumentInvoice, []string{"facture", "invoice"}, 0.87},
}

// ClassifyDocument matches the file name against a keyword table; images
// without a better hit are taken as property photos.
func (p *MockProvider) ClassifyDocument(_ context.Context, req DocumentRequest) (Result[intake.DocumentType], error) {
	name := Fold(req.FileName)
	for _, rule := range documentRules {
		if containsAny(name, rule.keywords...) {
			return Result[intake.DocumentType]{Value: rule.docType, Confidence: rule.confidence}, nil
		}
	}
	if strings.HasPrefix(strings.ToLower(req.MimeType), "image/") {
		return Result[intake.DocumentType]{Value: intake.DocumentPropertyPhoto, Confidence: 0.75}, nil
	}
	return Result[intake.DocumentType]{Value: intake.DocumentOther, Confidence: 0.2}, nil
}

// Transcribe returns the registered transcript for the storage key, or an
// empty low-confidence result.
func (p *MockProvider) Transcribe(_ context.Context, req AudioRequest) (Result[string], error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	text, ok := p.transcripts[req.StorageKey]
	if !ok {
		return Result[string]{}, nil
	}
	return Result[string]{Value: text, Confidence: 0.9}, nil
}

// ClassifyVocalType looks for visit, buyer and seller vocabulary.
func (p *MockProvider) ClassifyVocalType(_ context.Context, transcript string) (Result[intake.VocalType], error) {
	t := Fold(transcript)
	switch {
	case strings.TrimSpace(t) == "":
		return Result[intake.VocalType]{Value: intake.VocalTypeOther}, nil
	case containsAny(t, "premiere visite", "first visit", "visite initiale", "initial visit", "estimation"):
		return Result[intake.VocalType]{Value: intake.VocalTypeInitialVisit, Confidence: 0.85}, nil
	case containsAny(t, "acheteur", "acquereur", "buyer", "retour de visite", "feedback"):
		return Result[intake.VocalType]{Value: intake.VocalTypeBuyerFeedback, Confidence: 0.8}, nil
	case containsAny(t, "vendeur", "proprietaire", "seller", "owner"):
		return Result[intake.VocalType]{Value: intake.VocalTypeSellerCall, Confidence: 0.78}, nil
	}
	return Result[intake.VocalType]{Value: intake.VocalTypeGenericNote, Confidence: 0.5}, nil
}

var (
	surfacePattern  = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(?:m2|m²|metres carres|square meters|sqm)`)
	roomsPattern    = regexp.MustCompile(`(\d+)\s*(?:pieces|rooms)`)
	bedroomsPattern = regexp.MustCompile(`(\d+)\s*(?:chambres|bedrooms)`)
	floorPattern    = regexp.MustCompile(`(\d+)\s*(?:e|eme|er|st|nd|rd|th)?\s*(?:etage|floor)`)
	pricePattern    = regexp.MustCompile(`(\d+(?:[ .]\d{3})*)\s*(?:€|euros|eur)`)
)

var featureKeywords = map[string][]string{
	"garden":   {"jardin", "garden"},
	"parking":  {"parking", "garage"},
	"balcony":  {"balcon", "balcony", "terrasse", "terrace"},
	"elevator": {"ascenseur", "elevator", "lift"},
	"cellar":   {"cave", "cellar"},
}

// ExtractPropertyParameters pulls numeric attributes and amenities out of a visit transcript.
func (p *MockProvider) ExtractPropertyParameters(_ context.Context, transcript string) (Result[map[string]interface{}], error) {
	t := Fold(transcript)
	params := map[string]interface{}{}

	if m := surfacePattern.FindStringSubmatch(t); m != nil {
		if v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64); err == nil {
			params["surface_m2"] = v
		}
	}
	for key, re := range map[string]*regexp.Regexp{"rooms": roomsPattern, "bedrooms": bedroomsPattern, "floor": floorPattern} {
		if m := re.FindStringSubmatch(t); m != nil {
			if v, err := strconv.Atoi(m[1]); err == nil {
				params[key] = v
			}
		}
	}
	for key, words := range featureKeywords {
		if containsAny(t, words...) {
			params[key] = true
		}
	}

	if len(params) == 0 {
		return Result[map[string]interface{}]{Value: params}, nil
	}
	confidence := 0.5 + 0.1*float64(len(params))
	return Result[map[string]interface{}]{Value: params, Confidence: clamp(confidence)}, nil
}

var (
	positiveWords = []string{"interesse", "interested", "adore", "love", "coup de coeur", "positif", "positive", "tres bien"}
	negativeWords = []string{"decu", "disappointed", "trop cher", "too expensive", "bruyant", "noisy", "negatif", "negative"}
	actionWords   = []string{"rappeler", "call back", "envoyer", "send", "relancer", "follow up", "prevoir", "schedule"}
)

// ExtractInsights summarises sentiment, follow-up actions and prices as a JSON object.
func (p *MockProvider) ExtractInsights(_ context.Context, req InsightsRequest) (Result[string], error) {
	text := strings.TrimSpace(req.Transcript)
	folded := Fold(text)

	sentiment := "neutral"
	switch {
	case containsAny(folded, negativeWords...):
		sentiment = "negative"
	case containsAny(folded, positiveWords...):
		sentiment = "positive"
	}

	var actions []string
	for _, sentence := range splitSentences(text) {
		if containsAny(Fold(sentence), actionWords...) {
			actions = append(actions, sentence)
		}
	}

	var prices []string
	for _, m := range pricePattern.FindAllStringSubmatch(folded, -1) {
		prices = append(prices, strings.NewReplacer(" ", "", ".", "").Replace(m[1]))
	}

	insights := map[string]interface{}{
		"vocal_type":   string(req.VocalType),
		"sentiment":    sentiment,
		"next_actions": nonNil(actions),
		"prices":       nonNil(prices),
	}
	raw, err := json.Marshal(insights)
	if err != nil {
		return Result[string]{}, err
	}

	confidence := 0.4
	if len(strings.Fields(text)) >= 8 {
		confidence = 0.8
	}
	return Result[string]{Value: string(raw), Confidence: confidence}, nil
}

func splitSentences(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '!' || r == '?' || r == '\n' })
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
