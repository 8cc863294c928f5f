package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/docsort/internal/docsort"
)

// keywordRules is checked in order; more specific words come first.
var keywordRules = []struct {
	keyword    string
	categoryID int
}{
	{"lohnsteuer", 1},
	{"gehalt", 2},
	{"payslip", 2},
	{"kontoauszug", 3},
	{"bank", 3},
	{"arzt", 10},
	{"medical", 10},
	{"nebenkosten", 7},
	{"mietvertrag", 6},
	{"miete", 6},
	{"rechnung", 4},
	{"invoice", 4},
	{"quittung", 5},
	{"beleg", 5},
	{"receipt", 5},
	{"versicherung", 8},
	{"insurance", 8},
	{"spende", 9},
	{"donation", 9},
	{"kita", 11},
	{"kinderbetreuung", 11},
	{"fahrt", 12},
	{"ticket", 12},
	{"fortbildung", 13},
	{"seminar", 13},
	{"arbeitsmittel", 14},
	{"laptop", 14},
	{"handwerker", 15},
	{"dividende", 16},
	{"kapital", 16},
	{"rente", 17},
	{"steuerbescheid", 18},
	{"vertrag", 19},
	{"contract", 19},
}

const (
	heuristicHit  = 0.6
	heuristicMiss = 0.2
)

// Heuristic classifies by keywords in the file name. It needs no network and
// is the default backend.
type Heuristic struct{}

// NewHeuristic returns a keyword classifier.
func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

// Classify implements docsort.Classifier.
func (Heuristic) Classify(_ context.Context, doc docsort.Document) (docsort.Classification, error) {
	name := strings.ToLower(doc.FileName)
	for _, rule := range keywordRules {
		if strings.Contains(name, rule.keyword) {
			return classification(doc.ID, rule.categoryID, heuristicHit,
				fmt.Sprintf("file name contains %q", rule.keyword))
		}
	}
	return classification(doc.ID, docsort.OtherCategoryID, heuristicMiss, "no keyword matched")
}

// Reclassify moves every document whose file name appears in the prompt to
// the category named in the prompt. Without a recognizable category nothing
// moves.
func (Heuristic) Reclassify(
	_ context.Context,
	prompt string,
	groups []docsort.CategoryGroup,
) ([]docsort.Reassignment, string, error) {
	lower := strings.ToLower(prompt)
	target, ok := mentionedCategory(lower)
	if !ok {
		return nil, "no category named in prompt", nil
	}
	var out []docsort.Reassignment
	for _, g := range groups {
		for _, doc := range g.Documents {
			if doc.FileName == "" || !strings.Contains(lower, strings.ToLower(doc.FileName)) {
				continue
			}
			out = append(out, docsort.Reassignment{
				DocumentID: doc.ID,
				CategoryID: target.ID,
				Reasoning:  "requested in prompt",
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, fmt.Sprintf("target category %s", target.Name), nil
}

// mentionedCategory picks the longest category name found in text so that
// "Mietvertrag" wins over "Vertrag".
func mentionedCategory(text string) (docsort.Category, bool) {
	var (
		best    docsort.Category
		bestLen int
	)
	for _, cat := range docsort.Categories() {
		for _, name := range []string{cat.Name, cat.English} {
			n := strings.ToLower(name)
			if len(n) > bestLen && strings.Contains(text, n) {
				best, bestLen = cat, len(n)
			}
		}
	}
	return best, bestLen > 0
}

func classification(docID int64, categoryID int, confidence float64, reasoning string) (docsort.Classification, error) {
	cat, err := docsort.LookupCategory(categoryID)
	if err != nil {
		return docsort.Classification{}, err
	}
	return docsort.Classification{
		DocumentID:      docID,
		CategoryID:      cat.ID,
		CategoryName:    cat.Name,
		CategoryEnglish: cat.English,
		Confidence:      confidence,
		Reasoning:       reasoning,
	}, nil
}
