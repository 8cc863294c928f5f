package docsort

import (
	"fmt"
	"sort"
)

// Category is one entry of the fixed classification catalogue.
type Category struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	English string `json:"english"`
}

const (
	// UnclassifiedID groups documents that have no classification yet.
	UnclassifiedID = 0
	// OtherCategoryID is the catch-all "Sonstiges" category.
	OtherCategoryID = 20
)

var catalogue = []Category{
	{1, "Lohnsteuerbescheinigung", "Wage tax certificate"},
	{2, "Gehaltsabrechnung", "Payslip"},
	{3, "Kontoauszug", "Bank statement"},
	{4, "Rechnung", "Invoice"},
	{5, "Quittung", "Receipt"},
	{6, "Mietvertrag", "Rental agreement"},
	{7, "Nebenkostenabrechnung", "Utility statement"},
	{8, "Versicherungspolice", "Insurance policy"},
	{9, "Spendenbescheinigung", "Donation receipt"},
	{10, "Arztrechnung", "Medical bill"},
	{11, "Kinderbetreuung", "Childcare costs"},
	{12, "Fahrtkosten", "Travel expenses"},
	{13, "Fortbildung", "Training costs"},
	{14, "Arbeitsmittel", "Work equipment"},
	{15, "Handwerkerleistungen", "Craftsman services"},
	{16, "Kapitalertraege", "Capital income"},
	{17, "Rentenbescheid", "Pension notice"},
	{18, "Steuerbescheid", "Tax assessment"},
	{19, "Vertrag", "Contract"},
	{20, "Sonstiges", "Other"},
}

// Categories returns a copy of the catalogue ordered by id.
func Categories() []Category {
	out := make([]Category, len(catalogue))
	copy(out, catalogue)
	return out
}

// LookupCategory returns the catalogue entry for id.
func LookupCategory(id int) (Category, error) {
	if id < 1 || id > len(catalogue) {
		return Category{}, fmt.Errorf("%w: %d", ErrInvalidCategory, id)
	}
	return catalogue[id-1], nil
}

// ClassifiedDocument pairs a document with its classification details.
type ClassifiedDocument struct {
	Document
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// CategoryGroup lists the documents assigned to one category.
type CategoryGroup struct {
	CategoryID      int                  `json:"category_id"`
	CategoryName    string               `json:"category_name"`
	CategoryEnglish string               `json:"category_english"`
	Documents       []ClassifiedDocument `json:"documents"`
}

// GroupByCategory builds the grouped classification view ordered by category
// id. Documents without a classification land in the UnclassifiedID group.
func GroupByCategory(docs []Document, cls []Classification) []CategoryGroup {
	byDoc := make(map[int64]Classification, len(cls))
	for _, c := range cls {
		byDoc[c.DocumentID] = c
	}
	groups := make(map[int]*CategoryGroup)
	for _, doc := range docs {
		c, ok := byDoc[doc.ID]
		catID := UnclassifiedID
		if ok {
			catID = c.CategoryID
		}
		g := groups[catID]
		if g == nil {
			g = &CategoryGroup{CategoryID: catID, CategoryName: "Unklassifiziert", CategoryEnglish: "Unclassified"}
			if cat, err := LookupCategory(catID); err == nil {
				g.CategoryName = cat.Name
				g.CategoryEnglish = cat.English
			}
			groups[catID] = g
		}
		g.Documents = append(g.Documents, ClassifiedDocument{
			Document:   doc,
			Confidence: c.Confidence,
			Reasoning:  c.Reasoning,
		})
	}
	out := make([]CategoryGroup, 0, len(groups))
	for _, g := range groups {
		sort.Slice(g.Documents, func(i, j int) bool { return g.Documents[i].ID < g.Documents[j].ID })
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out
}
