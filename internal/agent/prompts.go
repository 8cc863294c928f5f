package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/docsort/internal/docsort"
)

const systemPrompt = "You are an expert German tax document classifier. " +
	"Answer with a single JSON object and nothing else."

func categoryList() string {
	var b strings.Builder
	for _, c := range docsort.Categories() {
		fmt.Fprintf(&b, "%d. %s (%s)\n", c.ID, c.Name, c.English)
	}
	return b.String()
}

func classifyPrompt(doc docsort.Document) string {
	return fmt.Sprintf(`Classify this document into exactly one category.

## DOCUMENT
file_name: %s
content_type: %s
size_bytes: %d

## CATEGORIES
%s
## RESPONSE
{"category_id": <1-20>, "confidence": <0.0-1.0>, "reasoning": "<short explanation>"}`,
		doc.FileName, doc.ContentType, doc.Size, categoryList())
}

type currentEntry struct {
	DocumentID int64  `json:"document_id"`
	FileName   string `json:"file_name"`
	CategoryID int    `json:"category_id"`
	Category   string `json:"category"`
}

func reclassifyPrompt(prompt string, groups []docsort.CategoryGroup) (string, error) {
	var current []currentEntry
	for _, g := range groups {
		for _, d := range g.Documents {
			current = append(current, currentEntry{
				DocumentID: d.ID,
				FileName:   d.FileName,
				CategoryID: g.CategoryID,
				Category:   g.CategoryName,
			})
		}
	}
	body, err := json.MarshalIndent(current, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode current classifications: %w", err)
	}
	return fmt.Sprintf(`The user wants to change how documents are classified.

## CURRENT CLASSIFICATIONS
%s

## USER REQUEST
%s

## CATEGORIES
%s
## RESPONSE
List only documents that must move.
{"reclassifications": [{"document_id": <id>, "category_id": <1-20>, "reasoning": "<why>"}], "agent_notes": "<summary>"}`,
		body, prompt, categoryList()), nil
}
