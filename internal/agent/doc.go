// Package agent contains docsort.Classifier implementations: a keyword
// heuristic for local runs and an Azure OpenAI chat agent.
package agent
