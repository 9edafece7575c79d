package chat

import (
	"strings"
	"unicode/utf8"
)

const (
	ReasonTooShort     = "Question too short"
	ReasonNotAQuestion = "Please ask a question about the data"
)

var smallTalk = map[string]struct{}{
	"hi": {}, "hello": {}, "bonjour": {}, "salut": {}, "test": {},
	"ok": {}, "yes": {}, "no": {}, "oui": {}, "non": {},
}

var analysisKeywords = []string{
	"montre", "affiche", "graphique", "tableau", "analyse", "combien", "quelle", "quel",
	"moyenne", "somme", "total", "maximum", "minimum", "répartition", "distribution",
	"compare", "comparaison", "tendance", "évolution", "statistique", "corrélation",
	"pourcentage", "proportion", "nombre", "créé", "génère", "visualise",
	"show", "display", "chart", "graph", "table", "analyze", "how many", "what", "which",
	"average", "sum", "max", "min", "comparison",
	"trend", "statistics", "correlation", "percentage", "count", "create",
	"generate", "visualize", "plot", "most", "common", "type",
}

type Verdict struct {
	Accepted bool
	Reason   string
}

// Classify is a cheap filter in front of the AI engine. It only rejects
// input that is obviously not a question; anything longer than ten
// characters gets through.
func Classify(text string) Verdict {
	normalized := strings.ToLower(strings.TrimSpace(text))
	length := utf8.RuneCountInString(normalized)
	if length < 3 {
		return Verdict{Reason: ReasonTooShort}
	}
	if _, ok := smallTalk[normalized]; ok {
		return Verdict{Reason: ReasonNotAQuestion}
	}
	if length > 10 || containsAny(normalized, analysisKeywords) {
		return Verdict{Accepted: true}
	}
	return Verdict{Reason: ReasonNotAQuestion}
}

func containsAny(text string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
