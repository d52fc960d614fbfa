// Package prompt builds the vocabulary hints cloud engines receive alongside the audio.
package prompt

import (
	"encoding/json"
	"strings"
)

// Keyword is a domain term that speech models tend to mistranscribe.
type Keyword struct {
	Word           string   `json:"word,omitempty" yaml:"word"`
	CommonMistypes []string `json:"common_mistypes,omitempty" yaml:"common_mistypes"`
	Definition     string   `json:"definition,omitempty" yaml:"definition"`
}

// Build returns custom when it is set, otherwise the keyword hint (possibly empty).
func Build(custom string, keywords []Keyword) (string, error) {
	if customPrompt := strings.TrimSpace(custom); customPrompt != "" {
		return customPrompt, nil
	}
	return CommonMissedWords(keywords)
}

// CommonMissedWords renders keywords as "Common missed words: <json>".
func CommonMissedWords(keywords []Keyword) (string, error) {
	normalizedKeywords := NormalizeKeywords(keywords)
	if len(normalizedKeywords) == 0 {
		return "", nil
	}

	keywordsJSON, err := json.Marshal(normalizedKeywords)
	if err != nil {
		return "", err
	}

	return "Common missed words: " + string(keywordsJSON), nil
}

func NormalizeKeywords(keywords []Keyword) []Keyword {
	if len(keywords) == 0 {
		return nil
	}

	normalized := make([]Keyword, 0, len(keywords))
	for _, keyword := range keywords {
		word := strings.TrimSpace(keyword.Word)
		definition := strings.TrimSpace(keyword.Definition)
		commonMistypes := make([]string, 0, len(keyword.CommonMistypes))
		for _, candidate := range keyword.CommonMistypes {
			candidate = strings.TrimSpace(candidate)
			if candidate == "" {
				continue
			}
			commonMistypes = append(commonMistypes, candidate)
		}
		if len(commonMistypes) == 0 {
			commonMistypes = nil
		}

		if word == "" && definition == "" && len(commonMistypes) == 0 {
			continue
		}

		normalized = append(normalized, Keyword{
			Word:           word,
			CommonMistypes: commonMistypes,
			Definition:     definition,
		})
	}

	if len(normalized) == 0 {
		return nil
	}

	return normalized
}

// CloneKeywords deep-copies keywords so engines never share slices with their callers.
func CloneKeywords(keywords []Keyword) []Keyword {
	if len(keywords) == 0 {
		return nil
	}

	cloned := make([]Keyword, len(keywords))
	for i, keyword := range keywords {
		clonedKeyword := keyword
		if len(keyword.CommonMistypes) > 0 {
			clonedKeyword.CommonMistypes = append([]string(nil), keyword.CommonMistypes...)
		} else {
			clonedKeyword.CommonMistypes = nil
		}
		cloned[i] = clonedKeyword
	}
	return cloned
}

// LanguageCode reduces a locale hint such as "pt-BR" to its ISO-639-1 code.
func LanguageCode(hint string) string {
	hint = strings.TrimSpace(hint)
	if hint == "" || strings.EqualFold(hint, "auto") {
		return ""
	}
	if i := strings.IndexAny(hint, "-_"); i > 0 {
		hint = hint[:i]
	}
	return strings.ToLower(hint)
}
