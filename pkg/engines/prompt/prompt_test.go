package prompt

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"
)

type PromptSuite struct {
	suite.Suite
}

func TestPromptSuite(t *testing.T) {
	suite.Run(t, new(PromptSuite))
}

func (s *PromptSuite) TestCommonMissedWordsUsesKeywordStructs() {
	prompt, err := CommonMissedWords([]Keyword{
		{
			Word:           "onboarding",
			CommonMistypes: []string{"on boarding", "onbording"},
			Definition:     "Processo de entrada de um novo cliente.",
		},
	})
	s.Require().NoError(err)

	s.Equal(
		`Common missed words: [{"word":"onboarding","common_mistypes":["on boarding","onbording"],"definition":"Processo de entrada de um novo cliente."}]`,
		prompt,
	)
}

func (s *PromptSuite) TestCommonMissedWordsSkipsEmptyKeywordEntries() {
	prompt, err := CommonMissedWords([]Keyword{
		{},
		{
			Word:           " n8n ",
			CommonMistypes: []string{" ", "n oito n"},
		},
	})
	s.Require().NoError(err)

	payload := strings.TrimPrefix(prompt, "Common missed words: ")
	var parsed []Keyword
	s.Require().NoError(json.Unmarshal([]byte(payload), &parsed))
	s.Require().Len(parsed, 1)
	s.Equal("n8n", parsed[0].Word)
	s.Equal([]string{"n oito n"}, parsed[0].CommonMistypes)
}

func (s *PromptSuite) TestCommonMissedWordsEmpty() {
	prompt, err := CommonMissedWords([]Keyword{{Word: "  "}})
	s.Require().NoError(err)
	s.Empty(prompt)
}

func (s *PromptSuite) TestBuildUsesCustomPrompt() {
	prompt, err := Build(" Use this exact audio prompt. ", []Keyword{{Word: "should-not-appear"}})
	s.Require().NoError(err)
	s.Equal("Use this exact audio prompt.", prompt)
}

func (s *PromptSuite) TestCloneKeywordsCopiesSlices() {
	original := []Keyword{{Word: "crm", CommonMistypes: []string{"c r m"}}}

	cloned := CloneKeywords(original)
	cloned[0].Word = "changed"
	cloned[0].CommonMistypes[0] = "changed-mistype"

	s.Equal("crm", original[0].Word)
	s.Equal("c r m", original[0].CommonMistypes[0])
	s.Nil(CloneKeywords(nil))
}

func (s *PromptSuite) TestLanguageCode() {
	s.Equal("pt", LanguageCode("pt-BR"))
	s.Equal("pt", LanguageCode(" PT "))
	s.Equal("en", LanguageCode("en_US"))
	s.Equal("", LanguageCode("auto"))
	s.Equal("", LanguageCode(""))
}
