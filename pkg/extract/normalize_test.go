package extract

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePromptCheck(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    PromptCheck
		outcome Outcome
	}{
		{
			name: "canonical",
			text: `{"diagnosis":["vague"],"missing":["audience"],"improvements":["add format"],"golden":"G"}`,
			want: PromptCheck{
				Diagnosis:    []string{"vague"},
				Missing:      []string{"audience"},
				Improvements: []string{"add format"},
				Golden:       "G",
			},
			outcome: OutcomeParsed,
		},
		{
			name: "synonyms",
			text: `{"mistakes":["m"],"suggestions":["s"],"goldenPrompt":"  GP  "}`,
			want: PromptCheck{
				Diagnosis:    []string{"m"},
				Missing:      []string{},
				Improvements: []string{"s"},
				Golden:       "GP",
			},
			outcome: OutcomeParsed,
		},
		{
			name: "bare strings become lists",
			text: `{"diagnosis":"only one","missing":"  ","fixes":"do this","prompt":"P"}`,
			want: PromptCheck{
				Diagnosis:    []string{"only one"},
				Missing:      []string{},
				Improvements: []string{"do this"},
				Golden:       "P",
			},
			outcome: OutcomeParsed,
		},
		{
			name: "empty list falls through to synonym",
			text: `{"diagnosis":[],"notes":["n1",""," n2 "]}`,
			want: PromptCheck{
				Diagnosis:    []string{"n1", "n2"},
				Missing:      []string{},
				Improvements: []string{},
				Golden:       "",
			},
			outcome: OutcomeParsed,
		},
		{
			name: "non-string items",
			text: `{"missing":[1, true, null, {"a":"b"}]}`,
			want: PromptCheck{
				Diagnosis:    []string{},
				Missing:      []string{"1", "true", `{"a":"b"}`},
				Improvements: []string{},
			},
			outcome: OutcomeParsed,
		},
		{
			name: "result wrapper",
			text: `{"result":{"diagnosis":["d"],"golden":"g"}}`,
			want: PromptCheck{
				Diagnosis:    []string{"d"},
				Missing:      []string{},
				Improvements: []string{},
				Golden:       "g",
			},
			outcome: OutcomeParsed,
		},
		{
			name: "empty object",
			text: `{}`,
			want: PromptCheck{
				Diagnosis:    []string{},
				Missing:      []string{},
				Improvements: []string{},
			},
			outcome: OutcomeParsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, outcome := NormalizePromptCheck(Parse(tt.text))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.outcome, outcome)
		})
	}
}

func TestNormalizePromptCheck_DoubleEncoded(t *testing.T) {
	inner := "```json\n{\"diagnosis\":[\"inner d\"],\"missing\":[],\"improvements\":[\"inner i\"],\"golden\":\"inner g\"}\n```"

	for _, field := range []string{"golden", "text", "raw", "prompt"} {
		t.Run(field, func(t *testing.T) {
			outer, err := json.Marshal(map[string]any{field: inner})
			assert.NoError(t, err)

			got, outcome := NormalizePromptCheck(Parse(string(outer)))
			assert.Equal(t, OutcomeNested, outcome)
			assert.Equal(t, []string{"inner d"}, got.Diagnosis)
			assert.Equal(t, []string{"inner i"}, got.Improvements)
			assert.Equal(t, "inner g", got.Golden)
		})
	}
}

func TestNormalizePromptCheck_TripleEncoded(t *testing.T) {
	level1 := `{"diagnosis":["deep"],"golden":"g"}`
	level2, _ := json.Marshal(map[string]any{"golden": level1})
	level3, _ := json.Marshal(map[string]any{"text": string(level2)})

	got, outcome := NormalizePromptCheck(Parse(string(level3)))
	assert.Equal(t, OutcomeNested, outcome)
	assert.Equal(t, []string{"deep"}, got.Diagnosis)
	assert.Equal(t, "g", got.Golden)
}

func TestNormalizePromptCheck_NestedOnlyWhenSignalsEmpty(t *testing.T) {
	text := `{"diagnosis":["outer"],"golden":"{\"diagnosis\":[\"inner\"]}"}`

	got, outcome := NormalizePromptCheck(Parse(text))
	assert.Equal(t, OutcomeParsed, outcome)
	assert.Equal(t, []string{"outer"}, got.Diagnosis)
}

func TestNormalizePromptCheck_GoldenWithBracesIsNotNested(t *testing.T) {
	text := `{"golden":"Fill in {topic} and {tone}"}`

	got, outcome := NormalizePromptCheck(Parse(text))
	assert.Equal(t, OutcomeParsed, outcome)
	assert.Equal(t, "Fill in {topic} and {tone}", got.Golden)
}

func TestNormalizePromptCheck_Fallback(t *testing.T) {
	got, outcome := NormalizePromptCheck(Parse("this is not json at all"))

	assert.Equal(t, OutcomeFallback, outcome)
	assert.Equal(t, []string{NotValidJSON}, got.Diagnosis)
	assert.Equal(t, []string{}, got.Missing)
	assert.Equal(t, []string{}, got.Improvements)
	assert.Equal(t, "this is not json at all", got.Golden)

	// All four keys are present when encoded
	b, err := json.Marshal(got)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"diagnosis":["Model output was not valid JSON."],"missing":[],"improvements":[],"golden":"this is not json at all"}`, string(b))
}

func TestNormalizeCoach_FixedWidth(t *testing.T) {
	for _, n := range []int{0, 1, 3, 5, 10} {
		t.Run(fmt.Sprintf("%d items", n), func(t *testing.T) {
			items := make([]string, n)
			for i := range items {
				items[i] = fmt.Sprintf("m%d", i)
			}
			text, _ := json.Marshal(map[string]any{"mistakes": items, "fixes": items, "metaPrompt": "meta"})

			got, _ := NormalizeCoach(Parse(string(text)))
			assert.Len(t, got.Mistakes, CoachWidth)
			assert.Len(t, got.Fixes, CoachWidth)

			for i := 0; i < CoachWidth; i++ {
				want := ""
				if i < n {
					want = fmt.Sprintf("m%d", i)
				}
				assert.Equal(t, want, got.Mistakes[i])
				assert.Equal(t, want, got.Fixes[i])
			}
			assert.Equal(t, "meta", got.MetaPrompt)
		})
	}
}

func TestNormalizeCoach_Synonyms(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Coach
	}{
		{
			name: "errors and improvements",
			text: `{"errors":["e"],"improvements":["i"],"meta":"M"}`,
			want: Coach{Mistakes: []string{"e", "", ""}, Fixes: []string{"i", "", ""}, MetaPrompt: "M"},
		},
		{
			name: "notes suggestions meta_prompt",
			text: `{"notes":"single","suggestions":["a","b"],"meta_prompt":" MP "}`,
			want: Coach{Mistakes: []string{"single", "", ""}, Fixes: []string{"a", "b", ""}, MetaPrompt: "MP"},
		},
		{
			name: "raw as meta prompt",
			text: `{"mistakes":["x"],"raw":"R"}`,
			want: Coach{Mistakes: []string{"x", "", ""}, Fixes: []string{"", "", ""}, MetaPrompt: "R"},
		},
		{
			name: "result wrapper",
			text: `{"result":{"mistakes":["x"],"fixes":["y"],"metaPrompt":"z"}}`,
			want: Coach{Mistakes: []string{"x", "", ""}, Fixes: []string{"y", "", ""}, MetaPrompt: "z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := NormalizeCoach(Parse(tt.text))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeCoach_DoubleEncoded(t *testing.T) {
	inner := `{"mistakes":["a","b","c","d"],"fixes":["f"],"metaPrompt":"inner meta"}`

	for _, field := range []string{"metaPrompt", "text", "raw", "mistakes"} {
		t.Run(field, func(t *testing.T) {
			outer, _ := json.Marshal(map[string]any{field: "```json\n" + inner + "\n```"})

			got, outcome := NormalizeCoach(Parse(string(outer)))
			assert.Equal(t, OutcomeNested, outcome)
			assert.Equal(t, []string{"a", "b", "c"}, got.Mistakes)
			assert.Equal(t, []string{"f", "", ""}, got.Fixes)
			assert.Equal(t, "inner meta", got.MetaPrompt)
		})
	}
}

func TestNormalizeCoach_NestedKeepsOuterMeta(t *testing.T) {
	outer, _ := json.Marshal(map[string]any{
		"text":       `{"mistakes":["a"],"fixes":["b"]}`,
		"metaPrompt": "outer meta",
	})

	got, outcome := NormalizeCoach(Parse(string(outer)))
	assert.Equal(t, OutcomeNested, outcome)
	assert.Equal(t, "outer meta", got.MetaPrompt)
}

func TestNormalizeCoach_Fallback(t *testing.T) {
	raw := "I could not produce JSON, sorry."
	got, outcome := NormalizeCoach(Parse(raw))

	assert.Equal(t, OutcomeFallback, outcome)
	assert.Equal(t, []string{NotValidJSON, "", ""}, got.Mistakes)
	assert.Equal(t, []string{"", "", ""}, got.Fixes)
	assert.Equal(t, raw, got.MetaPrompt)
}

func TestNormalize_NeverPanics(t *testing.T) {
	inputs := []string{
		"",
		"{",
		"}}}{{{",
		`{"result":"not an object"}`,
		`{"result":null}`,
		`{"golden":{"nested":"object"}}`,
		`{"mistakes":{"a":1},"fixes":null}`,
		`{"text":"{\"text\":\"{\\\"text\\\":\\\"{}\\\"}\"}"}`,
		strings.Repeat(`{"golden":`, 50) + `"x"` + strings.Repeat("}", 50),
	}

	for _, in := range inputs {
		assert.NotPanics(t, func() {
			pc, _ := NormalizePromptCheck(Parse(in))
			assert.NotNil(t, pc.Diagnosis)
			assert.NotNil(t, pc.Missing)
			assert.NotNil(t, pc.Improvements)

			c, _ := NormalizeCoach(Parse(in))
			assert.Len(t, c.Mistakes, CoachWidth)
			assert.Len(t, c.Fixes, CoachWidth)
		}, "input %q", in)
	}
}
