package langdetect

import (
	"testing"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

func TestDetectLanguages(t *testing.T) {
	d := New()
	cases := []struct {
		text string
		want domain.Language
	}{
		{"fertilizer advice needed", domain.LangEnglish},
		{"What is the price of maize in the market?", domain.LangEnglish},
		{"Sannu, ina son shawarar taki don masara", domain.LangHausa},
		{"Bawo ni, mo fe imoran nipa ajile fun agbado", domain.LangYoruba},
		{"Ndewo, achọrọ m ndụmọdụ maka fatịlaịza", domain.LangIgbo},
		{"Jam waali, mi yiɗi wallitagol ngam takka", domain.LangFulfulde},
		{"Ìmọ̀ràn nípa ajílẹ̀", domain.LangYoruba},
	}
	for _, tc := range cases {
		got := d.Detect(tc.text)
		if got.Language != tc.want {
			t.Fatalf("Detect(%q) = %s (scores %v), want %s", tc.text, got.Language, got.Scores, tc.want)
		}
		if got.Ambiguous {
			t.Fatalf("Detect(%q) should not be ambiguous: %v", tc.text, got.Scores)
		}
		if got.Confidence <= 0 || got.Confidence > 1 {
			t.Fatalf("Detect(%q) confidence out of range: %f", tc.text, got.Confidence)
		}
	}
}

func TestDetectAlwaysReturnsSupportedLanguage(t *testing.T) {
	d := New()
	inputs := []string{"", "   ", "12345", "???", "bonjour tout le monde", "😀😀", "a e o", "\x00\x01"}
	for _, in := range inputs {
		got := d.Detect(in)
		if _, ok := domain.ParseLanguage(string(got.Language)); !ok {
			t.Fatalf("Detect(%q) returned unsupported language %q", in, got.Language)
		}
		if !got.Ambiguous || got.Language != domain.LangEnglish || got.Confidence != 0 {
			t.Fatalf("Detect(%q) with no markers should be ambiguous English, got %+v", in, got)
		}
	}
}

func TestDetectTieUsesPriorityAndIsAmbiguous(t *testing.T) {
	d := New()
	got := d.Detect("taki fertilizer")
	if got.Language != domain.LangHausa {
		t.Fatalf("tie should resolve to Hausa by priority, got %s", got.Language)
	}
	if !got.Ambiguous {
		t.Fatalf("tie must be flagged ambiguous")
	}

	got = d.Detect("ajile takka")
	if got.Language != domain.LangYoruba || !got.Ambiguous {
		t.Fatalf("yo/ff tie should resolve to Yoruba and be ambiguous, got %+v", got)
	}
}

func TestPhraseMarkersCountDouble(t *testing.T) {
	got := New().Detect("oju ojo")
	if got.Language != domain.LangYoruba {
		t.Fatalf("expected Yoruba, got %s", got.Language)
	}
	// "ojo" as a word plus the phrase "oju ojo".
	if got.Scores[domain.LangYoruba] != 3 {
		t.Fatalf("expected phrase bonus, scores %v", got.Scores)
	}
}

func TestTokenizeFoldsDiacritics(t *testing.T) {
	toks := Tokenize("Ọjà, ÀGBÀDO!")
	if len(toks) != 2 || toks[0] != "oja" || toks[1] != "agbado" {
		t.Fatalf("unexpected tokens %q", toks)
	}
}

func TestMarkerTablesSkipSharedShortWords(t *testing.T) {
	owners := map[string][]domain.Language{}
	for lang, words := range markers {
		for _, w := range words {
			if len([]rune(w)) < 2 {
				t.Fatalf("%s marker %q is a single letter", lang, w)
			}
			if len([]rune(w)) == 2 {
				owners[w] = append(owners[w], lang)
			}
		}
	}
	for w, langs := range owners {
		if len(langs) > 1 {
			t.Fatalf("two-letter marker %q appears in %v", w, langs)
		}
	}
}
