// Package langdetect classifies farmer messages into one of the supported
// languages using marker-word tables.
package langdetect

import (
	"strings"
	"unicode"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// priority breaks ties; English is last because it is the fallback.
var priority = []domain.Language{
	domain.LangHausa,
	domain.LangYoruba,
	domain.LangIgbo,
	domain.LangFulfulde,
	domain.LangEnglish,
}

// Single letters are left out of the tables. Two-letter words are kept only
// when they are frequent in one language and rare in the others, such as
// Hausa "da", Yoruba "mo" and "fe", English "is" and "of".
var markers = map[domain.Language][]string{
	domain.LangHausa: {
		"sannu", "barka", "yaya", "nawa", "ina", "yanayi", "shuke", "kwari", "kasuwa",
		"noma", "gona", "gonar", "shinkafa", "masara", "rogo", "wake", "gyada", "taki",
		"ruwa", "girbi", "shuka", "damina", "rani", "farashi", "farashin", "sayar",
		"shawara", "shawarar", "tambaya", "taimako", "gargadi", "don", "kuma", "akwai",
		"yadda", "zan", "nake", "son", "kwana", "amfanin", "da", "ban ruwa",
	},
	domain.LangYoruba: {
		"bawo", "elo", "nibi", "eweko", "kokoro", "oja", "agbe", "iresi", "agbado",
		"ewa", "epa", "ajile", "omi", "ikore", "gbin", "ojo", "owo", "imoran", "beere",
		"iranlowo", "ikilo", "ati", "fun", "kini", "nipa", "mo", "fe", "pele", "kaaro",
		"kaale", "oju ojo", "irugbin", "arun",
	},
	domain.LangIgbo: {
		"ndewo", "kedu", "ebe", "ahia", "ubi", "akidi", "ukwa", "fatilaiza", "fatilayza",
		"mmiri", "ahihia", "owuwe", "ego", "ndumodu", "ajuju", "aziza", "enyemaka",
		"nke", "ndi", "anyi", "unu", "maka", "gini", "mgbe", "achoro", "ahuhu",
		"ihu igwe", "oru ugbo", "udu mmiri",
	},
	domain.LangFulfulde: {
		"jam", "hol", "jemma", "jiijal", "marawle", "luumo", "wuurnde", "galle",
		"mbaɗi", "koose", "niebe", "gerte", "ndiyam", "leydi", "ceeɗe", "ndungu",
		"jaar", "sood", "waɗde", "naamno", "jaabol", "wallita", "wallitagol", "haal",
		"ngam", "takka", "ndaɓɓe", "yiɗi", "aawdi", "jam waali", "on jaɓɓii",
	},
	domain.LangEnglish: {
		"hello", "how", "what", "where", "when", "weather", "crop", "crops", "pest",
		"pests", "market", "farming", "farm", "agriculture", "rice", "maize", "tomato",
		"beans", "groundnut", "fertilizer", "fertiliser", "water", "soil", "harvest",
		"plant", "planting", "rain", "price", "sell", "buy", "advice", "question",
		"help", "need", "needed", "should", "the", "and", "is", "of", "you", "for",
		"my", "with", "please", "dry season", "rainy season",
	},
}

// Result is one classification.
type Result struct {
	Language domain.Language
	// Confidence is the winner's share of all marker matches, 0 when none.
	Confidence float64
	// Ambiguous is set when nothing matched or the top score was tied.
	Ambiguous bool
	Scores    map[domain.Language]int
}

// Detector is pure and safe for concurrent use.
type Detector struct {
	words   map[string][]domain.Language
	phrases map[domain.Language][]string
}

// New builds the lookup tables.
func New() *Detector {
	d := &Detector{
		words:   make(map[string][]domain.Language),
		phrases: make(map[domain.Language][]string),
	}
	for lang, list := range markers {
		for _, m := range list {
			m = fold(m)
			if strings.Contains(m, " ") {
				d.phrases[lang] = append(d.phrases[lang], m)
				continue
			}
			d.words[m] = append(d.words[m], lang)
		}
	}
	return d
}

// Detect always returns one of the supported languages.
func (d *Detector) Detect(text string) Result {
	tokens := Tokenize(text)
	scores := make(map[domain.Language]int, len(priority))
	for _, tok := range tokens {
		for _, lang := range d.words[tok] {
			scores[lang]++
		}
	}
	if len(tokens) > 1 {
		joined := " " + strings.Join(tokens, " ") + " "
		for lang, list := range d.phrases {
			for _, p := range list {
				scores[lang] += 2 * strings.Count(joined, " "+p+" ")
			}
		}
	}

	best := domain.DefaultLanguage
	bestScore, total, ties := 0, 0, 0
	for _, lang := range priority {
		s := scores[lang]
		total += s
		switch {
		case s > bestScore:
			best, bestScore, ties = lang, s, 0
		case s == bestScore && s > 0:
			ties++
		}
	}
	res := Result{Language: best, Scores: scores}
	if bestScore == 0 {
		res.Ambiguous = true
		return res
	}
	res.Ambiguous = ties > 0
	res.Confidence = float64(bestScore) / float64(total)
	return res
}

// Tokenize lower-cases text, folds diacritics and splits on anything that is
// not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(fold(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

var stripMarks = runes.Remove(runes.In(unicode.Mn))

func fold(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	out, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		return strings.ToLower(s)
	}
	return out
}
