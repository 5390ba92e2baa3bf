package router

import (
	"strings"
	"unicode"

	"github.com/Darknivht/agrisense-ai/internal/langdetect"
	"github.com/Darknivht/agrisense-ai/internal/util"
)

const (
	IntentWeather  = "weather"
	IntentMarket   = "market"
	IntentPest     = "pest"
	IntentCrop     = "crop"
	IntentHelp     = "help"
	IntentGeneral  = "general"
	IntentDocument = "document"
)

// intentOrder decides between intents that match equally often.
var intentOrder = []string{IntentHelp, IntentWeather, IntentPest, IntentMarket, IntentCrop}

var intentKeywords = map[string][]string{
	IntentWeather: {
		"weather", "rain", "rainfall", "forecast", "temperature", "drought", "sunny",
		"yanayi", "ruwan sama", "damina",
		"oju ojo", "ojo",
		"ihu igwe", "mmiri ozuzo",
		"weeyo", "toɓo",
	},
	IntentMarket: {
		"market", "price", "prices", "sell", "buy", "cost",
		"kasuwa", "farashi",
		"oja", "owo",
		"ahia", "ọnụahịa",
		"luumo", "coggu",
	},
	IntentPest: {
		"pest", "pests", "insect", "insects", "disease", "armyworm", "locust", "fungus",
		"kwari", "cuta",
		"kokoro", "aisan",
		"ahuhu", "ọrịa",
		"ɓoggi", "ñawu",
	},
	IntentCrop: {
		"crop", "crops", "plant", "planting", "seed", "seeds", "fertilizer", "fertiliser",
		"harvest", "soil", "irrigation", "maize", "cassava", "yam", "rice",
		"shuki", "shuka", "taki", "iri",
		"eweko", "ajile", "gbin",
		"ihe ubi", "kụọ", "fatịlaịza", "mkpụrụ",
		"ndaɓɓe", "gawri", "aawdi",
	},
	IntentHelp: {
		"help", "menu", "taimako", "iranlowo", "enyemaka", "ballal",
	},
}

// DetectIntent tags a message with the topic it is mostly about.
func DetectIntent(text string) string {
	tokens := langdetect.Tokenize(text)
	if len(tokens) == 0 {
		return IntentGeneral
	}
	joined := " " + strings.Join(tokens, " ") + " "
	best, bestScore := IntentGeneral, 0
	for _, intent := range intentOrder {
		score := 0
		for _, kw := range intentKeywords[intent] {
			score += strings.Count(joined, " "+strings.Join(langdetect.Tokenize(kw), " ")+" ")
		}
		if score > bestScore {
			best, bestScore = intent, score
		}
	}
	return best
}

// IsHelpRequest reports whether the whole message is a help command.
func IsHelpRequest(text string) bool {
	tokens := langdetect.Tokenize(text)
	if len(tokens) != 1 {
		return false
	}
	for _, kw := range intentKeywords[IntentHelp] {
		if tokens[0] == kw {
			return true
		}
	}
	return false
}

// Sanitize strips markup and control characters and caps the length.
func Sanitize(text string, maxRunes int) string {
	text = util.StripHTML(text)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == unicode.ReplacementChar {
			return -1
		}
		return r
	}, text)
	text = strings.TrimSpace(text)
	if maxRunes > 0 {
		if runes := []rune(text); len(runes) > maxRunes {
			text = strings.TrimSpace(string(runes[:maxRunes]))
		}
	}
	return text
}
