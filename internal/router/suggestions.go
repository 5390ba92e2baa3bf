package router

import "github.com/Darknivht/agrisense-ai/pkg/domain"

const maxSuggestions = 3

type suggestion struct {
	intent string
	text   map[domain.Language]string
}

var suggestionList = []suggestion{
	{IntentWeather, map[domain.Language]string{
		domain.LangEnglish:  "Ask about the weather forecast for your area",
		domain.LangHausa:    "Tambaya game da hasashen yanayi na yankinku",
		domain.LangYoruba:   "Beere nipa asọtẹlẹ oju ojo fun agbegbe rẹ",
		domain.LangIgbo:     "Jụọ maka amụma ihu igwe maka mpaghara gị",
		domain.LangFulfulde: "Naamnu hasale jemma e diwal maa",
	}},
	{IntentPest, map[domain.Language]string{
		domain.LangEnglish:  "Get help identifying pests",
		domain.LangHausa:    "Neman taimako wajen gane kwari",
		domain.LangYoruba:   "Gba iranlọwọ idamo kokoro",
		domain.LangIgbo:     "Nweta enyemaka nchọpụta ụmụ ahụhụ",
		domain.LangFulfulde: "Heɓ ballal anndugo ɓoggi",
	}},
	{IntentMarket, map[domain.Language]string{
		domain.LangEnglish:  "Check current market prices",
		domain.LangHausa:    "Duba farashin kasuwa na yanzu",
		domain.LangYoruba:   "Ṣayẹwo owo oja lọwọlọwọ",
		domain.LangIgbo:     "Lelee ọnụahịa ahịa ugbu a",
		domain.LangFulfulde: "Ƴeewto coggu luumo hannde",
	}},
	{IntentCrop, map[domain.Language]string{
		domain.LangEnglish:  "Get fertilizer recommendations",
		domain.LangHausa:    "Neman shawarar taki",
		domain.LangYoruba:   "Gba iṣeduro ajile",
		domain.LangIgbo:     "Nweta ntụziaka fatịlaịza",
		domain.LangFulfulde: "Heɓ sawru takka",
	}},
	{IntentGeneral, map[domain.Language]string{
		domain.LangEnglish:  "Learn about crop rotation",
		domain.LangHausa:    "Koyi game da juyar da amfanin gona",
		domain.LangYoruba:   "Kọ nipa iyipada gbigbin",
		domain.LangIgbo:     "Mụta banyere mgbanwe ịkụ ihe",
		domain.LangFulfulde: "Jannge e waylugol ndaɓɓe",
	}},
}

// Suggestions offers follow-up questions in lang, skipping the topic the
// farmer just asked about.
func Suggestions(intent string, lang domain.Language) []string {
	out := make([]string, 0, maxSuggestions)
	for _, s := range suggestionList {
		if s.intent == intent {
			continue
		}
		text, ok := s.text[lang]
		if !ok {
			text = s.text[domain.DefaultLanguage]
		}
		out = append(out, text)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out
}
