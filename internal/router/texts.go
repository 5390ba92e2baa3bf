package router

import (
	"fmt"

	"github.com/Darknivht/agrisense-ai/pkg/domain"
)

// TextKey names a fixed, localized message.
type TextKey string

const (
	TextApology            TextKey = "apology"
	TextGreeting           TextKey = "greeting"
	TextHelp               TextKey = "help"
	TextWeatherUnavailable TextKey = "weather_unavailable"
	TextDocumentReceived   TextKey = "document_received"
	TextDocumentQueued     TextKey = "document_queued"
	TextDocumentFailed     TextKey = "document_failed"
)

var texts = map[TextKey]map[domain.Language]string{
	TextApology: {
		domain.LangEnglish:  "Sorry, I could not answer right now. Please try again in a few minutes.",
		domain.LangHausa:    "Yi hakuri, ba zan iya amsa yanzu ba. Da fatan za a sake gwadawa nan da 'yan mintuna.",
		domain.LangYoruba:   "Ẹ má bínú, mi ò lè dáhùn báyìí. Ẹ jọ̀wọ́ ẹ tún gbìyànjú láìpẹ́.",
		domain.LangIgbo:     "Ndo, enweghị m ike ịza ugbu a. Biko nwaa ọzọ n'oge na-adịghị anya.",
		domain.LangFulfulde: "Yaafo, mi waawaa jaabaade jooni. Tiiɗno eto kadi ɓaawo seeɗa.",
	},
	TextGreeting: {
		domain.LangEnglish:  "Welcome to AgriSense! Ask me anything about your farm.",
		domain.LangHausa:    "Barka da zuwa AgriSense! Ka tambaye ni komai game da gonarka.",
		domain.LangYoruba:   "Ẹ kú àbọ̀ sí AgriSense! Ẹ bi mí ní ohunkóhun nípa oko yín.",
		domain.LangIgbo:     "Nnọọ na AgriSense! Jụọ m ihe ọ bụla gbasara ugbo gị.",
		domain.LangFulfulde: "Jabbama e AgriSense! Naamnito kala huunde fii ngesa maa.",
	},
	TextHelp: {
		domain.LangEnglish: "AgriSense help:\n" +
			"- weather: forecast and farm advice for your area\n" +
			"- crop: planting and fertilizer guidance\n" +
			"- pest: pest and disease control\n" +
			"- market: selling and price tips\n" +
			"Or just ask your question.",
		domain.LangHausa: "Taimakon AgriSense:\n" +
			"- yanayi: hasashen yanayi da shawara\n" +
			"- shuki: shuka da takin zamani\n" +
			"- kwari: maganin kwari da cututtuka\n" +
			"- kasuwa: farashi da sayarwa\n" +
			"Ko kuma ka yi tambayarka kai tsaye.",
		domain.LangYoruba: "Ìrànlọ́wọ́ AgriSense:\n" +
			"- oju ojo: àsọtẹ́lẹ̀ ojú ọjọ́\n" +
			"- eweko: gbígbìn àti ajile\n" +
			"- kokoro: ìṣàkóso kòkòrò àti àrùn\n" +
			"- oja: owó àti títà\n" +
			"Tàbí kí ẹ béèrè ìbéèrè yín tààrà.",
		domain.LangIgbo: "Enyemaka AgriSense:\n" +
			"- ihu igwe: amụma ihu igwe\n" +
			"- ihe ubi: ịkụ mkpụrụ na fatịlaịza\n" +
			"- ahụhụ: ịchịkwa ụmụ ahụhụ na ọrịa\n" +
			"- ahia: ọnụahịa na ire ahịa\n" +
			"Ma ọ bụ jụọ ajụjụ gị ozugbo.",
		domain.LangFulfulde: "Ballal AgriSense:\n" +
			"- weeyo: humpito weeyo\n" +
			"- gawri: aawdi e ndaɓɓe\n" +
			"- ɓoggi: safaara ɓoggi\n" +
			"- luumo: coggu e njeeygu\n" +
			"Walla naamno naamne maa tun.",
	},
	TextWeatherUnavailable: {
		domain.LangEnglish:  "Weather information is unavailable right now. Please try again later.",
		domain.LangHausa:    "Bayanin yanayi ba ya samuwa yanzu. Da fatan za a sake gwadawa daga baya.",
		domain.LangYoruba:   "Ìròyìn ojú ọjọ́ kò sí báyìí. Ẹ jọ̀wọ́ ẹ gbìyànjú lẹ́yìn náà.",
		domain.LangIgbo:     "Ozi ihu igwe adịghị ugbu a. Biko nwaa ọzọ ma emechaa.",
		domain.LangFulfulde: "Kabaruuji weeyo ngalaa jooni. Tiiɗno eto kadi ɓaawo.",
	},
	TextDocumentReceived: {
		domain.LangEnglish:  "Received %s. I will use it when answering your questions.",
		domain.LangHausa:    "An karɓi %s. Zan yi amfani da shi wajen amsa tambayoyinka.",
		domain.LangYoruba:   "A ti gba %s. Màá lò ó láti dáhùn ìbéèrè yín.",
		domain.LangIgbo:     "Anatala m %s. Aga m eji ya zaa ajụjụ gị.",
		domain.LangFulfulde: "Mi heɓii %s. Mi huutortoo ɗum e jaabaade naamne maa.",
	},
	TextDocumentQueued: {
		domain.LangEnglish:  "Received %s. It is being processed and will be ready shortly.",
		domain.LangHausa:    "An karɓi %s. Ana sarrafa shi kuma zai kasance a shirye nan ba da jimawa ba.",
		domain.LangYoruba:   "A ti gba %s. À ń ṣiṣẹ́ lórí rẹ̀, yóò ṣetán láìpẹ́.",
		domain.LangIgbo:     "Anatala m %s. A na-edozi ya, ọ ga-adị njikere n'oge na-adịghị anya.",
		domain.LangFulfulde: "Mi heɓii %s. Ina golle e mum, ma o waɗ ɗoo ɗoo.",
	},
	TextDocumentFailed: {
		domain.LangEnglish:  "I could not read %s. Please send a PDF, EPUB, text or HTML file.",
		domain.LangHausa:    "Ban iya karanta %s ba. Da fatan a aiko da fayil na PDF, EPUB, rubutu ko HTML.",
		domain.LangYoruba:   "Mi ò lè ka %s. Ẹ jọ̀wọ́ ẹ fi fáìlì PDF, EPUB, ọ̀rọ̀ tàbí HTML ránṣẹ́.",
		domain.LangIgbo:     "Enweghị m ike ịgụ %s. Biko zitere faịlụ PDF, EPUB, ederede ma ọ bụ HTML.",
		domain.LangFulfulde: "Mi waawaa janngude %s. Tiiɗno neldu fiilde PDF, EPUB, binndi walla HTML.",
	},
}

// Text returns the fixed message in lang, falling back to English.
// Document messages take the file name as their only argument.
func Text(key TextKey, lang domain.Language, args ...any) string {
	variants := texts[key]
	s, ok := variants[lang]
	if !ok {
		s = variants[domain.DefaultLanguage]
	}
	if len(args) > 0 {
		return fmt.Sprintf(s, args...)
	}
	return s
}
