package ai

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// RuleBased answers from a small built-in agronomy knowledge base. It needs no
// network, so it is always configured as the last provider in the chain.
type RuleBased struct{}

// NewRuleBased builds the offline provider.
func NewRuleBased() *RuleBased { return &RuleBased{} }

func (RuleBased) Name() string { return "rules" }

type cropFacts struct {
	name       string
	aliases    []string
	season     string
	harvest    string
	fertilizer string
	pests      string
}

var crops = []cropFacts{
	{"rice", []string{"rice", "shinkafa", "iresi", "osikapa", "maaro"}, "May to July", "90-120 days", "NPK 15-15-15 at planting, urea top dressing", "rice weevil, stem borer, blast disease"},
	{"maize", []string{"maize", "corn", "masara", "agbado", "oka", "butali"}, "April to June", "75-90 days", "NPK 20-10-10 at planting, urea at 6 weeks", "fall armyworm, stem borer, ear rot"},
	{"tomato", []string{"tomato", "tomatoes", "tumatir", "tomati"}, "October-November or February-March", "60-80 days", "NPK 15-15-15 weekly, calcium foliar spray", "whitefly, aphids, late blight"},
	{"cassava", []string{"cassava", "rogo", "ege", "akpu", "bantara"}, "April to June", "8-12 months", "NPK 12-12-17 at planting and at 6 months", "cassava mosaic virus, mealybug, green mite"},
}

type topic string

const (
	topicFertilizer topic = "fertilizer"
	topicPest       topic = "pest"
	topicWeather    topic = "weather"
	topicMarket     topic = "market"
	topicPlanting   topic = "planting"
	topicIrrigation topic = "irrigation"
	topicGreeting   topic = "greeting"
	topicGeneral    topic = "general"
)

// Checked in order; the first topic with a matching word wins.
var topicWords = []struct {
	topic topic
	words []string
}{
	{topicFertilizer, []string{"fertilizer", "fertiliser", "npk", "urea", "manure", "compost", "taki", "ajile", "fatilayza", "fatịlaịza", "takka"}},
	{topicPest, []string{"pest", "pests", "insect", "insects", "disease", "armyworm", "kwari", "cuta", "kokoro", "arun", "ahuhu", "ọrịa", "marawle"}},
	{topicWeather, []string{"weather", "rain", "forecast", "yanayi", "damina", "ojo", "ihu igwe", "udu mmiri", "jiijal", "ndungu"}},
	{topicMarket, []string{"market", "price", "prices", "sell", "buy", "kasuwa", "farashi", "farashin", "oja", "owo", "ahia", "ego", "luumo"}},
	{topicIrrigation, []string{"irrigation", "irrigate", "watering", "ban ruwa", "omi", "mmiri", "ndiyam"}},
	{topicPlanting, []string{"plant", "planting", "sow", "seed", "seeds", "season", "shuka", "iri", "gbin", "irugbin", "kuo", "aawdi"}},
	{topicGreeting, []string{"hello", "hi", "sannu", "barka", "bawo", "pele", "ndewo", "kedu", "jam"}},
}

var replies = map[topic]map[string]string{
	topicFertilizer: {
		"en": "Fertilizer advice: apply NPK 15-15-15 at planting (about 4 bags per hectare), then top-dress with urea 4-6 weeks after planting. Work compost or well-rotted manure into the soil, and apply fertilizer when the soil is moist but not before heavy rain.",
		"ha": "Shawarar taki: zuba taki NPK 15-15-15 lokacin shuka (kimanin buhu 4 a kowace hekta), sannan ka kara urea bayan sati 4-6. Hada taki da takin gargajiya, kuma ka zuba taki lokacin da kasa ke da danshi amma ba kafin ruwan sama mai yawa ba.",
		"yo": "Imoran ajile: fi ajile NPK 15-15-15 si ile nigba gbingbin (bii apo 4 fun hekita kan), ki o si fi urea kun un lehin ose 4-6. Da ajile eleda po mo ile, ki o si fi ajile si ile nigba ti ile ba tutu sugbon ki i se ki ojo nla to ro.",
		"ig": "Ndumodu fatilayza: tinye NPK 15-15-15 mgbe i na-akụ (ihe dị ka akpa 4 kwa hekta), ma tinyekwa urea mgbe izu 4-6 gachara. Gwakọta nsị anụmanụ ma ọ bụ compost n'ala, ma tinye fatilayza mgbe ala dị mmiri mmiri mana ọ bụghị tupu oke mmiri ozuzo.",
		"ff": "Wasiyya takka: waɗ takka NPK 15-15-15 nde aawataa (saaku 4 e hektaar), caggal ɗuum waɗ urea caggal yontere 4-6. Jillu takka e leydi, waɗ takka nde leydi ndi ɓuuɓi, wonaa ado ndungu mawnu.",
	},
	topicPest: {
		"en": "Pest control: inspect leaves every few days. For a mild attack spray neem oil mixed with liquid soap and water in the evening. For caterpillars such as fall armyworm use cypermethrin 25EC at 2ml per litre, and remove badly infected plants.",
		"ha": "Maganin kwari: duba ganyen shuka kowane kwana biyu. Idan kwari kadan ne, fesa man neem da sabulu da ruwa da maraice. Ga tsutsotsi kamar fall armyworm yi amfani da cypermethrin 25EC 2ml a kowace lita, ka cire shukokin da suka lalace.",
		"yo": "Itoju kokoro: maa se ayewo ewe ni gbogbo ojo die. Ti kokoro ko ba po, fin epo neem ti a po mo ose ati omi ni ale. Fun idin bi fall armyworm lo cypermethrin 25EC 2ml ninu lita kan, ki o si yo awon eweko ti arun ti ba je.",
		"ig": "Njikwa ahuhu: lelee akwụkwọ osisi kwa ụbọchị ole na ole. Ọ bụrụ na ahuhu dị ntakịrị, fesa mmanụ neem agwakọtara ya na ncha na mmiri n'anyasị. Maka ikpuru dị ka fall armyworm jiri cypermethrin 25EC 2ml kwa lita, wepụkwa osisi rịara ọrịa nke ukwuu.",
		"ff": "Hadde marawle: ndaar haakoy kala balɗe ɗiɗi. So marawle ɗe ɗuuɗaani, fesu neem e saabunde e ndiyam kiikiiɗe. Ngam ɓoggi no fall armyworm, huutoro cypermethrin 25EC 2ml e liitir, itta puɗɗi nawɗi.",
	},
	topicWeather: {
		"en": "Weather tip: in hot weather water crops early in the morning and in the evening and mulch to keep moisture. In the rainy season make sure fields drain well and watch for fungal disease. Send your location to get a local forecast.",
		"ha": "Shawarar yanayi: lokacin zafi ka shayar da shuka da safe da maraice, ka rufe kasa da ciyawa don kiyaye danshi. Lokacin damina ka tabbatar ruwa na fita daga gona, ka kula da cututtukan fungi.",
		"yo": "Imoran oju ojo: nigba ooru fi omi si eweko ni kutukutu ati ni ale, ki o si bo ile pelu koriko lati pa omi mo. Nigba ojo rii daju pe omi n jade kuro ninu oko, ki o si so arun elu.",
		"ig": "Ndumodu ihu igwe: n'oge okpomọkụ gbanye ihe ọkụkụ mmiri n'ụtụtụ na mgbede, kpuchie ala ahịhịa ka mmiri ghara ịla. N'oge udu mmiri hụ na mmiri na-asọpụ n'ubi, ma lezie ọrịa fungal anya.",
		"ff": "Wasiyya jiijal: nde wulaango jiyitin naabaaji subaka e kiikiiɗe, taƴ reedu ngam mooftude ndiyam. Nde ndungu ƴeew no ndiyam ngoppata ngesa, reen naawnde fungal.",
	},
	topicMarket: {
		"en": "Market advice: prices follow the season, so store dry produce well and sell when supply falls. Join a farmer cooperative for better prices and transport, and consider simple processing to add value.",
		"ha": "Shawarar kasuwa: farashi na bin lokaci, don haka ka adana amfanin gona da kyau ka sayar lokacin da kaya suka yi karanci. Shiga kungiyar manoma don samun farashi mai kyau.",
		"yo": "Imoran oja: owo oja n tele igba, nitorina toju ire oko daadaa ki o si ta nigba ti oja ba won. Darapo mo egbe agbe fun owo to dara.",
		"ig": "Ndumodu ahịa: ọnụ ahịa na-eso oge, ya mere chekwaa ihe ubi nke ọma ma ree ya mgbe ọ dị ụkọ. Sonye na otu ndị ọrụ ugbo maka ọnụ ahịa ka mma.",
		"ff": "Wasiyya luumo: coggu ina rewi yonta, moofto ko ngesa rokki no moƴƴi, njeeyaa nde ɗum ƴoosi. Naatu e fedde remooɓe ngam heɓude coggu moƴƴu.",
	},
	topicIrrigation: {
		"en": "Irrigation advice: water deeply two or three times a week rather than a little every day, ideally early morning. Mulch around plants and check soil moisture a finger deep before watering.",
		"ha": "Shawarar ban ruwa: shayar da shuka sosai sau biyu ko uku a mako maimakon kadan kowace rana, musamman da safe. Rufe kasa da ciyawa.",
		"yo": "Imoran irrigation: fi omi si oko daadaa emeji tabi emeta lose dipo die die lojoojumo, paapaa ni kutukutu. Bo ile pelu koriko.",
		"ig": "Ndumodu ịgba mmiri: gbaa mmiri nke ọma ugboro abụọ ma ọ bụ atọ n'izu kama ntakịrị kwa ụbọchị, ọkachasị n'ụtụtụ. Kpuchie ala ahịhịa.",
		"ff": "Wasiyya ndiyam: jiyitin no moƴƴi laabi ɗiɗi walla tati e yontere, subaka buri. Taƴ reedu e leydi.",
	},
	topicPlanting: {
		"en": "Planting advice: plant at the start of the rains once the soil is moist to about 15cm. Use certified seed, follow the recommended spacing for your crop, and weed in the first 3-6 weeks.",
		"ha": "Shawarar shuka: ka shuka a farkon damina idan kasa ta jika. Yi amfani da iri mai inganci, ka bi tazarar da aka ba da shawara, ka yi noman ciyawa a sati 3-6 na farko.",
		"yo": "Imoran gbingbin: gbin ni ibere ojo nigba ti ile ba ti tutu. Lo irugbin to dara, tele aaye ti a gba ni niyanju, ki o si ro oko ni ose 3-6 akoko.",
		"ig": "Ndumodu ịkụ ihe: kụọ ihe na mmalite udu mmiri mgbe ala dị mmiri. Jiri mkpụrụ dị mma, soro oghere a tụrụ aro, ma wepụ ahịhịa n'izu 3-6 mbụ.",
		"ff": "Wasiyya aawdi: aawu fuɗɗoode ndungu nde leydi ɓuuɓi. Huutoro aawdi moƴƴi, jokku hakkunde nde yamiraa, ɓiɓɓu ngesa e yontere 3-6 adii.",
	},
	topicGreeting: {
		"en": "Hello! I am AgriSense, your farming assistant. Ask me about crops, fertilizer, pests, weather or market prices.",
		"ha": "Sannu! Ni AgriSense ne, mai taimakon noma. Tambaye ni game da amfanin gona, taki, kwari, yanayi ko farashin kasuwa.",
		"yo": "Bawo! Emi ni AgriSense, oluranlowo agbe re. Beere lowo mi nipa eweko, ajile, kokoro, oju ojo tabi owo oja.",
		"ig": "Ndewo! Abụ m AgriSense, onye enyemaka ọrụ ugbo gị. Jụọ m maka ihe ọkụkụ, fatilayza, ahuhu, ihu igwe ma ọ bụ ọnụ ahịa.",
		"ff": "Jam! Miin ko AgriSense, ballo ngesa maa. Naamnito kam baɗte ngesa, takka, marawle, jiijal walla coggu luumo.",
	},
	topicGeneral: {
		"en": "I can help with crop management, fertilizer, pest control, weather and market prices. Tell me your crop and what you are seeing on the farm.",
		"ha": "Zan iya taimakawa da kula da amfanin gona, taki, maganin kwari, yanayi da farashin kasuwa. Fada mini irin shukar ka da abin da kake gani a gona.",
		"yo": "Mo le ran o lowo nipa itoju eweko, ajile, kokoro, oju ojo ati owo oja. So fun mi iru eweko re ati ohun ti o n ri ninu oko.",
		"ig": "Enwere m ike inyere gị aka maka ihe ọkụkụ, fatilayza, ahuhu, ihu igwe na ọnụ ahịa. Gwa m ihe ị kụrụ na ihe ị na-ahụ n'ubi.",
		"ff": "Mi waawi wallude e ngesa, takka, marawle, jiijal e coggu luumo. Haal kam ko aawɗaa e ko yiyataa e ngesa.",
	},
}

var cropFormats = map[topic]string{
	topicFertilizer: "For %s: %s.",
	topicPest:       "Common %s pests: %s.",
	topicPlanting:   "Plant %s %s; harvest after %s.",
}

// Complete implements ChatModel.
func (RuleBased) Complete(_ context.Context, req ChatRequest) (string, error) {
	text := req.Query
	if strings.TrimSpace(text) == "" {
		text = req.Prompt
	}
	lang := req.Language
	if _, ok := replies[topicGeneral][lang]; !ok {
		lang = "en"
	}
	words := tokenize(text)
	t := detectTopic(text, words)
	reply := replies[t][lang]
	if crop, ok := detectCrop(words); ok {
		switch t {
		case topicFertilizer:
			reply += " " + fmt.Sprintf(cropFormats[t], crop.name, crop.fertilizer)
		case topicPest:
			reply += " " + fmt.Sprintf(cropFormats[t], crop.name, crop.pests)
		case topicPlanting:
			reply += " " + fmt.Sprintf(cropFormats[t], crop.name, crop.season, crop.harvest)
		}
	}
	return reply, nil
}

func detectTopic(text string, words map[string]bool) topic {
	lower := strings.ToLower(text)
	for _, tw := range topicWords {
		for _, w := range tw.words {
			if strings.Contains(w, " ") {
				if strings.Contains(lower, w) {
					return tw.topic
				}
				continue
			}
			if words[w] {
				return tw.topic
			}
		}
	}
	return topicGeneral
}

func detectCrop(words map[string]bool) (cropFacts, bool) {
	for _, c := range crops {
		for _, alias := range c.aliases {
			if words[alias] {
				return c, true
			}
		}
	}
	return cropFacts{}, false
}

func tokenize(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	}) {
		out[w] = true
	}
	return out
}
