package cbc

// languagePair holds the two language codes an operator transmits in.
// All four UK operators broadcast English primarily and Welsh otherwise.
type languagePair struct {
	primary string
	other   string
}

var defaultLanguages = languagePair{primary: "en-GB", other: "cy-GB"}

// gsmBasicCharacters is the GSM 03.38 default alphabet plus its extension
// table: the character set a primary-language (English) broadcast can carry.
// Content containing anything outside it (Welsh diacritics such as ŵ or ŷ
// being the practical case) is tagged with the operator's other language.
const gsmBasicCharacters = "@£$¥èéùìòÇ\nØø\rÅåΔ_ΦΓΛΩΠΨΣΘΞÆæßÉ !\"#¤%&'()*+,-./0123456789:;<=>?¡ABCDEFGHIJKLMNOPQRSTUVWXYZÄÖÑܧ¿abcdefghijklmnopqrstuvwxyzäöñüà" +
	"^{}\\[~]|€"

var gsmBasicSet = func() map[rune]struct{} {
	set := make(map[rune]struct{}, len(gsmBasicCharacters))
	for _, r := range gsmBasicCharacters {
		set[r] = struct{}{}
	}
	return set
}()

// inferLanguage returns the language code to transmit with the given alert
// content: the pair's primary code when every character fits the basic set,
// the other code when any does not. Runs on every outbound alert and update
// payload; never on cancels, which carry no free text.
func inferLanguage(content string, languages languagePair) string {
	for _, r := range content {
		if _, ok := gsmBasicSet[r]; !ok {
			return languages.other
		}
	}
	return languages.primary
}
