package engine

import "strings"

// Language tags the conversation language used for prompts and
// acknowledgement text. Only the two languages the addressee tokens cover
// are distinguished.
type Language string

const (
	LanguageEnglish    Language = "english"
	LanguageVietnamese Language = "vietnamese"
)

// vietnameseMarks holds diacritic letters unique to Vietnamese. A handful of
// occurrences is a strong enough signal for routing and prompt selection.
const vietnameseMarks = "àáạảãâầấậẩẫăằắặẳẵèéẹẻẽêềếệểễìíịỉĩòóọỏõôồốộổỗơờớợởỡùúụủũưừứựửữỳýỵỷỹđ"

// commonVietnameseWords catches short unaccented-free inputs such as
// "cho toi xem" that still read as Vietnamese.
var commonVietnameseWords = map[string]struct{}{
	"của": {}, "và": {}, "là": {}, "có": {}, "được": {}, "không": {},
	"tôi": {}, "bạn": {}, "này": {}, "cho": {}, "với": {}, "để": {},
}

// DetectLanguage classifies text as Vietnamese or English.
func DetectLanguage(text string) Language {
	lower := strings.ToLower(text)
	marks := 0
	for _, r := range lower {
		if strings.ContainsRune(vietnameseMarks, r) {
			marks++
		}
		if marks >= 2 {
			return LanguageVietnamese
		}
	}
	words := 0
	for _, field := range strings.Fields(lower) {
		if _, ok := commonVietnameseWords[field]; ok {
			words++
		}
		if words >= 2 {
			return LanguageVietnamese
		}
	}
	if marks >= 1 && words >= 1 {
		return LanguageVietnamese
	}
	return LanguageEnglish
}
