package agent

import (
	"strings"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/textnorm"
)

type commandKind int

const (
	cmdNone commandKind = iota
	cmdHelp
	cmdCancel
	cmdRestart
	cmdEdit
	cmdSkip
)

type command struct {
	kind  commandKind
	field domain.Step
}

func normalizedSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[textnorm.Normalize(w)] = true
	}
	return set
}

var (
	helpWords    = normalizedSet("help", "مساعدة", "مساعده", "ساعدني", "الأوامر")
	cancelWords  = normalizedSet("cancel", "إلغاء", "الغاء", "ألغ", "الغي", "إلغاء الإعلان")
	restartWords = normalizedSet("restart", "start", "من جديد", "ابدأ", "ابدا من جديد", "ابدأ من جديد", "إعلان جديد")
	skipWords    = normalizedSet("skip", "تخطي", "تخطى", "تجاوز", "بدون", "لا يوجد")
	editWords    = normalizedSet("edit", "change", "تعديل", "عدل", "غير", "تغيير")

	affirmativeWords = normalizedSet("yes", "y", "ok", "okay", "confirm", "publish", "sure",
		"نعم", "ايوه", "أيوه", "ايوا", "اي", "أجل", "اكيد", "أكيد", "تمام", "موافق", "انشر", "نشر", "صح", "طيب")
	negativeWords = normalizedSet("no", "not", "لا", "كلا", "لأ", "مش", "خطأ", "غلط")
	greetingWords = normalizedSet("hi", "hello", "hey", "مرحبا", "مرحباً", "اهلا", "أهلاً", "السلام", "عليكم",
		"السلام عليكم", "صباح", "مساء", "الخير", "هلا")
)

// fieldNames maps field names a user may type to steps. English step names
// are always accepted.
var fieldNames = []struct {
	step  domain.Step
	names []string
}{
	{domain.StepTitle, []string{"العنوان", "عنوان", "الاسم"}},
	{domain.StepDescription, []string{"الوصف", "وصف", "التفاصيل"}},
	{domain.StepCity, []string{"المدينة", "مدينة", "المنطقة", "الحي", "district"}},
	{domain.StepCategory, []string{"القسم", "الفئة", "التصنيف", "النوع"}},
	{domain.StepCurrency, []string{"العملة", "عملة"}},
	{domain.StepPrice, []string{"السعر", "سعر", "الثمن", "المبلغ"}},
	{domain.StepPhone, []string{"رقم الجوال", "رقم الهاتف", "الجوال", "الهاتف", "الرقم", "رقم", "تلفون", "mobile", "number"}},
	{domain.StepImages, []string{"الصور", "صور", "الصورة", "photos", "pictures"}},
	{domain.StepLocation, []string{"الموقع", "موقع", "اللوكيشن", "map"}},
}

// fieldFromText returns the first field named in normalized text.
func fieldFromText(normalized string) (domain.Step, bool) {
	for _, tok := range strings.Fields(normalized) {
		if s, ok := domain.ParseStep(tok); ok && s.IsField() {
			return s, true
		}
	}
	for _, f := range fieldNames {
		for _, n := range f.names {
			if textnorm.ContainsPhrase(normalized, textnorm.Normalize(n)) {
				return f.step, true
			}
		}
	}
	return "", false
}

// parseCommand recognizes a command in normalized text. Commands must be
// the whole message, except edit which takes a field name.
func parseCommand(normalized string) (command, bool) {
	if normalized == "" {
		return command{}, false
	}
	switch {
	case helpWords[normalized]:
		return command{kind: cmdHelp}, true
	case cancelWords[normalized]:
		return command{kind: cmdCancel}, true
	case restartWords[normalized]:
		return command{kind: cmdRestart}, true
	case skipWords[normalized]:
		return command{kind: cmdSkip}, true
	}

	tokens := strings.Fields(normalized)
	if !editWords[tokens[0]] {
		return command{}, false
	}
	rest := strings.Join(tokens[1:], " ")
	if rest == "" {
		return command{kind: cmdEdit}, true
	}
	field, ok := fieldFromText(rest)
	if !ok || len(tokens) > 4 {
		// "غير مستعمل" is a description, not an edit request.
		return command{}, false
	}
	return command{kind: cmdEdit, field: field}, true
}

func allIn(set map[string]bool, normalized string) bool {
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !set[t] {
			return false
		}
	}
	return true
}

func isAffirmative(normalized string) bool {
	return affirmativeWords[normalized] || allIn(affirmativeWords, normalized)
}

func isNegative(normalized string) bool {
	tokens := strings.Fields(normalized)
	return len(tokens) > 0 && negativeWords[tokens[0]]
}

// isChatter reports whether the message carries no listing content: yes/no
// answers, greetings and similar.
func isChatter(normalized string) bool {
	tokens := strings.Fields(normalized)
	if len(tokens) == 0 {
		return true
	}
	for _, t := range tokens {
		if !affirmativeWords[t] && !negativeWords[t] && !greetingWords[t] {
			return false
		}
	}
	return true
}
