package agent

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ashureev/souq-assistant/internal/domain"
	"github.com/ashureev/souq-assistant/internal/kb"
)

var stepPrompts = map[domain.Step]string{
	domain.StepTitle:       "ما هو عنوان إعلانك؟ مثال: تويوتا كامري 2015 للبيع",
	domain.StepDescription: "اكتب وصفاً مختصراً للغرض: الحالة والمواصفات وأي تفاصيل مهمة.",
	domain.StepCity:        "في أي مدينة يوجد الغرض؟ يمكنك ذكر الحي أيضاً.",
	domain.StepCategory:    "ما هو قسم الإعلان؟ مثل: سيارات، عقارات، جوالات، أثاث.",
	domain.StepPrice:       "كم السعر؟ مثال: 5000 دولار أو 2 مليون ريال.",
	domain.StepCurrency:    "ما العملة؟ ريال يمني أو دولار أو ريال سعودي.",
	domain.StepPhone:       "ما رقم الجوال للتواصل؟ مثال: 771234567",
	domain.StepImages:      "أرسل روابط صور الإعلان (حتى 10 صور)، أو اكتب تخطي.",
	domain.StepLocation:    "شارك موقع الغرض أو رابط خرائط جوجل، أو اكتب تخطي.",
}

var stepLabels = map[domain.Step]string{
	domain.StepTitle:       "العنوان",
	domain.StepDescription: "الوصف",
	domain.StepCity:        "المدينة",
	domain.StepCategory:    "القسم",
	domain.StepPrice:       "السعر",
	domain.StepCurrency:    "العملة",
	domain.StepPhone:       "رقم الجوال",
	domain.StepImages:      "الصور",
	domain.StepLocation:    "الموقع",
}

var currencyLabels = map[domain.Currency]string{
	domain.CurrencyYER: "ريال يمني",
	domain.CurrencyUSD: "دولار",
	domain.CurrencySAR: "ريال سعودي",
}

const (
	msgWelcome        = "أهلاً بك! سأساعدك في إنشاء إعلانك خطوة بخطوة."
	msgNotUnderstood  = "عذراً، لم أفهم رسالتك."
	msgInvalidPhone   = "رقم الجوال غير صحيح. يجب أن يكون رقماً يمنياً من 9 أرقام يبدأ بـ 70 أو 71 أو 73 أو 77 أو 78."
	msgCancelled      = "تم إلغاء المسودة. اكتب أي رسالة للبدء من جديد."
	msgRestarted      = "بدأنا مسودة جديدة."
	msgRequiredStep   = "هذا الحقل مطلوب ولا يمكن تخطيه."
	msgSkipped        = "تم التخطي."
	msgConfirmAsk     = "هل تريد نشر الإعلان؟ اكتب نعم للنشر، أو لا مع اسم الحقل لتعديله."
	msgPublishFailed  = "تعذر نشر الإعلان حالياً. حاول مرة أخرى بعد قليل."
	msgRateLimited    = "وصلت إلى الحد المسموح من الطلبات. حاول مرة أخرى بعد %d ثانية."
	msgPublishedFmt   = "تم نشر إعلانك بنجاح! رقم الإعلان: %s"
	msgSavedFmt       = "تم حفظ: %s."
	msgEditFmt        = "حسناً، لنعدل %s."
	msgTooManyImages  = "يمكن إضافة 10 صور كحد أقصى، تم حفظ أول 10."
	msgHelp           = "أرسل معلومات إعلانك بحرية وسأستخرج الحقول تلقائياً. الأوامر المتاحة: مساعدة، إلغاء، من جديد، تخطي (للصور والموقع)، تعديل <الحقل> مثل: تعديل السعر."
	msgChooseEditable = "أي حقل تريد تعديله؟ "
)

// NextPrompt returns the question asked at step.
func NextPrompt(step domain.Step) string {
	if p, ok := stepPrompts[step]; ok {
		return p
	}
	if step == domain.StepConfirm {
		return msgConfirmAsk
	}
	return stepPrompts[domain.StepTitle]
}

// StepLabel returns the Arabic display name of a field step.
func StepLabel(step domain.Step) string {
	if l, ok := stepLabels[step]; ok {
		return l
	}
	return string(step)
}

func formatPrice(amount float64, c domain.Currency) string {
	s := strconv.FormatFloat(amount, 'f', -1, 64)
	if intPart, frac, ok := strings.Cut(s, "."); ok {
		s = groupThousands(intPart) + "." + frac
	} else {
		s = groupThousands(s)
	}
	if label, ok := currencyLabels[c]; ok {
		return s + " " + label
	}
	return s
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// DraftSummary renders the draft for confirmation.
func DraftSummary(d *domain.Draft, catalog *kb.Catalog) string {
	var b strings.Builder
	b.WriteString("ملخص إعلانك:\n")
	line := func(label, value string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&b, "• %s: %s\n", label, value)
	}
	line(StepLabel(domain.StepTitle), d.Title)
	line(StepLabel(domain.StepDescription), d.Description)
	place := d.City
	if d.District != "" {
		place = d.City + " - " + d.District
	}
	line(StepLabel(domain.StepCity), place)
	if d.Category != "" {
		line(StepLabel(domain.StepCategory), catalog.CategoryName(d.Category))
	}
	if d.Price != nil {
		line(StepLabel(domain.StepPrice), formatPrice(*d.Price, d.Currency))
	}
	line(StepLabel(domain.StepPhone), d.Phone)
	switch {
	case len(d.Images) > 0:
		line(StepLabel(domain.StepImages), strconv.Itoa(len(d.Images)))
	case d.IsSkipped(domain.StepImages):
		line(StepLabel(domain.StepImages), "بدون صور")
	}
	switch {
	case d.Location != nil:
		line(StepLabel(domain.StepLocation), fmt.Sprintf("%.5f, %.5f", d.Location.Lat, d.Location.Lng))
	case d.IsSkipped(domain.StepLocation):
		line(StepLabel(domain.StepLocation), "بدون موقع")
	}
	b.WriteString(msgConfirmAsk)
	return b.String()
}

func editableFields() string {
	labels := make([]string, 0, len(domain.StepOrder))
	for _, s := range domain.StepOrder {
		if s.IsField() {
			labels = append(labels, StepLabel(s))
		}
	}
	return msgChooseEditable + strings.Join(labels, "، ")
}

func savedLine(changed []domain.Step) string {
	if len(changed) == 0 {
		return ""
	}
	labels := make([]string, 0, len(changed))
	seen := make(map[domain.Step]bool, len(changed))
	for _, s := range changed {
		if !seen[s] {
			seen[s] = true
			labels = append(labels, StepLabel(s))
		}
	}
	return fmt.Sprintf(msgSavedFmt, strings.Join(labels, "، "))
}

func joinReply(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
