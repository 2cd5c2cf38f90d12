package conversation

import (
	"strconv"
	"strings"
	"time"
)

// Action is the patient's chosen intake action.
type Action string

const (
	ActionBook       Action = "book"
	ActionReschedule Action = "reschedule"
	ActionCancel     Action = "cancel"
	ActionWaitlist   Action = "waitlist"
	ActionHuman      Action = "human"
)

// accentReplacer folds the accented characters that show up in the intake
// vocabulary so "não" and "nao" parse the same.
var accentReplacer = strings.NewReplacer(
	"á", "a", "à", "a", "ã", "a", "â", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "õ", "o", "ô", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

// Normalize lowercases, trims, and folds accents for grammar matching.
func Normalize(text string) string {
	return accentReplacer.Replace(strings.ToLower(strings.TrimSpace(text)))
}

// actionVocabulary maps normalized tokens to actions. Covers the numeric
// menu, common verbs, and a couple of emoji patients actually send.
var actionVocabulary = map[string]Action{
	"1":         ActionBook,
	"agendar":   ActionBook,
	"marcar":    ActionBook,
	"consulta":  ActionBook,
	"agendamento": ActionBook,
	"📅":         ActionBook,

	"2":          ActionReschedule,
	"remarcar":   ActionReschedule,
	"reagendar":  ActionReschedule,
	"adiar":      ActionReschedule,
	"mudar":      ActionReschedule,

	"3":         ActionCancel,
	"cancelar":  ActionCancel,
	"desmarcar": ActionCancel,
	"❌":         ActionCancel,

	"4":        ActionWaitlist,
	"espera":   ActionWaitlist,
	"lista":    ActionWaitlist,
	"encaixe":  ActionWaitlist,

	"5":           ActionHuman,
	"atendente":   ActionHuman,
	"secretaria":  ActionHuman,
	"humano":      ActionHuman,
	"recepcao":    ActionHuman,
	"falar":       ActionHuman,
	"ajuda":       ActionHuman,
	"🙋":           ActionHuman,
}

// ParseAction maps free text to an intake action. Matching is token based:
// "quero marcar uma consulta" hits "marcar". Unrecognized input returns
// false and the caller re-prompts the menu.
func ParseAction(text string) (Action, bool) {
	normalized := Normalize(text)
	if action, ok := actionVocabulary[normalized]; ok {
		return action, true
	}
	for _, token := range strings.Fields(normalized) {
		if action, ok := actionVocabulary[token]; ok {
			return action, true
		}
	}
	return "", false
}

var affirmations = map[string]struct{}{
	"sim": {}, "s": {}, "ok": {}, "confirmo": {}, "confirmar": {},
	"claro": {}, "pode": {}, "isso": {}, "certo": {}, "quero": {},
	"👍": {}, "yes": {}, "1": {},
}

var negations = map[string]struct{}{
	"nao": {}, "n": {}, "negativo": {}, "cancelar": {}, "voltar": {},
	"errado": {}, "no": {}, "2": {}, "👎": {},
}

// ParseYesNo interprets an affirmative/negative answer. The second return
// is false when the text matches neither.
func ParseYesNo(text string) (yes bool, ok bool) {
	normalized := Normalize(text)
	if _, found := affirmations[normalized]; found {
		return true, true
	}
	if _, found := negations[normalized]; found {
		return false, true
	}
	for _, token := range strings.Fields(normalized) {
		if _, found := affirmations[token]; found {
			return true, true
		}
		if _, found := negations[token]; found {
			return false, true
		}
	}
	return false, false
}

// MatchOffer resolves the patient's reply against the list of offers just
// presented. Accepts a 1-based menu index or the literal offer value; any
// input outside the presented list is rejected so stale offers can never be
// accepted after availability changed.
func MatchOffer(text string, offers []string) (string, bool) {
	if len(offers) == 0 {
		return "", false
	}
	normalized := Normalize(text)
	normalized = strings.TrimPrefix(normalized, "#")

	if idx, err := strconv.Atoi(normalized); err == nil {
		if idx >= 1 && idx <= len(offers) {
			return offers[idx-1], true
		}
		return "", false
	}

	for _, offer := range offers {
		if normalized == Normalize(offer) || normalized == Normalize(FormatDay(offer)) {
			return offer, true
		}
	}
	return "", false
}

// FormatDay renders an ISO day ("2026-09-03") as the Brazilian short form
// ("03/09/2026"). Non-day values pass through unchanged so MatchOffer can
// call it on time offers too.
func FormatDay(iso string) string {
	day, err := time.Parse("2006-01-02", iso)
	if err != nil {
		return iso
	}
	return day.Format("02/01/2006")
}
