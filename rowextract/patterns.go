package rowextract

import (
	"regexp"
	"strings"

	"github.com/hazyhaar/snatch/internal/fold"
)

// Time, date and weekday labels shown in the right-hand corner of a row.
// Matched against folded text, so accents are already gone.
var timeLine = regexp.MustCompile(`^(?:` +
	`\d{1,2}[:.]\d{2}(?:\s?[ap]\.?\s?m\.?)?` +
	`|\d{1,2}[/.-]\d{1,2}[/.-]\d{2,4}` +
	`|yesterday|today|ayer|hoy|anteayer|ontem|hoje|hier|aujourd'hui|gestern|heute|ieri|oggi` +
	`|sunday|monday|tuesday|wednesday|thursday|friday|saturday` +
	`|domingo|lunes|martes|miercoles|jueves|viernes|sabado` +
	`|segunda-feira|terca-feira|quarta-feira|quinta-feira|sexta-feira` +
	`|dimanche|lundi|mardi|mercredi|jeudi|vendredi|samedi` +
	`|sonntag|montag|dienstag|mittwoch|donnerstag|freitag|samstag` +
	`|domenica|lunedi|martedi|mercoledi|giovedi|venerdi|sabato` +
	`)$`)

var leadingTime = regexp.MustCompile(`^\d{1,2}[:.]\d{2}(?:\s?[ap]\.?\s?m\.?)?\s+`)

// IsTime reports whether line is a time, date or weekday label.
func IsTime(line string) bool {
	return timeLine.MatchString(fold.String(line))
}

var (
	phoneShape = regexp.MustCompile(`^\+?\d{7,15}$`)
	phoneToken = regexp.MustCompile(`\+?\d[\d\s().-]{5,20}\d`)
	phoneStrip = strings.NewReplacer(" ", "", "\u00a0", "", "-", "", "(", "", ")", "", ".", "")
)

// phoneOf returns s stripped of separators when it has the shape of a
// phone number, else "".
func phoneOf(s string) string {
	p := phoneStrip.Replace(strings.TrimSpace(s))
	if phoneShape.MatchString(p) {
		return p
	}
	return ""
}

// findPhone scans free text for a phone-shaped token.
func findPhone(s string) string {
	for _, tok := range phoneToken.FindAllString(s, -1) {
		if p := phoneOf(tok); p != "" {
			return p
		}
	}
	return ""
}

// DefaultDenylist holds UI chrome labels that render like rows but are not
// contacts.
var DefaultDenylist = []string{
	"archived", "archivados", "archivado", "arquivadas", "arquivados", "archivees", "archiviert", "archiviate",
	"broadcast lists", "listas de difusion",
	"starred messages", "mensajes destacados", "destacados", "mensagens favoritas",
	"settings", "ajustes", "configuracion", "configuracoes", "parametres", "einstellungen", "impostazioni",
	"search", "buscar", "pesquisar", "rechercher", "suchen",
	"new chat", "nuevo chat", "nova conversa", "nouvelle discussion",
	"new group", "nuevo grupo", "novo grupo",
	"communities", "comunidades", "communautes",
	"channels", "canales", "canais",
	"unread", "no leidos", "nao lidas",
	"status", "estados",
	"whatsapp",
}
