package conversation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		name     string
		message  string
		expected Action
		ok       bool
	}{
		{"menu number book", "1", ActionBook, true},
		{"verb book", "agendar", ActionBook, true},
		{"verb in sentence", "quero marcar uma consulta", ActionBook, true},
		{"reschedule", "remarcar", ActionReschedule, true},
		{"reschedule accented", "preciso reagendar", ActionReschedule, true},
		{"cancel", "Cancelar", ActionCancel, true},
		{"cancel sentence", "quero desmarcar minha consulta", ActionCancel, true},
		{"waitlist", "lista de espera", ActionWaitlist, true},
		{"waitlist number", "4", ActionWaitlist, true},
		{"human", "falar com a secretária", ActionHuman, true},
		{"human accent folded", "secretaria", ActionHuman, true},
		{"human emoji", "🙋", ActionHuman, true},
		{"unrecognized", "qual o endereço da clínica?", "", false},
		{"empty", "", "", false},
		{"out of range number", "9", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action, ok := ParseAction(tt.message)
			assert.Equal(t, tt.ok, ok, "message: %s", tt.message)
			if tt.ok {
				assert.Equal(t, tt.expected, action)
			}
		})
	}
}

func TestParseYesNo(t *testing.T) {
	tests := []struct {
		message string
		yes     bool
		ok      bool
	}{
		{"sim", true, true},
		{"SIM", true, true},
		{"pode confirmar", true, true},
		{"ok", true, true},
		{"👍", true, true},
		{"não", false, true},
		{"nao", false, true},
		{"n", false, true},
		{"melhor voltar", false, true},
		{"talvez", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			yes, ok := ParseYesNo(tt.message)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.yes, yes)
			}
		})
	}
}

func TestMatchOffer(t *testing.T) {
	days := []string{"2026-09-03", "2026-09-04", "2026-09-07"}
	times := []string{"09:00", "10:00"}

	t.Run("index selection", func(t *testing.T) {
		day, ok := MatchOffer("2", days)
		assert.True(t, ok)
		assert.Equal(t, "2026-09-04", day)
	})

	t.Run("hash index", func(t *testing.T) {
		day, ok := MatchOffer("#1", days)
		assert.True(t, ok)
		assert.Equal(t, "2026-09-03", day)
	})

	t.Run("literal ISO day", func(t *testing.T) {
		day, ok := MatchOffer("2026-09-07", days)
		assert.True(t, ok)
		assert.Equal(t, "2026-09-07", day)
	})

	t.Run("brazilian format day", func(t *testing.T) {
		day, ok := MatchOffer("03/09/2026", days)
		assert.True(t, ok)
		assert.Equal(t, "2026-09-03", day)
	})

	t.Run("literal time", func(t *testing.T) {
		timeOfDay, ok := MatchOffer("10:00", times)
		assert.True(t, ok)
		assert.Equal(t, "10:00", timeOfDay)
	})

	t.Run("time not offered is rejected", func(t *testing.T) {
		_, ok := MatchOffer("14:00", times)
		assert.False(t, ok)
	})

	t.Run("index out of range", func(t *testing.T) {
		_, ok := MatchOffer("5", days)
		assert.False(t, ok)
	})

	t.Run("empty offers", func(t *testing.T) {
		_, ok := MatchOffer("1", nil)
		assert.False(t, ok)
	})
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "nao", Normalize(" NÃO "))
	assert.Equal(t, "coracao", Normalize("Coração"))
}

func TestFormatDay(t *testing.T) {
	assert.Equal(t, "03/09/2026", FormatDay("2026-09-03"))
	assert.Equal(t, "09:00", FormatDay("09:00"))
}
