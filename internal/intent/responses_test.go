package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"wattsup/internal/domain"
)

func TestDefaultResponseTable_CoversEveryIntent(t *testing.T) {
	table, err := DefaultResponseTable()
	require.NoError(t, err)
	require.NoError(t, table.Covers(domain.Intents()))

	for _, in := range domain.Intents() {
		text, ok := table.Lookup(in)
		require.True(t, ok, in)
		require.NotEmpty(t, text, in)
	}
}

func TestDefaultResponseTable_KeepsMultilineReplies(t *testing.T) {
	table, err := DefaultResponseTable()
	require.NoError(t, err)

	text, ok := table.Lookup(domain.IntentGeneralFAQ)
	require.True(t, ok)
	require.Contains(t, text, "\n- A kWh is the standard unit for measuring electricity usage.\n")
	require.False(t, strings.HasSuffix(text, "\n"))
}

func TestParseResponseTable_Rejects(t *testing.T) {
	full := "high_bill: a\nlow_bill: b\nenergy_tips: c\nac_tips: d\ngreeting: e\nthanks: f\ngeneral_faq: g\nunknown: h\n"

	_, err := ParseResponseTable([]byte(full))
	require.NoError(t, err)

	_, err = ParseResponseTable([]byte("high_bill: a\n"))
	require.ErrorContains(t, err, "missing replies for low_bill")

	_, err = ParseResponseTable([]byte(full + "weather: sunny\n"))
	require.ErrorContains(t, err, "unknown intent")

	_, err = ParseResponseTable([]byte(full + "thanks: \"  \"\n"))
	require.Error(t, err)

	_, err = ParseResponseTable([]byte("- not\n- a map\n"))
	require.ErrorContains(t, err, "decode response table")
}

func TestResponseTable_Covers(t *testing.T) {
	table := ResponseTable{replies: map[domain.Intent]string{domain.IntentGreeting: "hi"}}
	require.NoError(t, table.Covers([]domain.Intent{domain.IntentGreeting}))
	require.ErrorIs(t, table.Covers(domain.Intents()), ErrLabelTableMismatch)
}
