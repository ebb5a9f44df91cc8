package fragments

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gabrielmiguelok/questkit/pkg/quest"
	"github.com/gabrielmiguelok/questkit/pkg/wizard"
)

func TestSection_ParsesForEveryTemplate(t *testing.T) {
	r := New()
	store := quest.DefaultStore()

	for _, ft := range store.Types() {
		tmpl, err := store.Get(ft)
		require.NoError(t, err)

		out, err := r.Section(tmpl)
		require.NoError(t, err, ft.String())

		v, err := wizard.ParseView(out)
		require.NoError(t, err, ft.String())
		assert.Equal(t, tmpl.Parts(), v.TotalParts(), ft.String())
		assert.Len(t, v.Fields(), tmpl.Len(), ft.String())

		for _, f := range tmpl.Fields() {
			fv := v.Field(f.ID)
			require.NotNil(t, fv, f.ID)
			assert.Equal(t, f.Part, fv.Part().Index())
			assert.Equal(t, f.Section(), fv.Part().Key())
		}
		for _, p := range v.Parts() {
			assert.True(t, p.HasTooltip(), "part %d tooltip", p.Index())
		}
	}
}

func TestSection_Cached(t *testing.T) {
	r := New()
	tmpl, _ := quest.DefaultStore().Get(quest.Lite)

	a, err := r.Section(tmpl)
	require.NoError(t, err)
	b, err := r.Section(tmpl)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSection_MinWordsHint(t *testing.T) {
	tmpl, _ := quest.DefaultStore().Get(quest.Simple)

	out, err := New(WithMinWords(40)).Section(tmpl)
	require.NoError(t, err)
	assert.Contains(t, out, "Minimum: 0/40 words")
	assert.Equal(t, 1, strings.Count(out, `type="submit"`))
}

func TestByName(t *testing.T) {
	r := New()
	store := quest.DefaultStore()

	out, err := r.ByName(store, quest.ElaborateFragment)
	require.NoError(t, err)
	assert.Contains(t, out, `data-key="Past Experiences"`)

	_, err = r.ByName(store, "missing.html")
	assert.ErrorIs(t, err, quest.ErrNoTemplate)
}
