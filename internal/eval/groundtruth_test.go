package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vintagevision/vintagevision/internal/model"
)

func TestCorpus(t *testing.T) {
	items := testCorpus(t)
	require.Len(t, items, 50)

	perDomain := map[string]int{}
	for _, it := range items {
		perDomain[it.Expected.Domain]++
		assert.NotEmpty(t, it.Expected.NameKeywords, it.ID)
		assert.LessOrEqual(t, it.Expected.Era.Start, it.Expected.Era.End, it.ID)
		assert.LessOrEqual(t, it.Expected.Value.Low, it.Expected.Value.High, it.ID)
	}
	assert.Len(t, perDomain, 10)
	for d, n := range perDomain {
		assert.Equal(t, 5, n, d)
	}

	furn, ok := FindItem(items, "furn-001")
	require.True(t, ok)
	assert.Equal(t, "Eames Lounge Chair", furn.Expected.Name)
	assert.Equal(t, model.YearRange{Start: 1956, End: 2026}, furn.Expected.Era)
	assert.Equal(t, model.ValueRange{Low: 3000, High: 8000, Currency: "USD"}, furn.Expected.Value)
	assert.Equal(t, model.DifficultyEasy, furn.Difficulty)
}

func TestParseCorpus_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "items: [",
		"missing id":   "items:\n  - image: a.jpg\n    expected: {name: A, domain: art}\n",
		"duplicate id": "items:\n  - {id: a, image: a.jpg, expected: {name: A, domain: art}}\n  - {id: a, image: b.jpg, expected: {name: B, domain: art}}\n",
		"no image":     "items:\n  - {id: a, expected: {name: A, domain: art}}\n",
		"no name":      "items:\n  - {id: a, image: a.jpg, expected: {domain: art}}\n",
		"no domain":    "items:\n  - {id: a, image: a.jpg, expected: {name: A}}\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCorpus([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParseCorpus_DefaultDifficulty(t *testing.T) {
	items, err := ParseCorpus([]byte("items:\n  - {id: a, image: a.jpg, expected: {name: A, domain: art}}\n"))
	require.NoError(t, err)
	assert.Equal(t, model.DifficultyMedium, items[0].Difficulty)
}

func TestSmokeSample(t *testing.T) {
	items := testCorpus(t)

	sample := SmokeSample(items, 10)
	require.Len(t, sample, 10)
	domains := map[string]bool{}
	for _, it := range sample {
		domains[it.Expected.Domain] = true
	}
	assert.Len(t, domains, 10)
	assert.Equal(t, sample, SmokeSample(items, 10))
	assert.Equal(t, "art-001", sample[0].ID)

	twelve := SmokeSample(items, 12)
	require.Len(t, twelve, 12)
	assert.Equal(t, sample, twelve[:10])
	assert.Equal(t, "art-002", twelve[10].ID)

	assert.Len(t, SmokeSample(items, 80), 50)
	assert.Nil(t, SmokeSample(items, 0))
}
