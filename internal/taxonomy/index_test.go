package taxonomy

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []Entry {
	return []Entry{
		{ID: 1, Label: "Senior Software Engineer"},
		{ID: 2, Label: "Software Developer"},
		{ID: 3, Label: "Data Engineer"},
		{ID: 4, Label: "Sales Manager"},
		{ID: 5, Label: "Data Scientist"},
		{ID: 6, Label: "Software Engineer"},
	}
}

func TestBuildIndexAndExactQuery(t *testing.T) {
	idx, err := BuildIndex(sampleEntries())
	require.NoError(t, err)
	assert.Equal(t, 6, idx.Size())

	// 与参考条目完全一致的查询应拿到接近1的余弦相似度
	m := idx.Query("Software Engineer")
	assert.Equal(t, 6, m.ID)
	assert.InDelta(t, 1.0, m.Confidence, 1e-9)
	assert.Equal(t, "Software Engineer", m.Label)
}

func TestQueryIsCaseAndPunctuationInsensitive(t *testing.T) {
	idx, err := BuildIndex(sampleEntries())
	require.NoError(t, err)

	upper := idx.Query("SOFTWARE ENGINEER")
	messy := idx.Query("  software,, engineer!! ")
	assert.Equal(t, upper.ID, messy.ID)
	assert.InDelta(t, upper.Confidence, messy.Confidence, 1e-9)
}

func TestQueryNoOverlapReturnsZeroConfidence(t *testing.T) {
	idx, err := BuildIndex(sampleEntries())
	require.NoError(t, err)

	m := idx.Query("плотник")
	assert.Equal(t, 0.0, m.Confidence)
}

func TestQueryTopKOrdering(t *testing.T) {
	idx, err := BuildIndex(sampleEntries())
	require.NoError(t, err)

	matches := idx.QueryTopK("software engineer", 3)
	require.NotEmpty(t, matches)
	assert.LessOrEqual(t, len(matches), 3)
	for i := 1; i < len(matches); i++ {
		assert.GreaterOrEqual(t, matches[i-1].Confidence, matches[i].Confidence)
	}
	assert.Equal(t, 6, matches[0].ID)

	assert.Nil(t, idx.QueryTopK("software engineer", 0))
}

func TestBuildIndexEmptyDataset(t *testing.T) {
	_, err := BuildIndex(nil)
	assert.ErrorIs(t, err, ErrEmptyDataset)

	// 清洗后全空的条目同样视为空数据集
	_, err = BuildIndex([]Entry{{ID: 1, Label: "!!!"}, {ID: 2, Label: "   "}})
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestSnapshotRoundTrip(t *testing.T) {
	idx, err := BuildIndex(sampleEntries())
	require.NoError(t, err)

	data, err := idx.EncodeSnapshot()
	require.NoError(t, err)
	require.NotEmpty(t, data)

	restored, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, idx.Size(), restored.Size())

	orig := idx.Query("data scientist")
	back := restored.Query("data scientist")
	assert.Equal(t, orig.ID, back.ID)
	assert.InDelta(t, orig.Confidence, back.Confidence, 1e-12)
}

func TestDecodeSnapshotCorrupt(t *testing.T) {
	_, err := DecodeSnapshot([]byte("not a gob payload"))
	assert.ErrorIs(t, err, ErrBadSnapshot)

	_, err = DecodeSnapshot(nil)
	assert.ErrorIs(t, err, ErrBadSnapshot)
}

func TestLoadEntriesCSV(t *testing.T) {
	csvData := `profession_name,profession_id
Software Engineer,1
Data Scientist,2
,3
BadID,abc
Fallback Bucket,40
Sales Manager,4
`
	entries, err := LoadEntriesCSV(strings.NewReader(csvData), 40)
	require.NoError(t, err)

	// 表头、空名称、非数字ID、兜底ID的行都被跳过
	require.Len(t, entries, 3)
	assert.Equal(t, Entry{ID: 1, Label: "Software Engineer"}, entries[0])
	assert.Equal(t, Entry{ID: 2, Label: "Data Scientist"}, entries[1])
	assert.Equal(t, Entry{ID: 4, Label: "Sales Manager"}, entries[2])
}

func TestLoadEntriesCSVAllRowsUnusable(t *testing.T) {
	_, err := LoadEntriesCSV(strings.NewReader("name,id\n,abc\n"), 40)
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "senior c/c engineer", Normalize("  Senior C/C++ Engineer!!  "))
	assert.Equal(t, "front-end developer", Normalize("Front-End   Developer"))
	assert.Equal(t, "", Normalize("!!! ..."))
}

func TestTokenizeBigrams(t *testing.T) {
	terms := tokenize("data platform engineer")
	assert.Contains(t, terms, "data")
	assert.Contains(t, terms, "engineer")
	assert.Contains(t, terms, "data platform")
	assert.Contains(t, terms, "platform engineer")
	assert.Len(t, terms, 5)

	assert.Nil(t, tokenize(""))
}
