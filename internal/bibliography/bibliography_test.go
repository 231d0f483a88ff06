package bibliography

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/scholarsync/api/schemas"
)

const zoteroExport = "\ufeff\"Key\",\"Item Type\",\"Publication Year\",\"Author\",\"Title\"\n" +
	"\"K1\",\"journalArticle\",\"2017\",\"Vaswani, Ashish\",\"Attention Is All You Need\"\n" +
	"\"K2\",\"webpage\",\"2020\",\"Doe, Jane\",\"A Blog Post\"\n" +
	"\"K3\",\"conferencePaper\",\"2016\",\"He, Kaiming\",\"Deep Residual Learning, for Image Recognition\"\n" +
	"\"K1\",\"journalArticle\",\"2017\",\"Vaswani, Ashish\",\"Attention Is All You Need\"\n" +
	"\"K4\",\"thesis\",\"2019\",\"Roe, Richard\",\"\"\n" +
	"\"K5\",\"preprint\",\"2023\",\"Smith, Ann\",\"Quoted \"\"Title\"\"\"\n"

func TestRead(t *testing.T) {
	imp, err := Read(strings.NewReader(zoteroExport), schemas.DefaultAcceptedItemTypes)
	require.NoError(t, err)

	expected := []schemas.PaperRecord{
		{Key: "K1", Title: "Attention Is All You Need", ItemType: schemas.ItemJournalArticle},
		{Key: "K3", Title: "Deep Residual Learning, for Image Recognition", ItemType: schemas.ItemConferencePaper},
		{Key: "K5", Title: `Quoted "Title"`, ItemType: schemas.ItemPreprint},
	}
	if diff := cmp.Diff(expected, imp.Records); diff != "" {
		t.Errorf("records mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, imp.Ineligible)
	assert.Equal(t, 1, imp.Duplicates)
	assert.Equal(t, 1, imp.Blank)
}

func TestReadWithoutItemType(t *testing.T) {
	input := "Title,Key\nSome Web Page,W1\n"
	imp, err := Read(strings.NewReader(input), schemas.DefaultAcceptedItemTypes)
	require.NoError(t, err)
	require.Len(t, imp.Records, 1)
	assert.Equal(t, "W1", imp.Records[0].Key)
	assert.Equal(t, schemas.ItemType(""), imp.Records[0].ItemType)
}

func TestReadMissingColumns(t *testing.T) {
	testCases := map[string]string{
		"no key":   "Title,Item Type\nx,book\n",
		"no title": "Key,Item Type\nK,book\n",
		"empty":    "",
	}
	for name, input := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Read(strings.NewReader(input), nil)
			assert.ErrorIs(t, err, ErrMissingColumn)
		})
	}
}

func TestReadShortRows(t *testing.T) {
	input := "Key,Item Type,Title\nK1,book\nK2,book,Real Title\n"
	imp, err := Read(strings.NewReader(input), nil)
	require.NoError(t, err)
	require.Len(t, imp.Records, 1)
	assert.Equal(t, "K2", imp.Records[0].Key)
	assert.Equal(t, 1, imp.Blank)
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bibliography.csv")
	require.NoError(t, os.WriteFile(path, []byte(zoteroExport), 0o644))

	imp, err := ReadFile(path, schemas.DefaultAcceptedItemTypes)
	require.NoError(t, err)
	assert.Len(t, imp.Records, 3)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"), nil)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
