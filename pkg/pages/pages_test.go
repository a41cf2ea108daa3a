package pages

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mrhapile/wacz/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, content string) (*Supplied, []types.Warning) {
	t.Helper()
	s, warnings, err := ParseSupplied(strings.NewReader(content), "pages.jsonl")
	require.NoError(t, err)
	return s, warnings
}

func boolPtr(b bool) *bool { return &b }
func intPtr(i int) *int    { return &i }

func TestKey(t *testing.T) {
	k, err := Key("https://example.com/#top", "")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", k)

	k, err = Key("https://example.com/", "2020-10-07T21:22:36Z")
	require.NoError(t, err)
	assert.Equal(t, "20201007212236/https://example.com/", k)

	k, err = Key("https://example.com/", "20201007212236")
	require.NoError(t, err)
	assert.Equal(t, "20201007212236/https://example.com/", k)

	_, err = Key("https://example.com/", "not a time")
	assert.Error(t, err)
}

func TestCandidateKeys(t *testing.T) {
	assert.Equal(t, []string{
		"20201007212236/https://example.com/",
		"https://example.com/",
		"http://example.com/",
		"20201007212236/http://example.com/",
	}, candidateKeys("https://example.com/#frag", "2020-10-07T21:22:36Z"))

	assert.Equal(t, []string{"http://example.com/", "https://example.com/"}, candidateKeys("http://example.com/", ""))
	assert.Equal(t, []string{"ftp://example.com/"}, candidateKeys("ftp://example.com/", ""))
}

func TestParseSupplied(t *testing.T) {
	content := strings.Join([]string{
		`{"format": "json-pages-1.0", "id": "curated", "title": "My Pages"}`,
		`{"url": "https://example.com/", "title": "Home", "ts": "2020-10-07T21:22:36Z"}`,
		`not json`,
		"{\"url\": \"https://example.com/\xff\"}",
		`{"title": "no url"}`,
		``,
		`{"url": "https://example.com/about", "title": "About v1"}`,
		`{"url": "https://example.com/about#team", "title": "About v2"}`,
	}, "\n")

	s, warnings := parse(t, content)
	require.NotNil(t, s.Header)
	assert.Equal(t, "curated", s.Header.ID)
	assert.Equal(t, 2, s.Len())

	kinds := map[types.WarningKind]int{}
	for _, w := range warnings {
		kinds[w.Kind]++
	}
	assert.Equal(t, 3, kinds[types.WarnMalformedPage])
	assert.Equal(t, 1, kinds[types.WarnDuplicatePage])

	h := s.ListHeader(true)
	assert.Equal(t, types.PageListHeader{Format: Format, ID: "curated", Title: "My Pages", HasText: true}, h)

	t.Run("duplicate keys keep the last entry", func(t *testing.T) {
		p := types.Page{URL: "https://example.com/about"}
		require.True(t, s.Match(&p))
		assert.Equal(t, "About v2", p.Title)
	})

	t.Run("no header uses defaults", func(t *testing.T) {
		s, _ := parse(t, `{"url": "http://example.com/"}`)
		assert.Nil(t, s.Header)
		assert.Equal(t, Header(DefaultID, DefaultTitle, false), s.ListHeader(false))
	})

	t.Run("invalid first line is reported as a header warning", func(t *testing.T) {
		_, warnings := parse(t, "{broken\n{\"url\":\"http://a/\"}")
		require.NotEmpty(t, warnings)
		assert.Equal(t, types.WarnInvalidPageHeader, warnings[0].Kind)
		assert.Equal(t, "pages.jsonl:1", warnings[0].Subject)
	})
}

func TestReconcile(t *testing.T) {
	t.Run("fragment and scheme differences still merge", func(t *testing.T) {
		s, _ := parse(t, `{"url": "http://example.com/", "title": "Example", "id": "curated-1"}`)
		detected := []types.Page{{ID: "detected-1", URL: "https://example.com/#frag", LoadState: intPtr(4)}}

		res := Reconcile(detected, s)
		require.Len(t, res.Pages, 1)
		assert.Equal(t, "curated-1", res.Pages[0].ID)
		assert.Equal(t, "Example", res.Pages[0].Title)
		assert.Equal(t, "https://example.com/#frag", res.Pages[0].URL)
		assert.Equal(t, 4, *res.Pages[0].LoadState)
		assert.Empty(t, res.Unmatched)
		assert.Empty(t, res.Warnings)
	})

	t.Run("supplied ts is injected only when missing", func(t *testing.T) {
		s, _ := parse(t, strings.Join([]string{
			`{"url": "https://a.example/", "ts": "2021-01-01T00:00:00Z", "title": "A"}`,
			`{"url": "https://b.example/", "ts": "2021-01-01T00:00:00Z", "title": "B"}`,
		}, "\n"))
		detected := []types.Page{
			{URL: "https://a.example/"},
			{URL: "http://b.example/", TS: "2021-01-01T00:00:00.5Z"},
		}

		res := Reconcile(detected, s)
		require.Len(t, res.Pages, 2)
		assert.Equal(t, "2021-01-01T00:00:00Z", res.Pages[0].TS)
		assert.Equal(t, "A", res.Pages[0].Title)
		assert.Equal(t, "2021-01-01T00:00:00.5Z", res.Pages[1].TS)
		assert.Equal(t, "B", res.Pages[1].Title)
	})

	t.Run("page without ts takes timestamped entries in file order", func(t *testing.T) {
		s, _ := parse(t, strings.Join([]string{
			`{"url": "http://example.com/", "ts": "2021-01-02T00:00:00Z", "title": "Other scheme"}`,
			`{"url": "https://example.com/", "ts": "2021-01-03T00:00:00Z", "title": "Later"}`,
			`{"url": "https://example.com/", "ts": "2021-01-01T00:00:00Z", "title": "Earlier"}`,
		}, "\n"))
		detected := []types.Page{
			{URL: "https://example.com/"},
			{URL: "https://example.com/"},
			{URL: "https://example.com/"},
		}
		res := Reconcile(detected, s)
		require.Len(t, res.Pages, 3)
		assert.Equal(t, "Later", res.Pages[0].Title)
		assert.Equal(t, "2021-01-03T00:00:00Z", res.Pages[0].TS)
		assert.Equal(t, "Earlier", res.Pages[1].Title)
		assert.Equal(t, "Other scheme", res.Pages[2].Title)
		assert.Empty(t, res.Unmatched)
	})

	t.Run("untimestamped entry is tried before the other scheme", func(t *testing.T) {
		s, _ := parse(t, strings.Join([]string{
			`{"url": "http://example.com/", "ts": "2021-01-01T00:00:00Z", "title": "Timestamped http"}`,
			`{"url": "https://example.com/", "title": "Plain https"}`,
		}, "\n"))
		res := Reconcile([]types.Page{{URL: "https://example.com/", TS: "2021-01-01T00:00:00Z"}}, s)
		require.Len(t, res.Pages, 1)
		assert.Equal(t, "Plain https", res.Pages[0].Title)
		assert.Equal(t, []string{"20210101000000/http://example.com/"}, res.Unmatched)
	})

	t.Run("each supplied entry is consumed once", func(t *testing.T) {
		s, _ := parse(t, `{"url": "https://example.com/", "title": "Once"}`)
		detected := []types.Page{
			{URL: "https://example.com/"},
			{URL: "http://example.com/"},
		}
		res := Reconcile(detected, s)
		require.Len(t, res.Pages, 1)
		assert.Equal(t, "Once", res.Pages[0].Title)
	})

	t.Run("unmatched entries are warnings", func(t *testing.T) {
		s, _ := parse(t, strings.Join([]string{
			`{"url": "https://example.com/"}`,
			`{"url": "https://missing.example/", "ts": "2020-01-01T00:00:00Z"}`,
		}, "\n"))
		res := Reconcile([]types.Page{{URL: "https://example.com/"}}, s)
		assert.Len(t, res.Pages, 1)
		assert.Equal(t, []string{"20200101000000/https://missing.example/"}, res.Unmatched)
		require.Len(t, res.Warnings, 1)
		assert.Equal(t, types.WarnUnmatchedPage, res.Warnings[0].Kind)
	})

	t.Run("no supplied list keeps every detected page", func(t *testing.T) {
		detected := []types.Page{{URL: "https://a/"}, {URL: "https://b/"}}
		res := Reconcile(detected, nil)
		assert.Equal(t, detected, res.Pages)
	})
}

func TestSplitSeeds(t *testing.T) {
	all := []types.Page{
		{URL: "https://seed/", Seed: boolPtr(true)},
		{URL: "https://linked/", Seed: boolPtr(false)},
		{URL: "https://unflagged/"},
	}
	seeds, extra := SplitSeeds(all)
	assert.Len(t, seeds, 2)
	require.Len(t, extra, 1)
	assert.Equal(t, "https://linked/", extra[0].URL)
}

func TestListFileName(t *testing.T) {
	assert.Equal(t, "pages/crawl-1.jsonl", ListFileName("crawl-1"))

	reserved := ListFileName("pages")
	assert.NotEqual(t, DefaultPath, reserved)
	assert.Equal(t, reserved, ListFileName("pages"))
	assert.True(t, strings.HasPrefix(reserved, Dir))

	assert.NotEqual(t, ExtraPath, ListFileName("extraPages"))
	assert.NotContains(t, ListFileName("../escape"), "..")
	assert.NotContains(t, strings.TrimPrefix(ListFileName("a/b"), Dir), "/")
}

func TestValidate(t *testing.T) {
	valid := `{"format": "json-pages-1.0", "id": "pages"}` + "\n" +
		`{"url": "https://example.com/", "ts": "2020-10-07T21:22:36Z"}` + "\n\n"
	assert.NoError(t, Validate(strings.NewReader(valid), "pages.jsonl"))

	cases := map[string]string{
		"empty":           "",
		"header no id":    `{"format": "json-pages-1.0"}`,
		"page without ts": `{"format": "json-pages-1.0", "id": "p"}` + "\n" + `{"url": "https://example.com/"}`,
		"not json":        `{"format": "json-pages-1.0", "id": "p"}` + "\nnope",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			err := Validate(strings.NewReader(content), "pages.jsonl")
			var structErr *types.StructuralError
			require.ErrorAs(t, err, &structErr)
			assert.Equal(t, "pages.jsonl", structErr.Path)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		var structErr *types.StructuralError
		assert.ErrorAs(t, ValidateFile(filepath.Join(t.TempDir(), "absent.jsonl")), &structErr)
	})

	t.Run("file on disk", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pages.jsonl")
		require.NoError(t, os.WriteFile(path, []byte(valid), 0o644))
		assert.NoError(t, ValidateFile(path))
	})
}

func TestFilterJSONLines(t *testing.T) {
	lines, warnings, err := FilterJSONLines(strings.NewReader("{\"url\": \"a\"}\nbad\n\n[1,2]\n{\"url\":\"b\"}\n"), "extra.jsonl")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte(`{"url":"a"}`), []byte(`{"url":"b"}`)}, lines)
	require.Len(t, warnings, 2)
	assert.Equal(t, types.WarnInvalidExtraPage, warnings[0].Kind)
	assert.Equal(t, "extra.jsonl:2", warnings[0].Subject)
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Header(DefaultID, DefaultTitle, false), []types.Page{
		{ID: "1", URL: "https://example.com/?a=1&b=2", TS: "2020-10-07T21:22:36Z", Title: "Example"},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`{"format":"json-pages-1.0","id":"pages","title":"Pages"}`+"\n"+
			`{"id":"1","url":"https://example.com/?a=1&b=2","ts":"2020-10-07T21:22:36Z","title":"Example"}`+"\n",
		buf.String())
	assert.True(t, IsHeader(bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0]))

	t.Run("header only", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, Header(DefaultID, DefaultTitle, false), nil))
		assert.NoError(t, Validate(&buf, "pages.jsonl"))
	})
}
