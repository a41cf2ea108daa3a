package cdx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/mrhapile/wacz/pkg/hashing"
	"github.com/mrhapile/wacz/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSURT(t *testing.T) {
	cases := map[string]string{
		"http://example.com/":                   "com,example)/",
		"https://www.Example.com/Path?b=2&a=1":  "com,example)/path?a=1&b=2",
		"http://example.com":                    "com,example)/",
		"http://example.com:80/x":               "com,example)/x",
		"https://example.com:8443/x":            "com,example:8443)/x",
		"https://sub.example.co.uk/a#frag":      "uk,co,example,sub)/a",
		"http://127.0.0.1:8080/":                "127.0.0.1:8080)/",
		"urn:pageinfo:https://example.com/":     "urn:pageinfo:https://example.com/",
		"urn:text:HTTPS://example.com/":         "urn:text:https://example.com/",
		"https://webrecorder.net/about/?x=y%20z": "net,webrecorder)/about/?x=y%20z",
	}
	for in, want := range cases {
		t.Run(in, func(t *testing.T) {
			assert.Equal(t, want, SURT(in))
		})
	}
}

func TestTimestamps(t *testing.T) {
	ts, err := TimestampFromISO("2020-10-07T21:22:36Z")
	require.NoError(t, err)
	assert.Equal(t, "20201007212236", ts)

	ts, err = TimestampFromISO("2020-10-07T21:22:36.123456Z")
	require.NoError(t, err)
	assert.Equal(t, "20201007212236", ts)

	ts, err = TimestampFromISO("20201007212236")
	require.NoError(t, err)
	assert.Equal(t, "20201007212236", ts)

	ts, err = TimestampFromISO("2020")
	require.NoError(t, err)
	assert.Equal(t, "20200101000000", ts)

	iso, err := ISOFromTimestamp("20201007212236")
	require.NoError(t, err)
	assert.Equal(t, "2020-10-07T21:22:36Z", iso)

	assert.Equal(t, "20240102030405", Timestamp(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)))

	_, err = TimestampFromISO("yesterday")
	assert.Error(t, err)
}

func TestLineRoundTrip(t *testing.T) {
	rec := types.CDXRecord{
		SURT:      "com,example)/?a=1&b=2",
		Timestamp: "20201007212236",
		URL:       "https://example.com/?b=2&a=1",
		Mime:      "text/html",
		Status:    200,
		Digest:    "sha1:ABC",
		Length:    1043,
		Offset:    512,
		Filename:  "data.warc.gz",
		Extra:     map[string]json.RawMessage{"referrer": json.RawMessage(`"https://example.com/"`)},
	}

	line, err := FormatLine(rec)
	require.NoError(t, err)
	assert.Equal(t,
		`com,example)/?a=1&b=2 20201007212236 {"url":"https://example.com/?b=2&a=1","mime":"text/html","status":"200","digest":"sha1:ABC","length":"1043","offset":"512","filename":"data.warc.gz","referrer":"https://example.com/"}`,
		string(line))

	got, err := ParseLine(append(line, '\n'))
	require.NoError(t, err)
	assert.Equal(t, rec, got)

	t.Run("numeric fields written as numbers are accepted", func(t *testing.T) {
		got, err := ParseLine([]byte(`com,example)/ 20200101000000 {"url":"http://example.com/","offset":12,"length":"34","status":"-","filename":"a.warc"}`))
		require.NoError(t, err)
		assert.Equal(t, types.NumString(12), got.Offset)
		assert.Equal(t, types.NumString(34), got.Length)
		assert.Equal(t, types.NumString(0), got.Status)
	})

	t.Run("flat lines write offset and length as numbers", func(t *testing.T) {
		line, err := FormatFlatLine(rec)
		require.NoError(t, err)
		assert.Equal(t,
			`com,example)/?a=1&b=2 20201007212236 {"url":"https://example.com/?b=2&a=1","mime":"text/html","status":"200","digest":"sha1:ABC","length":1043,"offset":512,"filename":"data.warc.gz","referrer":"https://example.com/"}`,
			string(line))

		got, err := ParseLine(line)
		require.NoError(t, err)
		assert.Equal(t, rec, got)
	})

	t.Run("malformed lines", func(t *testing.T) {
		for _, bad := range []string{"", "onlykey", "key ts", "key ts notjson", `key ts {"url":`} {
			_, err := ParseLine([]byte(bad))
			assert.Error(t, err, bad)
		}
	})
}

func TestSort(t *testing.T) {
	recs := []types.CDXRecord{
		{SURT: "com,example)/b", Timestamp: "2", URL: "first-b"},
		{SURT: "com,example)/a", Timestamp: "3"},
		{SURT: "com,example)/a", Timestamp: "1"},
		{SURT: "com,example)/b", Timestamp: "2", URL: "second-b"},
	}
	Sort(recs)
	assert.Equal(t, "com,example)/a", recs[0].SURT)
	assert.Equal(t, "1", recs[0].Timestamp)
	assert.Equal(t, "3", recs[1].Timestamp)
	assert.Equal(t, "first-b", recs[2].URL)
	assert.Equal(t, "second-b", recs[3].URL)
}

func testRecords(n int) []types.CDXRecord {
	recs := make([]types.CDXRecord, n)
	for i := range recs {
		u := fmt.Sprintf("https://example.com/page/%02d", i)
		recs[i] = types.CDXRecord{
			SURT:      SURT(u),
			Timestamp: "20240101000000",
			URL:       u,
			Mime:      "text/html",
			Status:    200,
			Length:    types.NumString(100 + i),
			Offset:    types.NumString(i * 1000),
			Filename:  "capture.warc",
		}
	}
	return recs
}

func TestIndexWriter(t *testing.T) {
	var out bytes.Buffer
	iw, err := NewIndexWriter(&out, 2, hashing.SHA256)
	require.NoError(t, err)

	recs := testRecords(5)
	for _, r := range recs {
		require.NoError(t, iw.Write(r))
	}
	require.NoError(t, iw.Close())
	assert.Equal(t, 5, iw.Records())

	entries := iw.Entries()
	require.Len(t, entries, 3)

	t.Run("entries address independent gzip blocks", func(t *testing.T) {
		var next int64
		for i, e := range entries {
			assert.Equal(t, next, e.Offset)
			assert.Equal(t, recs[i*2].SURT, e.SURT)

			block := out.Bytes()[e.Offset : e.Offset+e.Length]
			digest, err := hashing.DigestBytes(hashing.SHA256, block)
			require.NoError(t, err)
			assert.Equal(t, digest, e.Digest)

			gz, err := gzip.NewReader(bytes.NewReader(block))
			require.NoError(t, err)
			gz.Multistream(false)
			plain, err := io.ReadAll(gz)
			require.NoError(t, err)
			first, err := ParseLine(bytes.SplitN(plain, []byte("\n"), 2)[0])
			require.NoError(t, err)
			assert.Equal(t, recs[i*2].URL, first.URL)

			next += e.Length
		}
		assert.Equal(t, int64(out.Len()), next)
	})

	t.Run("reader streams every record back", func(t *testing.T) {
		r, err := NewReader(bytes.NewReader(out.Bytes()))
		require.NoError(t, err)
		defer r.Close()

		var got []types.CDXRecord
		for {
			rec, err := r.Next()
			if err == io.EOF {
				break
			}
			require.NoError(t, err)
			got = append(got, rec)
		}
		assert.Equal(t, recs, got)
	})

	t.Run("idx lists a meta header and every block", func(t *testing.T) {
		var idx bytes.Buffer
		require.NoError(t, WriteIDX(&idx, "index.cdx.gz", entries))
		assert.Contains(t, idx.String(), `!meta 0 {"format":"cdxj-gzip-1.0","filename":"index.cdx.gz"}`+"\n")

		meta, parsed, err := ReadIDX(&idx)
		require.NoError(t, err)
		assert.Equal(t, IndexFormat, meta.Format)
		assert.Equal(t, entries, parsed)
	})

	t.Run("write after close", func(t *testing.T) {
		var stateErr *types.StateError
		assert.ErrorAs(t, iw.Write(recs[0]), &stateErr)
	})
}

func TestIndexWriterRejectsUnsortedInput(t *testing.T) {
	iw, err := NewIndexWriter(io.Discard, 0, hashing.SHA256)
	require.NoError(t, err)
	recs := testRecords(2)
	require.NoError(t, iw.Write(recs[1]))
	assert.Error(t, iw.Write(recs[0]))
}

func TestIndexWriterEmpty(t *testing.T) {
	var out bytes.Buffer
	iw, err := NewIndexWriter(&out, 0, hashing.SHA256)
	require.NoError(t, err)
	require.NoError(t, iw.Close())
	assert.Zero(t, out.Len())
	assert.Empty(t, iw.Entries())
}
