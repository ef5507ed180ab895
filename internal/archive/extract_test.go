package archive

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"sitehost/internal/domain"
)

func buildZip(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		require.NoError(t, err)
		if !strings.HasSuffix(name, "/") {
			_, err = f.Write([]byte(files[name]))
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func paths(entries []domain.ArchiveEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestExtractStripsSharedRoot(t *testing.T) {
	data := buildZip(t, map[string]string{
		"site/index.html": "<h1>hi</h1>",
		"site/css/a.css":  "body{}",
	}, "site/", "site/index.html", "site/css/", "site/css/a.css")

	entries, err := Extract(data, Limits{})
	require.NoError(t, err)
	require.Equal(t, []string{"index.html", "css/a.css"}, paths(entries))
	require.Equal(t, "<h1>hi</h1>", string(entries[0].Content))
}

func TestExtractMixedRootsUnchanged(t *testing.T) {
	data := buildZip(t, map[string]string{
		"a.html":            "a",
		"folder/b.html":     "b",
		"folder/index.html": "i",
	}, "a.html", "folder/b.html", "folder/index.html")

	entries, err := Extract(data, Limits{})
	require.NoError(t, err)
	require.Equal(t, []string{"a.html", "folder/b.html", "folder/index.html"}, paths(entries))
}

func TestExtractTwoTopLevelFoldersUnchanged(t *testing.T) {
	data := buildZip(t, map[string]string{
		"one/index.html": "1",
		"two/page.html":  "2",
	}, "one/index.html", "two/page.html")

	entries, err := Extract(data, Limits{})
	require.NoError(t, err)
	require.Equal(t, []string{"one/index.html", "two/page.html"}, paths(entries))
}

func TestExtractRequiresEntryPoint(t *testing.T) {
	data := buildZip(t, map[string]string{
		"site/home.html":         "x",
		"site/notindex.html":     "y",
		"site/index.html.backup": "z",
	}, "site/home.html", "site/notindex.html", "site/index.html.backup")

	_, err := Extract(data, Limits{})
	require.ErrorIs(t, err, ErrMissingEntryPoint)
}

func TestExtractEntryPointCaseInsensitive(t *testing.T) {
	data := buildZip(t, map[string]string{"Site/INDEX.HTML": "x"}, "Site/INDEX.HTML")

	entries, err := Extract(data, Limits{})
	require.NoError(t, err)
	require.Equal(t, []string{"INDEX.HTML"}, paths(entries))
}

func TestExtractSkipsMacOSMetadata(t *testing.T) {
	data := buildZip(t, map[string]string{
		"site/index.html":            "x",
		"__MACOSX/site/._index.html": "junk",
	}, "site/index.html", "__MACOSX/site/._index.html")

	entries, err := Extract(data, Limits{})
	require.NoError(t, err)
	require.Equal(t, []string{"index.html"}, paths(entries))
}

func TestExtractRejectsUnsafePaths(t *testing.T) {
	data := buildZip(t, map[string]string{
		"index.html":     "x",
		"../../etc/evil": "y",
	}, "index.html", "../../etc/evil")

	_, err := Extract(data, Limits{})
	require.ErrorIs(t, err, ErrUnsafePath)
}

func TestExtractRejectsGarbage(t *testing.T) {
	_, err := Extract([]byte("not a zip"), Limits{})
	require.ErrorIs(t, err, ErrInvalidArchive)
}

func TestExtractLimits(t *testing.T) {
	data := buildZip(t, map[string]string{
		"index.html": strings.Repeat("a", 64),
		"b.css":      strings.Repeat("b", 64),
	}, "index.html", "b.css")

	_, err := Extract(data, Limits{MaxEntries: 1})
	require.ErrorIs(t, err, ErrArchiveTooLarge)

	_, err = Extract(data, Limits{MaxUncompressedBytes: 100})
	require.ErrorIs(t, err, ErrArchiveTooLarge)

	entries, err := Extract(data, Limits{MaxEntries: 2, MaxUncompressedBytes: 128})
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestCommonRoot(t *testing.T) {
	require.Equal(t, "site/", CommonRoot([]string{"site/index.html", "site/a/b.css"}))
	require.Equal(t, "", CommonRoot([]string{"site/index.html", "index.html"}))
	require.Equal(t, "", CommonRoot([]string{"a/index.html", "b/index.html"}))
	require.Equal(t, "", CommonRoot(nil))
}

func TestCleanPath(t *testing.T) {
	clean, err := CleanPath("css\\./main.css")
	require.NoError(t, err)
	require.Equal(t, "css/main.css", clean)

	for _, bad := range []string{"", ".", "/etc/passwd", "../secret", "a/../../b"} {
		_, err := CleanPath(bad)
		require.ErrorIs(t, err, ErrUnsafePath, bad)
	}
}
