package subtitles

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reelforge/renderd/internal/media"
	"github.com/reelforge/renderd/internal/templates"
)

func testStyle() templates.CaptionStyle {
	return templates.CaptionStyle{
		FontName:        "Arial",
		FontSize:        64,
		PrimaryColour:   "&H00FFFFFF",
		HighlightColour: "&H0000D7FF",
		OutlineColour:   "&H00000000",
		MarginV:         160,
		MaxWordsPerLine: 3,
	}
}

func TestCompileEmptyInputMeansNoSubtitles(t *testing.T) {
	c := NewCompiler(testStyle(), 1080, 1920)

	path, err := c.Compile(Input{}, t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestCompileKaraokeGroupsWordsIntoLines(t *testing.T) {
	words := []media.WordTiming{
		{Word: "one", Start: 0.0, End: 0.4},
		{Word: "two", Start: 0.4, End: 0.8},
		{Word: "three", Start: 0.8, End: 1.2},
		{Word: "four", Start: 1.2, End: 1.6},
	}
	c := NewCompiler(testStyle(), 1080, 1920)

	path, err := c.Compile(Input{Words: words}, t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)

	// One dialogue event per word.
	assert.Equal(t, 4, strings.Count(doc, "Dialogue:"))
	// First line holds three words, the fourth starts a new line by itself.
	assert.Contains(t, doc, "{\\c&H0000D7FF}one{\\c&H00FFFFFF} two three")
	assert.Contains(t, doc, "one {\\c&H0000D7FF}two{\\c&H00FFFFFF} three")
	assert.Contains(t, doc, "{\\c&H0000D7FF}four{\\c&H00FFFFFF}")
	assert.NotContains(t, doc, "three four")
}

func TestCompileKaraokeWindowsAbutNextWordStart(t *testing.T) {
	// "one" stops speaking at 0.3 but "two" starts at 0.5; the highlight on
	// "one" must hold until 0.5 so there is no unhighlighted gap.
	words := []media.WordTiming{
		{Word: "one", Start: 0.0, End: 0.3},
		{Word: "two", Start: 0.5, End: 0.9},
	}
	c := NewCompiler(testStyle(), 1080, 1920)

	path, err := c.Compile(Input{Words: words}, t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)

	assert.Contains(t, doc, "Dialogue: 0,0:00:00.00,0:00:00.50,")
	assert.Contains(t, doc, "Dialogue: 0,0:00:00.50,0:00:00.90,")
}

func TestCompileDirectLines(t *testing.T) {
	lines := []media.LineTiming{
		{Text: "Hello there", Start: 0, End: 2},
		{Text: "", Start: 2, End: 3},        // dropped: empty
		{Text: "Backwards", Start: 5, End: 4}, // dropped: inverted window
		{Text: "And goodbye", Start: 2, End: 4.5},
	}
	c := NewCompiler(testStyle(), 1080, 1920)

	path, err := c.Compile(Input{Lines: lines}, t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)

	assert.Equal(t, 2, strings.Count(doc, "Dialogue:"))
	assert.Contains(t, doc, "Hello there")
	assert.Contains(t, doc, "0:00:02.00,0:00:04.50")
}

func TestCompileWordsTakePriorityOverLines(t *testing.T) {
	c := NewCompiler(testStyle(), 1080, 1920)

	path, err := c.Compile(Input{
		Words: []media.WordTiming{{Word: "spoken", Start: 0, End: 1}},
		Lines: []media.LineTiming{{Text: "typed", Start: 0, End: 1}},
	}, t.TempDir())
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Contains(t, string(data), "spoken")
	assert.NotContains(t, string(data), "typed")
}

func TestCompileFromSRT(t *testing.T) {
	srt := "1\n00:00:00,000 --> 00:00:02,500\nFirst cue\nsecond row\n\n2\n00:00:03,000 --> 00:00:04,000\nSecond cue\n"
	dir := t.TempDir()
	srtPath := filepath.Join(dir, "import.srt")
	require.NoError(t, os.WriteFile(srtPath, []byte(srt), 0o644))

	c := NewCompiler(testStyle(), 1080, 1920)
	path, err := c.Compile(Input{SRTPath: srtPath}, dir)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc := string(data)

	assert.Contains(t, doc, "First cue\\Nsecond row")
	assert.Contains(t, doc, "0:00:00.00,0:00:02.50")
	assert.Contains(t, doc, "Second cue")
}

func TestParseSRTRejectsInvertedCue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.srt")
	require.NoError(t, os.WriteFile(path, []byte("1\n00:00:05,000 --> 00:00:01,000\nOops\n"), 0o644))

	_, err := ParseSRT(path)
	assert.ErrorContains(t, err, "ends before it starts")
}

func TestAssTimeFormatting(t *testing.T) {
	assert.Equal(t, "0:00:00.00", assTime(0))
	assert.Equal(t, "0:01:05.25", assTime(65.25))
	assert.Equal(t, "1:00:00.00", assTime(3600))
	assert.Equal(t, "0:00:00.00", assTime(-2))
}
