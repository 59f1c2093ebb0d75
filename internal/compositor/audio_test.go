package compositor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAudioGraphSilentBedOnly(t *testing.T) {
	g := NewGraph()
	out := buildAudioGraph(g, audioOptions{target: 8, narrationInput: -1, musicInput: -1})
	doc := g.String()

	// With no sources the bed itself is the mix; the output still carries
	// an audio track of the full target length.
	assert.Contains(t, doc, "anullsrc=channel_layout=stereo:sample_rate=44100")
	assert.Contains(t, doc, "atrim=duration=8.000")
	assert.NotContains(t, doc, "amix")
	assert.Equal(t, Stream("[abed0]"), out)
}

func TestAudioGraphNarrationOnly(t *testing.T) {
	g := NewGraph()
	buildAudioGraph(g, audioOptions{target: 10, narrationInput: 2, musicInput: -1})
	doc := g.String()

	assert.Contains(t, doc, "[2:a]")
	assert.Contains(t, doc, "apad")
	assert.Contains(t, doc, "amix=inputs=2:duration=first")
	assert.NotContains(t, doc, "sidechaincompress")
}

func TestAudioGraphMusicVolume(t *testing.T) {
	g := NewGraph()
	buildAudioGraph(g, audioOptions{target: 10, narrationInput: -1, musicInput: 3, musicVolume: 0.25})
	doc := g.String()

	assert.Contains(t, doc, "[3:a]")
	assert.Contains(t, doc, "volume=0.250")
	assert.Contains(t, doc, "aloop=loop=-1")
	assert.Contains(t, doc, "amix=inputs=2:duration=first")
}

func TestAudioGraphDucking(t *testing.T) {
	g := NewGraph()
	buildAudioGraph(g, audioOptions{target: 10, narrationInput: 2, musicInput: 3, musicVolume: 0.3, ducking: true})
	doc := g.String()

	assert.Contains(t, doc, "asplit=2")
	assert.Contains(t, doc, "sidechaincompress")
	assert.Contains(t, doc, "amix=inputs=3:duration=first")
}

func TestAudioGraphDuckingNeedsBothSources(t *testing.T) {
	// Ducking with no music to duck degrades to a plain narration mix.
	g := NewGraph()
	buildAudioGraph(g, audioOptions{target: 10, narrationInput: 2, musicInput: -1, ducking: true})
	doc := g.String()

	assert.NotContains(t, doc, "sidechaincompress")
	assert.False(t, strings.Contains(doc, "asplit"))
}

func TestAudioGraphBedIsFirstMixInput(t *testing.T) {
	// duration=first ties the mix length to the bed, which is trimmed to
	// the target; narration and music can never stretch the output.
	g := NewGraph()
	buildAudioGraph(g, audioOptions{target: 6, narrationInput: 0, musicInput: 1, musicVolume: 0.2})
	doc := g.String()

	mixChain := doc[strings.LastIndex(doc, ";")+1:]
	assert.True(t, strings.HasPrefix(mixChain, "[abed0]"))
	assert.Contains(t, mixChain, "duration=first")
}
