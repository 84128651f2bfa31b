package audio

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// The extension sets are closed: anything else in a recording folder is
// ignored by the scanner.
var (
	audioExtensions      = []string{".wav", ".flac", ".mp3", ".ogg", ".amr"}
	transcriptExtensions = []string{".srt", ".txt", ".vtt", ".json", ".tsv"}

	audioSet      = extSet(audioExtensions)
	transcriptSet = extSet(transcriptExtensions)
)

// Recording basenames carry their capture time in one of two stamp forms,
// 20240506-100000 or 2024-05-06_10-00-00.
var stampPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{8}-\d{6}`),
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}_\d{2}-\d{2}-\d{2}`),
}

func extSet(exts []string) map[string]bool {
	m := make(map[string]bool, len(exts))
	for _, e := range exts {
		m[e] = true
	}
	return m
}

// Ext returns the lower-cased extension of name, dot included.
func Ext(name string) string {
	return strings.ToLower(filepath.Ext(name))
}

// Stem returns name with its extension removed.
func Stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// IsAudio reports whether ext is one of the recognised audio extensions.
func IsAudio(ext string) bool {
	return audioSet[strings.ToLower(ext)]
}

// IsTranscript reports whether ext is one of the recognised transcript
// extensions.
func IsTranscript(ext string) bool {
	return transcriptSet[strings.ToLower(ext)]
}

// Interesting reports whether name carries a recognised audio or transcript
// extension at all.
func Interesting(name string) bool {
	ext := Ext(name)
	return audioSet[ext] || transcriptSet[ext]
}

// Stamp extracts the capture timestamp token from a file name. ok is false
// when the name does not follow the recording convention.
func Stamp(name string) (string, bool) {
	for _, p := range stampPatterns {
		if m := p.FindString(name); m != "" {
			return m, true
		}
	}
	return "", false
}

// TranscriptSibling returns the path of the first transcript sharing path's
// stem that exists on disk. A sibling transcript means the recording is
// already transcribed, whoever produced it.
func TranscriptSibling(path string) (string, bool) {
	stem := Stem(path)
	for _, ext := range transcriptExtensions {
		if _, err := os.Stat(stem + ext); err == nil {
			return stem + ext, true
		}
	}
	return "", false
}

// HasFlacSibling reports whether a .flac sharing path's stem exists on disk.
func HasFlacSibling(path string) bool {
	_, err := os.Stat(Stem(path) + ".flac")
	return err == nil
}
