package textmetrics

import "strings"

// EditDistance returns the Levenshtein distance between a and b counted in
// runes. Only two rows sized by the shorter input are kept in memory.
func EditDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < len(rb) {
		ra, rb = rb, ra
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// Similarity is 1 - distance/maxLen in runes; two empty strings are identical.
func Similarity(a, b string) float64 {
	maxLen := max(len([]rune(a)), len([]rune(b)))
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(EditDistance(a, b))/float64(maxLen)
}

// CharacterErrorRate is distance/len(reference) in runes. An empty reference
// yields 0 when the hypothesis is also empty and 1 otherwise.
func CharacterErrorRate(reference, hypothesis string) float64 {
	refLen := len([]rune(reference))
	if refLen == 0 {
		if hypothesis == "" {
			return 0
		}
		return 1
	}
	return float64(EditDistance(reference, hypothesis)) / float64(refLen)
}

// WordMetrics is the word-level alignment between a reference and a hypothesis.
type WordMetrics struct {
	WordAccuracy          float64 `json:"word_accuracy" yaml:"word_accuracy"`
	WordErrorRate         float64 `json:"word_error_rate" yaml:"word_error_rate"`
	TotalWordsOriginal    int     `json:"total_words_original" yaml:"total_words_original"`
	TotalWordsTranscribed int     `json:"total_words_transcribed" yaml:"total_words_transcribed"`
	CorrectWords          int     `json:"correct_words" yaml:"correct_words"`
	Substitutions         int     `json:"substitutions" yaml:"substitutions"`
	Deletions             int     `json:"deletions" yaml:"deletions"`
	Insertions            int     `json:"insertions" yaml:"insertions"`
}

// CompareWords aligns whitespace separated words of both inputs and counts
// the edit operations of one minimal alignment.
func CompareWords(reference, hypothesis string) WordMetrics {
	orig := strings.Fields(reference)
	trans := strings.Fields(hypothesis)
	m, n := len(orig), len(trans)

	dp := make([][]int, m+1)
	for i := range dp {
		dp[i] = make([]int, n+1)
		dp[i][0] = i
	}
	for j := 0; j <= n; j++ {
		dp[0][j] = j
	}

	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if orig[i-1] == trans[j-1] {
				dp[i][j] = dp[i-1][j-1]
				continue
			}
			dp[i][j] = 1 + min(dp[i-1][j], dp[i][j-1], dp[i-1][j-1])
		}
	}

	wm := WordMetrics{
		TotalWordsOriginal:    m,
		TotalWordsTranscribed: n,
	}

	i, j := m, n
	for i > 0 || j > 0 {
		switch {
		case i > 0 && j > 0 && orig[i-1] == trans[j-1]:
			wm.CorrectWords++
			i--
			j--
		case i > 0 && j > 0 && dp[i][j] == dp[i-1][j-1]+1:
			wm.Substitutions++
			i--
			j--
		case i > 0 && dp[i][j] == dp[i-1][j]+1:
			wm.Deletions++
			i--
		default:
			wm.Insertions++
			j--
		}
	}

	if m > 0 {
		wm.WordErrorRate = float64(wm.Substitutions+wm.Deletions+wm.Insertions) / float64(m)
	}
	wm.WordAccuracy = 1.0 - wm.WordErrorRate

	return wm
}
