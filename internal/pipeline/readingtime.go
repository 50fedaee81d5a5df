package pipeline

import "strings"

const wordsPerMinute = 200

// EstimateReadingTime returns the reading time in whole minutes for the
// given text, assuming 200 words per minute, minimum 1 for non-empty text.
func EstimateReadingTime(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	minutes := words / wordsPerMinute
	if minutes == 0 {
		return 1
	}
	return minutes
}
