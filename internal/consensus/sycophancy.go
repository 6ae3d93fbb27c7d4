package consensus

import "strings"

// sycophancyMarkers is the closed set of opener phrases that flag a
// challenger response as agreement rather than critique. Matching is
// substring-based, so a marker buried inside genuine rebuttal text within
// the opening window still trips the detector; keep the list in sync with
// the dissent-filtering docs before changing it.
var sycophancyMarkers = []string{
	"great answer",
	"excellent analysis",
	"good point",
	"spot on",
	"nothing to add",
	"well reasoned",
	"solid work",
	"beautiful",
	"i agree",
	"correct",
	"you are right",
	"overall your answer",
	"the answer is good",
	"nice work",
}

// sycophancyWindow bounds how far into the response markers are searched.
const sycophancyWindow = 200

// IsSycophantic reports whether a challenge opens with agreement instead of
// critique. The check lowercases the content, strips leading whitespace, and
// looks for any marker within the first 200 characters.
func IsSycophantic(content string) bool {
	window := strings.ToLower(strings.TrimLeft(content, " \t\r\n"))
	if runes := []rune(window); len(runes) > sycophancyWindow {
		window = string(runes[:sycophancyWindow])
	}
	for _, marker := range sycophancyMarkers {
		if strings.Contains(window, marker) {
			return true
		}
	}
	return false
}
