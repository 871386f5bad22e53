package feed

import (
	"regexp"

	"github.com/samber/lo"
)

var hashtagRe = regexp.MustCompile(`#[^\s#]+`)

// Hashtags returns the distinct hashtags of content in order of first
// appearance. A hashtag is '#' followed by a run of characters that are
// neither whitespace nor '#'.
func Hashtags(content string) []string {
	return lo.Uniq(hashtagRe.FindAllString(content, -1))
}
