package tavily

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/scrivenerhq/scrivener/internal/pipeline"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
}

// Two recognized video platforms. Links in other formats are dropped
// silently; that is accepted behavior, not a defect.
var videoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`https?://(?:www\.)?youtube\.com/watch\?v=[\w-]+`),
	regexp.MustCompile(`https?://youtu\.be/[\w-]+`),
	regexp.MustCompile(`https?://(?:www\.)?vimeo\.com/\d+`),
}

// normalize partitions raw results into web/image/video categories.
// Image results are URLs with a recognized image extension; video
// results are pattern-matched out of the result URL and text and
// deduplicated by URL.
func normalize(results []rawResult) pipeline.SearchResults {
	var out pipeline.SearchResults
	seenVideos := make(map[string]struct{})

	for _, r := range results {
		switch {
		case isImageURL(r.URL):
			out.Images = append(out.Images, pipeline.Source{
				Title:    r.Title,
				URL:      r.URL,
				Category: pipeline.CategoryImage,
			})
		case matchVideoURL(r.URL) != "":
			addVideo(&out, seenVideos, r.Title, matchVideoURL(r.URL))
		default:
			out.Web = append(out.Web, pipeline.Source{
				Title:    r.Title,
				URL:      r.URL,
				Summary:  r.Content,
				Category: pipeline.CategoryWeb,
			})
		}

		for _, pattern := range videoPatterns {
			for _, match := range pattern.FindAllString(r.Content, -1) {
				addVideo(&out, seenVideos, r.Title, match)
			}
		}
	}
	return out
}

func addVideo(out *pipeline.SearchResults, seen map[string]struct{}, title, videoURL string) {
	if _, dup := seen[videoURL]; dup {
		return
	}
	seen[videoURL] = struct{}{}
	out.Videos = append(out.Videos, pipeline.Source{
		Title:    title,
		URL:      videoURL,
		Category: pipeline.CategoryVideo,
	})
}

func isImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	for ext := range imageExtensions {
		if strings.HasSuffix(path, ext) {
			return true
		}
	}
	return false
}

func matchVideoURL(raw string) string {
	for _, pattern := range videoPatterns {
		if match := pattern.FindString(raw); match != "" {
			return match
		}
	}
	return ""
}
