package publisher

import (
	"strings"

	"github.com/hitoshi/crosspost/internal/model"
)

// BuildText は投稿本文、ハッシュタグ行、メンション行を空行区切りで連結する。
// ハッシュタグには "#"、メンションには "@" を付与する（既に付いている場合はそのまま）。
func BuildText(post *model.Post) string {
	sections := []string{post.Content}

	if len(post.Hashtags) > 0 {
		sections = append(sections, prefixAll(post.Hashtags, "#"))
	}
	if len(post.Mentions) > 0 {
		sections = append(sections, prefixAll(post.Mentions, "@"))
	}

	return strings.Join(sections, "\n\n")
}

func prefixAll(values []string, prefix string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !strings.HasPrefix(v, prefix) {
			v = prefix + v
		}
		out = append(out, v)
	}
	return strings.Join(out, " ")
}
