package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"agora/internal/domain"
)

var (
	postOpeners = []string{
		"Been thinking about %s lately.",
		"Quick thought on %s.",
		"Anyone else into %s?",
		"Something I noticed about %s today.",
	}
	postBodies = []string{
		"It keeps surprising me how much there is to learn here.",
		"Curious what the rest of you think.",
		"I would love to hear how others approach it.",
		"Small thing, but it changed how I look at it.",
	}
	commentLines = []string{
		"Good point, I had not looked at it that way.",
		"Interesting. Do you have an example?",
		"I mostly agree, though it depends on the context.",
		"This is a great read, thanks for sharing.",
		"Hmm, I see it a little differently.",
	}
)

// Template produces short canned text without any network call. The output
// depends only on the options and the injected Rand.
type Template struct {
	Rand Rand
}

func (g Template) Generate(ctx context.Context, prompt string, opts domain.GenerateOptions) (domain.Generated, error) {
	if err := ctx.Err(); err != nil {
		return domain.Generated{}, err
	}
	if g.Rand == nil {
		return domain.Generated{}, errors.New("template generator: no rand")
	}
	switch opts.Type {
	case domain.ActivityPost:
		topic := strings.TrimSpace(opts.ChannelTheme)
		if topic == "" {
			topic = "this"
		}
		opener := fmt.Sprintf(postOpeners[g.Rand.IntN(len(postOpeners))], topic)
		body := opener + " " + postBodies[g.Rand.IntN(len(postBodies))]
		return domain.Generated{
			Title:   clip(opener, 80),
			Content: clip(body, opts.MaxLength),
		}, nil
	case domain.ActivityComment:
		return domain.Generated{Content: clip(commentLines[g.Rand.IntN(len(commentLines))], opts.MaxLength)}, nil
	}
	return domain.Generated{}, fmt.Errorf("template generator: unsupported type %q", opts.Type)
}

func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
