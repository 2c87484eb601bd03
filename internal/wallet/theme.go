package wallet

import (
	"fmt"
	"strconv"
	"strings"

	"rewardjar/internal/progress"
)

const (
	ExpiredColor   = "rgb(220, 38, 38)"
	CompletedColor = "rgb(16, 185, 129)"
	DefaultColor   = "rgb(55, 65, 81)"
	ForegroundText = "rgb(255, 255, 255)"
	LabelText      = "rgb(229, 231, 235)"
)

type Theme struct {
	Background string `json:"background"`
	Foreground string `json:"foreground"`
	Label      string `json:"label"`
	State      string `json:"state"`
}

// ThemeFor picks the pass colors. Expired cards are red and completed cards
// green regardless of branding; otherwise the template color wins over the
// business brand color.
func ThemeFor(in Input) Theme {
	t := Theme{Foreground: ForegroundText, Label: LabelText, State: string(in.Progress.State())}
	switch in.Progress.State() {
	case progress.StateExpired:
		t.Background = ExpiredColor
	case progress.StateCompleted:
		t.Background = CompletedColor
	default:
		t.Background = DefaultColor
		for _, c := range []string{in.Template.CardColor, in.Business.BrandColor} {
			if rgb, ok := HexToRGB(c); ok {
				t.Background = rgb
				break
			}
		}
	}
	return t
}

// HexToRGB converts "#rrggbb" or "#rgb" into "rgb(r, g, b)".
func HexToRGB(hex string) (string, bool) {
	h := strings.TrimPrefix(strings.TrimSpace(hex), "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return "", false
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("rgb(%d, %d, %d)", v>>16&0xff, v>>8&0xff, v&0xff), true
}
