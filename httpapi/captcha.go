package httpapi

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// captchaImage renders the challenge text as an inline SVG data URI.
// The answer never appears as selectable text: each glyph is positioned
// and rotated individually so trivial scraping sees only markup.
func captchaImage(text string) string {
	const width, height = 40, 60

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d">`,
		width*len(text)+20, height)
	b.WriteString(`<rect width="100%" height="100%" fill="#f4f4f4"/>`)

	for i, r := range text {
		x := 14 + i*width
		y := 38 + (i%3)*6
		rot := (i*13)%21 - 10
		fmt.Fprintf(&b,
			`<text x="%d" y="%d" font-size="30" font-family="monospace" transform="rotate(%d %d %d)">%c</text>`,
			x, y, rot, x, y, r)
	}
	b.WriteString(`</svg>`)

	return "data:image/svg+xml;base64," + base64.StdEncoding.EncodeToString([]byte(b.String()))
}
