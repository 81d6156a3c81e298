package fetch

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// служебные контейнеры, текст из которых читателю не нужен
var skipTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"nav":      {},
	"header":   {},
	"footer":   {},
	"aside":    {},
	"iframe":   {},
	"form":     {},
}

// блочные элементы, на границах которых ставим перенос строки
var blockTags = map[string]struct{}{
	"p": {}, "div": {}, "section": {}, "article": {},
	"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
	"li": {}, "tr": {}, "br": {}, "blockquote": {}, "pre": {},
}

// ExtractText достает видимый текст страницы: предпочитает article/main,
// иначе body, выкидывает скрипты и навигацию, схлопывает пробелы.
// maxLength считается в рунах, чтобы не резать CJK-текст посреди символа.
func ExtractText(data []byte, maxLength int) (string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	content := findContentRoot(root)
	if content == nil {
		content = root
	}

	var sb strings.Builder
	collectText(content, &sb)

	return Truncate(collapse(sb.String()), maxLength), nil
}

// findContentRoot ищет основной контейнер контента
func findContentRoot(root *html.Node) *html.Node {
	for _, tag := range []string{"article", "main", "body"} {
		if n := findElement(root, tag); n != nil {
			return n
		}
	}
	return nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *html.Node, sb *strings.Builder) {
	if n.Type == html.ElementNode {
		if _, skip := skipTags[n.Data]; skip {
			return
		}
	}
	if n.Type == html.TextNode {
		sb.WriteString(n.Data)
		sb.WriteByte(' ')
		return
	}

	_, block := blockTags[n.Data]
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, sb)
	}
	if n.Type == html.ElementNode && block {
		sb.WriteByte('\n')
	}
}

// collapse схлопывает пробелы внутри строк и пустые строки между ними
func collapse(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Truncate режет строку до max рун, не ломая многобайтовые символы.
func Truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
