// Package scrape содержит общие помощники для HTML-скрейп бэкендов:
// обход дерева x/net/html, выбор узлов по тегу и классу, сбор текста.
package scrape

import (
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/html"
)

// MaxBodyBytes ограничивает чтение ответа поисковой выдачи.
const MaxBodyBytes = 1 << 20 // 1MB

// Node - алиас, чтобы бэкендам не импортировать x/net/html напрямую.
type Node = html.Node

// SetBrowserHeaders маскирует запрос под обычный браузер,
// иначе Bing/Baidu отдают урезанную или антибот-страницу.
func SetBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9,zh-CN;q=0.8,zh;q=0.7")
}

func ReadBody(body io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(body, MaxBodyBytes))
}

func Parse(data []byte) (*html.Node, error) {
	return html.Parse(strings.NewReader(string(data)))
}

// FindAll собирает узлы, удовлетворяющие match, в порядке обхода.
// limit <= 0 - без ограничения. Внутрь совпавшего узла не спускается.
func FindAll(root *html.Node, match func(*html.Node) bool, limit int) []*html.Node {
	var found []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if limit > 0 && len(found) >= limit {
			return
		}
		if match(n) {
			found = append(found, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

// Find возвращает первый подходящий узел или nil.
func Find(root *html.Node, match func(*html.Node) bool) *html.Node {
	nodes := FindAll(root, match, 1)
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// Element матчит элемент по тегу и подстроке в атрибуте class.
// classSubstr == "" - только по тегу.
func Element(tag, classSubstr string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != tag {
			return false
		}
		if classSubstr == "" {
			return true
		}
		return strings.Contains(Attr(n, "class"), classSubstr)
	}
}

func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// Text собирает весь видимый текст узла, схлопывая пробелы между фрагментами.
func Text(n *html.Node) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			collapsed := strings.Join(strings.Fields(n.Data), " ")
			if collapsed != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(collapsed)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
