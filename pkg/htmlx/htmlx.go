// Package htmlx 提供基于 golang.org/x/net/html 的节点遍历工具：标题、链接、表格、图片。
package htmlx

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Image 是页面里的一张图片。
type Image struct {
	URL string
	Alt string
}

// Parse 解析 HTML 文档。
func Parse(body []byte) (*html.Node, error) {
	return html.Parse(bytes.NewReader(body))
}

// Walk 深度优先遍历，fn 返回 false 时不再进入该节点的子节点。
func Walk(n *html.Node, fn func(*html.Node) bool) {
	if !fn(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		Walk(c, fn)
	}
}

// Attr 返回属性值。
func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Title 返回第一个 <title> 的文本，没有时返回空串。
func Title(doc *html.Node) string {
	var title string
	Walk(doc, func(n *html.Node) bool {
		if title != "" {
			return false
		}
		if n.Type == html.ElementNode && n.Data == "title" {
			title = strings.TrimSpace(Text(n))
			return false
		}
		return true
	})
	return title
}

// Text 拼接节点下所有文本，忽略 script/style，空白压缩为单个空格。
func Text(n *html.Node) string {
	var b strings.Builder
	Walk(n, func(node *html.Node) bool {
		if node.Type == html.ElementNode && (node.Data == "script" || node.Data == "style" || node.Data == "noscript") {
			return false
		}
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteByte(' ')
		}
		return true
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

// Resolve 把 href 解析为绝对地址并去掉 fragment。
func Resolve(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "javascript:") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "tel:") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := ref
	if base != nil {
		abs = base.ResolveReference(ref)
	}
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), true
}

// Links 返回所有 <a href> 的绝对地址，保持文档顺序，不去重。
func Links(doc *html.Node, base *url.URL) []string {
	var links []string
	Walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "a" {
			if href, ok := Attr(n, "href"); ok {
				if abs, ok := Resolve(base, href); ok {
					links = append(links, abs)
				}
			}
		}
		return true
	})
	return links
}

// Images 返回所有 <img src> 的绝对地址与 alt 文本。
func Images(doc *html.Node, base *url.URL) []Image {
	var images []Image
	Walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "img" {
			src, _ := Attr(n, "src")
			if abs, ok := Resolve(base, src); ok && !strings.HasPrefix(src, "data:") {
				alt, _ := Attr(n, "alt")
				images = append(images, Image{URL: abs, Alt: strings.TrimSpace(alt)})
			}
		}
		return true
	})
	return images
}

// Tables 返回每个 <table> 的行，行内是 td/th 的文本。嵌套表格单独计入。
func Tables(doc *html.Node) [][][]string {
	var tables [][][]string
	Walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "table" {
			if rows := tableRows(n); len(rows) > 0 {
				tables = append(tables, rows)
			}
		}
		return true
	})
	return tables
}

func tableRows(table *html.Node) [][]string {
	var rows [][]string
	Walk(table, func(n *html.Node) bool {
		if n != table && n.Type == html.ElementNode && n.Data == "table" {
			return false
		}
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
					cells = append(cells, Text(c))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return false
		}
		return true
	})
	return rows
}
