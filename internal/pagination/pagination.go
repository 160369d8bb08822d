// Package pagination 实现页码分页：解析 page/page_size，计算偏移，
// 并生成带前后页绝对链接的响应信封。
package pagination

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
)

const (
	PageParam     = "page"
	PageSizeParam = "page_size"
	// LastPage 作为 page 的取值时表示最后一页
	LastPage = "last"
)

// ErrInvalidPage 页码不是整数或超出范围
var ErrInvalidPage = errors.New("invalid page")

// Params 从查询参数解析出的分页请求
type Params struct {
	Page     int
	PageSize int
	Last     bool
}

// ParseParams 解析 page 与 page_size。
// page_size 非法或非正数时回退到 defaultSize，超过 maxSize 时截断；page 非法返回 ErrInvalidPage。
func ParseParams(q url.Values, defaultSize, maxSize int) (Params, error) {
	p := Params{Page: 1, PageSize: defaultSize}

	if raw := q.Get(PageSizeParam); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			p.PageSize = n
		}
	}
	if maxSize > 0 && p.PageSize > maxSize {
		p.PageSize = maxSize
	}

	raw := q.Get(PageParam)
	switch {
	case raw == "":
	case raw == LastPage:
		p.Last = true
	default:
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return Params{}, ErrInvalidPage
		}
		p.Page = n
	}
	return p, nil
}

// Page 已确定的一页
type Page struct {
	Number   int
	Size     int
	Total    int64
	NumPages int
}

// Resolve 结合总数确定页码；空表也有第 1 页
func Resolve(p Params, total int64) (Page, error) {
	size := p.PageSize
	if size < 1 {
		size = 1
	}
	numPages := int((total + int64(size) - 1) / int64(size))
	if numPages < 1 {
		numPages = 1
	}

	number := p.Page
	if p.Last {
		number = numPages
	}
	if number < 1 || number > numPages {
		return Page{}, ErrInvalidPage
	}
	return Page{Number: number, Size: size, Total: total, NumPages: numPages}, nil
}

func (p Page) Offset() int { return (p.Number - 1) * p.Size }

func (p Page) Limit() int { return p.Size }

func (p Page) HasNext() bool { return p.Number < p.NumPages }

func (p Page) HasPrevious() bool { return p.Number > 1 }

// Links 前后页链接，不存在时为 null
type Links struct {
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
}

// Envelope 列表响应
type Envelope[T any] struct {
	Links    Links `json:"links"`
	Count    int64 `json:"count"`
	PageSize int   `json:"page_size"`
	Results  []T   `json:"results"`
}

// NewEnvelope 基于请求的绝对地址生成信封；其余查询参数保持不变
func NewEnvelope[T any](requestURL *url.URL, p Page, results []T) Envelope[T] {
	if results == nil {
		results = []T{}
	}
	env := Envelope[T]{Count: p.Total, PageSize: p.Size, Results: results}
	if p.HasNext() {
		next := pageURL(requestURL, p.Number+1)
		env.Links.Next = &next
	}
	if p.HasPrevious() {
		prev := pageURL(requestURL, p.Number-1)
		env.Links.Previous = &prev
	}
	return env
}

// pageURL 替换 page 参数；第 1 页去掉 page
func pageURL(base *url.URL, number int) string {
	u := *base
	q := u.Query()
	if number <= 1 {
		q.Del(PageParam)
	} else {
		q.Set(PageParam, strconv.Itoa(number))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// RequestURL 还原请求的绝对地址；协议优先取 X-Forwarded-Proto
func RequestURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     r.Host,
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
}
