package webguard

import (
	"errors"
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// ErrInvalidDescriptor is returned when a request descriptor is
// missing the fields analysis depends on. It is the only error the
// analysis path propagates to callers.
var ErrInvalidDescriptor = errors.New("webguard: invalid request descriptor")

// RequestDescriptor is the framework-agnostic view of one inbound
// request. The middleware builds it from a Fiber context; callers
// embedding the guard elsewhere can construct it directly.
type RequestDescriptor struct {
	Method    string
	Path      string
	Query     string
	Body      []byte
	UserAgent string
	SourceIP  string
	ActorID   string
	SessionID string
	Headers   map[string]string
}

// Validate checks the fields the aggregator cannot work without.
func (r *RequestDescriptor) Validate() error {
	if r == nil {
		return ErrInvalidDescriptor
	}
	if strings.TrimSpace(r.SourceIP) == "" {
		return ErrInvalidDescriptor
	}
	if net.ParseIP(r.SourceIP) == nil {
		return ErrInvalidDescriptor
	}
	if r.Path == "" {
		return ErrInvalidDescriptor
	}
	return nil
}

// URL returns path plus query, the string the pattern rules inspect.
func (r *RequestDescriptor) URL() string {
	if r.Query == "" {
		return r.Path
	}
	return r.Path + "?" + r.Query
}

// DescriptorFromFiber extracts a request descriptor from a Fiber
// context. Proxy headers win over the socket address, first hop of
// X-Forwarded-For the way the upstream proxies write it.
func DescriptorFromFiber(c *fiber.Ctx) *RequestDescriptor {
	ip := c.Get("X-Real-IP")
	if ip == "" {
		if fwd := c.Get("X-Forwarded-For"); fwd != "" {
			ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
	}
	if ip == "" {
		ip = c.IP()
	}
	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}
	return &RequestDescriptor{
		Method:    c.Method(),
		Path:      c.Path(),
		Query:     string(c.Request().URI().QueryString()),
		Body:      c.Body(),
		UserAgent: c.Get("User-Agent"),
		SourceIP:  ip,
		ActorID:   c.Get("X-User-ID"),
		SessionID: c.Get("X-Session-ID"),
		Headers:   headers,
	}
}
