// Package sip implements the minimal SIP user agent the gate needs: UDP
// transport, registration with digest auth, and an answering machine for
// inbound INVITEs. It is deliberately not a general-purpose stack; only the
// message subset exercised by registrar interop is supported.
package sip

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Method string

const (
	MethodInvite   Method = "INVITE"
	MethodAck      Method = "ACK"
	MethodBye      Method = "BYE"
	MethodCancel   Method = "CANCEL"
	MethodRegister Method = "REGISTER"
	MethodOptions  Method = "OPTIONS"
)

const protoVersion = "SIP/2.0"

var (
	ErrMalformedMessage = errors.New("sip: malformed message")
	ErrNotSIP           = errors.New("sip: not a sip message")
)

type headerField struct {
	name  string
	value string
}

// message holds ordered headers plus body, shared by requests and responses.
// Header order is preserved on render; SIP proxies care about Via ordering.
type message struct {
	headers []headerField
	Body    []byte
}

// Get returns the first value of the named header ("" when absent).
// Header name comparison is case-insensitive per RFC 3261.
func (m *message) Get(name string) string {
	for _, h := range m.headers {
		if strings.EqualFold(h.name, name) {
			return h.value
		}
	}
	return ""
}

// Values returns all values of the named header in order.
func (m *message) Values(name string) []string {
	var out []string
	for _, h := range m.headers {
		if strings.EqualFold(h.name, name) {
			out = append(out, h.value)
		}
	}
	return out
}

// Set replaces the first occurrence of the named header, appending when absent.
func (m *message) Set(name, value string) {
	for i, h := range m.headers {
		if strings.EqualFold(h.name, name) {
			m.headers[i].value = value
			return
		}
	}
	m.headers = append(m.headers, headerField{name: name, value: value})
}

// Add appends a header occurrence.
func (m *message) Add(name, value string) {
	m.headers = append(m.headers, headerField{name: name, value: value})
}

// Del removes all occurrences of the named header.
func (m *message) Del(name string) {
	out := m.headers[:0]
	for _, h := range m.headers {
		if !strings.EqualFold(h.name, name) {
			out = append(out, h)
		}
	}
	m.headers = out
}

type Request struct {
	message
	Method Method
	URI    string
}

type Response struct {
	message
	StatusCode int
	Reason     string
}

func (r *Response) IsProvisional() bool { return r.StatusCode >= 100 && r.StatusCode < 200 }
func (r *Response) IsSuccess() bool     { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Parse decodes a datagram into a Request or a Response.
func Parse(data []byte) (*Request, *Response, error) {
	head := data
	var body []byte
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		head = data[:i]
		body = data[i+4:]
	}

	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, nil, ErrMalformedMessage
	}
	startLine := lines[0]

	var msg message
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, nil, fmt.Errorf("%w: header %q", ErrMalformedMessage, line)
		}
		msg.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	// Content-Length trims trailing padding some stacks append to datagrams.
	if cl := msg.Get("Content-Length"); cl != "" {
		if n, err := strconv.Atoi(cl); err == nil && n >= 0 && n <= len(body) {
			body = body[:n]
		}
	}
	msg.Body = body

	if strings.HasPrefix(startLine, protoVersion+" ") {
		rest := strings.TrimPrefix(startLine, protoVersion+" ")
		codeStr, reason, _ := strings.Cut(rest, " ")
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 699 {
			return nil, nil, fmt.Errorf("%w: status line %q", ErrMalformedMessage, startLine)
		}
		return nil, &Response{message: msg, StatusCode: code, Reason: reason}, nil
	}

	parts := strings.SplitN(startLine, " ", 3)
	if len(parts) != 3 || parts[2] != protoVersion {
		return nil, nil, fmt.Errorf("%w: request line %q", ErrNotSIP, startLine)
	}
	return &Request{message: msg, Method: Method(parts[0]), URI: parts[1]}, nil, nil
}

// Render serializes the request, fixing up Content-Length.
func (r *Request) Render() []byte {
	return render(fmt.Sprintf("%s %s %s", r.Method, r.URI, protoVersion), &r.message)
}

// Render serializes the response, fixing up Content-Length.
func (r *Response) Render() []byte {
	return render(fmt.Sprintf("%s %d %s", protoVersion, r.StatusCode, r.Reason), &r.message)
}

func render(startLine string, m *message) []byte {
	m.Set("Content-Length", strconv.Itoa(len(m.Body)))

	var b bytes.Buffer
	b.WriteString(startLine)
	b.WriteString("\r\n")
	for _, h := range m.headers {
		b.WriteString(h.name)
		b.WriteString(": ")
		b.WriteString(h.value)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(m.Body)
	return b.Bytes()
}

// CSeq splits a CSeq header value into sequence number and method.
func (m *message) CSeq() (uint32, Method, error) {
	v := m.Get("CSeq")
	numStr, methodStr, ok := strings.Cut(v, " ")
	if !ok {
		return 0, "", fmt.Errorf("%w: cseq %q", ErrMalformedMessage, v)
	}
	n, err := strconv.ParseUint(strings.TrimSpace(numStr), 10, 32)
	if err != nil {
		return 0, "", fmt.Errorf("%w: cseq %q", ErrMalformedMessage, v)
	}
	return uint32(n), Method(strings.TrimSpace(methodStr)), nil
}

// ViaBranch extracts the branch parameter of the topmost Via header.
func (m *message) ViaBranch() string {
	return headerParam(m.Get("Via"), "branch")
}

// CallID returns the Call-ID header value.
func (m *message) CallID() string { return m.Get("Call-ID") }

// headerParam pulls a ;name=value parameter out of a header value.
func headerParam(value, name string) string {
	for _, part := range strings.Split(value, ";") {
		k, v, _ := strings.Cut(strings.TrimSpace(part), "=")
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// NewResponse builds a response to req, copying the headers every response
// must mirror (Via chain, From, To, Call-ID, CSeq) per RFC 3261 8.2.6.
func NewResponse(req *Request, code int, reason string) *Response {
	resp := &Response{StatusCode: code, Reason: reason}
	for _, via := range req.Values("Via") {
		resp.Add("Via", via)
	}
	resp.Set("From", req.Get("From"))
	resp.Set("To", req.Get("To"))
	resp.Set("Call-ID", req.Get("Call-ID"))
	resp.Set("CSeq", req.Get("CSeq"))
	return resp
}

// StatusReason maps the status codes this agent emits to canonical phrases.
func StatusReason(code int) string {
	switch code {
	case 100:
		return "Trying"
	case 180:
		return "Ringing"
	case 200:
		return "OK"
	case 202:
		return "Accepted"
	case 400:
		return "Bad Request"
	case 481:
		return "Call/Transaction Does Not Exist"
	case 486:
		return "Busy Here"
	case 487:
		return "Request Terminated"
	case 500:
		return "Server Internal Error"
	case 503:
		return "Service Unavailable"
	default:
		return "Unknown"
	}
}
