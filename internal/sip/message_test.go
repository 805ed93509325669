package sip

import (
	"strings"
	"testing"
)

const sampleInvite = "INVITE sip:gate@10.0.0.5:5060 SIP/2.0\r\n" +
	"Via: SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKabc123\r\n" +
	"Max-Forwards: 70\r\n" +
	"From: \"Front Door\" <sip:+441234567890@carrier.example>;tag=as58f4201b\r\n" +
	"To: <sip:gate@10.0.0.5>\r\n" +
	"Call-ID: 7f3a9c@carrier.example\r\n" +
	"CSeq: 102 INVITE\r\n" +
	"Contact: <sip:+441234567890@10.0.0.1:5060>\r\n" +
	"Content-Type: application/sdp\r\n" +
	"Content-Length: 4\r\n" +
	"\r\n" +
	"v=0\r\n"

func TestParseRequest(t *testing.T) {
	req, resp, err := Parse([]byte(sampleInvite))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected request, got response")
	}
	if req.Method != MethodInvite {
		t.Fatalf("method = %q", req.Method)
	}
	if req.URI != "sip:gate@10.0.0.5:5060" {
		t.Fatalf("uri = %q", req.URI)
	}
	if got := req.CallID(); got != "7f3a9c@carrier.example" {
		t.Fatalf("call-id = %q", got)
	}
	if got := req.ViaBranch(); got != "z9hG4bKabc123" {
		t.Fatalf("branch = %q", got)
	}
	seq, method, err := req.CSeq()
	if err != nil {
		t.Fatalf("CSeq: %v", err)
	}
	if seq != 102 || method != MethodInvite {
		t.Fatalf("cseq = %d %s", seq, method)
	}
	// Content-Length trims the body.
	if string(req.Body) != "v=0\r" {
		t.Fatalf("body = %q", req.Body)
	}
}

func TestParseResponse(t *testing.T) {
	raw := "SIP/2.0 401 Unauthorized\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.5:5060;branch=z9hG4bKreg1\r\n" +
		"WWW-Authenticate: Digest realm=\"asterisk\", nonce=\"49f3a1b2\"\r\n" +
		"Content-Length: 0\r\n\r\n"
	req, resp, err := Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if req != nil {
		t.Fatalf("expected response, got request")
	}
	if resp.StatusCode != 401 || resp.Reason != "Unauthorized" {
		t.Fatalf("status = %d %q", resp.StatusCode, resp.Reason)
	}
	if resp.IsSuccess() || resp.IsProvisional() {
		t.Fatalf("401 misclassified")
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "hello world", "GET / HTTP/1.1\r\n\r\n"} {
		if _, _, err := Parse([]byte(raw)); err == nil {
			t.Fatalf("Parse(%q) accepted garbage", raw)
		}
	}
}

func TestRenderSetsContentLength(t *testing.T) {
	req := &Request{Method: MethodRegister, URI: "sip:pbx.example.com"}
	req.Set("Call-ID", "r1")
	req.Body = []byte("hello")

	out := string(req.Render())
	if !strings.HasPrefix(out, "REGISTER sip:pbx.example.com SIP/2.0\r\n") {
		t.Fatalf("bad request line: %q", out)
	}
	if !strings.Contains(out, "Content-Length: 5\r\n") {
		t.Fatalf("content-length not fixed up: %q", out)
	}
	if !strings.HasSuffix(out, "\r\nhello") {
		t.Fatalf("body not appended: %q", out)
	}
}

func TestNewResponseMirrorsHeaders(t *testing.T) {
	req, _, err := Parse([]byte(sampleInvite))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	resp := NewResponse(req, 180, StatusReason(180))
	if resp.Get("Call-ID") != req.Get("Call-ID") {
		t.Fatalf("call-id not mirrored")
	}
	if resp.Get("CSeq") != "102 INVITE" {
		t.Fatalf("cseq not mirrored: %q", resp.Get("CSeq"))
	}
	if resp.Get("Via") != req.Get("Via") {
		t.Fatalf("via not mirrored")
	}
}

func TestCallerID(t *testing.T) {
	cases := []struct {
		from string
		want string
	}{
		{`"Front Door" <sip:+441234567890@carrier.example>;tag=abc`, "+441234567890"},
		{`<sip:441234567890@10.0.0.1:5060>`, "441234567890"},
		{`sip:anonymous@anonymous.invalid;tag=xyz`, "anonymous"},
		{`<sips:0044123@secure.example>`, "0044123"},
		{`tel:+441234567890`, "+441234567890"},
		{`<sip:carrier.example>`, ""},
		{`<sip:123;phone-context=example@host>`, "123"},
	}
	for _, tc := range cases {
		if got := CallerID(tc.from); got != tc.want {
			t.Errorf("CallerID(%q) = %q, want %q", tc.from, got, tc.want)
		}
	}
}
