package sip

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	branchPrefix  = "z9hG4bK" // RFC 3261 magic cookie
	userAgentName = "doorgate/1.0"

	// UDP client transactions retransmit until a response arrives or the
	// transaction times out. These are coarser than the RFC timer set but
	// sufficient against real registrars.
	retransmitInterval = 500 * time.Millisecond
	transactionTimeout = 8 * time.Second

	// How long a failed registration waits before retrying.
	registerRetryDelay = 10 * time.Second

	// How long a remembered 486 survives for INVITE retransmit replay
	// (RFC 3261 Timer J for UDP).
	rejectExpiry = 32 * time.Second
)

// Modes the agent runs in. Mock keeps the whole pipeline alive without a
// socket so the rest of the system can be exercised off-network.
const (
	ModeUDP  = "udp"
	ModeMock = "mock"
)

// Config carries everything the agent needs to reach its registrar and shape
// inbound calls.
type Config struct {
	Server   string
	Port     int // 0 enables RFC 3263 NAPTR/SRV discovery
	Username string
	Password string
	Mode     string

	// AnswerDelay is how long the call rings before the 200 OK;
	// HangupDelay is how long the answered call is held before BYE.
	AnswerDelay time.Duration
	HangupDelay time.Duration

	RegisterExpiry time.Duration
	LocalPort      int
}

// CallEvent is delivered once per inbound call after it finishes. Outcome is
// StateEnded for calls that reached the answer, StateCanceled for callers who
// hung up during ringing.
type CallEvent struct {
	CallID    string
	CallerID  string
	Outcome   string
	StartedAt time.Time
	Duration  time.Duration
}

// CallHandler receives finished calls. The handler runs on the per-call
// goroutine and must not block for long.
type CallHandler func(ctx context.Context, ev CallEvent)

// Stats is a point-in-time snapshot for the status endpoint.
type Stats struct {
	Mode          string `json:"mode"`
	Registered    bool   `json:"registered"`
	RegisterError string `json:"register_error,omitempty"`
	LocalIP       string `json:"local_ip,omitempty"`
	ActiveCalls   int    `json:"active_calls"`
	TotalCalls    uint64 `json:"total_calls"`
	AnsweredCalls uint64 `json:"answered_calls"`
	RejectedCalls uint64 `json:"rejected_calls"`
}

// Agent is the SIP endpoint: it keeps one registration alive and answers
// every inbound call, handing the finished call to its CallHandler. Whether
// the caller opens the gate is not the agent's business.
type Agent struct {
	cfg     Config
	log     *slog.Logger
	limiter CallLimiter
	onCall  CallHandler

	resolver *Resolver
	now      func() time.Time

	conn      *net.UDPConn
	registrar *net.UDPAddr
	localIP   string
	runCtx    context.Context // lifecycle set by Start; calls outlive their trigger

	mu         sync.Mutex
	calls      map[string]*call          // Call-ID -> dialog
	lastResp   map[string]*Response      // Call-ID -> last INVITE response, for retransmits
	pending    map[string]chan *Response // Via branch -> client transaction
	registered bool
	regErr     string
	total      uint64
	answered   uint64
	rejected   uint64

	regCallID string
	regCSeq   uint32
	fromTag   string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAgent wires an agent; Start must be called before it does anything.
func NewAgent(cfg Config, limiter CallLimiter, onCall CallHandler, log *slog.Logger) *Agent {
	if limiter == nil {
		limiter = NewLocalLimiter(1)
	}
	return &Agent{
		cfg:       cfg,
		log:       log,
		limiter:   limiter,
		onCall:    onCall,
		now:       time.Now,
		calls:     make(map[string]*call),
		lastResp:  make(map[string]*Response),
		pending:   make(map[string]chan *Response),
		regCallID: uuid.NewString(),
		fromTag:   randomHex(6),
	}
}

// Start binds the socket, kicks off the read and registration loops, and
// returns. In mock mode it returns immediately with no network activity.
func (a *Agent) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	a.runCtx = ctx

	if a.cfg.Mode == ModeMock {
		a.log.Info("sip agent in mock mode, no registration will be attempted")
		return nil
	}

	a.resolver = NewResolver(a.log)
	registrar, err := a.resolver.Resolve(ctx, a.cfg.Server, a.cfg.Port)
	if err != nil {
		return fmt.Errorf("resolve registrar: %w", err)
	}
	a.registrar = registrar
	a.localIP = localIPToward(registrar)

	localPort := a.cfg.LocalPort
	if localPort == 0 {
		localPort = defaultSIPPort
	}
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		return fmt.Errorf("listen udp :%d: %w", localPort, err)
	}
	a.conn = conn

	a.log.Info("sip agent listening",
		"local_ip", a.localIP,
		"local_port", localPort,
		"registrar", registrar.String(),
	)

	a.wg.Add(2)
	go a.readLoop(ctx)
	go a.registerLoop(ctx)
	return nil
}

// Stop tears the agent down: deregisters loops via context, closes the
// socket, and waits for in-flight call goroutines to finish.
func (a *Agent) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.wg.Wait()
}

func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Mode:          a.cfg.Mode,
		Registered:    a.registered,
		RegisterError: a.regErr,
		LocalIP:       a.localIP,
		ActiveCalls:   len(a.calls),
		TotalCalls:    a.total,
		AnsweredCalls: a.answered,
		RejectedCalls: a.rejected,
	}
}

// SimulateCall drives a synthetic inbound call through the full answer
// pipeline without touching the network. Available in every mode; it is how
// the control API and tests exercise the gate end to end.
func (a *Agent) SimulateCall(ctx context.Context, callerID string) string {
	callID := "sim-" + uuid.NewString()
	from := fmt.Sprintf("<sip:%s@simulated.invalid>;tag=%s", callerID, randomHex(4))
	req := &Request{Method: MethodInvite, URI: "sip:doorgate@simulated.invalid"}
	req.Set("From", from)
	req.Set("Call-ID", callID)

	c := newCall(callID, callerID, req, nil, randomHex(4), a.now())

	a.mu.Lock()
	a.calls[callID] = c
	a.total++
	a.mu.Unlock()

	// The call outlives its trigger: an HTTP handler returns 202 long before
	// the answer delay elapses, and its request context dies with the
	// response. Drive the call under the agent lifecycle instead.
	run := a.runCtx
	if run == nil {
		run = context.WithoutCancel(ctx)
	}

	a.wg.Add(1)
	go a.runCall(run, c)
	return callID
}

// ---- read loop and request dispatch ----

func (a *Agent) readLoop(ctx context.Context) {
	defer a.wg.Done()
	buf := make([]byte, 8192)
	for {
		n, src, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Closed socket during shutdown also lands here.
			select {
			case <-ctx.Done():
				return
			default:
			}
			a.log.Debug("udp read error", "error", err)
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])

		req, resp, err := Parse(data)
		if err != nil {
			a.log.Debug("dropping unparseable datagram", "src", src.String(), "error", err)
			continue
		}
		if resp != nil {
			a.dispatchResponse(resp)
			continue
		}
		a.handleRequest(ctx, req, src)
	}
}

func (a *Agent) dispatchResponse(resp *Response) {
	branch := resp.ViaBranch()
	a.mu.Lock()
	ch := a.pending[branch]
	a.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

func (a *Agent) handleRequest(ctx context.Context, req *Request, src *net.UDPAddr) {
	switch req.Method {
	case MethodInvite:
		a.handleInvite(ctx, req, src)
	case MethodAck:
		if c := a.findCall(req.CallID()); c != nil {
			c.markAcked()
		}
	case MethodBye:
		a.send(src, NewResponse(req, 200, StatusReason(200)).Render())
		if c := a.findCall(req.CallID()); c != nil {
			c.fire(triggerRemoteBye)
			c.markByed()
		}
	case MethodCancel:
		a.send(src, NewResponse(req, 200, StatusReason(200)).Render())
		a.handleCancel(req, src)
	case MethodOptions:
		resp := NewResponse(req, 200, StatusReason(200))
		resp.Set("Allow", "INVITE, ACK, BYE, CANCEL, OPTIONS")
		a.send(src, resp.Render())
	default:
		a.send(src, NewResponse(req, 481, StatusReason(481)).Render())
	}
}

func (a *Agent) handleInvite(ctx context.Context, req *Request, src *net.UDPAddr) {
	callID := req.CallID()

	// Retransmitted INVITE: replay whatever we last answered with.
	a.mu.Lock()
	if last, ok := a.lastResp[callID]; ok {
		a.mu.Unlock()
		a.send(src, last.Render())
		return
	}
	a.mu.Unlock()

	callerID := CallerID(req.Get("From"))
	a.log.Info("inbound call", "call_id", callID, "caller", callerID)

	a.send(src, NewResponse(req, 100, StatusReason(100)).Render())

	ok, err := a.limiter.Acquire(ctx)
	if err != nil {
		a.log.Error("call limiter failed, rejecting call", "error", err)
		ok = false
	}
	if !ok {
		busy := NewResponse(req, 486, StatusReason(486))
		busy.Set("To", req.Get("To")+";tag="+randomHex(4))
		a.send(src, busy.Render())
		a.mu.Lock()
		a.lastResp[callID] = busy
		a.total++
		a.rejected++
		a.mu.Unlock()
		// Retransmits of the rejected INVITE replay the 486 instead of
		// re-entering the limiter. No dialog exists to clean this up, so
		// the entry expires after Timer J.
		time.AfterFunc(rejectExpiry, func() {
			a.mu.Lock()
			delete(a.lastResp, callID)
			a.mu.Unlock()
		})
		return
	}

	c := newCall(callID, callerID, req, src, randomHex(4), a.now())
	c.limited = true
	a.mu.Lock()
	a.calls[callID] = c
	a.total++
	a.mu.Unlock()

	a.wg.Add(1)
	go a.runCall(ctx, c)
}

func (a *Agent) handleCancel(req *Request, src *net.UDPAddr) {
	c := a.findCall(req.CallID())
	if c == nil {
		return
	}
	if c.fire(triggerCancel) {
		c.markCanceled()
		// The canceled INVITE transaction completes with 487.
		terminated := NewResponse(c.invite, 487, StatusReason(487))
		terminated.Set("To", c.invite.Get("To")+";tag="+c.toTag)
		a.rememberResponse(c.id, terminated)
		a.send(src, terminated.Render())
	}
}

// ---- the per-call pipeline: ring, answer, hold, hang up ----

func (a *Agent) runCall(ctx context.Context, c *call) {
	defer a.wg.Done()

	outcome := a.driveCall(ctx, c)
	a.finishCall(ctx, c, outcome)
}

func (a *Agent) driveCall(ctx context.Context, c *call) string {
	a.respondInDialog(c, 180)

	select {
	case <-time.After(a.cfg.AnswerDelay):
	case <-c.canceled:
		return StateCanceled
	case <-c.byed:
		return StateEnded
	case <-ctx.Done():
		return StateCanceled
	}

	if !c.fire(triggerAnswer) {
		return c.state()
	}
	a.log.Info("answering call", "call_id", c.id, "caller", c.callerID)
	a.answerCall(c)

	a.mu.Lock()
	a.answered++
	a.mu.Unlock()

	select {
	case <-time.After(a.cfg.HangupDelay):
	case <-c.byed:
		c.fire(triggerRemoteBye)
		return StateEnded
	case <-ctx.Done():
	}

	c.fire(triggerHangup)
	a.sendBye(c)
	return StateEnded
}

// answerCall sends the 200 OK with SDP and retransmits it until the ACK
// arrives or we give up. A missing ACK is not fatal; the call proceeds to the
// hold phase either way.
func (a *Agent) answerCall(c *call) {
	if c.src == nil {
		return // simulated call, nothing on the wire
	}
	answer := NewResponse(c.invite, 200, StatusReason(200))
	answer.Set("To", c.invite.Get("To")+";tag="+c.toTag)
	answer.Set("Contact", fmt.Sprintf("<sip:%s@%s:%d>", a.cfg.Username, a.localIP, a.listenPort()))
	answer.Set("Content-Type", "application/sdp")
	answer.Body = answerSDP(a.localIP, 4000)
	a.rememberResponse(c.id, answer)
	a.send(c.src, answer.Render())

	deadline := time.After(4 * time.Second)
	tick := time.NewTicker(retransmitInterval)
	defer tick.Stop()
	for {
		select {
		case <-c.acked:
			return
		case <-c.byed:
			return
		case <-deadline:
			a.log.Debug("no ack received for answer", "call_id", c.id)
			return
		case <-tick.C:
			a.send(c.src, answer.Render())
		}
	}
}

// sendBye terminates the dialog from our side. Best effort: the response is
// awaited briefly but the call is considered over regardless.
func (a *Agent) sendBye(c *call) {
	if c.src == nil {
		return // simulated call
	}

	target := c.invite.Get("Contact")
	uri := contactURI(target)
	if uri == "" {
		uri = fmt.Sprintf("sip:%s", c.src.String())
	}

	bye := &Request{Method: MethodBye, URI: uri}
	branch := branchPrefix + randomHex(8)
	bye.Set("Via", fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s", a.localIP, a.listenPort(), branch))
	bye.Set("Max-Forwards", "70")
	// Direction flips in-dialog: our To (with tag) becomes From.
	bye.Set("From", c.invite.Get("To")+";tag="+c.toTag)
	bye.Set("To", c.invite.Get("From"))
	bye.Set("Call-ID", c.id)
	bye.Set("CSeq", "1 BYE")
	bye.Set("User-Agent", userAgentName)

	_, _ = a.transact(bye, branch, c.src, 2*time.Second)
}

func (a *Agent) finishCall(ctx context.Context, c *call, outcome string) {
	a.mu.Lock()
	delete(a.calls, c.id)
	delete(a.lastResp, c.id)
	a.mu.Unlock()

	if c.limited {
		a.limiter.Release(ctx)
	}

	ev := CallEvent{
		CallID:    c.id,
		CallerID:  c.callerID,
		Outcome:   outcome,
		StartedAt: c.startedAt,
		Duration:  c.duration(),
	}
	a.log.Info("call finished",
		"call_id", ev.CallID,
		"caller", ev.CallerID,
		"outcome", ev.Outcome,
		"duration", ev.Duration.Round(time.Millisecond).String(),
	)
	if a.onCall != nil {
		a.onCall(ctx, ev)
	}
}

// ---- registration ----

func (a *Agent) registerLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		interval, err := a.register(ctx)
		a.mu.Lock()
		if err != nil {
			a.registered = false
			a.regErr = err.Error()
		} else {
			a.registered = true
			a.regErr = ""
		}
		a.mu.Unlock()

		wait := registerRetryDelay
		if err == nil {
			// Refresh at half the granted expiry.
			wait = interval / 2
			if wait < 30*time.Second {
				wait = 30 * time.Second
			}
			a.log.Info("registered", "registrar", a.registrar.String(), "expiry", interval.String())
		} else {
			a.log.Warn("registration failed, will retry", "error", err, "retry_in", wait.String())
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

func (a *Agent) register(ctx context.Context) (time.Duration, error) {
	req := a.buildRegister()
	branch := branchPrefix + randomHex(8)
	req.Set("Via", fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s;rport", a.localIP, a.listenPort(), branch))

	resp, err := a.transact(req, branch, a.registrar, transactionTimeout)
	if err != nil {
		return 0, err
	}

	if resp.StatusCode == 401 || resp.StatusCode == 407 {
		header := resp.Get("WWW-Authenticate")
		authName := "Authorization"
		if resp.StatusCode == 407 {
			header = resp.Get("Proxy-Authenticate")
			authName = "Proxy-Authorization"
		}
		ch, err := parseChallenge(header)
		if err != nil {
			return 0, err
		}

		req = a.buildRegister()
		branch = branchPrefix + randomHex(8)
		req.Set("Via", fmt.Sprintf("SIP/2.0/UDP %s:%d;branch=%s;rport", a.localIP, a.listenPort(), branch))
		req.Set(authName, authorize(ch, a.cfg.Username, a.cfg.Password, MethodRegister, req.URI))

		resp, err = a.transact(req, branch, a.registrar, transactionTimeout)
		if err != nil {
			return 0, err
		}
	}

	if !resp.IsSuccess() {
		return 0, fmt.Errorf("registrar answered %d %s", resp.StatusCode, resp.Reason)
	}
	return a.grantedExpiry(resp), nil
}

func (a *Agent) buildRegister() *Request {
	a.mu.Lock()
	a.regCSeq++
	cseq := a.regCSeq
	a.mu.Unlock()

	aor := fmt.Sprintf("sip:%s@%s", a.cfg.Username, a.cfg.Server)
	req := &Request{Method: MethodRegister, URI: "sip:" + a.cfg.Server}
	req.Set("Max-Forwards", "70")
	req.Set("From", fmt.Sprintf("<%s>;tag=%s", aor, a.fromTag))
	req.Set("To", fmt.Sprintf("<%s>", aor))
	req.Set("Call-ID", a.regCallID)
	req.Set("CSeq", fmt.Sprintf("%d REGISTER", cseq))
	req.Set("Contact", fmt.Sprintf("<sip:%s@%s:%d>", a.cfg.Username, a.localIP, a.listenPort()))
	req.Set("Expires", fmt.Sprintf("%d", int(a.cfg.RegisterExpiry.Seconds())))
	req.Set("User-Agent", userAgentName)
	return req
}

// grantedExpiry prefers the registrar's granted value over what we asked for.
func (a *Agent) grantedExpiry(resp *Response) time.Duration {
	if v := headerParam(resp.Get("Contact"), "expires"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			return d
		}
	}
	if v := resp.Get("Expires"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil && d > 0 {
			return d
		}
	}
	return a.cfg.RegisterExpiry
}

// ---- client transactions and transport ----

// transact sends req and waits for a final response, retransmitting on the
// UDP cadence. Provisional responses reset nothing; only a final response or
// the timeout ends the wait.
func (a *Agent) transact(req *Request, branch string, dst *net.UDPAddr, timeout time.Duration) (*Response, error) {
	ch := make(chan *Response, 4)
	a.mu.Lock()
	a.pending[branch] = ch
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		delete(a.pending, branch)
		a.mu.Unlock()
	}()

	data := req.Render()
	a.send(dst, data)

	deadline := time.After(timeout)
	tick := time.NewTicker(retransmitInterval)
	defer tick.Stop()
	for {
		select {
		case resp := <-ch:
			if resp.IsProvisional() {
				continue
			}
			return resp, nil
		case <-tick.C:
			a.send(dst, data)
		case <-deadline:
			return nil, fmt.Errorf("sip: %s transaction timed out after %s", req.Method, timeout)
		}
	}
}

// respondInDialog sends a provisional/final response for the call's INVITE
// with our To-tag attached, and remembers it for retransmit replay.
func (a *Agent) respondInDialog(c *call, code int) {
	resp := NewResponse(c.invite, code, StatusReason(code))
	resp.Set("To", c.invite.Get("To")+";tag="+c.toTag)
	a.rememberResponse(c.id, resp)
	a.send(c.src, resp.Render())
}

func (a *Agent) rememberResponse(callID string, resp *Response) {
	a.mu.Lock()
	a.lastResp[callID] = resp
	a.mu.Unlock()
}

func (a *Agent) send(dst *net.UDPAddr, data []byte) {
	if a.conn == nil || dst == nil {
		return // mock mode or simulated call
	}
	if _, err := a.conn.WriteToUDP(data, dst); err != nil {
		a.log.Debug("udp write failed", "dst", dst.String(), "error", err)
	}
}

func (a *Agent) findCall(callID string) *call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[callID]
}

func (a *Agent) listenPort() int {
	if a.conn != nil {
		return a.conn.LocalAddr().(*net.UDPAddr).Port
	}
	if a.cfg.LocalPort != 0 {
		return a.cfg.LocalPort
	}
	return defaultSIPPort
}

// contactURI pulls the bare URI out of a Contact header value.
func contactURI(contact string) string {
	if i := strings.Index(contact, "<"); i >= 0 {
		rest := contact[i+1:]
		if j := strings.Index(rest, ">"); j >= 0 {
			return rest[:j]
		}
	}
	contact, _, _ = strings.Cut(contact, ";")
	return strings.TrimSpace(contact)
}
