package hostsdk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaydash/hostsdk/codec"
	"github.com/relaydash/hostsdk/component"
	"github.com/relaydash/hostsdk/internal/config"
	"github.com/relaydash/hostsdk/internal/ioengine"
	"github.com/relaydash/hostsdk/internal/transport"
	"github.com/relaydash/hostsdk/internal/wire"
)

var hostTestUpgrader = websocket.Upgrader{}

// fakeDashboard is a minimal stand-in for the dashboard: it completes the
// frame-level handshake/ack protocol automatically and lets a test drive
// the application-level envelope exchange (CALL/RESPONSE) explicitly.
type fakeDashboard struct {
	srv  *httptest.Server
	conn *websocket.Conn

	mu      sync.Mutex
	calls   []wire.Envelope
	writeMu sync.Mutex
}

func newFakeDashboard(t *testing.T) *fakeDashboard {
	t.Helper()
	fd := &fakeDashboard{}
	connCh := make(chan *websocket.Conn, 1)

	fd.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := hostTestUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		connCh <- c
	}))

	go func() {
		c := <-connCh
		fd.mu.Lock()
		fd.conn = c
		fd.mu.Unlock()

		fd.writeFrame(wire.NewMessageFrame(wire.AuthenticatedSentinel))

		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			frame, err := wire.ParseFrame(raw)
			if err != nil {
				continue
			}
			switch frame.Kind {
			case wire.FrameMessage:
				fd.writeFrame(wire.NewAckFrame(frame.ID))
				if frame.Data == nil {
					continue
				}
				data := *frame.Data
				if data == wire.PingSentinel {
					continue
				}
				env, err := wire.ParseEnvelope(data)
				if err != nil {
					continue
				}
				if env.Kind == wire.EnvelopeCall {
					fd.mu.Lock()
					fd.calls = append(fd.calls, env)
					fd.mu.Unlock()
				}
			}
		}
	}()

	return fd
}

func (fd *fakeDashboard) writeFrame(f wire.Frame) {
	b, err := f.Marshal()
	if err != nil {
		return
	}
	fd.writeMu.Lock()
	defer fd.writeMu.Unlock()
	fd.mu.Lock()
	c := fd.conn
	fd.mu.Unlock()
	if c == nil {
		return
	}
	c.WriteMessage(websocket.TextMessage, b)
}

// respond delivers a RESPONSE envelope for the given call, as a fresh
// MESSAGE frame (the call's own frame was already acked in the read loop).
func (fd *fakeDashboard) respond(id string, data any) {
	payload, _ := json.Marshal(data)
	env := wire.Envelope{ID: id, MethodName: string(wire.MethodInitializeHost), Kind: wire.EnvelopeResponse, Data: payload}
	b, _ := json.Marshal(env)
	fd.writeFrame(wire.NewMessageFrame(string(b)))
}

func (fd *fakeDashboard) waitForCall(t *testing.T, method wire.HostMethod) wire.Envelope {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fd.mu.Lock()
		for _, c := range fd.calls {
			if c.MethodName == string(method) {
				fd.mu.Unlock()
				return c
			}
		}
		fd.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for a %s call", method)
	return wire.Envelope{}
}

func (fd *fakeDashboard) hasCall(method wire.HostMethod) bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	for _, c := range fd.calls {
		if c.MethodName == string(method) {
			return true
		}
	}
	return false
}

func (fd *fakeDashboard) wsURL() string {
	return "ws" + strings.TrimPrefix(fd.srv.URL, "http")
}

func (fd *fakeDashboard) Close() {
	fd.mu.Lock()
	c := fd.conn
	fd.mu.Unlock()
	if c != nil {
		c.Close()
	}
	fd.srv.Close()
}

func testConfig(endpoint string) *config.Config {
	cfg := config.Default("test-key")
	cfg.Endpoint = endpoint
	cfg.ConnectTimeoutSeconds = 2
	cfg.SendTimeoutSeconds = 2
	cfg.PingIntervalSeconds = 60
	cfg.CloseUnresponsiveConnectionTimeoutSeconds = 120
	return cfg
}

func TestHost_New_RoutesAccessibleBeforeListen(t *testing.T) {
	h := New(testConfig("wss://example.com/websocket"), nil)
	h.Routes().Add("greet", &Action{Name: "Greet"})

	if _, ok := h.routes.entries["greet"]; !ok {
		t.Error("expected the route to be registered even before Listen starts")
	}
}

func TestHost_Listen_CompletesHandshakeAndInitializesHost(t *testing.T) {
	fd := newFakeDashboard(t)
	defer fd.Close()

	h := New(testConfig(fd.wsURL()), nil)
	h.Routes().Add("greet", &Action{Name: "Greet", Handler: func(actx *ActionContext) (any, error) {
		return "hi", nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	listenErr := make(chan error, 1)
	go func() { listenErr <- h.Listen(ctx) }()
	defer h.Close()

	call := fd.waitForCall(t, wire.MethodInitializeHost)

	var in wire.InitializeHostInputs
	if err := json.Unmarshal(call.Data, &in); err != nil {
		t.Fatalf("unmarshal initialize_host inputs: %v", err)
	}
	if len(in.Actions) != 1 || in.Actions[0].Slug != "greet" {
		t.Errorf("Actions = %+v, want a single \"greet\" action", in.Actions)
	}

	fd.respond(call.ID, wire.InitializeHostReturns{Type: "success"})

	cancel()
	select {
	case err := <-listenErr:
		if err == nil {
			t.Error("expected Listen to return ctx.Err() once canceled")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen never returned after cancel")
	}
}

func TestHost_InitializeHost_InvalidSlugs(t *testing.T) {
	fd := newFakeDashboard(t)
	defer fd.Close()

	h := New(testConfig(fd.wsURL()), nil)
	h.Routes().Add("bad slug", &Action{Name: "Bad"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// initializeHost only sends over the rpc client's already-bound
	// transport; dial and rebind manually here rather than going through
	// the full connectAndServe/Listen loop.
	socket, err := transport.Dial(ctx, transport.Options{
		URL:            h.cfg.Endpoint,
		ConnectTimeout: 2 * time.Second,
		SendTimeout:    2 * time.Second,
		OnMessage:      func(data string) { h.rpcClient.OnMessage(ctx, data) },
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer socket.Close()
	h.rpcClient.Rebind(socket)

	go func() {
		call := fd.waitForCall(t, wire.MethodInitializeHost)
		fd.respond(call.ID, wire.InitializeHostReturns{Type: "error", InvalidSlugs: []string{"bad slug"}})
	}()

	_, err = h.initializeHost(ctx)
	if err == nil {
		t.Fatal("expected initializeHost to return an error for invalid slugs")
	}
	invalidSlug, ok := err.(*ErrInvalidSlug)
	if !ok {
		t.Fatalf("expected *ErrInvalidSlug, got %T: %v", err, err)
	}
	if len(invalidSlug.Slugs) != 1 || invalidSlug.Slugs[0] != "bad slug" {
		t.Errorf("Slugs = %v, want [\"bad slug\"]", invalidSlug.Slugs)
	}
}

func TestHost_StartTransaction_RunsActionAndMarksComplete(t *testing.T) {
	fd := newFakeDashboard(t)
	defer fd.Close()

	h := New(testConfig(fd.wsURL()), nil)
	h.Routes().Add("greet", &Action{Name: "Greet", Handler: func(actx *ActionContext) (any, error) {
		return "hello", nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Listen(ctx)
	defer h.Close()

	initCall := fd.waitForCall(t, wire.MethodInitializeHost)
	fd.respond(initCall.ID, wire.InitializeHostReturns{Type: "success"})

	// Wait for initializeHost to populate the action handler map before
	// delivering the START_TRANSACTION call.
	time.Sleep(20 * time.Millisecond)

	startEnv := wire.Envelope{
		ID:         "srv-1",
		MethodName: string(wire.MethodStartTransaction),
		Kind:       wire.EnvelopeCall,
	}
	in := wire.StartTransactionInputs{
		TransactionID: "tx1",
		Action:        wire.ActionInfo{Slug: "greet"},
		Params:        map[string]any{},
		Environment:   "development",
	}
	startEnv.Data, _ = json.Marshal(in)
	b, _ := json.Marshal(startEnv)
	fd.writeFrame(wire.NewMessageFrame(string(b)))

	markCall := fd.waitForCall(t, wire.MethodMarkTransactionComplete)
	var markIn wire.MarkTransactionCompleteInputs
	if err := json.Unmarshal(markCall.Data, &markIn); err != nil {
		t.Fatalf("unmarshal mark_transaction_complete inputs: %v", err)
	}
	if markIn.TransactionID != "tx1" {
		t.Errorf("TransactionID = %q, want tx1", markIn.TransactionID)
	}
	if markIn.Result == nil {
		t.Fatal("expected a non-nil result")
	}

	var result struct {
		SchemaVersion int    `json:"schemaVersion"`
		Status        string `json:"status"`
		Data          any    `json:"data"`
	}
	if err := json.Unmarshal([]byte(*markIn.Result), &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result.SchemaVersion != 1 {
		t.Errorf("SchemaVersion = %d, want 1", result.SchemaVersion)
	}
	if result.Status != "SUCCESS" {
		t.Errorf("Status = %q, want SUCCESS", result.Status)
	}
}

func TestHost_StartTransaction_UnknownActionReportsError(t *testing.T) {
	fd := newFakeDashboard(t)
	defer fd.Close()

	h := New(testConfig(fd.wsURL()), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Listen(ctx)
	defer h.Close()

	initCall := fd.waitForCall(t, wire.MethodInitializeHost)
	fd.respond(initCall.ID, wire.InitializeHostReturns{Type: "success"})
	time.Sleep(20 * time.Millisecond)

	startEnv := wire.Envelope{ID: "srv-1", MethodName: string(wire.MethodStartTransaction), Kind: wire.EnvelopeCall}
	in := wire.StartTransactionInputs{
		TransactionID: "tx-missing",
		Action:        wire.ActionInfo{Slug: "nope"},
		Params:        map[string]any{},
		Environment:   "development",
	}
	startEnv.Data, _ = json.Marshal(in)
	b, _ := json.Marshal(startEnv)
	fd.writeFrame(wire.NewMessageFrame(string(b)))

	markCall := fd.waitForCall(t, wire.MethodMarkTransactionComplete)
	var markIn wire.MarkTransactionCompleteInputs
	json.Unmarshal(markCall.Data, &markIn)

	var result struct {
		Status string `json:"status"`
		Data   struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		} `json:"data"`
	}
	json.Unmarshal([]byte(*markIn.Result), &result)
	if result.Status != "FAILURE" {
		t.Errorf("Status = %q, want FAILURE for an unregistered action", result.Status)
	}
	if result.Data.Message == "" {
		t.Error("expected a failure message for an unregistered action")
	}
}

func TestHost_StartTransaction_CanceledSendsNoResult(t *testing.T) {
	fd := newFakeDashboard(t)
	defer fd.Close()

	h := New(testConfig(fd.wsURL()), nil)
	started := make(chan struct{})
	h.Routes().Add("cancelme", &Action{
		Handler: func(actx *ActionContext) (any, error) {
			close(started)
			return nil, ErrTransactionClosed
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Listen(ctx)
	defer h.Close()

	initCall := fd.waitForCall(t, wire.MethodInitializeHost)
	fd.respond(initCall.ID, wire.InitializeHostReturns{Type: "success"})
	time.Sleep(20 * time.Millisecond)

	startEnv := wire.Envelope{ID: "srv-cancel", MethodName: string(wire.MethodStartTransaction), Kind: wire.EnvelopeCall}
	in := wire.StartTransactionInputs{
		TransactionID: "tx-cancel",
		Action:        wire.ActionInfo{Slug: "cancelme"},
		Params:        map[string]any{},
		Environment:   "development",
	}
	startEnv.Data, _ = json.Marshal(in)
	b, _ := json.Marshal(startEnv)
	fd.writeFrame(wire.NewMessageFrame(string(b)))

	<-started
	time.Sleep(50 * time.Millisecond)
	if fd.hasCall(wire.MethodMarkTransactionComplete) {
		t.Error("a canceled transaction must not send mark_transaction_complete")
	}
}

func TestHost_OpenAndClosePage(t *testing.T) {
	fd := newFakeDashboard(t)
	defer fd.Close()

	h := New(testConfig(fd.wsURL()), nil)
	h.Routes().Add("dashboard", &Page{Name: "Dashboard", Handler: func(pctx *PageContext) (PageSource, error) {
		return PageSource{
			Title: func(ctx context.Context) (string, error) { return "Dashboard", nil },
		}, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Listen(ctx)
	defer h.Close()

	initCall := fd.waitForCall(t, wire.MethodInitializeHost)
	fd.respond(initCall.ID, wire.InitializeHostReturns{Type: "success"})
	time.Sleep(20 * time.Millisecond)

	openEnv := wire.Envelope{ID: "srv-open", MethodName: string(wire.MethodOpenPage), Kind: wire.EnvelopeCall}
	in := wire.OpenPageInputs{
		PageKey:     "pk1",
		Page:        wire.PageInfo{Slug: "dashboard"},
		Params:      map[string]any{},
		Environment: "development",
	}
	openEnv.Data, _ = json.Marshal(in)
	b, _ := json.Marshal(openEnv)
	fd.writeFrame(wire.NewMessageFrame(string(b)))

	fd.waitForCall(t, wire.MethodSendPage)

	h.pageMu.Lock()
	_, ok := h.pages["pk1"]
	h.pageMu.Unlock()
	if !ok {
		t.Fatal("expected an open page session registered under \"pk1\"")
	}

	closeEnv := wire.Envelope{ID: "srv-close", MethodName: string(wire.MethodClosePage), Kind: wire.EnvelopeCall}
	closeIn := wire.ClosePageInputs{PageKey: "pk1"}
	closeEnv.Data, _ = json.Marshal(closeIn)
	b, _ = json.Marshal(closeEnv)
	fd.writeFrame(wire.NewMessageFrame(string(b)))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		h.pageMu.Lock()
		_, stillOpen := h.pages["pk1"]
		h.pageMu.Unlock()
		if !stillOpen {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("expected the page session to be removed after CLOSE_PAGE")
}

func TestHost_OpenPage_ChildIOResponseRoutesToPage(t *testing.T) {
	fd := newFakeDashboard(t)
	defer fd.Close()

	h := New(testConfig(fd.wsURL()), nil)
	nameField := component.New[struct{}, struct{}, string](component.InputText, "Name", struct{}{})
	h.Routes().Add("dashboard", &Page{Name: "Dashboard", Handler: func(pctx *PageContext) (PageSource, error) {
		return PageSource{Children: []component.Handle{nameField}}, nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Listen(ctx)
	defer h.Close()

	initCall := fd.waitForCall(t, wire.MethodInitializeHost)
	fd.respond(initCall.ID, wire.InitializeHostReturns{Type: "success"})
	time.Sleep(20 * time.Millisecond)

	openEnv := wire.Envelope{ID: "srv-open", MethodName: string(wire.MethodOpenPage), Kind: wire.EnvelopeCall}
	openIn := wire.OpenPageInputs{
		PageKey:     "pk1",
		Page:        wire.PageInfo{Slug: "dashboard"},
		Params:      map[string]any{},
		Environment: "development",
	}
	openEnv.Data, _ = json.Marshal(openIn)
	b, _ := json.Marshal(openEnv)
	fd.writeFrame(wire.NewMessageFrame(string(b)))

	sendPageCall := fd.waitForCall(t, wire.MethodSendPage)
	var sendPageIn wire.SendPageInputs
	if err := json.Unmarshal(sendPageCall.Data, &sendPageIn); err != nil {
		t.Fatalf("unmarshal send_page inputs: %v", err)
	}

	var pageEnv codec.Envelope
	if err := json.Unmarshal([]byte(sendPageIn.Page), &pageEnv); err != nil {
		t.Fatalf("unmarshal page envelope: %v", err)
	}
	var layout struct {
		Children *struct {
			InputGroupKey string `json:"inputGroupKey"`
			ToRender      []struct {
				MethodName string `json:"methodName"`
			} `json:"toRender"`
		} `json:"children"`
	}
	if err := json.Unmarshal(pageEnv.JSON, &layout); err != nil {
		t.Fatalf("unmarshal layout: %v", err)
	}
	if layout.Children == nil || layout.Children.InputGroupKey == "" {
		t.Fatal("expected the sent page layout to carry a children render with an inputGroupKey")
	}
	if len(layout.Children.ToRender) != 1 || layout.Children.ToRender[0].MethodName != string(component.InputText) {
		t.Fatalf("ToRender = %+v, want one INPUT_TEXT component", layout.Children.ToRender)
	}

	value, _ := json.Marshal("Ada")
	resp := ioengine.Response{
		Kind:          ioengine.ResponseReturn,
		InputGroupKey: layout.Children.InputGroupKey,
		Values:        []json.RawMessage{value},
	}
	respData, _ := json.Marshal(resp)

	ioRespEnv := wire.Envelope{ID: "srv-io", MethodName: string(wire.MethodIOResponse), Kind: wire.EnvelopeCall}
	ioRespEnv.Data, _ = json.Marshal(wire.IOResponseInputs{TransactionID: "pk1", Value: string(respData)})
	b, _ = json.Marshal(ioRespEnv)
	fd.writeFrame(wire.NewMessageFrame(string(b)))

	select {
	case <-nameField.Result():
	case <-time.After(2 * time.Second):
		t.Fatal("child component never resolved from a routed IO_RESPONSE")
	}
	got, err := nameField.Value()
	if err != nil {
		t.Fatalf("Value: %v", err)
	}
	if got != "Ada" {
		t.Errorf("resolved value = %q, want %q", got, "Ada")
	}
}

func TestHost_OpenPage_UnknownSlugReturnsError(t *testing.T) {
	fd := newFakeDashboard(t)
	defer fd.Close()

	h := New(testConfig(fd.wsURL()), nil)

	ctx := context.Background()
	raw, _ := json.Marshal(wire.OpenPageInputs{PageKey: "pk1", Page: wire.PageInfo{Slug: "missing"}})
	out, err := h.handleOpenPage(ctx, raw)
	if err != nil {
		t.Fatalf("handleOpenPage: %v", err)
	}
	var ret wire.OpenPageReturns
	if err := json.Unmarshal(out, &ret); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ret.Type != "ERROR" {
		t.Errorf("Type = %q, want ERROR", ret.Type)
	}
}

func TestRestBaseURL_UsedForHostRestDelegates(t *testing.T) {
	h := New(testConfig("wss://example.com/websocket"), nil)
	if h.rest == nil {
		t.Fatal("expected a rest client to be constructed in New")
	}
	if h.rest.baseURL != "https://example.com" {
		t.Errorf("rest baseURL = %q, want https://example.com", h.rest.baseURL)
	}
}
