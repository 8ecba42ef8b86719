// Package hostsdk lets an application expose operator actions and
// composite layout pages to a remote dashboard over a persistent
// websocket: register routes, then call Listen to connect, announce
// them, and serve the dashboard's calls for as long as the process
// runs.
package hostsdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaydash/hostsdk/codec"
	"github.com/relaydash/hostsdk/internal/buildinfo"
	"github.com/relaydash/hostsdk/internal/config"
	"github.com/relaydash/hostsdk/internal/connwatch"
	"github.com/relaydash/hostsdk/internal/ioengine"
	"github.com/relaydash/hostsdk/internal/loading"
	"github.com/relaydash/hostsdk/internal/pageengine"
	"github.com/relaydash/hostsdk/internal/rpc"
	"github.com/relaydash/hostsdk/internal/transport"
	"github.com/relaydash/hostsdk/internal/wire"
)

// Host is the SDK's connection controller. It owns the duplex socket,
// the RPC layer bound to it, the route registry, and every open
// transaction and page session. Construct one with New, register
// routes via Routes, then call Listen.
type Host struct {
	cfg    *config.Config
	logger *slog.Logger
	rest   *restClient
	codec  codec.Default

	routes     *Routes
	validator  *wire.Validator
	instanceID string
	rpcClient  *rpc.Client

	mu             sync.Mutex
	socket         *transport.Socket
	watcher        *connwatch.Watcher
	rootCtx        context.Context
	actionHandlers map[string]*Action
	pageHandlers   map[string]*Page
	reinitTimer    *time.Timer

	txMu         sync.Mutex
	transactions map[string]*liveTransaction

	pageMu sync.Mutex
	pages  map[string]*livePage

	cancel context.CancelFunc
	done   chan struct{}
}

type liveTransaction struct {
	io      *ioengine.IOClient
	loading *loading.State
}

type livePage struct {
	session *pageengine.Session
	io      *ioengine.IOClient
}

// New constructs a Host bound to cfg. Register routes via Routes()
// before calling Listen.
func New(cfg *config.Config, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Host{
		cfg:          cfg,
		logger:       logger,
		rest:         newRESTClient(restBaseURL(cfg.Endpoint), cfg.APIKey),
		routes:       newRoutes(),
		validator:    wire.NewValidator(),
		instanceID:   uuid.NewString(),
		transactions: make(map[string]*liveTransaction),
		pages:        make(map[string]*livePage),
	}
	h.routes.onChange = h.handleRoutesChange
	// Constructed with no bound transport; Rebind happens after every
	// successful dial, including reconnects, so this single instance
	// survives the socket's lifetime (see internal/rpc.Client.Rebind).
	h.rpcClient = rpc.NewClient(nil, h.validator)
	h.registerHandlers()
	return h
}

// Routes returns the route registry actions and pages are added to.
// Registering a route after Listen has connected triggers a debounced
// re-INITIALIZE_HOST.
func (h *Host) Routes() *Routes {
	return h.routes
}

// Listen dials the dashboard and serves its calls until ctx is
// canceled. On a dropped connection it reconnects with the same
// instance ID, replaying pending IO calls and loading states once the
// new socket is authenticated. It returns an *ErrInvalidSlug as soon as
// INITIALIZE_HOST rejects registered route slugs; any other failure to
// connect or initialize is logged and retried after
// RetryIntervalSeconds. Otherwise it returns the context's error once
// ctx is done.
func (h *Host) Listen(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.rootCtx = ctx
	h.mu.Unlock()
	h.cancel = cancel
	h.done = make(chan struct{})
	defer close(h.done)

	for {
		err := h.connectAndServe(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var slugErr *ErrInvalidSlug
		if errors.As(err, &slugErr) {
			return err
		}
		if err != nil {
			h.logger.Warn("hostsdk: connection lost, reconnecting", "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(h.cfg.RetryIntervalSeconds) * time.Second):
		}
	}
}

func (h *Host) connectAndServe(ctx context.Context) error {
	header := http.Header{}
	header.Set("x-api-key", h.cfg.APIKey)
	header.Set("x-instance-id", h.instanceID)

	closed := make(chan error, 1)
	socket, err := transport.Dial(ctx, transport.Options{
		URL:            h.cfg.Endpoint,
		Header:         header,
		ConnectTimeout: seconds(h.cfg.ConnectTimeoutSeconds),
		SendTimeout:    seconds(h.cfg.SendTimeoutSeconds),
		ProducerCount:  h.cfg.ProducerCount,
		OutQueueSize:   h.cfg.OutQueueSize,
		Logger:         h.logger,
		OnMessage: func(data string) {
			h.rpcClient.OnMessage(ctx, data)
		},
		OnClose: func(err error) {
			closed <- err
		},
	})
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	h.mu.Lock()
	h.socket = socket
	h.mu.Unlock()
	h.rpcClient.Rebind(socket)

	watcher := connwatch.Watch(ctx, connwatch.WatcherConfig{
		Name:  "dashboard",
		Probe: socket.Ping,
		Poll: connwatch.Config{
			PollInterval:      seconds(h.cfg.PingIntervalSeconds),
			ProbeTimeout:      seconds(h.cfg.PingTimeoutSeconds),
			UnresponsiveAfter: seconds(h.cfg.CloseUnresponsiveConnectionTimeoutSeconds),
		},
		OnUnresponsive: func(err error) {
			h.logger.Warn("hostsdk: dashboard unresponsive, forcing reconnect", "error", err)
			socket.Close()
		},
		Logger: h.logger,
	})
	h.mu.Lock()
	h.watcher = watcher
	h.mu.Unlock()
	defer watcher.Stop()

	if _, err := h.initializeHost(ctx); err != nil {
		socket.Close()
		return fmt.Errorf("initialize host: %w", err)
	}

	h.replayPending(ctx)

	select {
	case err := <-closed:
		return err
	case <-ctx.Done():
		socket.Close()
		return ctx.Err()
	}
}

func (h *Host) initializeHost(ctx context.Context) (wire.InitializeHostReturns, error) {
	flat := walkRoutes(h.routes)

	h.mu.Lock()
	h.actionHandlers = flat.actionByPath
	h.pageHandlers = flat.pageByPath
	h.mu.Unlock()

	in := wire.InitializeHostInputs{
		APIKey:     h.cfg.APIKey,
		SDKName:    buildinfo.SDKName,
		SDKVersion: buildinfo.SDKVersion,
		Actions:    flat.actions,
		Groups:     flat.groups,
	}

	raw, err := h.rpcClient.Send(ctx, wire.MethodInitializeHost, in)
	if err != nil {
		return wire.InitializeHostReturns{}, err
	}

	var ret wire.InitializeHostReturns
	if err := json.Unmarshal(raw, &ret); err != nil {
		return wire.InitializeHostReturns{}, fmt.Errorf("unmarshal initialize_host return: %w", err)
	}
	if !ret.IsSuccess() {
		if len(ret.InvalidSlugs) > 0 {
			return ret, &ErrInvalidSlug{Slugs: ret.InvalidSlugs}
		}
		return ret, fmt.Errorf("hostsdk: initialize_host rejected: %s", ret.Message)
	}

	if ret.SDKAlert != nil {
		h.logSDKAlert(*ret.SDKAlert)
	}
	for _, w := range ret.Warnings {
		h.logger.Warn("hostsdk: dashboard warning", "message", w)
	}
	return ret, nil
}

func (h *Host) logSDKAlert(alert wire.SDKAlert) {
	msg := "a newer SDK version is recommended"
	if alert.Message != nil {
		msg = *alert.Message
	}
	switch alert.Severity {
	case "ERROR":
		h.logger.Error(msg, "min_sdk_version", alert.MinSDKVersion)
	case "WARNING":
		h.logger.Warn(msg, "min_sdk_version", alert.MinSDKVersion)
	default:
		h.logger.Info(msg, "min_sdk_version", alert.MinSDKVersion)
	}
}

// replayPending re-delivers the current render/loading state of every
// live transaction after a reconnect, so the dashboard's view does not
// go stale while it waits for the next natural update. Each
// transaction's IO call is retried independently in the background:
// a CANCELED/TRANSACTION_CLOSED failure or a server reply of false
// drops that entry outright; any other failure is retried every
// retry_interval until it succeeds, the transaction completes, or ctx
// ends.
func (h *Host) replayPending(ctx context.Context) {
	h.txMu.Lock()
	txns := make(map[string]*liveTransaction, len(h.transactions))
	for id, t := range h.transactions {
		txns[id] = t
	}
	h.txMu.Unlock()

	for id, t := range txns {
		id, t := id, t
		if err := t.loading.Resend(ctx); err != nil {
			h.logger.Warn("hostsdk: resend loading state failed", "transaction_id", id, "error", err)
		}
		go h.resendIOCallWithRetry(ctx, id, t)
	}
}

func (h *Host) resendIOCallWithRetry(ctx context.Context, id string, t *liveTransaction) {
	interval := time.Duration(h.cfg.RetryIntervalSeconds) * time.Second
	for {
		err := t.io.Resend(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, ErrIOCallRejected) || errors.Is(err, ErrTransactionClosed) || errors.Is(err, ioengine.ErrTransactionClosed) {
			h.logger.Info("hostsdk: dropping pending io call after terminal reply", "transaction_id", id, "error", err)
			return
		}
		h.logger.Debug("hostsdk: resend io call failed, retrying", "transaction_id", id, "error", err)
		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return
		}
		h.txMu.Lock()
		_, stillLive := h.transactions[id]
		h.txMu.Unlock()
		if !stillLive {
			return
		}
	}
}

// handleRoutesChange debounces bursts of Routes.Add/Remove calls into a
// single re-INITIALIZE_HOST, ReinitializeBatchMillis after the last
// change.
func (h *Host) handleRoutesChange() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.reinitTimer != nil {
		h.reinitTimer.Stop()
	}
	ctx := h.rootCtx
	if ctx == nil {
		return // Listen has not started yet; initializeHost will see the current routes
	}

	h.reinitTimer = time.AfterFunc(time.Duration(h.cfg.ReinitializeBatchMillis)*time.Millisecond, func() {
		if _, err := h.initializeHost(ctx); err != nil {
			h.logger.Error("hostsdk: reinitialize host failed", "error", err)
		}
	})
}

// Close tears down the live connection and stops Listen.
func (h *Host) Close() error {
	h.mu.Lock()
	cancel := h.cancel
	socket := h.socket
	watcher := h.watcher
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if watcher != nil {
		watcher.Stop()
	}
	if socket != nil {
		socket.Close()
	}
	if h.done != nil {
		<-h.done
	}
	return nil
}

// Notify delivers an out-of-band message to the dashboard outside of
// any transaction.
func (h *Host) Notify(ctx context.Context, in wire.NotifyInputs) error {
	return h.rest.Notify(ctx, in)
}

// EnqueueAction schedules an action to run without an interactive
// operator present.
func (h *Host) EnqueueAction(ctx context.Context, in wire.EnqueueActionInputs) (EnqueueActionResult, error) {
	return h.rest.EnqueueAction(ctx, in)
}

// DequeueAction cancels a previously enqueued action run.
func (h *Host) DequeueAction(ctx context.Context, in wire.DequeueActionInputs) error {
	return h.rest.DequeueAction(ctx, in)
}

func (h *Host) registerHandlers() {
	h.rpcClient.Handle(wire.MethodStartTransaction, h.handleStartTransaction)
	h.rpcClient.Handle(wire.MethodIOResponse, h.handleIOResponse)
	h.rpcClient.Handle(wire.MethodOpenPage, h.handleOpenPage)
	h.rpcClient.Handle(wire.MethodClosePage, h.handleClosePage)
}

func (h *Host) handleStartTransaction(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in wire.StartTransactionInputs
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("unmarshal start_transaction: %w", err)
	}

	txn := &liveTransaction{
		loading: loading.New(in.TransactionID, h.sendLoadingCall, h.logger),
	}
	txn.io = ioengine.NewIOClient(func(ctx context.Context, render ioengine.IORender) error {
		return h.sendIOCall(ctx, in.TransactionID, render)
	})

	h.txMu.Lock()
	h.transactions[in.TransactionID] = txn
	h.txMu.Unlock()

	// START_TRANSACTION has no meaningful return value; the action runs
	// in the background and its outcome is delivered later via
	// MARK_TRANSACTION_COMPLETE, mirroring the original implementation's
	// fire-and-forget asyncio task.
	go h.runAction(in, txn)

	return nil, nil
}

func (h *Host) runAction(in wire.StartTransactionInputs, txn *liveTransaction) {
	h.mu.Lock()
	ctx := h.rootCtx
	action, ok := h.actionHandlers[in.Action.Slug]
	h.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	defer func() {
		h.txMu.Lock()
		delete(h.transactions, in.TransactionID)
		h.txMu.Unlock()
	}()

	var result any
	var resultErr error
	if !ok {
		resultErr = fmt.Errorf("hostsdk: no handler registered for action %q", in.Action.Slug)
	} else {
		actx := &ActionContext{
			Context:     ctx,
			Action:      in.Action,
			User:        in.User,
			Params:      in.Params,
			Environment: in.Environment,
			IO:          txn.io,
			Loading:     txn.loading,
		}
		result, resultErr = action.Handler(actx)
	}

	if errors.Is(resultErr, ErrTransactionClosed) || errors.Is(resultErr, ioengine.ErrTransactionClosed) {
		// The dashboard already owns finalization of a canceled/closed
		// transaction; sending MARK_TRANSACTION_COMPLETE here would race
		// it. Local state is still cleaned up by the deferred delete above.
		h.logger.Info("hostsdk: transaction ended without a result", "transaction_id", in.TransactionID, "reason", resultErr)
		return
	}

	var ar actionResult
	ar.SchemaVersion = 1
	switch {
	case resultErr != nil:
		ar.Status = "FAILURE"
		ar.Data = map[string]string{"error": errorClassName(resultErr), "message": resultErr.Error()}
	default:
		ar.Status = "SUCCESS"
		ar.Data = result
	}

	resultJSON, err := json.Marshal(ar)
	if err != nil {
		h.logger.Error("hostsdk: marshal action result failed", "error", err)
		return
	}
	resultStr := string(resultJSON)

	if _, err := h.rpcClient.Send(ctx, wire.MethodMarkTransactionComplete, wire.MarkTransactionCompleteInputs{
		TransactionID: in.TransactionID,
		Result:        &resultStr,
	}); err != nil {
		h.logger.Error("hostsdk: mark_transaction_complete failed", "error", err)
	}
}

// actionResult is the value carried in MARK_TRANSACTION_COMPLETE's result
// field. Data is an arbitrary user return value on SUCCESS, or
// {error, message} on FAILURE.
type actionResult struct {
	SchemaVersion int    `json:"schemaVersion"`
	Status        string `json:"status"`
	Data          any    `json:"data,omitempty"`
}

// errorClassName approximates the original's err.__class__.__name__ for
// Go errors: the unqualified type name of the error value.
func errorClassName(err error) string {
	name := fmt.Sprintf("%T", err)
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimPrefix(name, "*")
}

func (h *Host) handleIOResponse(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in wire.IOResponseInputs
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("unmarshal io_response: %w", err)
	}

	// IO_RESPONSE carries one generic key in TransactionID: for a
	// transaction it is the transaction id, for an open page it is the
	// page_key the client is rendering into. Both registries share this
	// keyspace, mirroring _io_response_handlers upstream.
	var io *ioengine.IOClient
	h.txMu.Lock()
	if txn, ok := h.transactions[in.TransactionID]; ok {
		io = txn.io
	}
	h.txMu.Unlock()
	if io == nil {
		h.pageMu.Lock()
		if page, ok := h.pages[in.TransactionID]; ok {
			io = page.io
		}
		h.pageMu.Unlock()
	}
	if io == nil {
		h.logger.Debug("hostsdk: missing reply handler for io_response", "id", in.TransactionID)
		return nil, nil
	}

	var resp ioengine.Response
	if err := json.Unmarshal([]byte(in.Value), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal io response value: %w", err)
	}

	if err := io.OnResponse(ctx, resp); err != nil {
		h.logger.Error("hostsdk: io response handling failed", "error", err)
	}
	return nil, nil
}

func (h *Host) handleOpenPage(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in wire.OpenPageInputs
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("unmarshal open_page: %w", err)
	}

	h.mu.Lock()
	page, ok := h.pageHandlers[in.Page.Slug]
	rootCtx := h.rootCtx
	h.mu.Unlock()
	if rootCtx == nil {
		rootCtx = context.Background()
	}

	if !ok || page.Handler == nil {
		msg := fmt.Sprintf("no handler registered for page %q", in.Page.Slug)
		return json.Marshal(wire.OpenPageReturns{Type: "ERROR", Message: &msg})
	}

	// The IO client is constructed before the handler runs, and before
	// the session that will eventually own its render output exists, so
	// its send hook forwards into the session once Open sets it below.
	var session *pageengine.Session
	pageIO := ioengine.NewIOClient(func(ctx context.Context, render ioengine.IORender) error {
		if session != nil {
			session.DeliverChildrenRender(render)
		}
		return nil
	})

	pctx := &PageContext{
		Context:     ctx,
		Page:        in.Page,
		User:        in.User,
		Params:      in.Params,
		Environment: in.Environment,
		IO:          pageIO,
	}
	src, err := page.Handler(pctx)
	if err != nil {
		msg := err.Error()
		return json.Marshal(wire.OpenPageReturns{Type: "ERROR", Message: &msg})
	}

	retryInterval := time.Duration(h.cfg.RetryIntervalSeconds) * time.Second
	session = pageengine.Open(rootCtx, in.PageKey, src, h.sendPage, retryInterval, h.logger, pageIO)

	h.pageMu.Lock()
	h.pages[in.PageKey] = &livePage{session: session, io: pageIO}
	h.pageMu.Unlock()

	return json.Marshal(wire.OpenPageReturns{Type: "SUCCESS", PageKey: in.PageKey})
}

func (h *Host) handleClosePage(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var in wire.ClosePageInputs
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("unmarshal close_page: %w", err)
	}

	h.pageMu.Lock()
	page, ok := h.pages[in.PageKey]
	delete(h.pages, in.PageKey)
	h.pageMu.Unlock()

	if ok {
		page.session.Close()
	}
	return nil, nil
}

// sendIOCall serializes render through the payload codec (preserving
// Date/Set/Map/etc. component prop types) and delivers it via
// SEND_IO_CALL.
func (h *Host) sendIOCall(ctx context.Context, transactionID string, render ioengine.IORender) error {
	env, err := h.codec.Serialize(render)
	if err != nil {
		return fmt.Errorf("hostsdk: serialize io call: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("hostsdk: marshal io call envelope: %w", err)
	}
	raw, err := h.rpcClient.Send(ctx, wire.MethodSendIOCall, wire.SendIOCallInputs{
		TransactionID: transactionID,
		IOCall:        string(data),
	})
	if err != nil {
		return err
	}
	var accepted bool
	if err := json.Unmarshal(raw, &accepted); err == nil && !accepted {
		return ErrIOCallRejected
	}
	return nil
}

func (h *Host) sendLoadingCall(ctx context.Context, transactionID string, snap loading.Snapshot) error {
	_, err := h.rpcClient.Send(ctx, wire.MethodSendLoadingCall, wire.SendLoadingCallInputs{
		TransactionID:  transactionID,
		Title:          snap.Title,
		Description:    snap.Description,
		ItemsInQueue:   snap.ItemsInQueue,
		ItemsCompleted: snap.ItemsCompleted,
	})
	return err
}

func (h *Host) sendPage(ctx context.Context, pageKey string, layout pageengine.Layout) error {
	env, err := h.codec.Serialize(layout)
	if err != nil {
		return fmt.Errorf("hostsdk: serialize page layout: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("hostsdk: marshal page layout envelope: %w", err)
	}
	_, err = h.rpcClient.Send(ctx, wire.MethodSendPage, wire.SendPageInputs{
		PageKey: pageKey,
		Page:    string(data),
	})
	return err
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// restBaseURL derives the dashboard's REST origin from its websocket
// endpoint (ws/wss -> http/https, path dropped), since NOTIFY,
// ENQUEUE_ACTION and DEQUEUE_ACTION are plain HTTP POSTs rather than
// RPC calls over the socket.
func restBaseURL(wsEndpoint string) string {
	u, err := url.Parse(wsEndpoint)
	if err != nil {
		return wsEndpoint
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
