package hostsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/relaydash/hostsdk/internal/httpkit"
	"github.com/relaydash/hostsdk/internal/wire"
)

// restClient issues the host's outbound REST calls: NOTIFY,
// ENQUEUE_ACTION and DEQUEUE_ACTION are declared as RPC methods in the
// wire vocabulary for completeness, but (matching the original
// implementation's concrete behavior) are actually delivered as plain
// HTTP POSTs rather than over the duplex socket, so they keep working
// even while the socket is reconnecting.
type restClient struct {
	http    *http.Client
	baseURL string
	apiKey  string
}

func newRESTClient(baseURL, apiKey string) *restClient {
	return &restClient{
		http:    httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (c *restClient) post(ctx context.Context, path string, body any, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("hostsdk: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("hostsdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("hostsdk: %s: %w", path, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("hostsdk: %s returned %s: %s", path, resp.Status, httpkit.ReadErrorBody(resp.Body, 4096))
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Notify delivers an out-of-band message to the dashboard (and, per
// DeliveryInstructions, to specific recipients) outside of any
// transaction.
func (c *restClient) Notify(ctx context.Context, in wire.NotifyInputs) error {
	return c.post(ctx, "/api/notify", in, nil)
}

// EnqueueActionResult is the outcome of enqueuing a background action
// run.
type EnqueueActionResult struct {
	ID string `json:"id"`
}

// EnqueueAction schedules an action to run without an interactive
// operator present.
func (c *restClient) EnqueueAction(ctx context.Context, in wire.EnqueueActionInputs) (EnqueueActionResult, error) {
	var out EnqueueActionResult
	err := c.post(ctx, "/api/actions/enqueue", in, &out)
	return out, err
}

// DequeueAction cancels a previously enqueued action run.
func (c *restClient) DequeueAction(ctx context.Context, in wire.DequeueActionInputs) error {
	return c.post(ctx, "/api/actions/dequeue", in, nil)
}
