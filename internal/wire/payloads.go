package wire

import "encoding/json"

// ActionEnvironment mirrors internal_rpc_schema.py's ActionEnvironment.
type ActionEnvironment string

const (
	EnvironmentLive        ActionEnvironment = "live"
	EnvironmentDevelopment ActionEnvironment = "development"
)

// ContextUser identifies the operator driving a transaction or page.
type ContextUser struct {
	Email     string  `json:"email"`
	FirstName *string `json:"firstName,omitempty"`
	LastName  *string `json:"lastName,omitempty"`
}

// OrganizationDef identifies the dashboard organization the host is
// connected to.
type OrganizationDef struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// ActionInfo identifies the action being invoked by a transaction.
type ActionInfo struct {
	Slug string `json:"slug"`
	URL  string `json:"url"`
}

// PageInfo identifies the page a page session was opened for.
type PageInfo struct {
	Slug string `json:"slug"`
}

// SDKAlert is a server-originated advisory about client library version.
type SDKAlert struct {
	MinSDKVersion string  `json:"minSdkVersion"`
	Severity      string  `json:"severity"` // INFO | WARNING | ERROR
	Message       *string `json:"message,omitempty"`
}

// AccessControlObject restricts a route to a set of teams.
type AccessControlObject struct {
	Teams []string `json:"teams"`
}

// AccessControl is either the literal "entire-organization" or an
// AccessControlObject. Modeled as raw JSON since Go has no sum type;
// callers construct it with AccessEntireOrg or AccessTeams.
type AccessControl json.RawMessage

// AccessEntireOrg grants every member of the organization access.
func AccessEntireOrg() AccessControl {
	return AccessControl(`"entire-organization"`)
}

// AccessTeams restricts access to the named teams.
func AccessTeams(teams ...string) AccessControl {
	b, _ := json.Marshal(AccessControlObject{Teams: teams})
	return AccessControl(b)
}

// MarshalJSON implements json.Marshaler.
func (a AccessControl) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("null"), nil
	}
	return a, nil
}

// ActionDefinition is one flattened action entry sent in INITIALIZE_HOST.
type ActionDefinition struct {
	GroupSlug      *string        `json:"groupSlug,omitempty"`
	Slug           string         `json:"slug"`
	Name           *string        `json:"name,omitempty"`
	Description    *string        `json:"description,omitempty"`
	Backgroundable bool           `json:"backgroundable"`
	Unlisted       bool           `json:"unlisted"`
	Access         *AccessControl `json:"access,omitempty"`
}

// PageDefinition is one flattened group/page entry sent in
// INITIALIZE_HOST.
type PageDefinition struct {
	Slug        string         `json:"slug"`
	Name        string         `json:"name"`
	Description *string        `json:"description,omitempty"`
	HasHandler  bool           `json:"hasHandler"`
	Unlisted    bool           `json:"unlisted"`
	Access      *AccessControl `json:"access,omitempty"`
}

// InitializeHostInputs is the INITIALIZE_HOST RPC call body.
type InitializeHostInputs struct {
	APIKey     string             `json:"apiKey"`
	SDKName    string             `json:"sdkName"`
	SDKVersion string             `json:"sdkVersion"`
	Actions    []ActionDefinition `json:"actions"`
	Groups     []PageDefinition   `json:"groups"`
}

// InitializeHostReturns is the discriminated-union response to
// INITIALIZE_HOST. All fields besides Type are optional depending on
// which branch the dashboard returned.
type InitializeHostReturns struct {
	Type          string            `json:"type"` // "success" | "error"
	Environment   ActionEnvironment `json:"environment,omitempty"`
	InvalidSlugs  []string          `json:"invalidSlugs,omitempty"`
	Organization  *OrganizationDef  `json:"organization,omitempty"`
	DashboardURL  string            `json:"dashboardUrl,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	SDKAlert      *SDKAlert         `json:"sdkAlert,omitempty"`
	Message       string            `json:"message,omitempty"`
}

// IsSuccess reports whether the dashboard accepted initialization.
func (r InitializeHostReturns) IsSuccess() bool { return r.Type == "success" }

// SendIOCallInputs is the SEND_IO_CALL RPC call body: the serialized
// render batch for one transaction.
type SendIOCallInputs struct {
	TransactionID string `json:"transactionId"`
	IOCall        string `json:"ioCall"`
}

// SendLoadingCallInputs is the SEND_LOADING_CALL RPC call body.
type SendLoadingCallInputs struct {
	TransactionID  string  `json:"transactionId"`
	Title          *string `json:"title,omitempty"`
	Description    *string `json:"description,omitempty"`
	ItemsInQueue   *int    `json:"itemsInQueue,omitempty"`
	ItemsCompleted *int    `json:"itemsCompleted,omitempty"`
}

// SendLogInputs is the SEND_LOG RPC call body.
type SendLogInputs struct {
	TransactionID string `json:"transactionId"`
	Data          string `json:"data"`
	Index         int    `json:"index"`
	Timestamp     int64  `json:"timestamp"` // milliseconds
}

// RedirectAction targets an action+params redirect instead of a bare URL.
type RedirectAction struct {
	Slug   string         `json:"slug"`
	Params map[string]any `json:"params,omitempty"`
}

// SendRedirectInputs is the SEND_REDIRECT RPC call body.
type SendRedirectInputs struct {
	TransactionID string          `json:"transactionId"`
	URL           *string         `json:"url,omitempty"`
	Action        *RedirectAction `json:"action,omitempty"`
}

// SendPageInputs is the SEND_PAGE RPC call body.
type SendPageInputs struct {
	PageKey string `json:"pageKey"`
	Page    string `json:"page"`
}

// MarkTransactionCompleteInputs is the MARK_TRANSACTION_COMPLETE RPC call
// body.
type MarkTransactionCompleteInputs struct {
	TransactionID string  `json:"transactionId"`
	Result        *string `json:"result,omitempty"`
}

// DeliveryInstruction targets a notification at a specific user/Slack
// channel/email; see NotifyInputs.
type DeliveryInstruction struct {
	To     string  `json:"to"`
	Method *string `json:"method,omitempty"`
}

// NotifyInputs is the NOTIFY RPC call body.
type NotifyInputs struct {
	Message              string                 `json:"message"`
	Title                *string                `json:"title,omitempty"`
	TransactionID         *string               `json:"transactionId,omitempty"`
	DeliveryInstructions  []DeliveryInstruction  `json:"deliveryInstructions,omitempty"`
	IdempotencyKey        *string                `json:"idempotencyKey,omitempty"`
	CreatedAt             string                 `json:"createdAt"`
}

// EnqueueActionInputs is the ENQUEUE_ACTION RPC call body.
type EnqueueActionInputs struct {
	Slug     string         `json:"slug"`
	Assignee *string        `json:"assignee,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// DequeueActionInputs is the DEQUEUE_ACTION RPC call body.
type DequeueActionInputs struct {
	ID string `json:"id"`
}

// ConnectToTransactionAsClientInputs is the
// CONNECT_TO_TRANSACTION_AS_CLIENT RPC call body.
type ConnectToTransactionAsClientInputs struct {
	TransactionID string `json:"transactionId"`
	InstanceID    string `json:"instanceId"`
}

// RespondToIOCallInputs is the RESPOND_TO_IO_CALL RPC call body.
type RespondToIOCallInputs struct {
	TransactionID string `json:"transactionId"`
	IOResponse    string `json:"ioResponse"`
}

// StartTransactionInputs is the START_TRANSACTION RPC call body received
// from the dashboard.
type StartTransactionInputs struct {
	TransactionID string            `json:"transactionId"`
	Action        ActionInfo        `json:"action"`
	User          ContextUser       `json:"user"`
	Params        map[string]any    `json:"params"`
	Environment   ActionEnvironment `json:"environment"`
}

// IOResponseInputs is the IO_RESPONSE RPC call body received from the
// dashboard: Value is itself a serialized IORender-response JSON blob
// (see ioengine.Response).
type IOResponseInputs struct {
	Value         string `json:"value"`
	TransactionID string `json:"transactionId"`
}

// OpenPageInputs is the OPEN_PAGE RPC call body received from the
// dashboard.
type OpenPageInputs struct {
	PageKey     string            `json:"pageKey"`
	ClientID    *string           `json:"clientId,omitempty"`
	Page        PageInfo          `json:"page"`
	Environment ActionEnvironment `json:"environment"`
	User        ContextUser       `json:"user"`
	Params      map[string]any    `json:"params"`
}

// OpenPageReturns is the host's reply to OPEN_PAGE.
type OpenPageReturns struct {
	Type    string  `json:"type"` // "SUCCESS" | "ERROR"
	PageKey string  `json:"pageKey,omitempty"`
	Message *string `json:"message,omitempty"`
}

// ClosePageInputs is the CLOSE_PAGE RPC call body received from the
// dashboard.
type ClosePageInputs struct {
	PageKey string `json:"pageKey"`
}
