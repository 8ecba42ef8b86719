package wire

// HostMethod names a method the host may invoke on the dashboard
// (spec.md §4.C "Host→server"). Mirrors ws_server_schema in
// internal_rpc_schema.py.
type HostMethod string

const (
	MethodInitializeHost                HostMethod = "INITIALIZE_HOST"
	MethodSendIOCall                    HostMethod = "SEND_IO_CALL"
	MethodSendLoadingCall               HostMethod = "SEND_LOADING_CALL"
	MethodSendLog                       HostMethod = "SEND_LOG"
	MethodSendRedirect                  HostMethod = "SEND_REDIRECT"
	MethodSendPage                      HostMethod = "SEND_PAGE"
	MethodMarkTransactionComplete       HostMethod = "MARK_TRANSACTION_COMPLETE"
	MethodNotify                        HostMethod = "NOTIFY"
	MethodEnqueueAction                 HostMethod = "ENQUEUE_ACTION"
	MethodDequeueAction                 HostMethod = "DEQUEUE_ACTION"
	MethodConnectToTransactionAsClient  HostMethod = "CONNECT_TO_TRANSACTION_AS_CLIENT"
	MethodRespondToIOCall               HostMethod = "RESPOND_TO_IO_CALL"
)

// ServerMethod names a method the dashboard invokes on the host
// (spec.md §4.C "Server→host"). Mirrors host_schema in
// internal_rpc_schema.py.
type ServerMethod string

const (
	MethodStartTransaction ServerMethod = "START_TRANSACTION"
	MethodIOResponse       ServerMethod = "IO_RESPONSE"
	MethodOpenPage         ServerMethod = "OPEN_PAGE"
	MethodClosePage        ServerMethod = "CLOSE_PAGE"
)

// RPCMethod is one entry of a method table: the JSON Schema documents
// (as text, compiled lazily by Validator) its input and return values
// must satisfy. A nil schema means "no constraint" (void input/return).
type RPCMethod struct {
	InputSchema  []byte
	ReturnSchema []byte
}

// HostCallable is the set of methods this SDK may invoke on the
// dashboard, with the schemas their inputs/returns must satisfy.
var HostCallable = map[HostMethod]RPCMethod{
	MethodInitializeHost: {
		InputSchema:  schemaInitializeHostInputs,
		ReturnSchema: schemaInitializeHostReturns,
	},
	MethodSendIOCall: {
		InputSchema:  schemaSendIOCallInputs,
		ReturnSchema: schemaBool,
	},
	MethodSendLoadingCall: {
		InputSchema:  schemaSendLoadingCallInputs,
		ReturnSchema: schemaBool,
	},
	MethodSendLog: {
		InputSchema:  schemaSendLogInputs,
		ReturnSchema: nil,
	},
	MethodSendRedirect: {
		InputSchema:  schemaSendRedirectInputs,
		ReturnSchema: schemaBool,
	},
	MethodSendPage: {
		InputSchema:  schemaSendPageInputs,
		ReturnSchema: schemaBool,
	},
	MethodMarkTransactionComplete: {
		InputSchema:  schemaMarkTransactionCompleteInputs,
		ReturnSchema: schemaBool,
	},
	MethodNotify: {
		InputSchema:  schemaNotifyInputs,
		ReturnSchema: schemaBool,
	},
	MethodEnqueueAction: {
		InputSchema:  schemaEnqueueActionInputs,
		ReturnSchema: nil,
	},
	MethodDequeueAction: {
		InputSchema:  schemaDequeueActionInputs,
		ReturnSchema: nil,
	},
	MethodConnectToTransactionAsClient: {
		InputSchema:  schemaConnectToTransactionAsClientInputs,
		ReturnSchema: schemaBool,
	},
	MethodRespondToIOCall: {
		InputSchema:  schemaRespondToIOCallInputs,
		ReturnSchema: schemaBool,
	},
}

// HostRespondsTo is the set of methods the dashboard invokes on this SDK.
var HostRespondsTo = map[ServerMethod]RPCMethod{
	MethodStartTransaction: {
		InputSchema:  schemaStartTransactionInputs,
		ReturnSchema: nil,
	},
	MethodIOResponse: {
		InputSchema:  schemaIOResponseInputs,
		ReturnSchema: nil,
	},
	MethodOpenPage: {
		InputSchema:  schemaOpenPageInputs,
		ReturnSchema: schemaOpenPageReturns,
	},
	MethodClosePage: {
		InputSchema:  schemaClosePageInputs,
		ReturnSchema: nil,
	},
}

var schemaBool = []byte(`{"type": "boolean"}`)

var schemaInitializeHostInputs = []byte(`{
  "type": "object",
  "required": ["apiKey", "sdkName", "sdkVersion", "actions", "groups"],
  "properties": {
    "apiKey": {"type": "string"},
    "sdkName": {"type": "string"},
    "sdkVersion": {"type": "string"},
    "actions": {"type": "array"},
    "groups": {"type": "array"}
  }
}`)

var schemaInitializeHostReturns = []byte(`{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["success", "error"]}
  }
}`)

var schemaSendIOCallInputs = []byte(`{
  "type": "object",
  "required": ["transactionId", "ioCall"],
  "properties": {
    "transactionId": {"type": "string"},
    "ioCall": {"type": "string"}
  }
}`)

var schemaSendLoadingCallInputs = []byte(`{
  "type": "object",
  "required": ["transactionId"],
  "properties": {
    "transactionId": {"type": "string"}
  }
}`)

var schemaSendLogInputs = []byte(`{
  "type": "object",
  "required": ["transactionId", "data", "index", "timestamp"],
  "properties": {
    "transactionId": {"type": "string"},
    "data": {"type": "string"},
    "index": {"type": "integer"},
    "timestamp": {"type": "integer"}
  }
}`)

var schemaSendRedirectInputs = []byte(`{
  "type": "object",
  "required": ["transactionId"],
  "properties": {
    "transactionId": {"type": "string"},
    "url": {"type": ["string", "null"]},
    "action": {"type": ["object", "null"]}
  }
}`)

var schemaSendPageInputs = []byte(`{
  "type": "object",
  "required": ["pageKey", "page"],
  "properties": {
    "pageKey": {"type": "string"},
    "page": {"type": "string"}
  }
}`)

var schemaMarkTransactionCompleteInputs = []byte(`{
  "type": "object",
  "required": ["transactionId"],
  "properties": {
    "transactionId": {"type": "string"},
    "result": {"type": ["string", "null"]}
  }
}`)

var schemaNotifyInputs = []byte(`{
  "type": "object",
  "required": ["message"],
  "properties": {
    "message": {"type": "string"}
  }
}`)

var schemaEnqueueActionInputs = []byte(`{
  "type": "object",
  "required": ["slug"],
  "properties": {
    "slug": {"type": "string"}
  }
}`)

var schemaDequeueActionInputs = []byte(`{
  "type": "object",
  "required": ["id"],
  "properties": {
    "id": {"type": "string"}
  }
}`)

var schemaConnectToTransactionAsClientInputs = []byte(`{
  "type": "object",
  "required": ["transactionId", "instanceId"],
  "properties": {
    "transactionId": {"type": "string"},
    "instanceId": {"type": "string"}
  }
}`)

var schemaRespondToIOCallInputs = []byte(`{
  "type": "object",
  "required": ["transactionId", "ioResponse"],
  "properties": {
    "transactionId": {"type": "string"},
    "ioResponse": {"type": "string"}
  }
}`)

var schemaStartTransactionInputs = []byte(`{
  "type": "object",
  "required": ["transactionId", "action", "user", "params", "environment"],
  "properties": {
    "transactionId": {"type": "string"},
    "action": {"type": "object"},
    "user": {"type": "object"},
    "params": {"type": "object"},
    "environment": {"enum": ["live", "development"]}
  }
}`)

var schemaIOResponseInputs = []byte(`{
  "type": "object",
  "required": ["value", "transactionId"],
  "properties": {
    "value": {"type": "string"},
    "transactionId": {"type": "string"}
  }
}`)

var schemaOpenPageInputs = []byte(`{
  "type": "object",
  "required": ["pageKey", "page", "user", "params", "environment"],
  "properties": {
    "pageKey": {"type": "string"},
    "page": {"type": "object"},
    "user": {"type": "object"},
    "params": {"type": "object"},
    "environment": {"enum": ["live", "development"]}
  }
}`)

var schemaOpenPageReturns = []byte(`{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["SUCCESS", "ERROR"]}
  }
}`)

var schemaClosePageInputs = []byte(`{
  "type": "object",
  "required": ["pageKey"],
  "properties": {
    "pageKey": {"type": "string"}
  }
}`)
