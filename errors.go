package hostsdk

import "errors"

// ErrNotConnected reports that an operation needs a live dashboard
// connection. No Host method returns it: Notify, EnqueueAction and
// DequeueAction are plain HTTP POSTs and work before Listen connects.
var ErrNotConnected = errors.New("hostsdk: not connected")

// ErrTransactionClosed may be returned by an action handler to report
// that its transaction was closed. The host treats it like
// ioengine.ErrTransactionClosed, which is what IOClient.RenderComponents
// returns once the transaction has been canceled.
var ErrTransactionClosed = errors.New("hostsdk: transaction closed")

// ErrIOCallRejected is returned when the dashboard replies false to a
// SEND_IO_CALL, refusing it outright rather than failing the send.
var ErrIOCallRejected = errors.New("hostsdk: server rejected io call")

// ErrInvalidSlug is returned from Listen when INITIALIZE_HOST rejects
// one or more registered route slugs.
type ErrInvalidSlug struct {
	Slugs []string
}

func (e *ErrInvalidSlug) Error() string {
	return "hostsdk: dashboard rejected route slugs: " + joinStrings(e.Slugs)
}

func joinStrings(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
