// Package rpcerr maps the error taxonomy of §7 onto the numeric codes the
// broker-facing HTTP surface and the RpcMessage Error variant both use.
package rpcerr

import "github.com/udsactor/agent/pkg/rpc"

// Timeout builds the Error message sent when a bounded wait expires.
func Timeout(message string) *rpc.ErrorMessage {
	if message == "" {
		message = "timeout"
	}
	return &rpc.ErrorMessage{Code: 408, Message: message}
}

// Forbidden builds the Error message sent on secret/authorization mismatch.
func Forbidden(message string) *rpc.ErrorMessage {
	if message == "" {
		message = "forbidden"
	}
	return &rpc.ErrorMessage{Code: 403, Message: message}
}

// Other builds the Error message for any other failure, HTTP 500 class.
func Other(message string) *rpc.ErrorMessage {
	if message == "" {
		message = "internal error"
	}
	return &rpc.ErrorMessage{Code: 500, Message: message}
}
