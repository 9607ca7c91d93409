package diameter

import (
	"errors"
	"fmt"

	"github.com/danmuck/smfaaa/internal/protocol/schema"
)

var (
	ErrNotConnected     = errors.New("diameter: peer not connected")
	ErrAnswerTimeout    = errors.New("diameter: answer timeout")
	ErrPeerDisconnected = errors.New("diameter: peer disconnected")
	ErrPeerClosed       = errors.New("diameter: peer closed")
	ErrNoSessionID      = errors.New("diameter: request has no session-id")
	ErrDuplicateHop     = errors.New("diameter: hop-by-hop id in use")
)

// ProtocolError reports an answer the server flagged as failed: the E bit is
// set or the base Result-Code is outside the 2xxx success class.
type ProtocolError struct {
	CommandCode uint32
	ResultCode  uint32
	ErrorBit    bool
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("diameter: %s answer failed result_code=%d error_bit=%v",
		schema.CommandName(e.CommandCode), e.ResultCode, e.ErrorBit)
}

func isSuccessClass(code uint32) bool {
	return code >= 2000 && code < 3000
}
