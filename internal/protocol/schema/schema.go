package schema

import (
	"fmt"

	logs "github.com/danmuck/smfaaa/internal/logging"
	"github.com/danmuck/smfaaa/internal/protocol/avp"
)

// Nextranet-AAA application and command codes.
const (
	ApplicationID uint32 = 45001
	VendorID      uint32 = 111111111

	CmdAuth uint32 = 10001
	CmdTerm uint32 = 10002
)

// Base protocol AVP codes.
const (
	AVPAuthApplicationID uint32 = 258
	AVPSessionID         uint32 = 263
	AVPOriginHost        uint32 = 264
	AVPResultCode        uint32 = 268
	AVPDestinationRealm  uint32 = 283
	AVPDestinationHost   uint32 = 293
	AVPTerminationCause  uint32 = 295
	AVPOriginRealm       uint32 = 296
)

// Nextranet vendor AVP codes.
const (
	AVPResult uint32 = 111111114
	AVPIMSI   uint32 = 111111115
	AVPIMEI   uint32 = 111111116
	AVPAPN    uint32 = 111111117
	AVPTAC    uint32 = 111111118
	AVPCGI    uint32 = 111111119
	AVPEUCGI  uint32 = 1111111110
)

// Values carried in the Result vendor AVP.
const (
	OutcomeSuccess uint32 = 0
	OutcomeFailure uint32 = 1
)

const (
	ResultSuccess           uint32 = 2001
	ResultUnableToComply    uint32 = 5012
	ResultMissingAVP        uint32 = 5005
	TerminationCauseLogout  uint32 = 1
	TerminationCauseAdmin   uint32 = 4
	TerminationCauseTimeout uint32 = 8
)

// Kind tells a validator which AVP encoding to expect.
type Kind uint8

const (
	KindOctetString Kind = iota + 1
	KindUTF8String
	KindUnsigned32
)

type Requirement struct {
	Code   uint32
	Vendor uint32
	Kind   Kind
}

type ValidationError struct {
	CommandCode uint32
	Request     bool
	Code        uint32
	Reason      string
}

func (e ValidationError) Error() string {
	dir := "answer"
	if e.Request {
		dir = "request"
	}
	if e.Code == 0 {
		return fmt.Sprintf("schema: command=%d %s: %s", e.CommandCode, dir, e.Reason)
	}
	return fmt.Sprintf("schema: command=%d %s avp=%d: %s", e.CommandCode, dir, e.Code, e.Reason)
}

type key struct {
	cmd     uint32
	request bool
}

var routing = []Requirement{
	{AVPSessionID, 0, KindUTF8String},
	{AVPOriginHost, 0, KindUTF8String},
	{AVPOriginRealm, 0, KindUTF8String},
	{AVPDestinationHost, 0, KindUTF8String},
	{AVPDestinationRealm, 0, KindUTF8String},
	{AVPAuthApplicationID, 0, KindUnsigned32},
	{AVPIMSI, VendorID, KindOctetString},
}

var requirements = map[key][]Requirement{
	{CmdAuth, true}: routing,
	{CmdAuth, false}: {
		{AVPSessionID, 0, KindUTF8String},
	},
	{CmdTerm, true}: append(append([]Requirement{}, routing...),
		Requirement{AVPTerminationCause, 0, KindUnsigned32},
	),
	{CmdTerm, false}: {
		{AVPSessionID, 0, KindUTF8String},
	},
}

// Validate enforces required AVPs for a command direction. The Result AVP of an
// Auth-Answer is deliberately not required here: its absence is a correlation
// concern reported by the answer handler, not a framing error.
// Unknown AVPs are ignored.
func Validate(cmd uint32, request bool, avps []avp.AVP) error {
	reqs, ok := requirements[key{cmd, request}]
	if !ok {
		logs.Errf("schema.Validate unknown command=%d request=%v", cmd, request)
		return ValidationError{CommandCode: cmd, Request: request, Reason: "unknown command"}
	}
	for _, req := range reqs {
		a, found := avp.Find(avps, req.Code, req.Vendor)
		if !found {
			logs.Debugf("schema.Validate missing avp command=%d request=%v code=%d", cmd, request, req.Code)
			return ValidationError{CommandCode: cmd, Request: request, Code: req.Code, Reason: "missing required avp"}
		}
		if req.Kind == KindUnsigned32 && len(a.Data) != 4 {
			return ValidationError{CommandCode: cmd, Request: request, Code: req.Code, Reason: "type mismatch"}
		}
		if req.Kind == KindUTF8String && len(a.Data) == 0 {
			return ValidationError{CommandCode: cmd, Request: request, Code: req.Code, Reason: "empty value"}
		}
	}
	return nil
}

// CommandName returns a printable name for logs and metric labels.
func CommandName(cmd uint32) string {
	switch cmd {
	case CmdAuth:
		return "auth"
	case CmdTerm:
		return "term"
	default:
		return fmt.Sprintf("cmd_%d", cmd)
	}
}
