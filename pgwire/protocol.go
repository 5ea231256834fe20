// Package pgwire implements the slice of the PostgreSQL wire protocol
// the query gateway speaks: startup with cleartext auth, simple query,
// and the backend responses, plus NoticeResponse, which carries the
// privacy cost of each answered query back to the client.
package pgwire

// Protocol version 3.0.
const ProtocolVersion int32 = 196608 // 3 << 16

// SSL request code sent by clients before the real startup message.
const SSLRequestCode int32 = 80877103

// Frontend (client → server) message types.
const (
	MsgPasswordMessage byte = 'p'
	MsgQuery           byte = 'Q'
	MsgTerminate       byte = 'X'
)

// Backend (server → client) message types.
const (
	MsgAuthentication     byte = 'R'
	MsgBackendKeyData     byte = 'K'
	MsgCommandComplete    byte = 'C'
	MsgDataRow            byte = 'D'
	MsgErrorResponse      byte = 'E'
	MsgEmptyQueryResponse byte = 'I'
	MsgNoticeResponse     byte = 'N'
	MsgParameterStatus    byte = 'S'
	MsgReadyForQuery      byte = 'Z'
	MsgRowDescription     byte = 'T'
)

// Authentication sub-types (carried inside 'R' messages).
const (
	AuthOk                int32 = 0
	AuthCleartextPassword int32 = 3
)

// TxIdle is the ReadyForQuery status byte. The gateway never opens
// transactions, so connections always report idle.
const TxIdle byte = 'I'

// Common type OIDs for RowDescription. Gateway results carry only
// these; everything else is sent as text.
const (
	OIDBool    int32 = 16
	OIDInt8    int32 = 20
	OIDText    int32 = 25
	OIDFloat8  int32 = 701
	OIDUnknown int32 = 705
)

// StartupMessage is the initial message sent by the client after the
// TCP connection is established (and after an optional SSL
// negotiation). The "user" parameter names the budget principal.
type StartupMessage struct {
	ProtocolVersion int32
	Parameters      map[string]string
}

// Column describes a single column in a RowDescription message.
type Column struct {
	Name         string
	TableOID     int32
	ColumnAttr   int16
	DataTypeOID  int32
	DataTypeSize int16
	TypeModifier int32
	FormatCode   int16
}
