package pgwire

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"
)

// frameStartup builds the untyped startup message a client sends.
func frameStartup(params map[string]string) []byte {
	var body []byte
	body = binary.BigEndian.AppendUint32(body, uint32(ProtocolVersion))
	for k, v := range params {
		body = append(body, k...)
		body = append(body, 0)
		body = append(body, v...)
		body = append(body, 0)
	}
	body = append(body, 0)

	var msg []byte
	msg = binary.BigEndian.AppendUint32(msg, uint32(len(body)+4))
	return append(msg, body...)
}

func TestReadStartup(t *testing.T) {
	buf := bytes.NewBuffer(frameStartup(map[string]string{"user": "alice"}))

	msg, isSSL, err := NewReader(buf).ReadStartup()
	if err != nil {
		t.Fatalf("ReadStartup failed: %v", err)
	}
	if isSSL {
		t.Fatal("isSSL = true for plain startup")
	}
	if msg.Parameters["user"] != "alice" {
		t.Errorf("user = %q, want alice", msg.Parameters["user"])
	}
}

func TestReadStartupSSLRequest(t *testing.T) {
	var raw []byte
	raw = binary.BigEndian.AppendUint32(raw, 8)
	raw = binary.BigEndian.AppendUint32(raw, uint32(SSLRequestCode))

	_, isSSL, err := NewReader(bytes.NewBuffer(raw)).ReadStartup()
	if err != nil {
		t.Fatalf("ReadStartup failed: %v", err)
	}
	if !isSSL {
		t.Error("isSSL = false for SSL request code")
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteCommandComplete("SELECT 1"); err != nil {
		t.Fatalf("WriteCommandComplete failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	msgType, payload, err := NewReader(&buf).ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != MsgCommandComplete {
		t.Errorf("msgType = %c, want C", msgType)
	}
	if string(payload) != "SELECT 1\x00" {
		t.Errorf("payload = %q", payload)
	}
}

func TestDataRowFraming(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.WriteDataRow([][]byte{[]byte("42"), nil}); err != nil {
		t.Fatalf("WriteDataRow failed: %v", err)
	}
	w.Flush()

	want := []byte{
		'D', 0, 0, 0, 16, // type + length
		0, 2, // column count
		0, 0, 0, 2, '4', '2', // "42"
		0xff, 0xff, 0xff, 0xff, // NULL
	}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("framing = % x, want % x", buf.Bytes(), want)
	}
}

func TestReadyForQueryFraming(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteReadyForQuery(TxIdle)
	w.Flush()

	want := []byte{'Z', 0, 0, 0, 5, 'I'}
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("framing = % x, want % x", buf.Bytes(), want)
	}
}

func TestErrorResponseFields(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteErrorResponse("ERROR", "42501", "permission denied")
	w.Flush()

	msgType, payload, err := NewReader(&buf).ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != MsgErrorResponse {
		t.Errorf("msgType = %c, want E", msgType)
	}
	for _, part := range []string{"SERROR\x00", "C42501\x00", "Mpermission denied\x00"} {
		if !strings.Contains(string(payload), part) {
			t.Errorf("payload %q missing field %q", payload, part)
		}
	}
	if payload[len(payload)-1] != 0 {
		t.Error("payload not terminated")
	}
}

func TestNoticeResponse(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.WriteNoticeResponse("privacy cost: 1.00")
	w.Flush()

	msgType, payload, err := NewReader(&buf).ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	if msgType != MsgNoticeResponse {
		t.Errorf("msgType = %c, want N", msgType)
	}
	if !strings.Contains(string(payload), "Mprivacy cost: 1.00\x00") {
		t.Errorf("payload = %q, want notice message", payload)
	}
}

func TestReadMessageRejectsOversized(t *testing.T) {
	var raw []byte
	raw = append(raw, MsgQuery)
	raw = binary.BigEndian.AppendUint32(raw, uint32(maxMessageLen+1))

	if _, _, err := NewReader(bytes.NewBuffer(raw)).ReadMessage(); err == nil {
		t.Fatal("ReadMessage accepted oversized length")
	}
}
