package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"strings"

	"go.uber.org/zap"

	"veilql/config"
	"veilql/gateway"
	"veilql/pgwire"
	"veilql/qerror"
)

// connection handles the lifecycle of a single client connection:
// startup handshake → authentication → query loop. The user parameter
// from the startup message becomes the budget principal for every
// query on the connection.
type connection struct {
	conn      net.Conn
	reader    *pgwire.Reader
	writer    *pgwire.Writer
	cfg       config.Server
	gw        *gateway.Gateway
	logger    *zap.Logger
	principal string
}

func newConnection(conn net.Conn, cfg config.Server, gw *gateway.Gateway, logger *zap.Logger) *connection {
	return &connection{
		conn:   conn,
		reader: pgwire.NewReader(conn),
		writer: pgwire.NewWriter(conn),
		cfg:    cfg,
		gw:     gw,
		logger: logger.With(zap.String("remote", conn.RemoteAddr().String())),
	}
}

// handle runs the full connection lifecycle and closes the connection
// on return.
func (c *connection) handle() {
	defer c.conn.Close()

	if err := c.startup(); err != nil {
		c.logger.Info("startup failed", zap.Error(err))
		return
	}

	c.logger.Info("connection authenticated", zap.String("principal", c.principal))
	c.queryLoop()
	c.logger.Info("connection closed", zap.String("principal", c.principal))
}

// startup performs the PostgreSQL startup handshake. It handles
// optional SSL negotiation, binds the startup user as the principal
// and, when a server password is configured, runs cleartext password
// authentication. Without a configured password any user connects
// directly under their own budget ledger.
func (c *connection) startup() error {
	for {
		msg, isSSL, err := c.reader.ReadStartup()
		if err != nil {
			return fmt.Errorf("read startup: %w", err)
		}
		if isSSL {
			if err := c.writer.WriteSSLRefuse(); err != nil {
				return fmt.Errorf("refuse SSL: %w", err)
			}
			if err := c.writer.Flush(); err != nil {
				return err
			}
			continue
		}

		principal := strings.TrimSpace(msg.Parameters["user"])
		if principal == "" || len(principal) > 64 {
			c.sendFatalError("28000", "startup message must name a user")
			return fmt.Errorf("missing or oversized user parameter")
		}
		c.principal = principal

		if c.cfg.Password != "" {
			if err := c.authenticate(); err != nil {
				return err
			}
		}

		if err := c.writer.WriteAuthOk(); err != nil {
			return err
		}
		serverParams := [][2]string{
			{"server_version", "15.0"},
			{"server_encoding", "UTF8"},
			{"client_encoding", "UTF8"},
			{"DateStyle", "ISO, MDY"},
		}
		for _, p := range serverParams {
			if err := c.writer.WriteParameterStatus(p[0], p[1]); err != nil {
				return err
			}
		}
		if err := c.writer.WriteBackendKeyData(int32(os.Getpid()), 0); err != nil {
			return err
		}
		if err := c.writer.WriteReadyForQuery(pgwire.TxIdle); err != nil {
			return err
		}
		return c.writer.Flush()
	}
}

// authenticate runs the cleartext password exchange against the
// configured server password.
func (c *connection) authenticate() error {
	if err := c.writer.WriteAuthCleartextPassword(); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}

	msgType, payload, err := c.reader.ReadMessage()
	if err != nil {
		return fmt.Errorf("read password: %w", err)
	}
	if msgType != pgwire.MsgPasswordMessage {
		return fmt.Errorf("expected PasswordMessage, got '%c'", msgType)
	}

	if stripNull(payload) != c.cfg.Password {
		c.sendFatalError("28P01", fmt.Sprintf("password authentication failed for user %q", c.principal))
		return fmt.Errorf("bad password for principal: %s", c.principal)
	}
	return nil
}

// queryLoop reads and responds to client messages until the client
// disconnects or a write error occurs.
func (c *connection) queryLoop() {
	for {
		msgType, payload, err := c.reader.ReadMessage()
		if err != nil {
			if err != io.EOF {
				c.logger.Info("read failed", zap.Error(err))
			}
			return
		}

		switch msgType {
		case pgwire.MsgQuery:
			query := stripNull(payload)
			if err := c.handleQuery(query); err != nil {
				c.logger.Info("write failed", zap.Error(err))
				return
			}
		case pgwire.MsgTerminate:
			return
		default:
			c.logger.Debug("unsupported message type", zap.String("type", string(msgType)))
		}
	}
}

// handleQuery processes a single query string and writes the response.
// Client-compat statements (SET, transaction stubs, version probes)
// and budget commands are answered locally; everything else goes
// through the privacy pipeline.
func (c *connection) handleQuery(query string) error {
	query = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(query), ";"))

	if query == "" {
		if err := c.writer.WriteEmptyQueryResponse(); err != nil {
			return err
		}
		return c.sendReady()
	}

	if handled, err := c.compatStatement(query); handled {
		if err != nil {
			return err
		}
		return c.sendReady()
	}

	resp, err := c.gw.Process(context.Background(), c.principal, query)
	if err != nil {
		qe := qerror.From(err)
		if werr := c.writer.WriteErrorResponse("ERROR", qe.Kind.SQLState(), qe.Error()); werr != nil {
			return werr
		}
		return c.sendReady()
	}

	if err := c.writeResult(resp.Columns, resp.Rows); err != nil {
		return err
	}
	if resp.PrivacyCost > 0 {
		notice := fmt.Sprintf("privacy cost: ε=%.2f, remaining budget: ε=%.2f",
			resp.PrivacyCost, resp.RemainingBudget)
		if err := c.writer.WriteNoticeResponse(notice); err != nil {
			return err
		}
	}
	if err := c.writer.WriteCommandComplete(fmt.Sprintf("SELECT %d", len(resp.Rows))); err != nil {
		return err
	}
	return c.sendReady()
}

// writeResult sends RowDescription followed by the data rows.
func (c *connection) writeResult(columns []string, rows [][]any) error {
	if err := c.writer.WriteRowDescription(describeColumns(columns, rows)); err != nil {
		return err
	}
	for _, row := range rows {
		encoded := make([][]byte, len(row))
		for i, v := range row {
			encoded[i] = encodeValue(v)
		}
		if err := c.writer.WriteDataRow(encoded); err != nil {
			return err
		}
	}
	return nil
}

// sendReady sends ReadyForQuery and flushes the write buffer.
func (c *connection) sendReady() error {
	if err := c.writer.WriteReadyForQuery(pgwire.TxIdle); err != nil {
		return err
	}
	return c.writer.Flush()
}

// sendFatalError writes a FATAL error response and flushes. Errors are
// logged but not returned since the connection is about to close.
func (c *connection) sendFatalError(code, message string) {
	c.writer.WriteErrorResponse("FATAL", code, message)
	c.writer.Flush()
}

// stripNull removes a trailing null byte from the payload, which is
// how the PG protocol terminates strings in most message types.
func stripNull(b []byte) string {
	if len(b) > 0 && b[len(b)-1] == 0 {
		return string(b[:len(b)-1])
	}
	return string(b)
}
