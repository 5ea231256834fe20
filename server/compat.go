package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"veilql/pgwire"
	"veilql/version"
)

// compatStatement answers statements that never reach the privacy
// pipeline: session stubs clients send automatically, version probes,
// and the budget commands. Returns handled=false for everything else.
func (c *connection) compatStatement(query string) (bool, error) {
	upper := strings.ToUpper(query)
	switch {
	case upper == "BEGIN", upper == "COMMIT", upper == "ROLLBACK":
		// No transactions here; acknowledge so drivers keep working.
		return true, c.writer.WriteCommandComplete(upper)

	case upper == "SET", strings.HasPrefix(upper, "SET "):
		return true, c.writer.WriteCommandComplete("SET")

	case upper == "SELECT VERSION()":
		if err := c.writeResult([]string{"version"}, [][]any{{version.String()}}); err != nil {
			return true, err
		}
		return true, c.writer.WriteCommandComplete("SELECT 1")

	case upper == "SHOW BUDGET":
		st := c.gw.BudgetStatus(c.principal)
		row := []any{st.Remaining, st.Spent, st.Max, int64(st.Queries)}
		if err := c.writeResult([]string{"remaining", "spent", "max", "queries"}, [][]any{row}); err != nil {
			return true, err
		}
		return true, c.writer.WriteCommandComplete("SHOW")

	case upper == "RESET BUDGET":
		c.gw.ResetBudget(c.principal)
		return true, c.writer.WriteCommandComplete("RESET")

	case upper == "SHOW MEMORY":
		usage := c.gw.MemoryUsage()
		rows := make([][]any, 0, len(usage)+1)
		var total int64
		for _, f := range usage {
			total += f.Bytes
			rows = append(rows, []any{f.Principal, f.Bytes, humanBytes(f.Bytes)})
		}
		rows = append(rows, []any{"total", total, humanBytes(total)})
		if err := c.writeResult([]string{"principal", "size_bytes", "size_human"}, rows); err != nil {
			return true, err
		}
		return true, c.writer.WriteCommandComplete("SHOW")
	}
	return false, nil
}

func humanBytes(b int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case b >= gb:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	case b >= kb:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(kb))
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// describeColumns infers RowDescription metadata from the first
// non-NULL value in each column. All-NULL columns report text.
func describeColumns(columns []string, rows [][]any) []pgwire.Column {
	cols := make([]pgwire.Column, len(columns))
	for i, name := range columns {
		oid, size := pgwire.OIDText, int16(-1)
		for _, row := range rows {
			if i < len(row) && row[i] != nil {
				oid, size = oidFor(row[i])
				break
			}
		}
		cols[i] = pgwire.Column{
			Name:         name,
			DataTypeOID:  oid,
			DataTypeSize: size,
			TypeModifier: -1,
		}
	}
	return cols
}

func oidFor(v any) (int32, int16) {
	switch v.(type) {
	case int64, int, int32:
		return pgwire.OIDInt8, 8
	case float64, float32:
		return pgwire.OIDFloat8, 8
	case bool:
		return pgwire.OIDBool, 1
	case string, []byte:
		return pgwire.OIDText, -1
	default:
		return pgwire.OIDUnknown, -1
	}
}

// encodeValue renders a result value in the text format. nil means
// NULL on the wire.
func encodeValue(v any) []byte {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		return val
	case string:
		return []byte(val)
	case int64:
		return strconv.AppendInt(nil, val, 10)
	case int:
		return strconv.AppendInt(nil, int64(val), 10)
	case int32:
		return strconv.AppendInt(nil, int64(val), 10)
	case float64:
		return strconv.AppendFloat(nil, val, 'g', -1, 64)
	case float32:
		return strconv.AppendFloat(nil, float64(val), 'g', -1, 32)
	case bool:
		if val {
			return []byte("t")
		}
		return []byte("f")
	case time.Time:
		return []byte(val.Format(time.RFC3339))
	default:
		return []byte(fmt.Sprint(val))
	}
}
