package audit

const (
	queryInsertEntry = `
		INSERT INTO audit_log (timestamp, resource, action, args, decision, reason, request_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	querySelect = `
		SELECT id, timestamp, resource, action, args, decision, reason, request_id
		FROM audit_log`

	queryOrder = `
		ORDER BY id DESC`

	timestampLayout = "2006-01-02 15:04:05"
)

func buildListQuery(q Query) (string, []any) {
	query := querySelect
	var args []any

	if q.RequestID != "" {
		query += ` WHERE request_id = ?`
		args = append(args, q.RequestID)
	}
	query += queryOrder
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}
	return query, args
}
