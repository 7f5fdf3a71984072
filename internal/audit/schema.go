package audit

const (
	tableSchema = `
		CREATE TABLE IF NOT EXISTS audit_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			resource TEXT NOT NULL,
			action TEXT NOT NULL,
			args TEXT NOT NULL,
			decision TEXT NOT NULL CHECK(decision IN ('allow', 'deny', 'require_approval', 'approved', 'rejected')),
			reason TEXT NOT NULL,
			request_id TEXT NOT NULL DEFAULT ''
		)`

	triggerPreventUpdate = `
		CREATE TRIGGER IF NOT EXISTS prevent_update
		BEFORE UPDATE ON audit_log
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Updates not allowed on audit_log');
		END`

	triggerPreventDelete = `
		CREATE TRIGGER IF NOT EXISTS prevent_delete
		BEFORE DELETE ON audit_log
		FOR EACH ROW
		BEGIN
			SELECT RAISE(FAIL, 'Deletes not allowed on audit_log');
		END`

	indexRequestID = `
		CREATE INDEX IF NOT EXISTS idx_request_id ON audit_log(request_id)`
)

func schemaStatements() []string {
	return []string{
		tableSchema,
		triggerPreventUpdate,
		triggerPreventDelete,
		indexRequestID,
	}
}
