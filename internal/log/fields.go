package log

// Common field names for structured logging
const (
	FieldComponent  = "component"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldError      = "error"
	FieldUserID     = "user_id"
	FieldKind       = "kind"
	FieldAmount     = "amount"
	FieldCategory   = "category"
	FieldTaskID     = "task_id"
	FieldGoalAmount = "goal_amount"
	FieldDeadline   = "deadline"
	FieldFireAt     = "fire_at"
	FieldBackend    = "backend"
)

// Components defines standard component names
const (
	ComponentApp    = "app"
	ComponentHTTP   = "http"
	ComponentWorker = "worker"
)
