package schemas

// ErrorCode is the closed taxonomy for execution failures. Every failure that
// crosses a component boundary is mapped to exactly one of these codes; raw
// driver or database errors never escape past the classifier.
type ErrorCode string

const (
	// -- Target resolution --
	CodeTargetNotFound  ErrorCode = "TARGET_NOT_FOUND"
	CodeTargetNotUnique ErrorCode = "TARGET_NOT_UNIQUE"

	// -- Spec validation --
	CodeInvalidActionSpec ErrorCode = "INVALID_ACTIONSPEC"

	// -- Condition enforcement --
	CodePreconditionFailed  ErrorCode = "PRECONDITION_FAILED"
	CodePostconditionFailed ErrorCode = "POSTCONDITION_FAILED"

	// -- Policy decisions --
	CodePolicyHalt            ErrorCode = "POLICY_HALT"
	CodeDomainBlocked         ErrorCode = "DOMAIN_BLOCKED"
	CodeActionCriticalBlocked ErrorCode = "ACTION_CRITICAL_BLOCKED"

	// -- Phase timeouts --
	CodeLoginTimeout        ErrorCode = "LOGIN_TIMEOUT"
	CodeNavigationTimeout   ErrorCode = "NAVIGATION_TIMEOUT"
	CodeGridLoadTimeout     ErrorCode = "GRID_LOAD_TIMEOUT"
	CodeUploadTimeout       ErrorCode = "UPLOAD_TIMEOUT"
	CodeVerificationTimeout ErrorCode = "VERIFICATION_TIMEOUT"
	CodePaginationTimeout   ErrorCode = "PAGINATION_TIMEOUT"

	// -- Transfer failures --
	CodeUploadFailed   ErrorCode = "UPLOAD_FAILED"
	CodeDownloadFailed ErrorCode = "DOWNLOAD_FAILED"

	// -- Page state --
	CodeOverlayBlocking ErrorCode = "OVERLAY_BLOCKING"
	CodeAuthFailed      ErrorCode = "AUTH_FAILED"

	// CodeUnclassified is the terminal bucket for failures that match no
	// known shape. It is always fatal and always surfaces the run as "error".
	CodeUnclassified ErrorCode = "UNCLASSIFIED"
)

// ErrorRecord is the canonical, user-visible description of one failure.
// It implements error so it can travel through ordinary error returns.
type ErrorRecord struct {
	Phase     Phase     `json:"phase"`
	Code      ErrorCode `json:"error_code"`
	Message   string    `json:"message"`
	Transient bool      `json:"transient"`
	Attempt   int       `json:"attempt"`
}

func (r *ErrorRecord) Error() string {
	return string(r.Code) + " [" + string(r.Phase) + "]: " + r.Message
}
