package constants

const (
	ViewData        = "view_data"
	SubmitProject   = "submit_project"
	AssignReviewer  = "assign_reviewer"
	ApproveProject  = "approve_project"
	RejectProject   = "reject_project"
	ArchiveProject  = "archive_project"
	SubmitMRV       = "submit_mrv"
	VerifyMRV       = "verify_mrv"
	ArchiveMRV      = "archive_mrv"
	IssueCredits    = "issue_credits"
	TransferCredits = "transfer_credits"
	RetireCredits   = "retire_credits"
	Reconcile       = "reconcile"
)
