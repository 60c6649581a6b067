package domain

// PDDStatus is the lifecycle state of a Project Design Document.
type PDDStatus string

const (
	PDDDraft       PDDStatus = "draft"
	PDDSubmitted   PDDStatus = "submitted"
	PDDUnderReview PDDStatus = "under_review"
	PDDApproved    PDDStatus = "approved"
	PDDRejected    PDDStatus = "rejected"
	PDDArchived    PDDStatus = "archived"
)

// ActivePDDStatuses are the statuses whose geometry participates in spatial conflict checks.
var ActivePDDStatuses = []PDDStatus{PDDSubmitted, PDDUnderReview, PDDApproved}

// MRVStatus is the lifecycle state of a Monitoring Report.
type MRVStatus string

const (
	MRVSubmitted           MRVStatus = "submitted"
	MRVPendingVerification MRVStatus = "pending_verification"
	MRVVerified            MRVStatus = "verified"
	MRVRejected            MRVStatus = "rejected"
	MRVArchived            MRVStatus = "archived"
)

// ActiveMRVStatuses are the statuses whose reporting period participates in temporal conflict checks.
var ActiveMRVStatuses = []MRVStatus{MRVSubmitted, MRVPendingVerification, MRVVerified}

// CreditStatus is the lifecycle state of a Carbon Removal Unit.
type CreditStatus string

const (
	CreditMinted      CreditStatus = "minted"
	CreditActive      CreditStatus = "active"
	CreditTransferred CreditStatus = "transferred"
	CreditRetired     CreditStatus = "retired"
)

// Transferable reports whether a credit in this status may change owner or be retired.
func (s CreditStatus) Transferable() bool {
	return s == CreditActive || s == CreditTransferred
}

// AnchorStatus tracks whether a committed transition has been confirmed by the ledger.
type AnchorStatus string

const (
	AnchorNone     AnchorStatus = ""
	AnchorPending  AnchorStatus = "pending_anchor"
	AnchorAnchored AnchorStatus = "anchored"
)

// DocumentKind names the entity family a version row or anchor belongs to.
type DocumentKind string

const (
	KindPDD      DocumentKind = "pdd"
	KindMRV      DocumentKind = "mrv"
	KindIssuance DocumentKind = "issuance"
	KindCredit   DocumentKind = "cru"
)

// Ledger event types.
const (
	EventPDDCreated        = "PDDCreated"
	EventPDDUpdated        = "PDDUpdated"
	EventPDDMetadata       = "PDDMetadataUpdated"
	EventPDDSubmitted      = "PDDSubmitted"
	EventPDDReviewAssigned = "PDDReviewerAssigned"
	EventPDDApproved       = "PDDApproved"
	EventPDDRejected       = "PDDRejected"
	EventPDDRevised        = "PDDRevised"
	EventPDDArchived       = "PDDArchived"
	EventMRVSubmitted      = "MRVSubmitted"
	EventMRVPending        = "MRVPendingVerification"
	EventMRVVerified       = "MRVVerified"
	EventMRVRejected       = "MRVRejected"
	EventMRVArchived       = "MRVArchived"
	EventCRUMinted         = "CRUMinted"
	EventCRUTransferred    = "CRUTransferred"
	EventCRURetired        = "CRURetired"
)
