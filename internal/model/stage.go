package model

// DiscoveryStatus records how a prospect entered the system.
type DiscoveryStatus string

const (
	DiscoveryDiscovered DiscoveryStatus = "discovered"
	DiscoveryManual     DiscoveryStatus = "manual"
)

// ScrapeStatus is the enrichment stage status.
type ScrapeStatus string

const (
	ScrapeDiscovered   ScrapeStatus = "discovered"
	ScrapeScraped      ScrapeStatus = "scraped"
	ScrapeNoEmailFound ScrapeStatus = "no_email_found"
	ScrapeEnriched     ScrapeStatus = "enriched"
	ScrapeFailed       ScrapeStatus = "failed"
)

// VerificationStatus is the email verification stage status.
type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

// DraftStatus is the message drafting stage status.
type DraftStatus string

const (
	DraftNone    DraftStatus = "none"
	DraftDrafted DraftStatus = "drafted"
	DraftFailed  DraftStatus = "failed"
)

// SendStatus is the delivery stage status.
type SendStatus string

const (
	SendNone   SendStatus = "none"
	SendSent   SendStatus = "sent"
	SendFailed SendStatus = "failed"
)

// Stage is the single derived label summarizing a prospect's progress.
type Stage string

const (
	StageDiscovered         Stage = "discovered"
	StageScraped            Stage = "scraped"
	StageNoEmailFound       Stage = "no_email_found"
	StageEnriched           Stage = "enriched"
	StageScrapeFailed       Stage = "scrape_failed"
	StageUnverified         Stage = "unverified"
	StageVerified           Stage = "verified"
	StageVerificationFailed Stage = "verification_failed"
	StageDrafted            Stage = "drafted"
	StageDraftFailed        Stage = "draft_failed"
	StageSent               Stage = "sent"
	StageSendFailed         Stage = "send_failed"
)

// Stages lists every stage label in pipeline order.
var Stages = []Stage{
	StageDiscovered, StageScraped, StageNoEmailFound, StageEnriched, StageScrapeFailed,
	StageUnverified, StageVerified, StageVerificationFailed,
	StageDrafted, StageDraftFailed, StageSent, StageSendFailed,
}

// DeriveStage computes the stage label from the five status fields. The
// latest pipeline stage that has left its initial status wins: send, then
// draft, then verification, then scrape. A prospect that has not moved
// anywhere is discovered.
func DeriveStage(p Prospect) Stage {
	switch p.SendStatus {
	case SendSent:
		return StageSent
	case SendFailed:
		return StageSendFailed
	}
	switch p.DraftStatus {
	case DraftDrafted:
		return StageDrafted
	case DraftFailed:
		return StageDraftFailed
	}
	switch p.VerificationStatus {
	case VerificationVerified:
		return StageVerified
	case VerificationUnverified:
		return StageUnverified
	case VerificationFailed:
		return StageVerificationFailed
	}
	switch p.ScrapeStatus {
	case ScrapeScraped:
		return StageScraped
	case ScrapeNoEmailFound:
		return StageNoEmailFound
	case ScrapeEnriched:
		return StageEnriched
	case ScrapeFailed:
		return StageScrapeFailed
	}
	return StageDiscovered
}
