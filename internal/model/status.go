package model

// Status is the canonical status triple of a TaskRecord.
type Status string

const (
	StatusClose       Status = "Close"
	StatusDownloading Status = "Downloading"
	StatusComplete    Status = "Complete"
)

// Kind distinguishes the two task variants a TaskRecord can drive.
type Kind string

const (
	KindHttp          Kind = "Http"
	KindMediaExtractor Kind = "MediaExtractor"
)

// DefaultDownloadLocation selects the initial destination directory.
type DefaultDownloadLocation string

const (
	LocationPrivateFolder DefaultDownloadLocation = "PrivateFolder"
	LocationSystemGallery DefaultDownloadLocation = "SystemGallery"
)

// Status-info strings surfaced to listeners; kept as plain constants so
// callers can compare without typos creeping into the literal.
const (
	StatusInfoWaitingToJoin     = "waiting-to-join"
	StatusInfoWaitingForNetwork = "waiting-for-network"
	StatusInfoWaitingForWifi    = "waiting-for-wifi"
	StatusInfoWaitingForInternet = "waiting-for-internet"
	StatusInfoFailedDeletedPaused = "failed-deleted-paused"
	StatusInfoDownloadIOFailed  = "download-io-failed"
	StatusInfoLinkExpired       = "link-expired"
	StatusInfoFileDeleted       = "file-deleted"
	StatusInfoDownloadFailed    = "download-failed"
)

// Known extractor error messages, per the substring-mapping table.
const (
	ExtractorErrLoginRequired      = "login-required"
	ExtractorErrContentUnavailable = "content-not-available"
	ExtractorErrFormatNotFound     = "format-not-found"
	ExtractorErrSiteBanned         = "site-banned"
	ExtractorErrGenericServerIssue = "generic-server-issue"
)

// UserDialogFailedToWriteFile is latched when start-all aborts because the
// task already carries isFailedToAccessFile.
const UserDialogFailedToWriteFile = "failed-to-write-file"
