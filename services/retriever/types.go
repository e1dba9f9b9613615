// Package retriever walks a Harris County District Clerk case details
// page, discovers the document image links it lists, opens each one in a
// transient viewer tab, and saves the underlying file under a per-case
// folder. It paces itself below the portal's rate ceiling and skips
// documents that were already fetched.
package retriever

import (
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/retriever")

var (
	// ErrExtractionNotFound means the viewer page loaded but no document
	// resource could be located in it.
	ErrExtractionNotFound = errors.New("no document resource found in viewer page")
	// ErrTabCreationFailed means the browser refused to open a viewer tab.
	ErrTabCreationFailed = errors.New("could not open viewer tab")
	// ErrDocumentTimeout means a viewer produced no extraction report
	// before the per-document deadline.
	ErrDocumentTimeout = errors.New("timed out waiting for document")
	// ErrDownloadInterrupted means the resource fetch started but did not
	// complete.
	ErrDownloadInterrupted = errors.New("download interrupted")
	// ErrNavigationStalled means a pagination trigger fired but the page
	// never changed.
	ErrNavigationStalled = errors.New("pagination did not produce a new page")
	// ErrNoMorePages means no usable next-page control exists.
	ErrNoMorePages = errors.New("no next page control")
	// ErrUnknownRequest is returned by the coordinator for request types
	// it does not recognize.
	ErrUnknownRequest = errors.New("unknown coordinator request")
)

// DocumentDescriptor identifies one downloadable document discovered on
// the case page.
type DocumentDescriptor struct {
	// ID is the numeric document image id, or "unknown" when the link
	// carried none.
	ID string
	// Title is the human readable document name, already cleaned of
	// trailing file dates and filesystem-hostile characters.
	Title string
	// RetrievalParams is the first argument of the viewer-open call
	// embedded in the link, i.e. the query string for the viewer page.
	RetrievalParams string
}

// SessionKey is the identity used for in-session deduplication. Distinct
// links to the same document in the same case collapse to one key.
func (d DocumentDescriptor) SessionKey(caseFolder string) string {
	return strings.ToLower(caseFolder + "|" + d.ID + "|" + d.Title)
}

// Request is a coordinator request. The concrete types below are the
// only valid implementations; anything else dispatches to
// ErrUnknownRequest.
type Request interface {
	coordinatorRequest()
}

// SetCaseFolderRequest tells the coordinator which per-case folder
// subsequent downloads belong to, optionally clearing session dedupe
// state accumulated for the previous case.
type SetCaseFolderRequest struct {
	Name         string
	ClearSession bool
}

// CheckDocumentExistsRequest asks whether a document with this id was
// already downloaded, either earlier in this session or in a previous
// run recorded in history.
type CheckDocumentExistsRequest struct {
	ID string
}

// OpenViewerRequest asks the coordinator to open the viewer page for a
// document, extract its resource and download it. The reply is a
// DocumentResult.
type OpenViewerRequest struct {
	Descriptor DocumentDescriptor
	URL        string
}

// ReportExtractionRequest delivers an extraction outcome for the viewer
// tab identified by TabID. The coordinator's own scanner uses this path;
// it also lets an external prober resolve a pending document.
type ReportExtractionRequest struct {
	TabID       string
	Succeeded   bool
	ResourceURL string
	Error       string
}

func (SetCaseFolderRequest) coordinatorRequest()       {}
func (CheckDocumentExistsRequest) coordinatorRequest() {}
func (OpenViewerRequest) coordinatorRequest()          {}
func (ReportExtractionRequest) coordinatorRequest()    {}

// ExistsResult answers a CheckDocumentExistsRequest.
type ExistsResult struct {
	Exists   bool
	Matching []string
}

// DocumentResult is the terminal outcome for one document attempt.
// Exactly one of Downloaded and Skipped is set on success; Err is set on
// failure.
type DocumentResult struct {
	Descriptor DocumentDescriptor
	Downloaded bool
	Skipped    bool
	// Reason explains a skip in human terms.
	Reason string
	// Path is the saved file location when Downloaded.
	Path string
	Err  error
	Took time.Duration
}
